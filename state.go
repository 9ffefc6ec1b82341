package connector

// SessionState is the lifecycle state of a Connector.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// NetState is published to OnNetState subscribers whenever the network
// situation of a connector changes.
type NetState int

const (
	NetConnecting NetState = iota + 1
	NetConnected
	// NetDisconnected follows an explicit Disconnect.
	NetDisconnected
	// NetClosed means the peer closed the channel.
	NetClosed
	// NetTimeout covers handshake and heartbeat expiry.
	NetTimeout
	NetError
	NetKicked
)

func (s NetState) String() string {
	switch s {
	case NetConnecting:
		return "CONNECTING"
	case NetConnected:
		return "CONNECTED"
	case NetDisconnected:
		return "DISCONNECTED"
	case NetClosed:
		return "CLOSED"
	case NetTimeout:
		return "TIMEOUT"
	case NetError:
		return "ERROR"
	case NetKicked:
		return "KICKED"
	default:
		return "UNKNOWN"
	}
}
