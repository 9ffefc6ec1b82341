package consts

// PacketType identifies a frame on the wire.
type PacketType byte

const (
	Handshake PacketType = iota + 1
	HandshakeAck
	Heartbeat
	Data
	Kick
)

func (p PacketType) IsValid() bool { return p >= Handshake && p <= Kick }

func (p PacketType) String() string {
	switch p {
	case Handshake:
		return "HANDSHAKE"
	case HandshakeAck:
		return "HANDSHAKE_ACK"
	case Heartbeat:
		return "HEARTBEAT"
	case Data:
		return "DATA"
	case Kick:
		return "KICK"
	default:
		return "UNKNOWN"
	}
}

// MessageType identifies the kind of message carried by a Data packet.
type MessageType byte

const (
	Request MessageType = iota
	Notify
	Response
	Push
)

func (m MessageType) IsValid() bool { return m <= Push }

// HasID reports whether messages of this type carry a correlation id.
func (m MessageType) HasID() bool { return m == Request || m == Response }

// HasRoute reports whether messages of this type carry a route.
func (m MessageType) HasRoute() bool { return m == Request || m == Notify || m == Push }

func (m MessageType) String() string {
	switch m {
	case Request:
		return "REQUEST"
	case Notify:
		return "NOTIFY"
	case Response:
		return "RESPONSE"
	case Push:
		return "PUSH"
	default:
		return "UNKNOWN"
	}
}

const (
	CodeOK           = 200
	CodeBadHandshake = 400
	CodeServerError  = 500

	ClientType    = "go-connector"
	ClientVersion = "1.0.0"
)

var (
	SessionKey  = "Session-Key"
	RouteKey    = "route"
	RequestKey  = "request_id"
	StateKey    = "state"
	AddressKey  = "address"
	ReasonKey   = "reason"
	ContentType = "Content-Type"
	TypeJson    = "application/json"
)
