package connector

import (
	"fmt"

	"github.com/oarkflow/errors"
	"github.com/oarkflow/json"
)

var (
	ErrNilDispatcher     = errors.New("dispatcher is required")
	ErrDuplicateID       = errors.New("request id already pending")
	ErrRequestTimeout    = errors.New("request timed out")
	ErrNotConnected      = errors.New("not connected")
	ErrHandshakeTimeout  = errors.New("handshake timed out")
	ErrHandshakeRejected = errors.New("handshake rejected")
	ErrHeartbeatTimeout  = errors.New("heartbeat timed out")
	ErrKicked            = errors.New("kicked by server")
	ErrMalformed         = errors.New("malformed message")
)

// ServerError is set as Response.Err when the server answered a request with
// an error response.
type ServerError struct {
	Code    int
	Payload json.RawMessage
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, string(e.Payload))
}

func newServerError(body []byte) *ServerError {
	var head struct {
		Code int `json:"code"`
	}
	code := 0
	if json.Unmarshal(body, &head) == nil {
		code = head.Code
	}
	if code == 0 {
		code = 500
	}
	return &ServerError{Code: code, Payload: json.RawMessage(body)}
}
