package server

import (
	"fmt"

	"github.com/oarkflow/errors"
)

var (
	ErrServerClosed  = errors.New("server closed")
	ErrSessionClosed = errors.New("session closed")
	ErrUnknownRoute  = errors.New("unknown route")
	ErrRateLimited   = errors.New("rate limited")
)

// Error lets handlers pick the code of an error response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}
