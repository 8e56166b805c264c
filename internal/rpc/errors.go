package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks an unreachable endpoint
	ErrTransport = errors.New("transport failure")
	// ErrTimeout marks an exceeded connect or read deadline
	ErrTimeout = errors.New("invocation timed out")
	// ErrRemote marks an application error returned by the callee
	ErrRemote = errors.New("remote error")
	// ErrProtocol marks a response that is not a usable JSON-RPC envelope
	ErrProtocol = errors.New("protocol error")
)

// TransportError means the address could not be reached. It is fatal for the
// whole orchestration since the dependency is down.
type TransportError struct {
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransport.Error(), e.Address, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// TimeoutError means a deadline expired while connecting or waiting for the reply
type TimeoutError struct {
	Address string
	Phase   string
	Timeout string
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s during %s (budget %s)", ErrTimeout.Error(), e.Address, e.Phase, e.Timeout)
}

func (e *TimeoutError) Unwrap() []error { return []error{ErrTimeout, e.Err} }

// RemoteError carries the JSON-RPC error object returned by the callee
type RemoteError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
	HTTPStatus int    `json:"-"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %d: %s", ErrRemote.Error(), e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error { return ErrRemote }

// ProtocolError means the response could not be interpreted
type ProtocolError struct {
	StatusCode int
	Body       string
	Reason     string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s: %s (status %d)", ErrProtocol.Error(), e.Reason, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// IsFatal reports whether err must abort the whole orchestration
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransport)
}

// Outcome classifies an invocation error for metrics and logs
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRemote):
		return "remote_error"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "other"
	}
}
