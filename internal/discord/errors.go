package discord

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when an operation requires an active connection.
var ErrNotConnected = errors.New("not connected")

// ConnectionError reports a failure to reach Discord or complete the
// handshake. Callers back off and retry.
type ConnectionError struct {
	// Path is the socket that was being used, empty when none was reachable.
	Path string
	// Err is the underlying failure.
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("discord connect: %v", e.Err)
	}
	return fmt.Sprintf("discord connect %s: %v", e.Path, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PublishError reports a failure to deliver a command on an established
// connection. The connection is dropped when it is returned.
type PublishError struct {
	// Cmd is the command that failed, e.g. SET_ACTIVITY.
	Cmd string
	// Err is the underlying failure.
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("discord %s: %v", e.Cmd, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// RPCError is returned when Discord answers with an ERROR event or a close
// frame.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("discord error %d: %s", e.Code, e.Message)
}
