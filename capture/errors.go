package capture

import (
	"errors"
	"fmt"
)

var errAlreadyUsed = errors.New("session already started or stopped")

// ConnectError reports a failed websocket dial to the push endpoint.
type ConnectError struct {
	Status int // HTTP status of the handshake response, 0 if none
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("capture: connect push endpoint (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("capture: connect push endpoint: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a failed outbound ack or heartbeat. Fatal to the current
// stream: the connection is torn down and the owner notified.
type SendError struct {
	Op  string // "ack" or "heartbeat"
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("capture: send %s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// SessionStartError reports a failed session start: signature acquisition,
// room endpoint assembly, or connection establishment.
type SessionStartError struct {
	Room string
	Err  error
}

func (e *SessionStartError) Error() string {
	return fmt.Sprintf("capture: start session for room %s: %v", e.Room, e.Err)
}

func (e *SessionStartError) Unwrap() error { return e.Err }
