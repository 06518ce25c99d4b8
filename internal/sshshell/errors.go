package sshshell

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConnected is matched by a ConnectionError raised for a call on a
// session that is not in the Connected state.
var ErrNotConnected = errors.New("session is not connected")

// ConnectionError reports a handshake, authentication, channel-open or
// prompt-learning failure, or a call on a disconnected session. The session
// must be reconnected before it can be used again.
type ConnectionError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("ssh shell %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ssh shell %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError is returned by a hard wait when no data arrived in time.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no data within %s", e.Op, e.After)
}

// Timeout reports true so callers checking for net.Error-style timeouts match.
func (e *TimeoutError) Timeout() bool { return true }

// IncompleteResponseError is returned when the prompt did not reappear within
// the request timeout and the session is configured to fail on incomplete
// responses. Partial holds the cleaned output captured so far.
type IncompleteResponseError struct {
	Command string
	Timeout time.Duration
	Partial string
}

func (e *IncompleteResponseError) Error() string {
	return fmt.Sprintf("incomplete response to %q: prompt not seen within %s (%d bytes captured)",
		e.Command, e.Timeout, len(e.Partial))
}

// IOError wraps a read or write failure on the shell streams. The session is
// unusable afterwards.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ssh shell %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
