// state.go implements connection state tracking for a Session.
//
// A Session moves between Disconnected, Connecting and Connected. Every
// change is recorded in a fixed-size ring buffer for debugging, and
// registered callbacks are invoked on each change so owners (the pool, the
// audit log) can react without polling.

package sshshell

import (
	"sync"
	"time"
)

// ConnectionState represents the current state of a Session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the human-readable name of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// stateTransitionBufferSize is the maximum number of transitions kept per
// session.
const stateTransitionBufferSize = 50

// StateTransition records a single state change.
type StateTransition struct {
	From      ConnectionState `json:"from"`
	To        ConnectionState `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason"`
}

// StateChangeCallback is called when a session changes state. Callbacks run
// synchronously on the goroutine that caused the change.
type StateChangeCallback func(sessionID string, from, to ConnectionState, reason string)

// stateTracker holds the current state, the transition ring buffer and the
// callbacks of one session.
type stateTracker struct {
	sessionID string

	mu          sync.RWMutex
	current     ConnectionState
	transitions [stateTransitionBufferSize]StateTransition
	head        int
	count       int
	callbacks   []StateChangeCallback
}

func newStateTracker(sessionID string) *stateTracker {
	return &stateTracker{sessionID: sessionID, current: StateDisconnected}
}

// record adds a transition to the ring buffer. Caller must hold st.mu.
func (st *stateTracker) record(from, to ConnectionState, reason string) {
	st.transitions[st.head] = StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	st.head = (st.head + 1) % stateTransitionBufferSize
	if st.count < stateTransitionBufferSize {
		st.count++
	}
}

// setState moves to state unconditionally and returns the previous state.
// Setting the current state again is a no-op.
func (st *stateTracker) setState(state ConnectionState, reason string) ConnectionState {
	st.mu.Lock()
	from := st.current
	if from == state {
		st.mu.Unlock()
		return from
	}
	st.current = state
	st.record(from, state, reason)
	cbs := make([]StateChangeCallback, len(st.callbacks))
	copy(cbs, st.callbacks)
	st.mu.Unlock()

	for _, cb := range cbs {
		cb(st.sessionID, from, state, reason)
	}
	return from
}

// compareAndSet moves from -> to only if the current state is from.
func (st *stateTracker) compareAndSet(from, to ConnectionState, reason string) bool {
	st.mu.Lock()
	if st.current != from {
		st.mu.Unlock()
		return false
	}
	st.current = to
	st.record(from, to, reason)
	cbs := make([]StateChangeCallback, len(st.callbacks))
	copy(cbs, st.callbacks)
	st.mu.Unlock()

	for _, cb := range cbs {
		cb(st.sessionID, from, to, reason)
	}
	return true
}

func (st *stateTracker) get() ConnectionState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// history returns the transitions in chronological order.
func (st *stateTracker) history() []StateTransition {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.count == 0 {
		return nil
	}

	result := make([]StateTransition, st.count)
	if st.count < stateTransitionBufferSize {
		copy(result, st.transitions[:st.count])
	} else {
		// Buffer is full, head is the oldest entry.
		n := copy(result, st.transitions[st.head:])
		copy(result[n:], st.transitions[:st.head])
	}
	return result
}

func (st *stateTracker) onStateChange(cb StateChangeCallback) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.callbacks = append(st.callbacks, cb)
}
