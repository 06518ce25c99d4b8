package sshshell

import (
	"fmt"
	"sync"
	"testing"
)

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{ConnectionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ConnectionState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStateTracker_SetReturnsPrevious(t *testing.T) {
	st := newStateTracker("s1")

	if from := st.setState(StateConnected, "up"); from != StateDisconnected {
		t.Errorf("setState returned %v, want disconnected", from)
	}
	if from := st.setState(StateConnected, "again"); from != StateConnected {
		t.Errorf("setState returned %v, want connected", from)
	}
	if n := len(st.history()); n != 1 {
		t.Errorf("expected 1 transition, same-state set must not record; got %d", n)
	}
}

func TestStateTracker_CompareAndSet(t *testing.T) {
	st := newStateTracker("s1")

	if st.compareAndSet(StateConnecting, StateConnected, "skip") {
		t.Fatal("compareAndSet succeeded from the wrong state")
	}
	if !st.compareAndSet(StateDisconnected, StateConnecting, "dial") {
		t.Fatal("compareAndSet failed from the current state")
	}
	if got := st.get(); got != StateConnecting {
		t.Errorf("get() = %v, want connecting", got)
	}
}

func TestStateTracker_RingBufferWraps(t *testing.T) {
	st := newStateTracker("s1")
	for i := 0; i < stateTransitionBufferSize+10; i++ {
		to := StateConnected
		if i%2 == 1 {
			to = StateDisconnected
		}
		st.setState(to, fmt.Sprintf("step %d", i))
	}

	h := st.history()
	if len(h) != stateTransitionBufferSize {
		t.Fatalf("history length = %d, want %d", len(h), stateTransitionBufferSize)
	}
	if h[0].Reason != "step 10" {
		t.Errorf("oldest reason = %q, want step 10", h[0].Reason)
	}
	if last := h[len(h)-1].Reason; last != fmt.Sprintf("step %d", stateTransitionBufferSize+9) {
		t.Errorf("newest reason = %q", last)
	}
}

func TestStateTracker_Callbacks(t *testing.T) {
	st := newStateTracker("s1")

	var mu sync.Mutex
	var calls []string
	st.onStateChange(func(id string, from, to ConnectionState, reason string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, fmt.Sprintf("%s:%s->%s", id, from, to))
		// Reading state from a callback must not deadlock.
		_ = st.get()
	})

	st.setState(StateConnecting, "a")
	st.compareAndSet(StateConnecting, StateConnected, "b")

	mu.Lock()
	defer mu.Unlock()
	want := []string{"s1:disconnected->connecting", "s1:connecting->connected"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("callbacks = %v, want %v", calls, want)
	}
}
