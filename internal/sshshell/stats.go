package sshshell

import (
	"sync"
	"time"
)

// Stats is a point-in-time copy of a session's counters. The Avg* fields and
// ConnectedFor are derived when the snapshot is taken and are zero when their
// divisor is zero.
type Stats struct {
	BytesWritten        int64         `json:"bytes_written"`
	BytesRead           int64         `json:"bytes_read"`
	Requests            int64         `json:"requests"`
	RequestTime         time.Duration `json:"request_time"`
	WaitCycles          int64         `json:"wait_cycles"`
	WaitCycleTime       time.Duration `json:"wait_cycle_time"`
	Errors              int64         `json:"errors"`
	HardTimeouts        int64         `json:"hard_timeouts"`
	IncompleteResponses int64         `json:"incomplete_responses"`
	Disconnects         int64         `json:"disconnects"`
	ConnectedAt         time.Time     `json:"connected_at"`

	AvgRequestTime             time.Duration `json:"avg_request_time"`
	AvgWaitCyclesPerRequest    float64       `json:"avg_wait_cycles_per_request"`
	AvgWaitCycleTimePerRequest time.Duration `json:"avg_wait_cycle_time_per_request"`
	ConnectedFor               time.Duration `json:"connected_for"`
}

// recorder accumulates the counters behind Stats. Each counter is updated
// only by the component that owns the operation it measures.
type recorder struct {
	mu    sync.Mutex
	s     Stats
	nowFn func() time.Time
}

func newRecorder() *recorder {
	return &recorder{nowFn: time.Now}
}

func (r *recorder) addWritten(n int) {
	r.mu.Lock()
	r.s.BytesWritten += int64(n)
	r.mu.Unlock()
}

func (r *recorder) addRead(n int) {
	r.mu.Lock()
	r.s.BytesRead += int64(n)
	r.mu.Unlock()
}

func (r *recorder) addRequest(elapsed time.Duration) {
	r.mu.Lock()
	r.s.Requests++
	r.s.RequestTime += elapsed
	r.mu.Unlock()
}

func (r *recorder) addWaitCycle(d time.Duration) {
	r.mu.Lock()
	r.s.WaitCycles++
	r.s.WaitCycleTime += d
	r.mu.Unlock()
}

func (r *recorder) addError() {
	r.mu.Lock()
	r.s.Errors++
	r.mu.Unlock()
}

func (r *recorder) addHardTimeout() {
	r.mu.Lock()
	r.s.HardTimeouts++
	r.mu.Unlock()
}

func (r *recorder) addIncomplete() {
	r.mu.Lock()
	r.s.IncompleteResponses++
	r.mu.Unlock()
}

func (r *recorder) addDisconnect() {
	r.mu.Lock()
	r.s.Disconnects++
	r.s.ConnectedAt = time.Time{}
	r.mu.Unlock()
}

func (r *recorder) markConnected() {
	r.mu.Lock()
	r.s.ConnectedAt = r.nowFn()
	r.mu.Unlock()
}

// reset zeroes every counter.
func (r *recorder) reset() {
	r.mu.Lock()
	connectedAt := r.s.ConnectedAt
	r.s = Stats{ConnectedAt: connectedAt}
	r.mu.Unlock()
}

func (r *recorder) snapshot() Stats {
	r.mu.Lock()
	s := r.s
	now := r.nowFn()
	r.mu.Unlock()

	if s.Requests > 0 {
		s.AvgRequestTime = s.RequestTime / time.Duration(s.Requests)
		s.AvgWaitCyclesPerRequest = float64(s.WaitCycles) / float64(s.Requests)
		s.AvgWaitCycleTimePerRequest = s.WaitCycleTime / time.Duration(s.Requests)
	}
	if !s.ConnectedAt.IsZero() {
		s.ConnectedFor = now.Sub(s.ConnectedAt)
	}
	return s
}
