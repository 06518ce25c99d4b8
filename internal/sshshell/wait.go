package sshshell

import (
	"context"
	"time"
)

// availabler is the polling view of the shell output used by waitForData.
type availabler interface {
	Available() int
	Err() error
}

// waitForData polls in until it has buffered bytes or timeout has been spent
// waiting, sleeping one WaitCycle between polls. Every sleep is counted as a
// wait cycle of exactly WaitCycle.
//
// When the timeout runs out with nothing buffered, a hard wait returns a
// *TimeoutError and counts a hard timeout; a soft wait returns nil and the
// caller sees Available() == 0. A closed stream with nothing buffered is an
// *IOError either way.
func (s *Session) waitForData(ctx context.Context, in availabler, timeout time.Duration, hardFail bool, op string) error {
	cycle := s.cfg.WaitCycle
	var waited time.Duration

	for in.Available() == 0 {
		if err := in.Err(); err != nil {
			return &IOError{Op: op, Err: err}
		}
		if waited >= timeout {
			if hardFail {
				s.stats.addHardTimeout()
				return &TimeoutError{Op: op, After: timeout}
			}
			return nil
		}

		timer := time.NewTimer(cycle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &IOError{Op: op, Err: ctx.Err()}
		case <-timer.C:
		}
		waited += cycle
		s.stats.addWaitCycle(cycle)
	}
	return nil
}
