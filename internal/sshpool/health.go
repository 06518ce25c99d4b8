// health.go runs a lightweight command over every connected session to
// verify the remote shell still answers. A failing or idle session is closed;
// the next Exec reconnects it.

package sshpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/sshshell"
)

// HealthMetrics is a snapshot of health-check results for one session.
type HealthMetrics struct {
	LastConnectedAt  time.Time `json:"last_connected_at,omitempty"`
	LastHealthCheck  time.Time `json:"last_health_check,omitempty"`
	SuccessfulChecks int64     `json:"successful_checks"`
	FailedChecks     int64     `json:"failed_checks"`
	Connects         int64     `json:"connects"`
	IdleCloses       int64     `json:"idle_closes"`
}

// healthTracker accumulates HealthMetrics.
type healthTracker struct {
	mu sync.Mutex
	m  HealthMetrics
}

// Snapshot returns a copy of the metrics safe for concurrent use.
func (ht *healthTracker) Snapshot() HealthMetrics {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	return ht.m
}

func (ht *healthTracker) recordConnect() {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.m.LastConnectedAt = time.Now()
	ht.m.Connects++
}

func (ht *healthTracker) recordSuccess() {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.m.LastHealthCheck = time.Now()
	ht.m.SuccessfulChecks++
}

func (ht *healthTracker) recordFailure() {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.m.LastHealthCheck = time.Now()
	ht.m.FailedChecks++
}

func (ht *healthTracker) recordIdleClose() {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.m.IdleCloses++
}

// HealthCheck runs the health command on the named session. A session that
// is not connected is skipped and reported healthy; a session busy with
// another command is skipped too. A failing session is closed.
func (p *Pool) HealthCheck(ctx context.Context, name string) error {
	ms, err := p.get(name)
	if err != nil {
		return err
	}
	if !ms.session.IsConnected() {
		return nil
	}
	if !ms.exec.TryLock() {
		return nil
	}
	defer ms.exec.Unlock()

	err = p.checkLocked(ctx, ms)
	if err != nil {
		ms.metrics.recordFailure()
		p.logger.Warn().Err(err).Str("session", name).Msg("health check failed, closing session")
		_ = ms.session.Close()
		return err
	}
	ms.metrics.recordSuccess()
	return nil
}

func (p *Pool) checkLocked(ctx context.Context, ms *managedSession) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	tx, err := ms.session.Execute(ctx, p.healthCommand)
	if err != nil {
		return fmt.Errorf("health command: %w", err)
	}
	if tx.Outcome != sshshell.OutcomeComplete {
		return fmt.Errorf("health command: outcome %s", tx.Outcome)
	}
	return nil
}

// closeIfIdle closes a connected session that has not run a command within
// the idle timeout. It reports whether the session was closed.
func (p *Pool) closeIfIdle(ms *managedSession, now time.Time) bool {
	if p.idleTimeout <= 0 || !ms.session.IsConnected() {
		return false
	}
	if !ms.exec.TryLock() {
		return false
	}
	defer ms.exec.Unlock()

	ms.mu.Lock()
	last := ms.lastUsed
	ms.mu.Unlock()
	if last.IsZero() {
		last = ms.metrics.Snapshot().LastConnectedAt
	}
	if now.Sub(last) < p.idleTimeout {
		return false
	}
	p.logger.Info().Str("session", ms.name).Dur("idle", now.Sub(last)).Msg("closing idle session")
	ms.metrics.recordIdleClose()
	_ = ms.session.Close()
	return true
}

// CheckAll runs the idle check and then the health check on every session.
func (p *Pool) CheckAll(ctx context.Context) {
	now := time.Now()
	for _, name := range p.Names() {
		ms, err := p.get(name)
		if err != nil {
			continue
		}
		if p.closeIfIdle(ms, now) {
			continue
		}
		_ = p.HealthCheck(ctx, name)
	}
}

// StartHealthChecker runs CheckAll every health interval until ctx is
// cancelled or StopHealthChecker is called. Calling it twice restarts the
// checker.
func (p *Pool) StartHealthChecker(ctx context.Context) {
	p.StopHealthChecker()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.healthMu.Lock()
	p.healthCancel = cancel
	p.healthDone = done
	p.healthMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.healthInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.CheckAll(ctx)
			}
		}
	}()

	p.logger.Info().Dur("interval", p.healthInterval).Str("command", p.healthCommand).Msg("health checker started")
}

// StopHealthChecker stops the background checker and waits for it to exit.
func (p *Pool) StopHealthChecker() {
	p.healthMu.Lock()
	cancel, done := p.healthCancel, p.healthDone
	p.healthCancel, p.healthDone = nil, nil
	p.healthMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
