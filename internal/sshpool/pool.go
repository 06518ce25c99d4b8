// Package sshpool keeps one shell session per configured profile and runs
// commands on them by name.
//
// Sessions are created up front but connect lazily on first use. Commands on
// the same session are serialized; commands on different sessions run in
// parallel. A session that fails with an I/O error is closed and reconnected
// on the next call, and a background health checker closes sessions that stop
// answering or sit idle too long.
package sshpool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/logutil"
	"github.com/gluk-w/claworc/shellbridge/internal/sshshell"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrUnknownSession is returned for a name that has no configured profile.
var ErrUnknownSession = errors.New("unknown session")

// Reconnect backoff. Variables so tests can shorten them.
var (
	connectDefaultRetries = 3
	connectInitialBackoff = 1 * time.Second
	connectMaxBackoff     = 16 * time.Second
	defaultHealthCommand  = "echo ping"
	defaultHealthInterval = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
)

// StateObserverFactory builds a state callback for one named session; it
// matches sshaudit.Auditor.StateObserver.
type StateObserverFactory func(label, host string) sshshell.StateChangeCallback

// Option customizes a Pool.
type Option func(*Pool)

// WithSessionOptions passes options to every session the pool creates.
func WithSessionOptions(opts ...sshshell.Option) Option {
	return func(p *Pool) { p.sessionOpts = append(p.sessionOpts, opts...) }
}

// WithObserver registers a transaction observer on every session.
func WithObserver(o sshshell.TransactionObserver) Option {
	return func(p *Pool) { p.observer = o }
}

// WithStateObserver registers a per-session state callback built by f.
func WithStateObserver(f StateObserverFactory) Option {
	return func(p *Pool) { p.stateObserver = f }
}

// WithHealthCheck sets the command and interval of the background checker.
func WithHealthCheck(command string, interval time.Duration) Option {
	return func(p *Pool) {
		if command != "" {
			p.healthCommand = command
		}
		if interval > 0 {
			p.healthInterval = interval
		}
	}
}

// WithIdleTimeout closes connected sessions unused for longer than d. Zero
// disables idle closing.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Pool) { p.idleTimeout = d }
}

// WithConnectRetries sets how many connection attempts EnsureConnected makes.
func WithConnectRetries(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.retries = n
		}
	}
}

// managedSession wraps a session with the pool's bookkeeping.
type managedSession struct {
	name    string
	session *sshshell.Session
	metrics *healthTracker

	// exec serializes commands and connection attempts on the session.
	exec sync.Mutex

	mu       sync.Mutex
	lastUsed time.Time
	lastErr  string
}

func (ms *managedSession) touch(err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.lastUsed = time.Now()
	if err != nil {
		ms.lastErr = err.Error()
	} else {
		ms.lastErr = ""
	}
}

// Pool manages one session per profile name.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]*managedSession

	sessionOpts   []sshshell.Option
	observer      sshshell.TransactionObserver
	stateObserver StateObserverFactory
	logger        zerolog.Logger

	retries        int
	healthCommand  string
	healthInterval time.Duration
	idleTimeout    time.Duration

	healthMu     sync.Mutex
	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// New creates a pool with one disconnected session per entry of configs.
// It fails if any config is invalid.
func New(configs map[string]sshshell.Config, opts ...Option) (*Pool, error) {
	p := &Pool{
		sessions:       make(map[string]*managedSession, len(configs)),
		logger:         log.With().Str("component", "sshpool").Logger(),
		retries:        connectDefaultRetries,
		healthCommand:  defaultHealthCommand,
		healthInterval: defaultHealthInterval,
	}
	for _, opt := range opts {
		opt(p)
	}

	for name, cfg := range configs {
		if cfg.Label == "" {
			cfg.Label = name
		}
		sopts := append([]sshshell.Option(nil), p.sessionOpts...)
		if p.observer != nil {
			sopts = append(sopts, sshshell.WithObserver(p.observer))
		}
		// The callback needs the defaulted address, known only after New.
		var onState sshshell.StateChangeCallback
		if p.stateObserver != nil {
			sopts = append(sopts, sshshell.WithStateCallback(func(id string, from, to sshshell.ConnectionState, reason string) {
				onState(id, from, to, reason)
			}))
		}
		s, err := sshshell.New(cfg, sopts...)
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", name, err)
		}
		if p.stateObserver != nil {
			sc := s.Config()
			onState = p.stateObserver(cfg.Label, sc.Addr())
		}
		p.sessions[name] = &managedSession{
			name:    name,
			session: s,
			metrics: &healthTracker{},
		}
	}
	return p, nil
}

// Names returns the configured session names in sorted order.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.sessions))
	for name := range p.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Pool) get(name string) (*managedSession, error) {
	p.mu.RLock()
	ms, ok := p.sessions[name]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, name)
	}
	return ms, nil
}

// Session returns the underlying session for name.
func (p *Pool) Session(name string) (*sshshell.Session, error) {
	ms, err := p.get(name)
	if err != nil {
		return nil, err
	}
	return ms.session, nil
}

// EnsureConnected connects the named session if it is not connected yet,
// retrying with exponential backoff.
func (p *Pool) EnsureConnected(ctx context.Context, name string) error {
	ms, err := p.get(name)
	if err != nil {
		return err
	}
	ms.exec.Lock()
	defer ms.exec.Unlock()
	return p.ensureConnectedLocked(ctx, ms)
}

// ensureConnectedLocked must be called with ms.exec held.
func (p *Pool) ensureConnectedLocked(ctx context.Context, ms *managedSession) error {
	if ms.session.IsConnected() {
		return nil
	}
	// A session stuck outside Disconnected is released first.
	if ms.session.State() != sshshell.StateDisconnected {
		_ = ms.session.Close()
	}

	backoff := connectInitialBackoff
	var lastErr error
	for attempt := 1; attempt <= p.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := ms.session.Connect(ctx)
		if err == nil {
			ms.metrics.recordConnect()
			if attempt > 1 {
				p.logger.Info().Str("session", ms.name).Int("attempt", attempt).Msg("connected after retry")
			}
			return nil
		}
		lastErr = err
		p.logger.Warn().Err(err).Str("session", ms.name).
			Int("attempt", attempt).Int("max", p.retries).Msg("connect failed")

		if attempt < p.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > connectMaxBackoff {
				backoff = connectMaxBackoff
			}
		}
	}
	ms.touch(lastErr)
	return fmt.Errorf("connect %q failed after %d attempt(s): %w", ms.name, p.retries, lastErr)
}

// Exec runs command on the named session, connecting it first if needed.
// The transaction is returned even when err is non-nil, unless the session
// could not be connected. After an I/O error the session is closed so the
// next call reconnects.
func (p *Pool) Exec(ctx context.Context, name, command string) (*sshshell.Transaction, error) {
	ms, err := p.get(name)
	if err != nil {
		return nil, err
	}
	ms.exec.Lock()
	defer ms.exec.Unlock()

	if err := p.ensureConnectedLocked(ctx, ms); err != nil {
		return nil, err
	}

	tx, err := ms.session.Execute(ctx, command)
	ms.touch(err)

	var ioErr *sshshell.IOError
	if errors.As(err, &ioErr) {
		p.logger.Warn().Err(err).Str("session", ms.name).
			Str("command", logutil.SanitizeForLog(command)).
			Msg("session broken, closing for reconnect")
		_ = ms.session.Close()
	}
	return tx, err
}

// Close disconnects the named session. It stays in the pool and reconnects
// on the next Exec.
func (p *Pool) Close(name string) error {
	ms, err := p.get(name)
	if err != nil {
		return err
	}
	return ms.session.Close()
}

// CloseAll stops the health checker and disconnects every session.
func (p *Pool) CloseAll() error {
	p.StopHealthChecker()

	p.mu.RLock()
	defer p.mu.RUnlock()

	var errs []error
	closed := 0
	for name, ms := range p.sessions {
		if ms.session.IsConnected() {
			closed++
		}
		if err := ms.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	p.logger.Info().Int("closed", closed).Msg("all sessions closed")
	return errors.Join(errs...)
}

// ResetStats zeroes the counters of the named session.
func (p *Pool) ResetStats(name string) error {
	ms, err := p.get(name)
	if err != nil {
		return err
	}
	ms.session.ResetStats()
	return nil
}

// Transactions returns the recent transaction history of the named session.
func (p *Pool) Transactions(name string) ([]sshshell.Transaction, error) {
	ms, err := p.get(name)
	if err != nil {
		return nil, err
	}
	return ms.session.Transactions(), nil
}

// SessionInfo is a point-in-time view of one pooled session.
type SessionInfo struct {
	Name      string                     `json:"name"`
	SessionID string                     `json:"session_id"`
	Label     string                     `json:"label"`
	Addr      string                     `json:"addr"`
	User      string                     `json:"user"`
	State     string                     `json:"state"`
	Prompt    string                     `json:"prompt,omitempty"`
	Stats     sshshell.Stats             `json:"stats"`
	Health    HealthMetrics              `json:"health"`
	LastUsed  time.Time                  `json:"last_used,omitempty"`
	LastError string                     `json:"last_error,omitempty"`
	History   []sshshell.StateTransition `json:"state_history,omitempty"`
}

func (ms *managedSession) info(withHistory bool) SessionInfo {
	cfg := ms.session.Config()
	ms.mu.Lock()
	lastUsed, lastErr := ms.lastUsed, ms.lastErr
	ms.mu.Unlock()

	info := SessionInfo{
		Name:      ms.name,
		SessionID: ms.session.ID,
		Label:     cfg.Label,
		Addr:      cfg.Addr(),
		User:      cfg.User,
		State:     ms.session.State().String(),
		Prompt:    ms.session.Prompt(),
		Stats:     ms.session.Stats(),
		Health:    ms.metrics.Snapshot(),
		LastUsed:  lastUsed,
		LastError: lastErr,
	}
	if withHistory {
		info.History = ms.session.StateTransitions()
	}
	return info
}

// Info returns the view of one session including its state history.
func (p *Pool) Info(name string) (SessionInfo, error) {
	ms, err := p.get(name)
	if err != nil {
		return SessionInfo{}, err
	}
	return ms.info(true), nil
}

// Snapshot returns a view of every session, sorted by name.
func (p *Pool) Snapshot() []SessionInfo {
	names := p.Names()
	out := make([]SessionInfo, 0, len(names))
	for _, name := range names {
		if ms, err := p.get(name); err == nil {
			out = append(out, ms.info(false))
		}
	}
	return out
}
