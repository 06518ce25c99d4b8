package sshshell

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session is one interactive shell on a remote host, driven one command at
// a time. IssueCommand must not be called concurrently on the same Session;
// Close, IsConnected, Stats and the other accessors may be called from any
// goroutine.
type Session struct {
	ID string

	cfg       Config
	transport Transport
	observer  TransactionObserver
	logger    zerolog.Logger

	mu     sync.Mutex // guards conn, shell, in, prompt
	conn   Conn
	shell  Shell
	in     *inputStream
	prompt string

	state   *stateTracker
	stats   *recorder
	history transactionLog
}

// Option customizes a Session.
type Option func(*Session)

// WithTransport replaces the default SSHTransport.
func WithTransport(t Transport) Option {
	return func(s *Session) { s.transport = t }
}

// WithObserver registers an observer notified after every transaction.
func WithObserver(o TransactionObserver) Option {
	return func(s *Session) { s.observer = o }
}

// WithLogger sets the parent logger; session fields are added to it.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithStateCallback registers a callback for connection state changes.
func WithStateCallback(cb StateChangeCallback) Option {
	return func(s *Session) { s.state.onStateChange(cb) }
}

// New validates cfg and returns a disconnected Session.
func New(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	id := uuid.NewString()
	s := &Session{
		ID:        id,
		cfg:       cfg.withDefaults(),
		transport: SSHTransport{},
		logger:    log.Logger,
		state:     newStateTracker(id),
		stats:     newRecorder(),
	}
	for _, opt := range opts {
		opt(s)
	}
	ctx := s.logger.With().
		Str("component", "sshshell").
		Str("session", id).
		Str("addr", s.cfg.Addr())
	if s.cfg.Label != "" {
		ctx = ctx.Str("label", s.cfg.Label)
	}
	s.logger = ctx.Logger()
	return s, nil
}

// Dial creates a Session and connects it.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	s, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect opens the transport and the shell channel, then learns the prompt.
// The session is Connected only once the prompt is known. On failure every
// resource opened so far is released and a *ConnectionError is returned. A
// closed Session may be connected again; its Stats carry over.
func (s *Session) Connect(ctx context.Context) error {
	addr := s.cfg.Addr()
	if !s.state.compareAndSet(StateDisconnected, StateConnecting, "connecting to "+addr) {
		return &ConnectionError{Addr: addr, Op: "connect", Err: fmt.Errorf("session is %s", s.state.get())}
	}

	fail := func(op string, err error) error {
		s.state.setState(StateDisconnected, fmt.Sprintf("%s failed: %v", op, err))
		s.logger.Warn().Err(err).Str("op", op).Msg("ssh shell connect failed")
		return &ConnectionError{Addr: addr, Op: op, Err: err}
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.transport.Open(connectCtx, &s.cfg)
	if err != nil {
		return fail("open session", err)
	}

	in := newInputStream()
	shell, err := conn.OpenShell(connectCtx, in)
	if err != nil {
		conn.Close()
		return fail("open shell", err)
	}

	prompt, err := s.learnPrompt(ctx, in)
	if err != nil {
		closeAll(in, shell, conn)
		return fail("learn prompt", err)
	}

	s.mu.Lock()
	s.conn, s.shell, s.in, s.prompt = conn, shell, in, prompt
	s.mu.Unlock()

	if !s.state.compareAndSet(StateConnecting, StateConnected, "connected to "+addr) {
		// Close ran while the prompt was being learned.
		s.release()
		return &ConnectionError{Addr: addr, Op: "connect", Err: errors.New("session closed during connect")}
	}
	s.stats.markConnected()
	s.logger.Info().Str("prompt", prompt).Msg("ssh shell connected")
	return nil
}

// Close tears the session down. It is idempotent and safe to call from a
// goroutine other than the one issuing commands. A disconnect is counted
// only on the Connected to Disconnected transition. Every resource is closed
// even if an earlier one fails; the errors are joined.
func (s *Session) Close() error {
	from := s.state.setState(StateDisconnected, "closed")
	if from == StateConnected {
		s.stats.addDisconnect()
	}
	err := s.release()
	if from == StateConnected {
		if err != nil {
			s.logger.Warn().Err(err).Msg("ssh shell closed with errors")
		} else {
			s.logger.Info().Msg("ssh shell disconnected")
		}
	}
	return err
}

// release detaches and closes the channel resources.
func (s *Session) release() error {
	s.mu.Lock()
	conn, shell, in := s.conn, s.shell, s.in
	s.conn, s.shell, s.in, s.prompt = nil, nil, nil, ""
	s.mu.Unlock()

	var closers []closer
	if in != nil {
		closers = append(closers, in)
	}
	if shell != nil {
		closers = append(closers, shell)
	}
	if conn != nil {
		closers = append(closers, conn)
	}
	return closeAll(closers...)
}

type closer interface {
	Close() error
}

// closeAll closes every closer, in order, and joins their errors.
func closeAll(cs ...closer) error {
	var errs []error
	for _, c := range cs {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsConnected reports whether the session is in the Connected state.
func (s *Session) IsConnected() bool {
	return s.state.get() == StateConnected
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	return s.state.get()
}

// StateTransitions returns up to the last 50 state changes, oldest first.
func (s *Session) StateTransitions() []StateTransition {
	return s.state.history()
}

// Prompt returns the learned prompt marker, or "" when not connected.
func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

// Config returns the effective configuration, defaults applied.
func (s *Session) Config() Config {
	return s.cfg
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return s.stats.snapshot()
}

// ResetStats zeroes every counter. Call it before the session starts
// accumulating history that should be measured on its own.
func (s *Session) ResetStats() {
	s.stats.reset()
}

// Transactions returns up to the last 100 transactions, oldest first.
func (s *Session) Transactions() []Transaction {
	return s.history.history()
}
