// Package shelltest provides a deterministic in-memory shell for testing code
// built on sshshell without a network or an SSH server.
//
// The stub behaves like a PTY shell: on open it prints Banner, and for every
// line written to it prints the echoed line, the handler's output and the
// prompt, each separated by "\r\n".
package shelltest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/sshshell"
)

// DefaultPrompt is printed after every response unless Prompt is set.
const DefaultPrompt = "user@host:~$ "

// EchoHandler answers "echo X" with X and everything else with nothing.
func EchoHandler(cmd string) string {
	if rest, ok := strings.CutPrefix(cmd, "echo "); ok {
		return rest
	}
	return ""
}

// Transport is a sshshell.Transport backed by stub shells.
type Transport struct {
	// Banner is printed when a shell opens. Empty means the shell prints
	// nothing until it receives input.
	Banner string
	// Prompt is printed after each response; DefaultPrompt when empty.
	Prompt string
	// Handler produces the output for a command line; EchoHandler when nil.
	Handler func(cmd string) string
	// Delay postpones each response; it is delivered from a goroutine.
	Delay time.Duration

	// Injected failures.
	OpenErr       error
	ShellErr      error
	ConnCloseErr  error
	ShellCloseErr error

	mu             sync.Mutex
	suppressPrompt bool
	mute           bool
	opens          int
	conns          []*Conn
	responses      []string
}

// SuppressPrompt makes shells stop printing the prompt after responses.
func (t *Transport) SuppressPrompt(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suppressPrompt = v
}

// Mute makes shells swallow input without printing anything.
func (t *Transport) Mute(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mute = v
}

// Open implements sshshell.Transport.
func (t *Transport) Open(ctx context.Context, cfg *sshshell.Config) (sshshell.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	c := &Conn{t: t}
	t.conns = append(t.conns, c)
	return c, nil
}

// Opens returns how many times Open was called.
func (t *Transport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

// Conns returns every Conn handed out so far.
func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Conn(nil), t.conns...)
}

// Responses returns the raw text printed for each command, in order.
func (t *Transport) Responses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.responses...)
}

func (t *Transport) respond(line string) string {
	t.mu.Lock()
	handler := t.Handler
	prompt := t.Prompt
	suppress := t.suppressPrompt
	mute := t.mute
	t.mu.Unlock()

	if mute {
		return ""
	}

	if handler == nil {
		handler = EchoHandler
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}

	var b strings.Builder
	b.WriteString(line + "\r\n")
	if out := handler(line); out != "" {
		b.WriteString(out + "\r\n")
	}
	if !suppress {
		b.WriteString(prompt)
	}
	raw := b.String()

	t.mu.Lock()
	t.responses = append(t.responses, raw)
	t.mu.Unlock()
	return raw
}

// Conn is a stub transport session.
type Conn struct {
	t *Transport

	mu     sync.Mutex
	closed bool
	shells []*Shell
}

// OpenShell implements sshshell.Conn.
func (c *Conn) OpenShell(ctx context.Context, out io.Writer) (sshshell.Shell, error) {
	if c.t.ShellErr != nil {
		return nil, c.t.ShellErr
	}
	sh := &Shell{conn: c, out: out}
	c.mu.Lock()
	c.shells = append(c.shells, sh)
	c.mu.Unlock()

	if c.t.Banner != "" {
		if _, err := io.WriteString(out, c.t.Banner); err != nil {
			return nil, err
		}
	}
	return sh, nil
}

// Close implements sshshell.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.t.ConnCloseErr
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Shells returns the shells opened on this Conn.
func (c *Conn) Shells() []*Shell {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Shell(nil), c.shells...)
}

// Shell is a stub interactive shell.
type Shell struct {
	conn *Conn
	out  io.Writer

	mu       sync.Mutex
	pending  []byte
	received []string
	closed   bool
}

// Write buffers input and answers every complete line.
func (s *Shell) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	s.pending = append(s.pending, p...)
	var lines []string
	for {
		i := strings.IndexByte(string(s.pending), '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(s.pending[:i]), "\r"))
		s.pending = s.pending[i+1:]
	}
	s.received = append(s.received, lines...)
	s.mu.Unlock()

	for _, line := range lines {
		raw := s.conn.t.respond(line)
		if raw == "" {
			continue
		}
		if d := s.conn.t.Delay; d > 0 {
			go func() {
				time.Sleep(d)
				io.WriteString(s.out, raw)
			}()
			continue
		}
		if _, err := io.WriteString(s.out, raw); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Close implements sshshell.Shell.
func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.conn.t.ShellCloseErr
}

// Closed reports whether Close was called.
func (s *Shell) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Received returns the command lines written to the shell.
func (s *Shell) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Print writes raw text to the session as if the remote shell printed it.
func (s *Shell) Print(text string) error {
	_, err := io.WriteString(s.out, text)
	return err
}

// Hangup simulates the remote shell exiting.
func (s *Shell) Hangup() {
	if sc, ok := s.out.(sshshell.StreamCloser); ok {
		sc.CloseWithError(errors.New("remote shell exited"))
	}
}
