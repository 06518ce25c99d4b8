package sshshell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/sshkeys"
	"golang.org/x/crypto/ssh"
)

// Transport opens authenticated connections to a shell host. Implementations
// must be safe to share; each Open returns an independent Conn.
type Transport interface {
	Open(ctx context.Context, cfg *Config) (Conn, error)
}

// Conn is an open, authenticated transport session.
type Conn interface {
	// OpenShell starts an interactive shell. Everything the shell prints is
	// written to out; if out implements StreamCloser it is closed when the
	// remote shell exits.
	OpenShell(ctx context.Context, out io.Writer) (Shell, error)
	Close() error
}

// Shell is the writable side of an interactive shell channel.
type Shell interface {
	io.Writer
	Close() error
}

// StreamCloser is implemented by the output stream handed to OpenShell.
type StreamCloser interface {
	CloseWithError(err error)
}

// Terminal settings requested for the shell channel. A wide terminal keeps
// the PTY from inserting line breaks into long echoed commands.
const (
	ptyTerm = "dumb"
	ptyCols = 512
	ptyRows = 24
)

// SSHTransport opens shells over golang.org/x/crypto/ssh. The zero value is
// ready to use.
type SSHTransport struct{}

// Open dials cfg.Addr and completes the SSH handshake. The context deadline
// bounds the dial and the handshake, and stays armed on the socket until
// OpenShell succeeds.
func (SSHTransport) Open(ctx context.Context, cfg *Config) (Conn, error) {
	auth, err := sshkeys.AuthMethods(cfg.Password, cfg.PrivateKeyPath, cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("auth methods: %w", err)
	}
	hostKeyCallback, err := sshkeys.HostKeyCallback(cfg.KnownHostsPath)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.ConnectTimeout,
	}

	addr := cfg.Addr()
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(deadline)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientCfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &sshConn{
		client:  ssh.NewClient(clientConn, chans, reqs),
		netConn: netConn,
	}, nil
}

type sshConn struct {
	client  *ssh.Client
	netConn net.Conn
}

func (c *sshConn) OpenShell(ctx context.Context, out io.Writer) (Shell, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(ptyTerm, ptyRows, ptyCols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// With a PTY the server merges stderr into stdout; Stderr is wired
	// anyway for servers that keep them apart.
	session.Stdout = out
	session.Stderr = out

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	if sc, ok := out.(StreamCloser); ok {
		go func() {
			err := session.Wait()
			if err == nil {
				err = io.EOF
			}
			sc.CloseWithError(fmt.Errorf("remote shell exited: %w", err))
		}()
	}

	if ctx.Err() != nil {
		session.Close()
		return nil, ctx.Err()
	}
	c.netConn.SetDeadline(time.Time{})

	return &sshShell{session: session, stdin: stdin}, nil
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

type sshShell struct {
	session *ssh.Session
	stdin   io.WriteCloser
}

func (s *sshShell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sshShell) Close() error {
	stdinErr := s.stdin.Close()
	sessErr := s.session.Close()
	if errors.Is(stdinErr, io.EOF) {
		stdinErr = nil
	}
	if errors.Is(sessErr, io.EOF) {
		sessErr = nil
	}
	return errors.Join(stdinErr, sessErr)
}
