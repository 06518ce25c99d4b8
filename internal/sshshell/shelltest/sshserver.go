package shelltest

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/gluk-w/claworc/shellbridge/internal/sshkeys"
	"golang.org/x/crypto/ssh"
)

// SSHServer is an in-process SSH server whose shell behaves like the stub
// Transport: it prints Banner, echoes every line, prints the handler output
// and then the prompt. "exit" ends the shell.
type SSHServer struct {
	Addr    string
	HostKey ssh.PublicKey

	// Password accepted for User. Empty disables password auth.
	User     string
	Password string

	// AuthorizedKey enables public key auth for User.
	AuthorizedKey ssh.PublicKey

	Banner  string
	Prompt  string
	Handler func(cmd string) string

	listener net.Listener
	mu       sync.Mutex
	netConns []net.Conn
	done     chan struct{}
}

// NewSSHServer starts a server on 127.0.0.1 with a fresh ed25519 host key.
// It is stopped when the test ends.
func NewSSHServer(t testing.TB, configure func(*SSHServer)) *SSHServer {
	t.Helper()

	_, hostKeyPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.ParsePrivateKey(hostKeyPEM)
	if err != nil {
		t.Fatalf("parse host key: %v", err)
	}

	srv := &SSHServer{
		HostKey: hostSigner.PublicKey(),
		User:    "user",
		Banner:  "Welcome to the test server\r\n" + DefaultPrompt,
		Prompt:  DefaultPrompt,
		Handler: EchoHandler,
		done:    make(chan struct{}),
	}
	if configure != nil {
		configure(srv)
	}

	config := &ssh.ServerConfig{}
	if srv.Password != "" {
		config.PasswordCallback = func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == srv.User && string(pass) == srv.Password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		}
	}
	if srv.AuthorizedKey != nil {
		want := srv.AuthorizedKey.Marshal()
		config.PublicKeyCallback = func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == srv.User && bytes.Equal(key.Marshal(), want) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		}
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.listener = listener
	srv.Addr = listener.Addr().String()

	go func() {
		defer close(srv.done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			srv.mu.Lock()
			srv.netConns = append(srv.netConns, netConn)
			srv.mu.Unlock()
			go srv.handleConn(netConn, config)
		}
	}()

	t.Cleanup(srv.Close)
	return srv
}

// HostPort splits Addr for use in a session config.
func (s *SSHServer) HostPort() (string, int) {
	host, portStr, _ := net.SplitHostPort(s.Addr)
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// WriteKnownHosts writes a known_hosts file trusting the server's host key
// and returns its path.
func (s *SSHServer) WriteKnownHosts(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := sshkeys.KnownHostsLine(s.Addr, s.HostKey) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	return path
}

// DropConnections closes every accepted TCP connection.
func (s *SSHServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.netConns {
		c.Close()
	}
	s.netConns = nil
}

// Close stops the server.
func (s *SSHServer) Close() {
	s.listener.Close()
	s.DropConnections()
	<-s.done
}

func (s *SSHServer) handleConn(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *SSHServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			go ssh.DiscardRequests(requests)
			s.runShell(ch)
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *SSHServer) runShell(ch ssh.Channel) {
	ch.Write([]byte(s.Banner))

	buf := make([]byte, 1024)
	var pending []byte
	for {
		n, err := ch.Read(buf)
		if err != nil {
			return
		}
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			line := string(bytes.TrimRight(pending[:i], "\r"))
			pending = pending[i+1:]

			ch.Write([]byte(line + "\r\n"))
			if line == "exit" {
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
				return
			}
			if out := s.Handler(line); out != "" {
				ch.Write([]byte(out + "\r\n"))
			}
			ch.Write([]byte(s.Prompt))
		}
	}
}
