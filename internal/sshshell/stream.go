package sshshell

import (
	"io"
	"sync"
)

// inputStream is the readable side of the shell channel. The transport
// copies channel output into it through Write; the engine polls Available
// and drains with Read, which never blocks.
type inputStream struct {
	mu     sync.Mutex
	data   []byte
	closed bool
	err    error
}

func newInputStream() *inputStream {
	return &inputStream{}
}

// Write appends shell output. It fails once the stream is closed so the
// transport stops copying into a torn-down session.
func (s *inputStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.data = append(s.data, p...)
	return len(p), nil
}

// Available returns the number of buffered bytes.
func (s *inputStream) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Read copies up to len(p) buffered bytes. It returns 0, nil when nothing
// is buffered and the stream is open, and the close error once the buffer
// is drained after CloseWithError.
func (s *inputStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		if s.closed {
			return 0, s.closeErr()
		}
		return 0, nil
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	if len(s.data) == 0 {
		s.data = nil
	}
	return n, nil
}

// Err returns the close error when the stream is closed and fully drained.
func (s *inputStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed && len(s.data) == 0 {
		return s.closeErr()
	}
	return nil
}

// CloseWithError marks the stream closed. Buffered bytes stay readable.
func (s *inputStream) CloseWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
}

// Close marks the stream closed with io.EOF.
func (s *inputStream) Close() error {
	s.CloseWithError(io.EOF)
	return nil
}

func (s *inputStream) closeErr() error {
	if s.err == nil {
		return io.EOF
	}
	return s.err
}
