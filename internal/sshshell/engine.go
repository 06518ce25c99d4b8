package sshshell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/logutil"
)

// flusher is implemented by buffered shell writers.
type flusher interface {
	Flush() error
}

// IssueCommand sends text to the shell and returns its output with the
// echoed command and trailing prompt removed.
//
// The response is complete once the learned prompt reappears. If it does not
// appear within RequestTimeout the partial output is returned, or an
// *IncompleteResponseError when FailOnIncomplete is set. Calling it on a
// session that is not connected closes the session and returns a
// *ConnectionError without touching the streams. Read and write failures
// return an *IOError; the session must then be closed and reconnected.
//
// Output containing the prompt text is indistinguishable from the prompt
// itself and ends the response early.
func (s *Session) IssueCommand(ctx context.Context, text string) (string, error) {
	tx, err := s.Execute(ctx, text)
	if tx == nil {
		return "", err
	}
	return tx.Output, err
}

// Execute is IssueCommand returning the full Transaction record. The record
// is nil only when the session was not connected.
func (s *Session) Execute(ctx context.Context, text string) (*Transaction, error) {
	s.mu.Lock()
	shell, in, prompt := s.shell, s.in, s.prompt
	s.mu.Unlock()

	if s.state.get() != StateConnected || shell == nil || in == nil {
		s.Close()
		return nil, &ConnectionError{Addr: s.cfg.Addr(), Op: "issue command", Err: ErrNotConnected}
	}

	tx := &Transaction{
		SessionID: s.ID,
		Label:     s.cfg.Label,
		Addr:      s.cfg.Addr(),
		Command:   text,
		Wire:      s.cfg.wireCommand(text),
		Started:   time.Now(),
	}
	err := s.transact(ctx, tx, shell, in, prompt)
	tx.Elapsed = time.Since(tx.Started)
	tx.Err = err
	s.stats.addRequest(tx.Elapsed)

	s.history.record(*tx)
	if s.observer != nil {
		s.observer.ObserveTransaction(*tx)
	}

	ev := s.logger.Debug()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str("command", logutil.SanitizeForLog(text)).
		Str("outcome", string(tx.Outcome)).
		Dur("elapsed", tx.Elapsed).
		Int("bytes_read", tx.BytesRead).
		Msg("transaction finished")

	return tx, err
}

// transact runs one Sending -> Draining -> outcome cycle.
func (s *Session) transact(ctx context.Context, tx *Transaction, shell Shell, in *inputStream, prompt string) error {
	buf := make([]byte, s.cfg.ReadBufferSize)
	if err := s.discardStale(in, buf); err != nil {
		return s.ioFailure(tx, "discard stale output", err)
	}

	n, err := io.WriteString(shell, tx.Wire+s.cfg.CommandSuffix)
	tx.BytesWritten = n
	s.stats.addWritten(n)
	if err != nil {
		return s.ioFailure(tx, "write command", err)
	}
	if f, ok := shell.(flusher); ok {
		if err := f.Flush(); err != nil {
			return s.ioFailure(tx, "flush command", err)
		}
	}

	echoes := s.echoTokens(tx)
	deadline := tx.Started.Add(s.cfg.RequestTimeout)
	var resp bytes.Buffer
	found := false

	for {
		if in.Available() > 0 {
			n, err := in.Read(buf)
			resp.Write(buf[:n])
			tx.BytesRead += n
			s.stats.addRead(n)
			if err != nil {
				return s.ioFailure(tx, "read response", err)
			}
			if promptSeen(resp.Bytes(), prompt, echoes) {
				found = true
				break
			}
		}
		if err := ctx.Err(); err != nil {
			return s.ioFailure(tx, "read response", err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if in.Available() == 0 {
			if err := s.waitForData(ctx, in, remaining, false, "read response"); err != nil {
				return s.ioFailure(tx, "read response", err)
			}
		}
	}

	tx.Raw = resp.String()
	tx.Output = cleanResponse(tx.Raw, prompt, echoes, found)
	if found {
		tx.Outcome = OutcomeComplete
		return nil
	}

	tx.Outcome = OutcomeIncomplete
	if tx.BytesRead == 0 {
		tx.Outcome = OutcomeTimedOut
	}
	s.stats.addIncomplete()
	if s.cfg.FailOnIncomplete {
		return &IncompleteResponseError{
			Command: tx.Command,
			Timeout: s.cfg.RequestTimeout,
			Partial: tx.Output,
		}
	}
	return nil
}

// discardStale drops output left over from an earlier transaction, such as
// the late tail and prompt of an incomplete response. The bytes count as
// read for the session but not for the new transaction.
func (s *Session) discardStale(in *inputStream, buf []byte) error {
	dropped := 0
	for in.Available() > 0 {
		n, err := in.Read(buf)
		dropped += n
		s.stats.addRead(n)
		if err != nil {
			return err
		}
	}
	if dropped > 0 {
		s.logger.Debug().Int("bytes", dropped).Msg("discarded stale output")
	}
	return nil
}

func (s *Session) ioFailure(tx *Transaction, op string, err error) error {
	s.stats.addError()
	tx.Outcome = OutcomeErrored
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		ioErr = &IOError{Op: op, Err: err}
	}
	return ioErr
}

// echoTokens returns the echoed forms of the command the shell may print,
// most specific first.
func (s *Session) echoTokens(tx *Transaction) [][]byte {
	eol := s.cfg.EndOfLine
	tokens := make([][]byte, 0, 2)
	if tx.Wire != tx.Command {
		tokens = append(tokens, []byte(tx.Wire+eol))
	}
	return append(tokens, []byte(tx.Command+eol))
}

// promptSeen reports whether prompt appears in data after the echoed
// command. While data is still a prefix of the echo nothing after it has
// arrived yet, so the prompt cannot have been seen.
func promptSeen(data []byte, prompt string, echoes [][]byte) bool {
	if prompt == "" {
		return false
	}
	region := data
	for _, echo := range echoes {
		if i := bytes.Index(data, echo); i >= 0 {
			region = data[i+len(echo):]
			return bytes.Contains(region, []byte(prompt))
		}
		if bytes.HasPrefix(echo, data) {
			return false
		}
	}
	return bytes.Contains(region, []byte(prompt))
}

// cleanResponse drops everything up to and including the first echo
// occurrence and, when the prompt was seen, everything from its last
// occurrence on, then trims trailing line terminators.
func cleanResponse(raw, prompt string, echoes [][]byte, promptFound bool) string {
	out := raw
	for _, echo := range echoes {
		e := string(echo)
		if i := strings.Index(out, e); i >= 0 {
			out = out[i+len(e):]
			break
		}
	}
	if promptFound && prompt != "" {
		if i := strings.LastIndex(out, prompt); i >= 0 {
			out = out[:i]
		}
	}
	return strings.TrimRight(out, "\r\n")
}
