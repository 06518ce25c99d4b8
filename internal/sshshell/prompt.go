package sshshell

import (
	"bytes"
	"context"
	"errors"
	"strings"
)

// promptQuietMultiplier stretches RequestEndTimeout into the quiet period
// used while draining the banner; login banners often arrive in bursts.
const promptQuietMultiplier = 2

// errNoPromptToken is returned when the banner holds only whitespace.
var errNoPromptToken = errors.New("banner contains no prompt token")

// learnPrompt drains the banner the shell prints after the channel opens and
// returns its last whitespace-separated token. The first byte must arrive
// within RequestTimeout; draining stops once a quiet period passes with no
// new output.
func (s *Session) learnPrompt(ctx context.Context, in *inputStream) (string, error) {
	if err := s.waitForData(ctx, in, s.cfg.RequestTimeout, true, "wait for banner"); err != nil {
		return "", err
	}

	quiet := s.cfg.RequestEndTimeout * promptQuietMultiplier
	buf := make([]byte, s.cfg.ReadBufferSize)
	var banner bytes.Buffer

	for {
		for in.Available() > 0 {
			n, err := in.Read(buf)
			banner.Write(buf[:n])
			if err != nil {
				return "", &IOError{Op: "read banner", Err: err}
			}
		}
		if err := s.waitForData(ctx, in, quiet, false, "drain banner"); err != nil {
			return "", err
		}
		if in.Available() == 0 {
			break
		}
	}

	prompt := lastToken(banner.String())
	if prompt == "" {
		return "", errNoPromptToken
	}
	s.logger.Debug().
		Int("banner_bytes", banner.Len()).
		Str("prompt", prompt).
		Msg("learned shell prompt")
	return prompt, nil
}

func lastToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
