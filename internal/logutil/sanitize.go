package logutil

import "strings"

// maxLogValueLen caps how much of a command or output is copied into a log
// line.
const maxLogValueLen = 256

// SanitizeForLog makes remote-shell text safe for a single log line: line
// breaks and tabs become spaces, other control characters (including the
// ESC of terminal escape sequences) are dropped, and the result is cut to
// maxLogValueLen bytes with a trailing "...".
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(min(len(s), maxLogValueLen+3))
	for _, r := range s {
		if b.Len() >= maxLogValueLen {
			b.WriteString("...")
			break
		}
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 127:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
