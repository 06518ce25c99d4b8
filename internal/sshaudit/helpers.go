package sshaudit

import (
	"net"
	"net/http"
	"strings"
)

// ExtractSourceIP returns the address of the API caller recorded with
// audited commands. The first X-Forwarded-For hop wins, then X-Real-Ip, then
// the connection's remote address without its port. Bracketed IPv6 remote
// addresses come back unbracketed.
func ExtractSourceIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// No port, e.g. a unix socket peer or a bare address.
		return r.RemoteAddr
	}
	return host
}
