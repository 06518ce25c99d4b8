package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gluk-w/claworc/shellbridge/internal/sshaudit"
)

type contextKey string

const callerContextKey contextKey = "caller"

// Caller identifies who made an API request.
type Caller struct {
	SourceIP      string
	Authenticated bool
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireToken rejects requests without "Authorization: Bearer <token>".
// An empty token disables the check; the caller is still recorded.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := &Caller{SourceIP: sshaudit.ExtractSourceIP(r)}

			if token != "" {
				got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
					return
				}
				caller.Authenticated = true
			}

			ctx := context.WithValue(r.Context(), callerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCaller returns the caller recorded by RequireToken, or nil.
func GetCaller(r *http.Request) *Caller {
	c, _ := r.Context().Value(callerContextKey).(*Caller)
	return c
}

// WithCallerForTest attaches a Caller to the request context for testing.
func WithCallerForTest(r *http.Request, c *Caller) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), callerContextKey, c))
}
