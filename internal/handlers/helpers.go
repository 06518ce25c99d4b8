package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/sshaudit"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// parseQueryOptions reads the audit filters shared by the audit endpoints:
//
//	session_id - filter by session ID
//	label      - filter by session label
//	outcome    - filter by transaction outcome
//	since      - RFC3339 timestamp, only entries after this time
//	until      - RFC3339 timestamp, only entries before this time
//	limit      - max entries to return (default 50, max 1000)
//	offset     - pagination offset
//
// On a bad value it writes a 400 and returns false.
func parseQueryOptions(w http.ResponseWriter, r *http.Request) (sshaudit.QueryOptions, bool) {
	q := r.URL.Query()
	opts := sshaudit.QueryOptions{
		SessionID: q.Get("session_id"),
		Label:     q.Get("label"),
		Outcome:   q.Get("outcome"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since timestamp (use RFC3339)")
			return opts, false
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until timestamp (use RFC3339)")
			return opts, false
		}
		opts.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return opts, false
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return opts, false
		}
		opts.Offset = n
	}
	return opts, true
}
