package handlers

import (
	"net/http"
	"strconv"

	"github.com/gluk-w/claworc/shellbridge/internal/sshaudit"
)

// GetAuditLogs returns paginated transaction audit records. See
// parseQueryOptions for the filters.
func GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	auditor := sshaudit.GetAuditor()
	if auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit system not initialized")
		return
	}
	opts, ok := parseQueryOptions(w, r)
	if !ok {
		return
	}
	result, err := auditor.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetAuditEvents returns paginated connection state events.
func GetAuditEvents(w http.ResponseWriter, r *http.Request) {
	auditor := sshaudit.GetAuditor()
	if auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit system not initialized")
		return
	}
	opts, ok := parseQueryOptions(w, r)
	if !ok {
		return
	}
	result, err := auditor.QueryEvents(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query connection events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PurgeAuditLogs manually triggers an audit purge.
//
// Query parameters:
//
//	days - number of days to retain (uses configured default if omitted)
func PurgeAuditLogs(w http.ResponseWriter, r *http.Request) {
	auditor := sshaudit.GetAuditor()
	if auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit system not initialized")
		return
	}

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid days parameter")
			return
		}
		days = n
	}

	deleted, err := auditor.PurgeOlderThan(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to purge audit logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":        deleted,
		"retention_days": auditor.RetentionDays(),
	})
}
