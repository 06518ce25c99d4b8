package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/logutil"
	"github.com/gluk-w/claworc/shellbridge/internal/middleware"
	"github.com/gluk-w/claworc/shellbridge/internal/sshpool"
	"github.com/gluk-w/claworc/shellbridge/internal/sshshell"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// SessionPool is set by main before the router is served.
var SessionPool *sshpool.Pool

// maxExecTimeout caps the timeout a client may ask for.
const maxExecTimeout = 10 * time.Minute

func requirePool(w http.ResponseWriter) bool {
	if SessionPool == nil {
		writeError(w, http.StatusServiceUnavailable, "Session pool not initialized")
		return false
	}
	return true
}

// writePoolError maps pool and session errors to HTTP statuses.
func writePoolError(w http.ResponseWriter, err error) {
	writeError(w, poolErrorStatus(err), err.Error())
}

func poolErrorStatus(err error) int {
	var (
		connErr    *sshshell.ConnectionError
		timeoutErr *sshshell.TimeoutError
		incomplete *sshshell.IncompleteResponseError
		ioErr      *sshshell.IOError
	)
	switch {
	case errors.Is(err, sshpool.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &timeoutErr),
		errors.As(err, &incomplete):
		return http.StatusGatewayTimeout
	case errors.As(err, &connErr), errors.As(err, &ioErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func ListSessions(w http.ResponseWriter, r *http.Request) {
	if !requirePool(w) {
		return
	}
	writeJSON(w, http.StatusOK, SessionPool.Snapshot())
}

func GetSession(w http.ResponseWriter, r *http.Request) {
	if !requirePool(w) {
		return
	}
	info, err := SessionPool.Info(chi.URLParam(r, "name"))
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func GetSessionStats(w http.ResponseWriter, r *http.Request) {
	if !requirePool(w) {
		return
	}
	info, err := SessionPool.Info(chi.URLParam(r, "name"))
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info.Stats)
}

func ResetSessionStats(w http.ResponseWriter, r *http.Request) {
	if !requirePool(w) {
		return
	}
	if err := SessionPool.ResetStats(chi.URLParam(r, "name")); err != nil {
		writePoolError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func GetSessionTransactions(w http.ResponseWriter, r *http.Request) {
	if !requirePool(w) {
		return
	}
	txs, err := SessionPool.Transactions(chi.URLParam(r, "name"))
	if err != nil {
		writePoolError(w, err)
		return
	}
	if txs == nil {
		txs = []sshshell.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

type execRequest struct {
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

type execResponse struct {
	*sshshell.Transaction
	Error string `json:"error,omitempty"`
}

// ExecCommand runs one command on a pooled session. The transaction is
// returned with the error status when the command ran but failed.
func ExecCommand(w http.ResponseWriter, r *http.Request) {
	if !requirePool(w) {
		return
	}
	name := chi.URLParam(r, "name")

	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	ctx := r.Context()
	if req.TimeoutMs > 0 {
		timeout := min(time.Duration(req.TimeoutMs)*time.Millisecond, maxExecTimeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sourceIP := ""
	if c := middleware.GetCaller(r); c != nil {
		sourceIP = c.SourceIP
	}

	tx, err := SessionPool.Exec(ctx, name, req.Command)

	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("component", "api").
		Str("session", name).
		Str("source_ip", sourceIP).
		Str("command", logutil.SanitizeForLog(req.Command)).
		Msg("exec")

	if err != nil && tx == nil {
		writePoolError(w, err)
		return
	}
	resp := execResponse{Transaction: tx}
	status := http.StatusOK
	switch {
	case err != nil:
		resp.Error = err.Error()
		status = poolErrorStatus(err)
	case tx.Outcome == sshshell.OutcomeTimedOut || tx.Outcome == sshshell.OutcomeIncomplete:
		// The prompt never came back; the output may be partial.
		resp.Error = fmt.Sprintf("prompt not seen within the request timeout (%s)", tx.Outcome)
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, resp)
}

// CloseSession disconnects a session; it reconnects on the next exec.
func CloseSession(w http.ResponseWriter, r *http.Request) {
	if !requirePool(w) {
		return
	}
	if err := SessionPool.Close(chi.URLParam(r, "name")); err != nil {
		writePoolError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
