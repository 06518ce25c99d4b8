package handlers

import (
	"errors"
	"net/http"

	"github.com/gluk-w/claworc/shellbridge/internal/collector"
	"github.com/go-chi/chi/v5"
)

// Scheduler is set by main when jobs are configured.
var Scheduler *collector.Scheduler

func ListJobs(w http.ResponseWriter, r *http.Request) {
	if Scheduler == nil {
		writeJSON(w, http.StatusOK, []collector.JobResult{})
		return
	}
	writeJSON(w, http.StatusOK, Scheduler.Results())
}

func RunJob(w http.ResponseWriter, r *http.Request) {
	if Scheduler == nil {
		writeError(w, http.StatusNotFound, "No jobs configured")
		return
	}
	res, err := Scheduler.RunNow(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, collector.ErrUnknownJob) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
