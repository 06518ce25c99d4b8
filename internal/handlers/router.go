package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/shellbridge/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every route. metrics serves /metrics and may be nil.
func NewRouter(apiToken string, metrics http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", HealthCheck)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(apiToken))

		r.Get("/sessions", ListSessions)
		r.Get("/sessions/{name}", GetSession)
		r.Get("/sessions/{name}/stats", GetSessionStats)
		r.Delete("/sessions/{name}/stats", ResetSessionStats)
		r.Get("/sessions/{name}/transactions", GetSessionTransactions)
		r.Post("/sessions/{name}/exec", ExecCommand)
		r.Delete("/sessions/{name}", CloseSession)

		r.Get("/jobs", ListJobs)
		r.Post("/jobs/{name}/run", RunJob)

		r.Get("/audit", GetAuditLogs)
		r.Get("/audit/events", GetAuditEvents)
		r.Delete("/audit", PurgeAuditLogs)

		r.Get("/logs", GetServerLogs)
		r.Delete("/logs", ClearServerLogs)
	})
	return r
}
