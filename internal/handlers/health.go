package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/shellbridge/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	total, connected := 0, 0
	if SessionPool != nil {
		for _, info := range SessionPool.Snapshot() {
			total++
			if info.State == "connected" {
				connected++
			}
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             status,
		"database":           dbStatus,
		"sessions":           total,
		"sessions_connected": connected,
	})
}
