package handlers

import (
	"net/http"

	"roadmapper/database"
	"roadmapper/logging"
)

// HealthHandlers serves the process liveness endpoint.
type HealthHandlers struct {
	db     *database.Database
	logger *logging.Logger
}

// NewHealthHandlers creates a new health handlers instance.
func NewHealthHandlers(db *database.Database) *HealthHandlers {
	return &HealthHandlers{
		db:     db,
		logger: logging.Default().WithComponent("health_handler"),
	}
}

// Liveness reports whether the gateway and its database are reachable.
func (h *HealthHandlers) Liveness(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Health()
	if err != nil {
		h.logger.Error("Database health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"database": stats,
	})
}
