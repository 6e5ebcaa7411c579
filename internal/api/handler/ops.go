package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/passrelay/passrelay/internal/api/models"
	"github.com/passrelay/passrelay/internal/api/response"
)

// Pinger reports whether the backing store is reachable.
// Satisfied by pgxpool.Pool; nil when running on the in-memory store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	db        Pinger
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(version, buildTime string, db Pinger) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		db:        db,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   time.Now().UTC(),
		Detail: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check including the
// registration store.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.db.Ping(ctx); err != nil {
			response.JSON(w, r, http.StatusServiceUnavailable, models.Health{
				Status: "UNAVAILABLE",
				Time:   time.Now().UTC(),
				Detail: map[string]interface{}{"database": err.Error()},
			})
			return
		}
	}

	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   time.Now().UTC(),
	})
}
