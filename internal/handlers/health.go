package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/sentinel/internal/database"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// HealthChecker is satisfied by *database.DB
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Stats() database.PoolStats
}

type HealthHandler struct {
	db     HealthChecker
	logger *slog.Logger
}

func NewHealthHandler(db HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

type HealthResponse struct {
	Status   string             `json:"status"`
	Database string             `json:"database"`
	Pool     database.PoolStats `json:"pool"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok", Pool: h.db.Stats()}
	status := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Error("health check failed", slog.Any("error", err))
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	pkghttp.WriteJSON(w, status, resp)
}
