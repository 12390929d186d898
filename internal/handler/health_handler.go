package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger reports the liveness of one backing dependency.
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler reports service health including backing dependencies.
type HealthHandler struct {
	db     Pinger
	redis  Pinger
	logger *zap.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db, redisClient Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		redis:  redisClient,
		logger: logger,
	}
}

// Check handles GET /health. Any failing dependency degrades the status and
// flips the response to 503.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	dependencies := map[string]string{
		"postgres": "up",
		"redis":    "up",
	}
	status := "ok"
	code := http.StatusOK

	if err := h.db.Health(ctx); err != nil {
		h.logger.Warn("postgres health check failed", zap.Error(err))
		dependencies["postgres"] = "down"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := h.redis.Health(ctx); err != nil {
		h.logger.Warn("redis health check failed", zap.Error(err))
		dependencies["redis"] = "down"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]interface{}{
		"status":       status,
		"dependencies": dependencies,
		"timestamp":    time.Now().UTC(),
	})
}
