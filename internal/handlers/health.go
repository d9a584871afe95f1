package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const healthPingTimeout = 2 * time.Second

// DBPinger checks database reachability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves GET /health: liveness plus a database ping.
type HealthHandler struct {
	db     DBPinger
	logger *slog.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(log *slog.Logger, db DBPinger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		logger: log.With(slog.String("handler", "health")),
	}
}

// Register mounts GET /health on the Echo instance.
func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
}

// Health returns 200 when the database answers, 503 otherwise.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("Health check db ping failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
