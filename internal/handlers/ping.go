package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// PingHandler answers liveness probes for the webhook surface. Unlike
// HealthHandler it never touches the database, so the gateway's delivery
// checks stay cheap.
type PingHandler struct {
	logger *slog.Logger
}

// NewPingHandler creates a ping handler.
func NewPingHandler(log *slog.Logger) *PingHandler {
	return &PingHandler{logger: log.With(slog.String("handler", "ping"))}
}

// Register mounts GET /ping and HEAD /health on the Echo instance.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.Alive)
}

// Ping returns 200 JSON {"status":"ok"}.
func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Alive returns an empty 200 for load-balancer HEAD probes.
func (h *PingHandler) Alive(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
