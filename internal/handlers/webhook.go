package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Joaopedrozoe/viainfra-sub001/internal/gateway"
)

// Webhook payloads are small JSON envelopes; media arrives by reference.
const maxWebhookBody = 4 << 20

// EventProcessor runs decoded gateway events through the inbound pipeline.
type EventProcessor interface {
	ProcessBatch(ctx context.Context, events []gateway.MessageEvent) error
}

// WebhookHandler receives gateway deliveries.
type WebhookHandler struct {
	processor EventProcessor
	logger    *slog.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(log *slog.Logger, processor EventProcessor) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    log.With(slog.String("handler", "webhook")),
	}
}

// Register mounts the webhook endpoints. The gateway may post to the bare
// path or append the instance name.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook", h.Receive)
	e.POST("/webhook/:instance", h.Receive)
	e.POST("/webhook/:instance/:event", h.Receive)
}

// Receive decodes a delivery and runs it through the pipeline. Malformed
// payloads get 400 and are never retried; processing failures get 500 so the
// gateway redelivers, which dedup absorbs.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "unreadable body"})
	}

	events, err := gateway.DecodeWebhook(body)
	if err != nil {
		if errors.Is(err, gateway.ErrMalformedPayload) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "malformed payload"})
		}
		h.logger.Error("Webhook decode failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "undecodable payload"})
	}
	if len(events) == 0 {
		// Unhandled event types are acknowledged so the gateway stops resending.
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	if instance := c.Param("instance"); instance != "" {
		for i := range events {
			if events[i].Instance == "" {
				events[i].Instance = instance
			}
		}
	}

	if err := h.processor.ProcessBatch(c.Request().Context(), events); err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "processing failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "received"})
}
