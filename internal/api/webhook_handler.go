package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aromazen-backend-go/internal/billing"
	"aromazen-backend-go/internal/core"
)

// WebhookHandler receives Stripe webhook deliveries.
type WebhookHandler struct {
	webhooks core.WebhookService
	logger   *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhooks core.WebhookService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, logger: logger}
}

// HandleStripeWebhook handles POST /api/webhooks/stripe.
// The body must reach signature verification untouched, so it is read raw
// and never bound. A non-2xx here makes Stripe redeliver the event.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read request body"})
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing Stripe-Signature header"})
		return
	}

	if err := h.webhooks.ProcessEvent(c.Request.Context(), payload, sigHeader); err != nil {
		if errors.Is(err, billing.ErrWebhookSignature) {
			h.logger.Warn("webhook signature verification failed", zap.Error(err))
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Webhook signature verification failed"})
			return
		}
		h.logger.Error("webhook processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Webhook processing error"})
		return
	}

	c.JSON(http.StatusOK, WebhookAck{Received: true})
}
