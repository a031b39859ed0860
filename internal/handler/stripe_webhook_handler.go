package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/gateway"
	"github.com/prohmpiriya/ticket-rush/internal/service"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/response"
)

// NotificationApplier applies an authenticated payment notification
type NotificationApplier interface {
	Apply(ctx context.Context, n *domain.PaymentNotification, raw []byte) *service.WebhookResult
}

// StripeWebhookHandler handles POST /api/stripe/webhook
type StripeWebhookHandler struct {
	applier       NotificationApplier
	webhookSecret string
}

// NewStripeWebhookHandler creates a new Stripe webhook handler
func NewStripeWebhookHandler(applier NotificationApplier, webhookSecret string) *StripeWebhookHandler {
	return &StripeWebhookHandler{applier: applier, webhookSecret: webhookSecret}
}

// HandleWebhook verifies the Stripe-Signature header and applies checkout
// session events
func (h *StripeWebhookHandler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		logger.Get().Warn("failed to read stripe webhook body", zap.Error(err))
		response.BadRequest(c, "failed to read request body")
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		response.Unauthorized(c, "missing Stripe-Signature header")
		return
	}

	n, err := gateway.ParseStripeEvent(payload, sigHeader, h.webhookSecret)
	if err != nil {
		logger.Get().Warn("stripe webhook rejected", zap.Error(err))
		writeWebhookError(c, err)
		return
	}

	result := h.applier.Apply(c.Request.Context(), n, payload)
	c.JSON(http.StatusOK, WebhookAck{Received: true, Outcome: string(result.Outcome)})
}
