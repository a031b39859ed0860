package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/service"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/response"
)

const maxWebhookBody = 1 << 20

// PayUProcessor handles authenticated PayU notifications
type PayUProcessor interface {
	HandlePayU(ctx context.Context, body []byte, signatureHeader string) (*service.WebhookResult, error)
}

// WebhookAck is returned for every accepted notification
type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// PayUWebhookHandler handles POST /api/payu/notifications
type PayUWebhookHandler struct {
	processor PayUProcessor
}

// NewPayUWebhookHandler creates a new PayU webhook handler
func NewPayUWebhookHandler(processor PayUProcessor) *PayUWebhookHandler {
	return &PayUWebhookHandler{processor: processor}
}

// HandleNotification verifies and applies a PayU notification. Once the
// signature is valid the response is always 200 so PayU stops redelivering.
func (h *PayUWebhookHandler) HandleNotification(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		logger.Get().Warn("failed to read payu notification body", zap.Error(err))
		response.BadRequest(c, "failed to read request body")
		return
	}

	signature := c.GetHeader("OpenPayu-Signature")
	if signature == "" {
		signature = c.GetHeader("Signature")
	}

	result, err := h.processor.HandlePayU(c.Request.Context(), body, signature)
	if err != nil {
		writeWebhookError(c, err)
		return
	}
	c.JSON(http.StatusOK, WebhookAck{Received: true, Outcome: string(result.Outcome)})
}

func writeWebhookError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		response.Unauthorized(c, domain.ErrSignatureInvalid.Error())
	case errors.Is(err, domain.ErrInvalidNotification):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
