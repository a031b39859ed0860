package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/gateway"
	"github.com/prohmpiriya/ticket-rush/internal/metrics"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// BookingSettler is the part of BookingCoordinator payment notifications drive
type BookingSettler interface {
	CompletePaidBooking(ctx context.Context, bookingID uuid.UUID, hooks PaymentHooks) (*domain.Booking, error)
	CancelBookingAsSystem(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
}

// WebhookResult reports how an authenticated notification was handled
type WebhookResult struct {
	Outcome   domain.NotificationOutcome
	BookingID uuid.UUID
	Err       error
}

// WebhookProcessorConfig contains configuration for PaymentWebhookProcessor
type WebhookProcessorConfig struct {
	PayUSecondKey string
}

// PaymentWebhookProcessor authenticates, deduplicates and applies payment
// notifications. Once a notification is authenticated it is always
// acknowledged; failures are logged and dead-lettered instead.
type PaymentWebhookProcessor struct {
	settler BookingSettler
	ledger  repository.NotificationLedger
	dlq     *retry.DLQHandler
	config  *WebhookProcessorConfig
	now     func() time.Time
}

// NewPaymentWebhookProcessor creates a new webhook processor
func NewPaymentWebhookProcessor(settler BookingSettler, ledger repository.NotificationLedger, dlq *retry.DLQHandler, cfg *WebhookProcessorConfig) *PaymentWebhookProcessor {
	if cfg == nil {
		cfg = &WebhookProcessorConfig{}
	}
	if dlq == nil {
		dlq = retry.NewDLQHandler(retry.NewNoOpDLQPublisher(), &retry.DLQHandlerConfig{
			RetryConfig: NotificationRetryConfig(3, 50*time.Millisecond),
			ErrorCode:   NotificationErrorCode,
		})
	}
	return &PaymentWebhookProcessor{
		settler: settler,
		ledger:  ledger,
		dlq:     dlq,
		config:  cfg,
		now:     time.Now,
	}
}

// NotificationRetryConfig retries only version conflicts
func NotificationRetryConfig(attempts int, base time.Duration) *retry.Config {
	return &retry.Config{
		MaxAttempts: attempts,
		Backoff:     retry.Linear(base),
		RetryIf: func(err error) bool {
			return errors.Is(err, domain.ErrVersionConflict)
		},
	}
}

// NotificationErrorCode classifies a failed notification for the dead letter
func NotificationErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrPaymentAmountMismatch):
		return "AMOUNT_MISMATCH"
	case errors.Is(err, domain.ErrVersionConflict):
		return "VERSION_CONFLICT"
	case domain.IsNotFoundError(err):
		return "NOT_FOUND"
	case errors.Is(err, domain.ErrIllegalStateTransition):
		return "ILLEGAL_STATE"
	case domain.IsAccessDeniedError(err):
		return "ACCESS_DENIED"
	case errors.Is(err, domain.ErrTicketAlreadySold):
		return "TICKET_ALREADY_SOLD"
	}
	return "INTERNAL"
}

// HandlePayU verifies the signature over the raw body and applies the
// notification. Only ErrSignatureInvalid and ErrInvalidNotification are
// returned; everything after that is folded into the result.
func (p *PaymentWebhookProcessor) HandlePayU(ctx context.Context, body []byte, signatureHeader string) (*WebhookResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "webhook.payu.handle")
	defer span.End()

	if err := gateway.VerifyPayUSignature(body, signatureHeader, p.config.PayUSecondKey); err != nil {
		metrics.RecordWebhook(ctx, gateway.ProviderPayU, "signature_invalid")
		logger.Get().Warn("payu notification rejected: invalid signature")
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	n, err := gateway.ParsePayUNotification(body)
	if err != nil {
		metrics.RecordWebhook(ctx, gateway.ProviderPayU, "invalid")
		logger.Get().Warn("payu notification rejected: invalid body", zap.Error(err))
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	result := p.Apply(ctx, n, body)
	telemetry.SetSpanOK(span)
	return result, nil
}

// Apply deduplicates and dispatches an authenticated notification by status
func (p *PaymentWebhookProcessor) Apply(ctx context.Context, n *domain.PaymentNotification, raw []byte) *WebhookResult {
	ctx, span := telemetry.StartSpan(ctx, "webhook.apply")
	defer span.End()

	span.SetAttributes(
		attribute.String("external_order_id", n.ExternalOrderID),
		attribute.String("booking_id", n.BookingID.String()),
		attribute.String("status", string(n.Status)),
		attribute.String("provider", n.Provider),
	)

	log := logger.Get().With(
		zap.String("external_order_id", n.ExternalOrderID),
		zap.String("booking_id", n.BookingID.String()),
		zap.String("status", n.RawStatus),
		zap.String("provider", n.Provider),
	)

	result := &WebhookResult{BookingID: n.BookingID}
	defer func() {
		metrics.RecordWebhook(ctx, n.Provider, string(result.Outcome))
		span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	}()

	// fast path only; the ledger's unique key is the real guard
	if exists, err := p.ledger.Exists(ctx, n.ExternalOrderID); err != nil {
		log.Warn("ledger lookup failed, continuing", zap.Error(err))
	} else if exists {
		log.Info("duplicate payment notification ignored")
		result.Outcome = domain.OutcomeDuplicate
		return result
	}

	switch n.Status {
	case domain.PaymentStatusCompleted:
		duplicate := false
		err := p.process(ctx, n, raw, func(ctx context.Context) error {
			_, err := p.settler.CompletePaidBooking(ctx, n.BookingID, PaymentHooks{
				Verify: func(ctx context.Context, booking *domain.Booking, ticket *domain.Ticket) error {
					return verifyAmount(ticket, n)
				},
				Record: func(ctx context.Context, booking *domain.Booking) error {
					return p.ledger.Append(ctx, &domain.ProcessedPaymentNotification{
						ID:              uuid.New(),
						ExternalOrderID: n.ExternalOrderID,
						BookingID:       booking.ID,
						Status:          n.Status,
						Amount:          n.TotalAmount,
						ProcessedAt:     p.now(),
					})
				},
			})
			if errors.Is(err, domain.ErrNotificationAlreadyProcessed) {
				duplicate = true
				return nil
			}
			return err
		})
		switch {
		case err != nil:
			result.Outcome, result.Err = domain.OutcomeFailed, err
			p.logFailure(log, err)
		case duplicate:
			result.Outcome = domain.OutcomeDuplicate
			log.Info("concurrent duplicate payment notification ignored")
		default:
			result.Outcome = domain.OutcomeCompleted
			log.Info("payment notification completed booking")
		}

	case domain.PaymentStatusCanceled:
		err := p.process(ctx, n, raw, func(ctx context.Context) error {
			_, err := p.settler.CancelBookingAsSystem(ctx, n.BookingID)
			return err
		})
		if err != nil {
			result.Outcome, result.Err = domain.OutcomeFailed, err
			p.logFailure(log, err)
		} else {
			result.Outcome = domain.OutcomeCancelled
			log.Info("payment notification cancelled booking")
		}

	case domain.PaymentStatusPending, domain.PaymentStatusWaitingForConfirmation:
		result.Outcome = domain.OutcomeAcknowledged
		log.Debug("payment notification acknowledged")

	default:
		result.Outcome = domain.OutcomeUnknown
		log.Warn("unrecognized payment status acknowledged")
	}

	return result
}

func (p *PaymentWebhookProcessor) process(ctx context.Context, n *domain.PaymentNotification, raw []byte, op retry.Operation) error {
	return p.dlq.ProcessWithDLQ(ctx, &retry.MessageContext{
		ID:      n.ExternalOrderID,
		Origin:  n.Provider,
		Key:     n.BookingID.String(),
		Payload: raw,
		Headers: map[string]string{"status": string(n.Status)},
		Metadata: map[string]interface{}{
			"booking_id":   n.BookingID.String(),
			"total_amount": n.TotalAmount.MinorUnits(),
		},
	}, op)
}

func (p *PaymentWebhookProcessor) logFailure(log *logger.Logger, err error) {
	if errors.Is(err, domain.ErrPaymentAmountMismatch) {
		log.Error("payment amount mismatch, booking left unpaid", zap.Error(err))
		return
	}
	log.Error("payment notification could not be applied", zap.Error(err))
}

func verifyAmount(ticket *domain.Ticket, n *domain.PaymentNotification) error {
	if ticket.Price.MinorUnits() != n.TotalAmount.MinorUnits() {
		logger.Get().Warn("payment amount mismatch",
			zap.String("ticket_id", ticket.ID.String()),
			zap.Int64("expected", ticket.Price.MinorUnits()),
			zap.Int64("received", n.TotalAmount.MinorUnits()),
		)
		return domain.ErrPaymentAmountMismatch
	}
	return nil
}
