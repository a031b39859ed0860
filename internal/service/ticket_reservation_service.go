package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/metrics"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// TicketReservationService owns ticket state transitions
type TicketReservationService interface {
	// Reserve moves an AVAILABLE ticket to RESERVED, retrying lost races
	Reserve(ctx context.Context, ticketID uuid.UUID) (*domain.Ticket, error)

	// MarkAvailable releases a reserved ticket
	MarkAvailable(ctx context.Context, ticket *domain.Ticket) error

	// MarkSold moves a RESERVED ticket to SOLD
	MarkSold(ctx context.Context, ticket *domain.Ticket) error

	// GetTicket loads a ticket
	GetTicket(ctx context.Context, ticketID uuid.UUID) (*domain.Ticket, error)
}

// ReservationServiceConfig contains configuration for the reservation retry loop
type ReservationServiceConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

type ticketReservationService struct {
	tickets repository.TicketRepository
	retry   *retry.Config
}

// NewTicketReservationService creates a new ticket reservation service
func NewTicketReservationService(tickets repository.TicketRepository, cfg *ReservationServiceConfig) TicketReservationService {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond
	if cfg != nil {
		if cfg.MaxRetries > 0 {
			maxRetries = cfg.MaxRetries
		}
		if cfg.BaseDelay >= 0 {
			baseDelay = cfg.BaseDelay
		}
	}
	return &ticketReservationService{
		tickets: tickets,
		retry: &retry.Config{
			MaxAttempts: maxRetries,
			Backoff:     retry.Linear(baseDelay),
			RetryIf: func(err error) bool {
				return errors.Is(err, domain.ErrVersionConflict)
			},
		},
	}
}

// Reserve re-reads the ticket on every attempt. Only version conflicts are
// retried; once attempts run out the caller gets ErrConcurrencyExhausted.
func (s *ticketReservationService) Reserve(ctx context.Context, ticketID uuid.UUID) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.reserve")
	defer span.End()

	span.SetAttributes(attribute.String("ticket_id", ticketID.String()))

	var reserved *domain.Ticket
	result := retry.New(s.retry).DoWithCallback(ctx, func(ctx context.Context) error {
		ticket, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if !ticket.IsAvailable() {
			return domain.ErrTicketNotAvailable
		}
		if err := s.tickets.UpdateStatus(ctx, ticket, domain.TicketStatusReserved); err != nil {
			return err
		}
		reserved = ticket
		return nil
	}, func(attempt int, err error, next time.Duration) {
		metrics.RecordReservationConflict(ctx)
		logger.Get().Debug("ticket reservation lost a race, retrying",
			zap.String("ticket_id", ticketID.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
		)
	})

	span.SetAttributes(attribute.Int("attempts", result.Attempts))

	switch {
	case result.Err == nil:
		metrics.RecordReservation(ctx, "reserved", result.Attempts)
		telemetry.SetSpanOK(span)
		return reserved, nil
	case errors.Is(result.Err, retry.ErrMaxRetriesExceeded):
		metrics.RecordReservationConflict(ctx)
		metrics.RecordReservation(ctx, "concurrency_exhausted", result.Attempts)
		logger.Get().Warn("ticket reservation exhausted retries",
			zap.String("ticket_id", ticketID.String()),
			zap.Int("attempts", result.Attempts),
		)
		telemetry.SetSpanError(span, domain.ErrConcurrencyExhausted)
		return nil, domain.ErrConcurrencyExhausted
	case errors.Is(result.Err, retry.ErrContextCanceled):
		telemetry.SetSpanError(span, ctx.Err())
		return nil, ctx.Err()
	default:
		if errors.Is(result.Err, domain.ErrTicketNotAvailable) {
			metrics.RecordReservation(ctx, "not_available", result.Attempts)
		}
		telemetry.SetSpanError(span, result.Err)
		return nil, result.Err
	}
}

// MarkAvailable is a single conditional write; a conflict is returned to the caller
func (s *ticketReservationService) MarkAvailable(ctx context.Context, ticket *domain.Ticket) error {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.mark_available")
	defer span.End()

	switch ticket.Status {
	case domain.TicketStatusAvailable:
		return nil
	case domain.TicketStatusSold:
		return domain.ErrTicketSoldCannotCancel
	}

	if err := s.tickets.UpdateStatus(ctx, ticket, domain.TicketStatusAvailable); err != nil {
		telemetry.SetSpanError(span, err)
		return err
	}
	telemetry.SetSpanOK(span)
	return nil
}

// MarkSold never treats a second sale as a no-op
func (s *ticketReservationService) MarkSold(ctx context.Context, ticket *domain.Ticket) error {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.mark_sold")
	defer span.End()

	if ticket.IsSold() {
		return domain.ErrTicketAlreadySold
	}
	if !ticket.Status.CanTransitionTo(domain.TicketStatusSold) {
		return domain.ErrTicketNotAvailable
	}

	if err := s.tickets.UpdateStatus(ctx, ticket, domain.TicketStatusSold); err != nil {
		telemetry.SetSpanError(span, err)
		return err
	}
	telemetry.SetSpanOK(span)
	return nil
}

// GetTicket loads a ticket
func (s *ticketReservationService) GetTicket(ctx context.Context, ticketID uuid.UUID) (*domain.Ticket, error) {
	return s.tickets.GetByID(ctx, ticketID)
}
