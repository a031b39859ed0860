package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/metrics"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// BookingLifecycleService owns booking state transitions
type BookingLifecycleService interface {
	// Create inserts a CREATED booking for a RESERVED ticket
	Create(ctx context.Context, userID uuid.UUID, ticket *domain.Ticket) (*domain.Booking, error)

	// Cancel moves the booking to CANCELLED; already cancelled bookings are returned unchanged
	Cancel(ctx context.Context, booking *domain.Booking) (*domain.Booking, error)

	// Complete moves the booking to PAID; already paid bookings are returned unchanged
	Complete(ctx context.Context, booking *domain.Booking) (*domain.Booking, error)

	// MarkWaitingForPayment records that a gateway order is being created
	MarkWaitingForPayment(ctx context.Context, booking *domain.Booking) error

	// RevertToCreated undoes MarkWaitingForPayment after a gateway failure
	RevertToCreated(ctx context.Context, booking *domain.Booking) error

	// FindByID loads a booking
	FindByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)

	// ListByUser returns a user's bookings, newest first
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Booking, error)
}

type bookingLifecycleService struct {
	bookings repository.BookingRepository
	now      func() time.Time
}

// NewBookingLifecycleService creates a new booking lifecycle service
func NewBookingLifecycleService(bookings repository.BookingRepository) BookingLifecycleService {
	return &bookingLifecycleService{bookings: bookings, now: time.Now}
}

func (s *bookingLifecycleService) Create(ctx context.Context, userID uuid.UUID, ticket *domain.Ticket) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID.String()),
		attribute.String("ticket_id", ticket.ID.String()),
	)

	if ticket.Status != domain.TicketStatusReserved {
		logger.Get().Warn("booking requested for unreserved ticket",
			zap.String("ticket_id", ticket.ID.String()),
			zap.String("status", string(ticket.Status)),
		)
		return nil, domain.ErrBookingConflict
	}

	exists, err := s.bookings.ExistsActiveForTicket(ctx, ticket.ID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	if exists {
		return nil, domain.ErrBookingConflict
	}

	// the partial unique index still guards the window after the probe
	booking := domain.NewBooking(userID, ticket.ID, s.now())
	if err := s.bookings.Create(ctx, booking); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	metrics.RecordBookingTransition(ctx, "", booking.Status.String())
	span.SetAttributes(attribute.String("booking_id", booking.ID.String()))
	telemetry.SetSpanOK(span)
	return booking, nil
}

func (s *bookingLifecycleService) Cancel(ctx context.Context, booking *domain.Booking) (*domain.Booking, error) {
	if booking.Status == domain.BookingStatusCancelled {
		return booking, nil
	}
	if err := s.transition(ctx, booking, domain.BookingStatusCancelled); err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *bookingLifecycleService) Complete(ctx context.Context, booking *domain.Booking) (*domain.Booking, error) {
	switch booking.Status {
	case domain.BookingStatusPaid:
		return booking, nil
	case domain.BookingStatusCancelled:
		logger.Get().Error("attempted to complete a cancelled booking", zap.String("booking_id", booking.ID.String()))
		return nil, domain.ErrIllegalStateTransition
	}
	if err := s.transition(ctx, booking, domain.BookingStatusPaid); err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *bookingLifecycleService) MarkWaitingForPayment(ctx context.Context, booking *domain.Booking) error {
	if booking.Status == domain.BookingStatusWaitingForPayment {
		return nil
	}
	if booking.Status != domain.BookingStatusCreated {
		return domain.ErrInvalidBookingStatus
	}
	return s.transition(ctx, booking, domain.BookingStatusWaitingForPayment)
}

func (s *bookingLifecycleService) RevertToCreated(ctx context.Context, booking *domain.Booking) error {
	if booking.Status != domain.BookingStatusWaitingForPayment {
		return domain.ErrInvalidBookingStatus
	}
	return s.transition(ctx, booking, domain.BookingStatusCreated)
}

func (s *bookingLifecycleService) transition(ctx context.Context, booking *domain.Booking, next domain.BookingStatus) error {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.transition")
	defer span.End()

	from := booking.Status
	span.SetAttributes(
		attribute.String("booking_id", booking.ID.String()),
		attribute.String("from", from.String()),
		attribute.String("to", next.String()),
	)

	if err := s.bookings.UpdateStatus(ctx, booking, next); err != nil {
		telemetry.SetSpanError(span, err)
		return err
	}

	metrics.RecordBookingTransition(ctx, from.String(), next.String())
	telemetry.SetSpanOK(span)
	return nil
}

func (s *bookingLifecycleService) FindByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return s.bookings.GetByID(ctx, bookingID)
}

func (s *bookingLifecycleService) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Booking, error) {
	return s.bookings.ListByUser(ctx, userID)
}
