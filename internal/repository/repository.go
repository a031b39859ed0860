package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

// TicketRepository persists tickets. UpdateStatus is a compare-and-swap on
// ticket.Version: it returns domain.ErrVersionConflict when the stored
// version moved, and on success advances ticket.Status and ticket.Version.
type TicketRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	UpdateStatus(ctx context.Context, ticket *domain.Ticket, next domain.TicketStatus) error
}

// BookingRepository persists bookings. Create returns domain.ErrBookingConflict
// when the ticket already has a non-cancelled booking.
type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	ExistsActiveForTicket(ctx context.Context, ticketID uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, booking *domain.Booking, next domain.BookingStatus) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Booking, error)
	// FindWaitingCreatedBefore returns WAITING_FOR_PAYMENT bookings older than cutoff, oldest first
	FindWaitingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error)
	// CountWaiting returns all WAITING_FOR_PAYMENT bookings and those created before cutoff
	CountWaiting(ctx context.Context, cutoff time.Time) (waiting int64, overdue int64, err error)
}

// NotificationLedger records applied payment notifications. Append returns
// domain.ErrNotificationAlreadyProcessed on a duplicate external order id.
type NotificationLedger interface {
	Exists(ctx context.Context, externalOrderID string) (bool, error)
	Append(ctx context.Context, entry *domain.ProcessedPaymentNotification) error
}

// UserRepository persists the local user projection
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// GetOrCreate returns the user, inserting a placeholder row on first sight
	GetOrCreate(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// TxManager runs fn in one transaction. Nested calls join the outer one.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
