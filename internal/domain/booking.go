package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusCreated           BookingStatus = "CREATED"
	BookingStatusWaitingForPayment BookingStatus = "WAITING_FOR_PAYMENT"
	BookingStatusPaid              BookingStatus = "PAID"
	BookingStatusCancelled         BookingStatus = "CANCELLED"
)

// IsValid checks if the status is a valid BookingStatus
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusCreated, BookingStatusWaitingForPayment, BookingStatusPaid, BookingStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of BookingStatus
func (s BookingStatus) String() string {
	return string(s)
}

// Booking links one user to one ticket
type Booking struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	TicketID  uuid.UUID     `json:"ticket_id"`
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Version   int64         `json:"version"`
}

// NewBooking creates a CREATED booking for a reserved ticket
func NewBooking(userID, ticketID uuid.UUID, now time.Time) *Booking {
	return &Booking{
		ID:        uuid.New(),
		UserID:    userID,
		TicketID:  ticketID,
		Status:    BookingStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the booking still holds its ticket
func (b *Booking) IsActive() bool {
	return b.Status != BookingStatusCancelled
}

// BelongsTo checks ownership
func (b *Booking) BelongsTo(userID uuid.UUID) bool {
	return b.UserID == userID
}

// IsPaymentOverdue reports a WAITING_FOR_PAYMENT booking created before now-timeout
func (b *Booking) IsPaymentOverdue(now time.Time, timeout time.Duration) bool {
	return b.Status == BookingStatusWaitingForPayment && b.CreatedAt.Before(now.Add(-timeout))
}

// BookingSummary is the API projection of a booking
type BookingSummary struct {
	ID        uuid.UUID     `json:"id"`
	TicketID  uuid.UUID     `json:"ticket_id"`
	UserID    uuid.UUID     `json:"user_id"`
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Summary projects the booking
func (b *Booking) Summary() BookingSummary {
	return BookingSummary{
		ID:        b.ID,
		TicketID:  b.TicketID,
		UserID:    b.UserID,
		Status:    b.Status,
		CreatedAt: b.CreatedAt,
	}
}

// BookingDetails is the owner view of a booking with its ticket and user
type BookingDetails struct {
	ID        uuid.UUID     `json:"id"`
	User      UserSummary   `json:"user"`
	Ticket    Ticket        `json:"ticket"`
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	Version   int64         `json:"version"`
}
