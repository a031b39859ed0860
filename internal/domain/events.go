package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingEventType names outbound booking notifications
type BookingEventType string

const (
	BookingEventCreated   BookingEventType = "booking.created"
	BookingEventCancelled BookingEventType = "booking.cancelled"
	BookingEventPurchased BookingEventType = "booking.purchased"
)

// BookingEvent is the payload published to the notification topic
type BookingEvent struct {
	EventID    string           `json:"event_id"`
	EventType  BookingEventType `json:"event_type"`
	OccurredAt time.Time        `json:"occurred_at"`
	BookingID  uuid.UUID        `json:"booking_id"`
	UserID     uuid.UUID        `json:"user_id"`
	TicketID   uuid.UUID        `json:"ticket_id"`
	Status     BookingStatus    `json:"status"`
	Email      string           `json:"email,omitempty"`
	EventName  string           `json:"event_name,omitempty"`
	Amount     string           `json:"amount,omitempty"`
}

// NewBookingEvent builds an event for a booking transition
func NewBookingEvent(eventType BookingEventType, b *Booking) *BookingEvent {
	return &BookingEvent{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		BookingID:  b.ID,
		UserID:     b.UserID,
		TicketID:   b.TicketID,
		Status:     b.Status,
	}
}

// Key returns the partition key
func (e *BookingEvent) Key() string {
	return e.BookingID.String()
}

// MirrorKind names the reservation change reported to the mirror
type MirrorKind string

const (
	MirrorReserved  MirrorKind = "RESERVED"
	MirrorReleased  MirrorKind = "RELEASED"
	MirrorPurchased MirrorKind = "PURCHASED"
)
