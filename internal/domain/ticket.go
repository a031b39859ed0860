package domain

import "github.com/google/uuid"

// TicketStatus represents the sale state of a ticket
type TicketStatus string

const (
	TicketStatusAvailable TicketStatus = "AVAILABLE"
	TicketStatusReserved  TicketStatus = "RESERVED"
	TicketStatusSold      TicketStatus = "SOLD"
)

// IsValid checks if the status is a valid TicketStatus
func (s TicketStatus) IsValid() bool {
	switch s {
	case TicketStatusAvailable, TicketStatusReserved, TicketStatusSold:
		return true
	}
	return false
}

// CanTransitionTo enforces AVAILABLE->RESERVED, RESERVED->SOLD and RESERVED->AVAILABLE
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	switch s {
	case TicketStatusAvailable:
		return next == TicketStatusReserved
	case TicketStatusReserved:
		return next == TicketStatusSold || next == TicketStatusAvailable
	}
	return false
}

// Ticket is a single sellable seat for an event
type Ticket struct {
	ID        uuid.UUID    `json:"id"`
	EventID   uuid.UUID    `json:"event_id"`
	EventName string       `json:"event_name,omitempty"`
	Price     Money        `json:"price"`
	Status    TicketStatus `json:"status"`
	Version   int64        `json:"version"`
}

// IsAvailable checks if the ticket can be reserved
func (t *Ticket) IsAvailable() bool {
	return t.Status == TicketStatusAvailable
}

// IsSold checks if the ticket is sold
func (t *Ticket) IsSold() bool {
	return t.Status == TicketStatusSold
}
