package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the closed set of gateway order statuses
type PaymentStatus string

const (
	PaymentStatusCompleted              PaymentStatus = "COMPLETED"
	PaymentStatusCanceled               PaymentStatus = "CANCELED"
	PaymentStatusPending                PaymentStatus = "PENDING"
	PaymentStatusWaitingForConfirmation PaymentStatus = "WAITING_FOR_CONFIRMATION"
	PaymentStatusUnknown                PaymentStatus = "UNKNOWN"
)

// ParsePaymentStatus maps a gateway status string; unrecognized values become UNKNOWN
func ParsePaymentStatus(s string) PaymentStatus {
	switch PaymentStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case PaymentStatusCompleted:
		return PaymentStatusCompleted
	case PaymentStatusCanceled:
		return PaymentStatusCanceled
	case PaymentStatusPending:
		return PaymentStatusPending
	case PaymentStatusWaitingForConfirmation:
		return PaymentStatusWaitingForConfirmation
	}
	return PaymentStatusUnknown
}

// PaymentNotification is a gateway-agnostic inbound payment event
type PaymentNotification struct {
	ExternalOrderID string
	BookingID       uuid.UUID
	Status          PaymentStatus
	// RawStatus keeps the sender's value for logging unknown statuses
	RawStatus   string
	TotalAmount Money
	Currency    string
	Provider    string
}

// ProcessedPaymentNotification is one idempotency ledger row
type ProcessedPaymentNotification struct {
	ID              uuid.UUID     `json:"id"`
	ExternalOrderID string        `json:"external_order_id"`
	BookingID       uuid.UUID     `json:"booking_id"`
	Status          PaymentStatus `json:"status"`
	Amount          Money         `json:"amount"`
	ProcessedAt     time.Time     `json:"processed_at"`
}

// NotificationOutcome classifies how a notification was handled
type NotificationOutcome string

const (
	OutcomeCompleted    NotificationOutcome = "completed"
	OutcomeCancelled    NotificationOutcome = "cancelled"
	OutcomeAcknowledged NotificationOutcome = "acknowledged"
	OutcomeDuplicate    NotificationOutcome = "duplicate"
	OutcomeUnknown      NotificationOutcome = "unknown_status"
	OutcomeFailed       NotificationOutcome = "failed"
)
