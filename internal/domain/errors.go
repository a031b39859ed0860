package domain

import "errors"

// Domain errors
var (
	// Not found errors
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrEventNotFound   = errors.New("event not found")

	// Reservation errors
	ErrTicketNotAvailable   = errors.New("ticket is not available")
	ErrConcurrencyExhausted = errors.New("ticket is contended, try again later")
	ErrTicketAlreadySold    = errors.New("ticket already sold")
	ErrVersionConflict      = errors.New("version conflict")

	// Booking errors
	ErrBookingConflict        = errors.New("ticket already has an active booking")
	ErrAccessDenied           = errors.New("access denied")
	ErrIllegalStateTransition = errors.New("illegal booking state transition")
	ErrInvalidBookingStatus   = errors.New("invalid booking status for this operation")
	ErrTicketSoldCannotCancel = errors.New("cannot cancel a booking whose ticket is sold")
	ErrPaymentInProgress      = errors.New("cannot cancel a booking while payment is in progress")
	ErrNotBookingOwner        = errors.New("booking does not belong to this user")

	// Payment errors
	ErrPaymentAmountMismatch        = errors.New("payment amount does not match ticket price")
	ErrSignatureInvalid             = errors.New("invalid notification signature")
	ErrInvalidNotification          = errors.New("invalid payment notification")
	ErrPaymentGateway               = errors.New("payment gateway error")
	ErrNotificationAlreadyProcessed = errors.New("payment notification already processed")

	// Validation errors
	ErrInvalidUserID   = errors.New("invalid user id")
	ErrInvalidTicketID = errors.New("invalid ticket id")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// accessDenied wraps the specific reason so callers can match on either
type accessDenied struct{ reason error }

func (e *accessDenied) Error() string        { return e.reason.Error() }
func (e *accessDenied) Is(target error) bool { return target == ErrAccessDenied }
func (e *accessDenied) Unwrap() error        { return e.reason }

// AccessDenied returns an error matching both ErrAccessDenied and reason
func AccessDenied(reason error) error {
	return &accessDenied{reason: reason}
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrEventNotFound)
}

// IsConflictError checks if the error is a "try again" conflict
func IsConflictError(err error) bool {
	return errors.Is(err, ErrTicketNotAvailable) ||
		errors.Is(err, ErrConcurrencyExhausted) ||
		errors.Is(err, ErrBookingConflict) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrTicketAlreadySold)
}

// IsAccessDeniedError checks if the error is an authorization failure
func IsAccessDeniedError(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsFatalError reports invariant violations that must never be retried
func IsFatalError(err error) bool {
	return errors.Is(err, ErrIllegalStateTransition) ||
		errors.Is(err, ErrPaymentAmountMismatch) ||
		errors.Is(err, ErrSignatureInvalid)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidTicketID) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidNotification)
}
