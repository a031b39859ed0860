package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/middleware"
	"github.com/prohmpiriya/ticket-rush/pkg/response"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// BookingService is the booking workflow surface used by BookingHandler
type BookingService interface {
	CreateBooking(ctx context.Context, userID, ticketID uuid.UUID) (*domain.BookingSummary, error)
	CancelBooking(ctx context.Context, bookingID, userID uuid.UUID) (*domain.BookingSummary, error)
	CompleteBooking(ctx context.Context, bookingID, userID uuid.UUID) (*domain.BookingSummary, error)
	InitiatePayment(ctx context.Context, bookingID, userID uuid.UUID, clientIP string) (string, error)
	GetBookingDetails(ctx context.Context, bookingID, userID uuid.UUID) (*domain.BookingDetails, error)
	ListUserBookings(ctx context.Context, userID uuid.UUID) ([]domain.BookingSummary, error)
}

// CreateBookingRequest is the body of POST /bookings
type CreateBookingRequest struct {
	TicketID string `json:"ticket_id" binding:"required"`
}

// PaymentResponse carries the gateway redirect
type PaymentResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	bookings BookingService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookings BookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// CreateBooking handles POST /bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := h.userID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		response.BadRequest(c, err.Error())
		return
	}
	ticketID, err := uuid.Parse(req.TicketID)
	if err != nil {
		span.SetStatus(codes.Error, "invalid ticket id")
		response.BadRequest(c, domain.ErrInvalidTicketID.Error())
		return
	}
	span.SetAttributes(attribute.String("ticket_id", ticketID.String()))

	summary, err := h.bookings.CreateBooking(ctx, userID, ticketID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Created(c, summary)
}

// ListBookings handles GET /bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	bookings, err := h.bookings.ListUserBookings(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.SuccessWithMeta(c, bookings, response.Meta{Total: len(bookings)})
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userID, bookingID, ok := h.bookingParams(c)
	if !ok {
		return
	}

	details, err := h.bookings.GetBookingDetails(c.Request.Context(), bookingID, userID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, details)
}

// CancelBooking handles POST /bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, bookingID, ok := h.bookingParams(c)
	if !ok {
		span.SetStatus(codes.Error, "invalid request")
		return
	}
	span.SetAttributes(attribute.String("booking_id", bookingID.String()))

	summary, err := h.bookings.CancelBooking(ctx, bookingID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, summary)
}

// CompleteBooking handles POST /bookings/:id/complete
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.complete")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, bookingID, ok := h.bookingParams(c)
	if !ok {
		span.SetStatus(codes.Error, "invalid request")
		return
	}
	span.SetAttributes(attribute.String("booking_id", bookingID.String()))

	summary, err := h.bookings.CompleteBooking(ctx, bookingID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, summary)
}

// InitiatePayment handles POST /bookings/:id/payment
func (h *BookingHandler) InitiatePayment(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.payment")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, bookingID, ok := h.bookingParams(c)
	if !ok {
		span.SetStatus(codes.Error, "invalid request")
		return
	}
	span.SetAttributes(attribute.String("booking_id", bookingID.String()))

	redirect, err := h.bookings.InitiatePayment(ctx, bookingID, userID, c.ClientIP())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, PaymentResponse{RedirectURL: redirect})
}

func (h *BookingHandler) userID(c *gin.Context) (uuid.UUID, bool) {
	raw, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Unauthorized(c, domain.ErrInvalidUserID.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (h *BookingHandler) bookingParams(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := h.userID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, bookingID, true
}

// handleError maps domain errors to HTTP responses
func (h *BookingHandler) handleError(c *gin.Context, err error) {
	switch {
	case domain.IsNotFoundError(err):
		response.NotFound(c, err.Error())

	case errors.Is(err, domain.ErrTicketSoldCannotCancel):
		response.Error(c, http.StatusForbidden, "TICKET_SOLD", err.Error())
	case errors.Is(err, domain.ErrPaymentInProgress):
		response.Error(c, http.StatusForbidden, "PAYMENT_IN_PROGRESS", err.Error())
	case errors.Is(err, domain.ErrNotBookingOwner):
		response.Error(c, http.StatusForbidden, "NOT_BOOKING_OWNER", err.Error())
	case domain.IsAccessDeniedError(err):
		response.Forbidden(c, err.Error())

	case errors.Is(err, domain.ErrTicketNotAvailable):
		response.Conflict(c, "TICKET_NOT_AVAILABLE", err.Error())
	case errors.Is(err, domain.ErrConcurrencyExhausted):
		response.Conflict(c, "CONCURRENCY_EXHAUSTED", err.Error())
	case errors.Is(err, domain.ErrBookingConflict):
		response.Conflict(c, "BOOKING_CONFLICT", err.Error())
	case errors.Is(err, domain.ErrVersionConflict):
		response.Conflict(c, "VERSION_CONFLICT", "booking was modified concurrently, try again")
	case errors.Is(err, domain.ErrTicketAlreadySold):
		response.Conflict(c, "TICKET_ALREADY_SOLD", err.Error())

	case errors.Is(err, domain.ErrIllegalStateTransition):
		response.UnprocessableEntity(c, "ILLEGAL_STATE_TRANSITION", err.Error())
	case errors.Is(err, domain.ErrInvalidBookingStatus):
		response.UnprocessableEntity(c, "INVALID_BOOKING_STATUS", err.Error())

	case errors.Is(err, domain.ErrPaymentGateway):
		response.BadGateway(c, domain.ErrPaymentGateway.Error())

	default:
		logger.Get().ErrorContext(c.Request.Context(), "booking request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.InternalError(c, err)
	}
}
