package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/gateway"
	"github.com/prohmpiriya/ticket-rush/internal/metrics"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

const (
	payuNotificationPath = "/api/payu/notifications"
	paymentSuccessPath   = "/payment/success"
	paymentCancelPath    = "/payment/cancel"
)

// CoordinatorConfig contains configuration for BookingCoordinator
type CoordinatorConfig struct {
	Currency          string
	NotifyBaseURL     string
	FrontendURL       string
	GatewayTimeout    time.Duration
	SideEffectTimeout time.Duration
}

// PaymentHooks run inside the completion transaction of a gateway-driven
// completion. Verify runs before any write, Record after the booking is PAID.
type PaymentHooks struct {
	Verify func(ctx context.Context, booking *domain.Booking, ticket *domain.Ticket) error
	Record func(ctx context.Context, booking *domain.Booking) error
}

// BookingCoordinator drives the booking state machine across tickets, bookings
// and the payment gateway. Mirror and notification calls happen after commit
// and never fail the operation.
type BookingCoordinator struct {
	tx       repository.TxManager
	tickets  TicketReservationService
	bookings BookingLifecycleService
	users    repository.UserRepository
	gateway  gateway.PaymentGateway
	mirror   ReservationMirror
	notifier NotificationDispatcher
	config   *CoordinatorConfig
}

// NewBookingCoordinator creates a new booking coordinator
func NewBookingCoordinator(
	tx repository.TxManager,
	tickets TicketReservationService,
	bookings BookingLifecycleService,
	users repository.UserRepository,
	paymentGateway gateway.PaymentGateway,
	mirror ReservationMirror,
	notifier NotificationDispatcher,
	cfg *CoordinatorConfig,
) *BookingCoordinator {
	if cfg == nil {
		cfg = &CoordinatorConfig{}
	}
	if cfg.Currency == "" {
		cfg.Currency = "PLN"
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 3 * time.Second
	}
	if mirror == nil {
		mirror = NewNoOpReservationMirror()
	}
	if notifier == nil {
		notifier = NewNoOpNotificationDispatcher()
	}
	return &BookingCoordinator{
		tx:       tx,
		tickets:  tickets,
		bookings: bookings,
		users:    users,
		gateway:  paymentGateway,
		mirror:   mirror,
		notifier: notifier,
		config:   cfg,
	}
}

// CreateBooking reserves the ticket and creates a CREATED booking in one transaction
func (c *BookingCoordinator) CreateBooking(ctx context.Context, userID, ticketID uuid.UUID) (*domain.BookingSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.create_booking")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID.String()),
		attribute.String("ticket_id", ticketID.String()),
	)

	var (
		booking *domain.Booking
		ticket  *domain.Ticket
	)
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := c.users.GetOrCreate(ctx, userID); err != nil {
			return err
		}
		var err error
		if ticket, err = c.tickets.Reserve(ctx, ticketID); err != nil {
			return err
		}
		booking, err = c.bookings.Create(ctx, userID, ticket)
		return err
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	logger.Get().Info("booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("ticket_id", ticketID.String()),
		zap.String("user_id", userID.String()),
	)
	c.afterCommit(ctx, booking, ticket, domain.MirrorReserved, domain.BookingEventCreated)

	summary := booking.Summary()
	telemetry.SetSpanOK(span)
	return &summary, nil
}

// CancelBooking is the user cancellation path
func (c *BookingCoordinator) CancelBooking(ctx context.Context, bookingID, userID uuid.UUID) (*domain.BookingSummary, error) {
	booking, err := c.cancel(ctx, bookingID, &userID)
	if err != nil {
		return nil, err
	}
	summary := booking.Summary()
	return &summary, nil
}

// CancelBookingAsSystem cancels on behalf of the booking owner. Unlike the
// user path it may cancel a booking that is waiting for payment.
func (c *BookingCoordinator) CancelBookingAsSystem(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return c.cancel(ctx, bookingID, nil)
}

func (c *BookingCoordinator) cancel(ctx context.Context, bookingID uuid.UUID, actor *uuid.UUID) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.cancel_booking")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID.String()),
		attribute.Bool("system", actor == nil),
	)

	var (
		booking   *domain.Booking
		ticket    *domain.Ticket
		cancelled bool
	)
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if booking, err = c.bookings.FindByID(ctx, bookingID); err != nil {
			return err
		}
		if ticket, err = c.tickets.GetTicket(ctx, booking.TicketID); err != nil {
			return err
		}

		if ticket.IsSold() {
			return domain.AccessDenied(domain.ErrTicketSoldCannotCancel)
		}
		if actor != nil {
			if booking.Status == domain.BookingStatusWaitingForPayment {
				return domain.AccessDenied(domain.ErrPaymentInProgress)
			}
			if !booking.BelongsTo(*actor) {
				return domain.AccessDenied(domain.ErrNotBookingOwner)
			}
		}
		if booking.Status == domain.BookingStatusCancelled {
			return nil
		}
		if booking.Status == domain.BookingStatusPaid {
			return domain.ErrIllegalStateTransition
		}

		if err := c.tickets.MarkAvailable(ctx, ticket); err != nil {
			return err
		}
		if booking, err = c.bookings.Cancel(ctx, booking); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	if cancelled {
		logger.Get().Info("booking cancelled",
			zap.String("booking_id", booking.ID.String()),
			zap.Bool("system", actor == nil),
		)
		c.afterCommit(ctx, booking, ticket, domain.MirrorReleased, domain.BookingEventCancelled)
	}

	telemetry.SetSpanOK(span)
	return booking, nil
}

// CompleteBooking is the user completion path
func (c *BookingCoordinator) CompleteBooking(ctx context.Context, bookingID, userID uuid.UUID) (*domain.BookingSummary, error) {
	booking, err := c.complete(ctx, bookingID, &userID, PaymentHooks{})
	if err != nil {
		return nil, err
	}
	summary := booking.Summary()
	return &summary, nil
}

// CompletePaidBooking completes a booking on behalf of its owner after the
// gateway confirmed payment. Hooks share the completion transaction.
func (c *BookingCoordinator) CompletePaidBooking(ctx context.Context, bookingID uuid.UUID, hooks PaymentHooks) (*domain.Booking, error) {
	return c.complete(ctx, bookingID, nil, hooks)
}

func (c *BookingCoordinator) complete(ctx context.Context, bookingID uuid.UUID, actor *uuid.UUID, hooks PaymentHooks) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.complete_booking")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID.String()),
		attribute.Bool("system", actor == nil),
	)

	var (
		booking   *domain.Booking
		ticket    *domain.Ticket
		completed bool
	)
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if booking, err = c.bookings.FindByID(ctx, bookingID); err != nil {
			return err
		}
		if actor != nil && !booking.BelongsTo(*actor) {
			return domain.AccessDenied(domain.ErrNotBookingOwner)
		}

		switch booking.Status {
		case domain.BookingStatusPaid:
			if hooks.Verify != nil {
				if ticket, err = c.tickets.GetTicket(ctx, booking.TicketID); err != nil {
					return err
				}
				if err := hooks.Verify(ctx, booking, ticket); err != nil {
					return err
				}
			}
			if hooks.Record != nil {
				return hooks.Record(ctx, booking)
			}
			return nil
		case domain.BookingStatusCancelled:
			return domain.ErrIllegalStateTransition
		}

		if ticket, err = c.tickets.GetTicket(ctx, booking.TicketID); err != nil {
			return err
		}
		if hooks.Verify != nil {
			if err := hooks.Verify(ctx, booking, ticket); err != nil {
				return err
			}
		}

		if err := c.tickets.MarkSold(ctx, ticket); err != nil {
			return err
		}
		if booking, err = c.bookings.Complete(ctx, booking); err != nil {
			return err
		}
		if hooks.Record != nil {
			if err := hooks.Record(ctx, booking); err != nil {
				return err
			}
		}
		completed = true
		return nil
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	if completed {
		logger.Get().Info("booking completed", zap.String("booking_id", booking.ID.String()))
		c.afterCommit(ctx, booking, ticket, domain.MirrorPurchased, domain.BookingEventPurchased)
	}

	telemetry.SetSpanOK(span)
	return booking, nil
}

// InitiatePayment marks the booking WAITING_FOR_PAYMENT and asks the gateway
// for an order. A gateway failure reverts the booking to CREATED only when this
// call moved it out of CREATED; an earlier order may still be live otherwise.
func (c *BookingCoordinator) InitiatePayment(ctx context.Context, bookingID, userID uuid.UUID, clientIP string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.initiate_payment")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID.String()),
		attribute.String("user_id", userID.String()),
		attribute.String("gateway", c.gateway.Name()),
	)

	var (
		booking     *domain.Booking
		ticket      *domain.Ticket
		user        *domain.User
		fromCreated bool
	)
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if booking, err = c.bookings.FindByID(ctx, bookingID); err != nil {
			return err
		}
		if !booking.BelongsTo(userID) {
			return domain.AccessDenied(domain.ErrNotBookingOwner)
		}
		if booking.Status == domain.BookingStatusPaid || booking.Status == domain.BookingStatusCancelled {
			return domain.ErrInvalidBookingStatus
		}
		if ticket, err = c.tickets.GetTicket(ctx, booking.TicketID); err != nil {
			return err
		}
		if user, err = c.users.GetOrCreate(ctx, booking.UserID); err != nil {
			return err
		}
		fromCreated = booking.Status == domain.BookingStatusCreated
		return c.bookings.MarkWaitingForPayment(ctx, booking)
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return "", err
	}

	gctx, cancel := context.WithTimeout(ctx, c.config.GatewayTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.gateway.CreateOrder(gctx, c.buildOrder(booking, ticket, user, clientIP))
	metrics.RecordGatewayCall(ctx, c.gateway.Name(), err == nil, time.Since(start))
	if err != nil {
		logger.Get().ErrorContext(ctx, "payment gateway order failed",
			zap.String("booking_id", bookingID.String()),
			zap.String("gateway", c.gateway.Name()),
			zap.Error(err),
		)
		if fromCreated {
			if revertErr := c.revertPayment(ctx, bookingID, booking.Version); revertErr != nil {
				logger.Get().ErrorContext(ctx, "failed to revert booking after gateway failure",
					zap.String("booking_id", bookingID.String()),
					zap.Error(revertErr),
				)
			}
		}
		telemetry.SetSpanError(span, err)
		return "", fmt.Errorf("%w: %v", domain.ErrPaymentGateway, err)
	}

	logger.Get().Info("payment initiated",
		zap.String("booking_id", bookingID.String()),
		zap.String("order_id", resp.OrderID),
		zap.String("gateway", c.gateway.Name()),
	)
	telemetry.SetSpanOK(span)
	return resp.RedirectURI, nil
}

// revertPayment undoes the WAITING_FOR_PAYMENT transition written at version.
// Any later write (webhook, sweeper) wins.
func (c *BookingCoordinator) revertPayment(ctx context.Context, bookingID uuid.UUID, version int64) error {
	ctx = context.WithoutCancel(ctx)
	return c.tx.RunInTx(ctx, func(ctx context.Context) error {
		booking, err := c.bookings.FindByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status != domain.BookingStatusWaitingForPayment || booking.Version != version {
			return nil
		}
		return c.bookings.RevertToCreated(ctx, booking)
	})
}

func (c *BookingCoordinator) buildOrder(booking *domain.Booking, ticket *domain.Ticket, user *domain.User, clientIP string) *gateway.OrderRequest {
	firstName := user.FirstName
	if firstName == "" {
		firstName = user.Username
	}
	lastName := user.LastName
	if lastName == "" {
		lastName = "User"
	}
	phone := user.Phone
	if phone == "" {
		phone = "123456789"
	}

	notifyURL := c.config.NotifyBaseURL
	if notifyURL != "" && !strings.Contains(notifyURL, "webhook.site") {
		notifyURL = strings.TrimRight(notifyURL, "/") + payuNotificationPath
	}
	frontend := strings.TrimRight(c.config.FrontendURL, "/")

	return &gateway.OrderRequest{
		CustomerIP:  clientIP,
		ExtOrderID:  booking.ID.String(),
		Description: "Ticket reservation: " + ticket.EventName,
		Currency:    c.config.Currency,
		TotalAmount: ticket.Price,
		Buyer: gateway.Buyer{
			Email:     user.Email,
			FirstName: firstName,
			LastName:  lastName,
			Phone:     phone,
			Language:  "pl",
		},
		Products: []gateway.Product{{
			Name:      "Ticket to: " + ticket.EventName,
			UnitPrice: ticket.Price,
			Quantity:  1,
		}},
		NotifyURL:   notifyURL,
		ContinueURL: frontend + paymentSuccessPath,
		CancelURL:   frontend + paymentCancelPath,
	}
}

// GetBookingDetails returns the owner view of a booking
func (c *BookingCoordinator) GetBookingDetails(ctx context.Context, bookingID, userID uuid.UUID) (*domain.BookingDetails, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.get_booking_details")
	defer span.End()

	booking, err := c.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.BelongsTo(userID) {
		return nil, domain.AccessDenied(domain.ErrNotBookingOwner)
	}
	ticket, err := c.tickets.GetTicket(ctx, booking.TicketID)
	if err != nil {
		return nil, err
	}
	user, err := c.users.GetOrCreate(ctx, booking.UserID)
	if err != nil {
		return nil, err
	}

	return &domain.BookingDetails{
		ID:        booking.ID,
		User:      user.Summary(),
		Ticket:    *ticket,
		Status:    booking.Status,
		CreatedAt: booking.CreatedAt,
		Version:   booking.Version,
	}, nil
}

// ListUserBookings returns the user's bookings, newest first
func (c *BookingCoordinator) ListUserBookings(ctx context.Context, userID uuid.UUID) ([]domain.BookingSummary, error) {
	bookings, err := c.bookings.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.BookingSummary, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, b.Summary())
	}
	return out, nil
}

// afterCommit runs best-effort side effects on a context detached from the
// request, each bounded by SideEffectTimeout.
func (c *BookingCoordinator) afterCommit(ctx context.Context, booking *domain.Booking, ticket *domain.Ticket, kind domain.MirrorKind, eventType domain.BookingEventType) {
	base := context.WithoutCancel(ctx)
	log := logger.Get().With(
		zap.String("booking_id", booking.ID.String()),
		zap.String("ticket_id", booking.TicketID.String()),
	)

	mctx, cancel := context.WithTimeout(base, c.config.SideEffectTimeout)
	if err := c.mirror.Notify(mctx, booking.TicketID, booking.ID, kind); err != nil {
		metrics.RecordSideEffectFailure(ctx, "mirror")
		log.Warn("reservation mirror notify failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	cancel()

	event := domain.NewBookingEvent(eventType, booking)
	if ticket != nil {
		event.EventName = ticket.EventName
		event.Amount = ticket.Price.String()
	}
	if user, err := c.users.GetByID(base, booking.UserID); err == nil {
		event.Email = user.Email
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		log.Debug("user lookup for notification failed", zap.Error(err))
	}

	nctx, cancel := context.WithTimeout(base, c.config.SideEffectTimeout)
	defer cancel()
	if err := c.notifier.Publish(nctx, event); err != nil {
		metrics.RecordSideEffectFailure(ctx, "notification")
		log.Warn("booking notification failed", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}
