package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// ProviderStripe names the Stripe provider
const ProviderStripe = "stripe"

// StripeGatewayConfig holds configuration for Stripe gateway
type StripeGatewayConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeGateway implements PaymentGateway with Stripe Checkout Sessions
type StripeGateway struct {
	config *StripeGatewayConfig
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	stripe.Key = config.SecretKey

	return &StripeGateway{config: config}, nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return ProviderStripe
}

// CreateOrder opens a Checkout Session whose client reference is the booking id
func (g *StripeGateway) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway.stripe.create_order")
	defer span.End()

	if req == nil {
		return nil, fmt.Errorf("order request is required")
	}

	currency := strings.ToLower(req.Currency)
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Products))
	for _, p := range req.Products {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(p.UnitPrice.MinorUnits()),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(p.Name),
				},
			},
			Quantity: stripe.Int64(int64(p.Quantity)),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.ExtOrderID),
		SuccessURL:        stripe.String(req.ContinueURL),
		LineItems:         lineItems,
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	if req.Buyer.Email != "" {
		params.CustomerEmail = stripe.String(req.Buyer.Email)
	}
	params.Context = ctx
	params.AddMetadata("booking_id", req.ExtOrderID)

	s, err := session.New(params)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	telemetry.SetSpanOK(span)
	return &OrderResponse{RedirectURI: s.URL, OrderID: s.ID}, nil
}

// ParseStripeEvent verifies the Stripe-Signature header and maps checkout
// session events onto a PaymentNotification. Other event types come back
// with status UNKNOWN.
func ParseStripeEvent(payload []byte, sigHeader, secret string) (*domain.PaymentNotification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}

	var status domain.PaymentStatus
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		status = domain.PaymentStatusCompleted
	case stripe.EventTypeCheckoutSessionExpired:
		status = domain.PaymentStatusCanceled
	default:
		return &domain.PaymentNotification{
			ExternalOrderID: event.ID,
			Status:          domain.PaymentStatusUnknown,
			RawStatus:       string(event.Type),
			Provider:        ProviderStripe,
		}, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidNotification, err)
	}
	if s.ID == "" || s.ClientReferenceID == "" {
		return nil, fmt.Errorf("%w: checkout session without id or client reference", domain.ErrInvalidNotification)
	}
	bookingID, err := uuid.Parse(s.ClientReferenceID)
	if err != nil {
		return nil, fmt.Errorf("%w: client_reference_id is not a booking id", domain.ErrInvalidNotification)
	}

	return &domain.PaymentNotification{
		ExternalOrderID: s.ID,
		BookingID:       bookingID,
		Status:          status,
		RawStatus:       string(event.Type),
		TotalAmount:     domain.Money(s.AmountTotal),
		Currency:        strings.ToUpper(string(s.Currency)),
		Provider:        ProviderStripe,
	}, nil
}
