package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

// ProviderPayU names the PayU provider
const ProviderPayU = "payu"

type payuNotification struct {
	Order struct {
		OrderID      string `json:"orderId"`
		ExtOrderID   string `json:"extOrderId"`
		Status       string `json:"status"`
		TotalAmount  string `json:"totalAmount"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"order"`
}

// ParsePayUNotification decodes a PayU order notification. Any structural
// problem is reported as domain.ErrInvalidNotification.
func ParsePayUNotification(body []byte) (*domain.PaymentNotification, error) {
	var n payuNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidNotification, err)
	}

	order := n.Order
	if strings.TrimSpace(order.ExtOrderID) == "" {
		return nil, fmt.Errorf("%w: missing extOrderId", domain.ErrInvalidNotification)
	}
	if strings.TrimSpace(order.OrderID) == "" {
		return nil, fmt.Errorf("%w: missing orderId", domain.ErrInvalidNotification)
	}

	bookingID, err := uuid.Parse(order.ExtOrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: extOrderId is not a booking id", domain.ErrInvalidNotification)
	}

	var amount domain.Money
	if order.TotalAmount != "" {
		minor, err := strconv.ParseInt(order.TotalAmount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: totalAmount %q", domain.ErrInvalidNotification, order.TotalAmount)
		}
		amount = domain.Money(minor)
	}

	return &domain.PaymentNotification{
		ExternalOrderID: order.OrderID,
		BookingID:       bookingID,
		Status:          domain.ParsePaymentStatus(order.Status),
		RawStatus:       order.Status,
		TotalAmount:     amount,
		Currency:        order.CurrencyCode,
		Provider:        ProviderPayU,
	}, nil
}
