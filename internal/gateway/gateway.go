package gateway

import (
	"context"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

// Buyer identifies the payer to the gateway
type Buyer struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Language  string
}

// Product is one order line
type Product struct {
	Name      string
	UnitPrice domain.Money
	Quantity  int
}

// OrderRequest is a provider-agnostic payment order
type OrderRequest struct {
	CustomerIP  string
	ExtOrderID  string
	Description string
	Currency    string
	TotalAmount domain.Money
	Buyer       Buyer
	Products    []Product
	NotifyURL   string
	ContinueURL string
	CancelURL   string
}

// OrderResponse carries where to send the payer and the gateway's order id
type OrderResponse struct {
	RedirectURI string
	OrderID     string
}

// PaymentGateway creates payment orders
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
	// Name returns the provider name used in logs and metrics
	Name() string
}
