package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProviderMock names the mock provider
const ProviderMock = "mock"

// ErrMockGatewayUnavailable is returned while the mock is set to fail
var ErrMockGatewayUnavailable = errors.New("mock gateway unavailable")

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// RedirectBase is prefixed to the generated redirect URI
	RedirectBase string
	// Delay simulates gateway latency
	Delay time.Duration
}

// MockGateway implements PaymentGateway for local runs and load testing
type MockGateway struct {
	config *MockGatewayConfig

	mu     sync.Mutex
	fail   bool
	orders map[string]*OrderRequest
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = &MockGatewayConfig{}
	}
	if config.RedirectBase == "" {
		config.RedirectBase = "http://localhost:3000/payment/mock"
	}
	return &MockGateway{config: config, orders: make(map[string]*OrderRequest)}
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return ProviderMock
}

// SetFailing makes subsequent CreateOrder calls fail
func (g *MockGateway) SetFailing(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = fail
}

// CreateOrder records the order and returns a synthetic redirect
func (g *MockGateway) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("order request is required")
	}

	if g.config.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.config.Delay):
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return nil, ErrMockGatewayUnavailable
	}

	orderID := "MOCK-" + uuid.NewString()
	g.orders[orderID] = req
	return &OrderResponse{
		RedirectURI: fmt.Sprintf("%s?order=%s&booking=%s", g.config.RedirectBase, orderID, req.ExtOrderID),
		OrderID:     orderID,
	}, nil
}

// Order returns a recorded order request
func (g *MockGateway) Order(orderID string) (*OrderRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.orders[orderID]
	return req, ok
}
