package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

const (
	payuTokenPath = "/pl/standard/user/oauth/authorize"
	payuOrderPath = "/api/v2_1/orders"

	// tokens are refreshed this long before PayU expires them
	tokenExpirySkew = 30 * time.Second
)

// PayUConfig holds PayU REST API settings
type PayUConfig struct {
	BaseURL      string
	PosID        string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// PayUClient creates PayU orders using OAuth client credentials
type PayUClient struct {
	config     *PayUConfig
	httpClient *http.Client

	timeout time.Duration
	tokens  singleflight.Group
	mu      sync.RWMutex
	token  string
	expiry time.Time
	now    func() time.Time
}

// NewPayUClient creates a new PayU client
func NewPayUClient(config *PayUConfig) (*PayUClient, error) {
	if config == nil {
		return nil, fmt.Errorf("payu config is required")
	}
	if config.BaseURL == "" || config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("payu base url, client id and client secret are required")
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PayUClient{
		config:  config,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
			// order creation answers 302 with the redirect in the body
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		now: time.Now,
	}, nil
}

// Name returns the gateway name
func (c *PayUClient) Name() string {
	return ProviderPayU
}

type payuTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// accessToken returns a cached token, refreshing it once for all concurrent callers
func (c *PayUClient) accessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expiry := c.token, c.expiry
	c.mu.RUnlock()
	if token != "" && c.now().Before(expiry) {
		return token, nil
	}

	// the shared fetch must outlive any single caller's cancellation
	ch := c.tokens.DoChan("token", func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetchToken(fctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *PayUClient) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+payuTokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build payu token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("payu token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("payu token request returned %d: %s", resp.StatusCode, body)
	}

	var tr payuTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode payu token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("payu token response has no access_token")
	}

	ttl := time.Duration(tr.ExpiresIn)*time.Second - tokenExpirySkew
	c.mu.Lock()
	c.token = tr.AccessToken
	c.expiry = c.now().Add(ttl)
	c.mu.Unlock()

	return tr.AccessToken, nil
}

type payuBuyer struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Language  string `json:"language,omitempty"`
}

type payuProduct struct {
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  string `json:"quantity"`
}

type payuOrderRequest struct {
	NotifyURL     string        `json:"notifyUrl,omitempty"`
	ContinueURL   string        `json:"continueUrl,omitempty"`
	CustomerIP    string        `json:"customerIp"`
	MerchantPosID string        `json:"merchantPosId"`
	ExtOrderID    string        `json:"extOrderId"`
	Description   string        `json:"description"`
	CurrencyCode  string        `json:"currencyCode"`
	TotalAmount   string        `json:"totalAmount"`
	Buyer         payuBuyer     `json:"buyer"`
	Products      []payuProduct `json:"products"`
}

type payuOrderResponse struct {
	Status struct {
		StatusCode string `json:"statusCode"`
	} `json:"status"`
	RedirectURI string `json:"redirectUri"`
	OrderID     string `json:"orderId"`
	ExtOrderID  string `json:"extOrderId"`
}

func toPayUOrder(posID string, req *OrderRequest) *payuOrderRequest {
	products := make([]payuProduct, 0, len(req.Products))
	for _, p := range req.Products {
		products = append(products, payuProduct{
			Name:      p.Name,
			UnitPrice: strconv.FormatInt(p.UnitPrice.MinorUnits(), 10),
			Quantity:  strconv.Itoa(p.Quantity),
		})
	}
	return &payuOrderRequest{
		NotifyURL:     req.NotifyURL,
		ContinueURL:   req.ContinueURL,
		CustomerIP:    req.CustomerIP,
		MerchantPosID: posID,
		ExtOrderID:    req.ExtOrderID,
		Description:   req.Description,
		CurrencyCode:  req.Currency,
		TotalAmount:   strconv.FormatInt(req.TotalAmount.MinorUnits(), 10),
		Buyer: payuBuyer{
			Email:     req.Buyer.Email,
			FirstName: req.Buyer.FirstName,
			LastName:  req.Buyer.LastName,
			Phone:     req.Buyer.Phone,
			Language:  req.Buyer.Language,
		},
		Products: products,
	}
}

// CreateOrder registers the order with PayU and returns the payer redirect
func (c *PayUClient) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway.payu.create_order")
	defer span.End()

	if req == nil {
		return nil, fmt.Errorf("order request is required")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	body, err := json.Marshal(toPayUOrder(c.config.PosID, req))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payu order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+payuOrderPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build payu order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	telemetry.InjectHeaders(ctx, httpReq.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("payu order request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusFound:
	case http.StatusUnauthorized:
		// force a fresh token on the next call
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		fallthrough
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("payu order request returned %d: %s", resp.StatusCode, raw)
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	var or payuOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to decode payu order response: %w", err)
	}
	if or.RedirectURI == "" {
		err := fmt.Errorf("payu order response has no redirectUri (status %s)", or.Status.StatusCode)
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	logger.Get().Info("payu order created",
		zap.String("order_id", or.OrderID),
		zap.String("ext_order_id", req.ExtOrderID),
	)
	telemetry.SetSpanOK(span)
	return &OrderResponse{RedirectURI: or.RedirectURI, OrderID: or.OrderID}, nil
}
