package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

func TestVerifyPayUSignature(t *testing.T) {
	body := []byte(`{"order":{"orderId":"X"}}`)
	key := "second-key"
	digest := ComputePayUSignature(body, key)

	tests := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{name: "bare digest", header: digest},
		{name: "upper case digest", header: strings.ToUpper(digest)},
		{name: "openpayu header form", header: "sender=checkout;signature=" + digest + ";algorithm=MD5;content=DOCUMENT"},
		{name: "wrong digest", header: ComputePayUSignature(body, "other"), wantErr: true},
		{name: "empty header", header: "", wantErr: true},
		{name: "header without signature", header: "sender=checkout;algorithm=MD5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPayUSignature(body, tt.header, key)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.ErrorIs(t, VerifyPayUSignature(body, digest, ""), domain.ErrSignatureInvalid)
}

func TestParsePayUNotification(t *testing.T) {
	bookingID := uuid.New()

	n, err := ParsePayUNotification([]byte(fmt.Sprintf(
		`{"order":{"orderId":"PAYU-1","extOrderId":"%s","status":"COMPLETED","totalAmount":"10000","currencyCode":"PLN"}}`,
		bookingID)))
	require.NoError(t, err)
	assert.Equal(t, "PAYU-1", n.ExternalOrderID)
	assert.Equal(t, bookingID, n.BookingID)
	assert.Equal(t, domain.PaymentStatusCompleted, n.Status)
	assert.Equal(t, int64(10000), n.TotalAmount.MinorUnits())
	assert.Equal(t, ProviderPayU, n.Provider)

	n, err = ParsePayUNotification([]byte(fmt.Sprintf(
		`{"order":{"orderId":"PAYU-2","extOrderId":"%s","status":"REFUNDED"}}`, bookingID)))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusUnknown, n.Status)
	assert.Equal(t, "REFUNDED", n.RawStatus)

	invalid := []string{
		`not json`,
		`{"order":{"orderId":"PAYU-1","status":"COMPLETED"}}`,
		fmt.Sprintf(`{"order":{"extOrderId":"%s","status":"COMPLETED"}}`, bookingID),
		`{"order":{"orderId":"PAYU-1","extOrderId":"not-a-uuid"}}`,
		fmt.Sprintf(`{"order":{"orderId":"PAYU-1","extOrderId":"%s","totalAmount":"100.00"}}`, bookingID),
	}
	for _, body := range invalid {
		_, err := ParsePayUNotification([]byte(body))
		assert.ErrorIs(t, err, domain.ErrInvalidNotification, body)
	}
}

func TestPayUClient_CreateOrder(t *testing.T) {
	var tokenCalls atomic.Int32
	var captured payuOrderRequest

	mux := http.NewServeMux()
	mux.HandleFunc(payuTokenPath, func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":43199}`))
	})
	mux.HandleFunc(payuOrderPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "https://secure.payu.com/pay/?orderId=PAYU-1")
		w.WriteHeader(http.StatusFound)
		_, _ = w.Write([]byte(`{"status":{"statusCode":"SUCCESS"},"redirectUri":"https://secure.payu.com/pay/?orderId=PAYU-1","orderId":"PAYU-1"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewPayUClient(&PayUConfig{BaseURL: srv.URL, PosID: "300746", ClientID: "client", ClientSecret: "secret"})
	require.NoError(t, err)

	req := &OrderRequest{
		CustomerIP:  "127.0.0.1",
		ExtOrderID:  uuid.NewString(),
		Description: "Ticket reservation: Concert",
		Currency:    "PLN",
		TotalAmount: domain.MustParseMoney("100.00"),
		Buyer:       Buyer{Email: "a@b.c", FirstName: "Ann", LastName: "User", Phone: "123456789", Language: "pl"},
		Products:    []Product{{Name: "Ticket to: Concert", UnitPrice: domain.MustParseMoney("100.00"), Quantity: 1}},
		NotifyURL:   "https://api.example.com/api/payu/notifications",
		ContinueURL: "https://app.example.com/payment/success",
	}

	resp, err := client.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "PAYU-1", resp.OrderID)
	assert.Equal(t, "https://secure.payu.com/pay/?orderId=PAYU-1", resp.RedirectURI)

	assert.Equal(t, "10000", captured.TotalAmount)
	assert.Equal(t, "300746", captured.MerchantPosID)
	assert.Equal(t, req.ExtOrderID, captured.ExtOrderID)
	require.Len(t, captured.Products, 1)
	assert.Equal(t, "10000", captured.Products[0].UnitPrice)
	assert.Equal(t, "1", captured.Products[0].Quantity)
	assert.Equal(t, "pl", captured.Buyer.Language)

	_, err = client.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenCalls.Load(), "token is cached")
}

func TestPayUClient_ConcurrentCallersShareOneTokenFetch(t *testing.T) {
	var tokenCalls atomic.Int32
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(payuTokenPath, func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewPayUClient(&PayUConfig{BaseURL: srv.URL, ClientID: "c", ClientSecret: "s"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := client.accessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok", token)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestPayUClient_CancelledCallerDoesNotFailSharedTokenFetch(t *testing.T) {
	var tokenCalls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(payuTokenPath, func(w http.ResponseWriter, r *http.Request) {
		if tokenCalls.Add(1) == 1 {
			close(started)
		}
		<-release
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewPayUClient(&PayUConfig{BaseURL: srv.URL, ClientID: "c", ClientSecret: "s", Timeout: 5 * time.Second})
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.accessToken(firstCtx)
		firstErr <- err
	}()
	<-started

	type result struct {
		token string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		token, err := client.accessToken(context.Background())
		second <- result{token, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "tok", got.token)
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestPayUClient_OrderRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(payuTokenPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	mux.HandleFunc(payuOrderPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":{"statusCode":"ERROR_VALUE_INVALID"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewPayUClient(&PayUConfig{BaseURL: srv.URL, ClientID: "c", ClientSecret: "s"})
	require.NoError(t, err)

	_, err = client.CreateOrder(context.Background(), &OrderRequest{ExtOrderID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestNewPayUClient_RequiresCredentials(t *testing.T) {
	_, err := NewPayUClient(nil)
	assert.Error(t, err)
	_, err = NewPayUClient(&PayUConfig{BaseURL: "http://x"})
	assert.Error(t, err)
}

func signedStripePayload(t *testing.T, secret string, payload []byte) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

func TestParseStripeEvent(t *testing.T) {
	secret := "whsec_test"
	bookingID := uuid.New()

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"client_reference_id": "%s",
			"amount_total": 10000,
			"currency": "pln"
		}}
	}`, bookingID))

	n, err := ParseStripeEvent(payload, signedStripePayload(t, secret, payload), secret)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", n.ExternalOrderID)
	assert.Equal(t, bookingID, n.BookingID)
	assert.Equal(t, domain.PaymentStatusCompleted, n.Status)
	assert.Equal(t, int64(10000), n.TotalAmount.MinorUnits())
	assert.Equal(t, "PLN", n.Currency)

	_, err = ParseStripeEvent(payload, signedStripePayload(t, "whsec_other", payload), secret)
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	other := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.created","data":{"object":{}}}`)
	n, err = ParseStripeEvent(other, signedStripePayload(t, secret, other), secret)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusUnknown, n.Status)
}

func TestMockGateway(t *testing.T) {
	g := NewMockGateway(&MockGatewayConfig{RedirectBase: "http://frontend/pay"})
	assert.Equal(t, ProviderMock, g.Name())

	resp, err := g.CreateOrder(context.Background(), &OrderRequest{ExtOrderID: "b-1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.RedirectURI, "http://frontend/pay?order="+resp.OrderID))

	recorded, ok := g.Order(resp.OrderID)
	require.True(t, ok)
	assert.Equal(t, "b-1", recorded.ExtOrderID)

	g.SetFailing(true)
	_, err = g.CreateOrder(context.Background(), &OrderRequest{ExtOrderID: "b-2"})
	assert.ErrorIs(t, err, ErrMockGatewayUnavailable)
}

var (
	_ PaymentGateway = (*PayUClient)(nil)
	_ PaymentGateway = (*StripeGateway)(nil)
	_ PaymentGateway = (*MockGateway)(nil)
)
