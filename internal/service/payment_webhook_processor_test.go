package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/gateway"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
)

const testSecondKey = "second-key"

type webhookFixture struct {
	*fixture
	dlq       *recordingDLQ
	processor *PaymentWebhookProcessor
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	return newWebhookFixtureWithLedger(t, nil)
}

func newWebhookFixtureWithLedger(t *testing.T, wrap func(repository.NotificationLedger) repository.NotificationLedger) *webhookFixture {
	t.Helper()
	f := newFixture(t)
	dlq := &recordingDLQ{}
	ledger := f.store.Ledger()
	if wrap != nil {
		ledger = wrap(ledger)
	}
	handler := retry.NewDLQHandler(dlq, &retry.DLQHandlerConfig{
		RetryConfig: NotificationRetryConfig(3, 0),
		Source:      "test",
		ErrorCode:   NotificationErrorCode,
	})
	return &webhookFixture{
		fixture:   f,
		dlq:       dlq,
		processor: NewPaymentWebhookProcessor(f.coordinator, ledger, handler, &WebhookProcessorConfig{PayUSecondKey: testSecondKey}),
	}
}

// waitingBooking creates a booking and moves it to WAITING_FOR_PAYMENT
func (w *webhookFixture) waitingBooking(t *testing.T) uuid.UUID {
	t.Helper()
	id := w.createBooking(t)
	_, err := w.coordinator.InitiatePayment(context.Background(), id, w.user.ID, "10.0.0.1")
	require.NoError(t, err)
	return id
}

func payuBody(orderID string, bookingID uuid.UUID, status string, amount int64) []byte {
	return []byte(fmt.Sprintf(
		`{"order":{"orderId":%q,"extOrderId":%q,"status":%q,"totalAmount":"%d","currencyCode":"PLN"}}`,
		orderID, bookingID.String(), status, amount,
	))
}

func signedHeader(body []byte) string {
	return "sender=checkout;signature=" + gateway.ComputePayUSignature(body, testSecondKey) + ";algorithm=MD5"
}

func TestHandlePayU_CompletesBookingOnce(t *testing.T) {
	w := newWebhookFixture(t)
	ctx := context.Background()
	id := w.waitingBooking(t)
	body := payuBody("ORDER-1", id, "COMPLETED", 10000)

	first, err := w.processor.HandlePayU(ctx, body, signedHeader(body))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, first.Outcome)
	assert.Equal(t, id, first.BookingID)

	second, err := w.processor.HandlePayU(ctx, body, signedHeader(body))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, second.Outcome)

	assert.Equal(t, 1, w.store.LedgerSize())
	assert.Equal(t, domain.BookingStatusPaid, w.booking(t, id).Status)
	assert.Equal(t, domain.TicketStatusSold, w.ticketState(t).Status)
	assert.Len(t, w.notifier.Events(domain.BookingEventPurchased), 1)
	assert.Empty(t, w.dlq.Messages())
}

func TestHandlePayU_AmountMismatch(t *testing.T) {
	w := newWebhookFixture(t)
	id := w.waitingBooking(t)
	body := payuBody("ORDER-2", id, "COMPLETED", 15000)

	result, err := w.processor.HandlePayU(context.Background(), body, signedHeader(body))
	require.NoError(t, err, "authenticated notifications are acknowledged")
	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, domain.ErrPaymentAmountMismatch)

	assert.Equal(t, domain.BookingStatusWaitingForPayment, w.booking(t, id).Status)
	assert.Equal(t, domain.TicketStatusReserved, w.ticketState(t).Status)
	assert.Zero(t, w.store.LedgerSize())

	dead := w.dlq.Messages()
	require.Len(t, dead, 1)
	assert.Equal(t, "AMOUNT_MISMATCH", dead[0].ErrorCode)
	assert.Equal(t, "ORDER-2", dead[0].ID)
	assert.Equal(t, 1, dead[0].Attempts)
	assert.JSONEq(t, string(body), string(dead[0].Payload))
}

func TestHandlePayU_AmountCheckedForAlreadyPaidBooking(t *testing.T) {
	w := newWebhookFixture(t)
	ctx := context.Background()
	id := w.waitingBooking(t)

	paid := payuBody("ORDER-1", id, "COMPLETED", 10000)
	first, err := w.processor.HandlePayU(ctx, paid, signedHeader(paid))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCompleted, first.Outcome)

	short := payuBody("ORDER-2", id, "COMPLETED", 1)
	result, err := w.processor.HandlePayU(ctx, short, signedHeader(short))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, domain.ErrPaymentAmountMismatch)

	assert.Equal(t, 1, w.store.LedgerSize())
	dead := w.dlq.Messages()
	require.Len(t, dead, 1)
	assert.Equal(t, "AMOUNT_MISMATCH", dead[0].ErrorCode)
	assert.Equal(t, domain.BookingStatusPaid, w.booking(t, id).Status)
}

func TestHandlePayU_SecondMatchingOrderForPaidBookingIsRecorded(t *testing.T) {
	w := newWebhookFixture(t)
	ctx := context.Background()
	id := w.waitingBooking(t)

	for _, order := range []string{"ORDER-1", "ORDER-2"} {
		body := payuBody(order, id, "COMPLETED", 10000)
		result, err := w.processor.HandlePayU(ctx, body, signedHeader(body))
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeCompleted, result.Outcome, order)
	}

	assert.Equal(t, 2, w.store.LedgerSize())
	assert.Len(t, w.notifier.Events(domain.BookingEventPurchased), 1)
	assert.Empty(t, w.dlq.Messages())
}

func TestHandlePayU_RejectsBadRequests(t *testing.T) {
	w := newWebhookFixture(t)
	ctx := context.Background()
	id := w.waitingBooking(t)
	body := payuBody("ORDER-3", id, "COMPLETED", 10000)

	_, err := w.processor.HandlePayU(ctx, body, "signature=deadbeef")
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	_, err = w.processor.HandlePayU(ctx, body, "")
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	garbage := []byte(`{"order":{"orderId":"X"}}`)
	_, err = w.processor.HandlePayU(ctx, garbage, signedHeader(garbage))
	assert.ErrorIs(t, err, domain.ErrInvalidNotification)

	assert.Equal(t, domain.BookingStatusWaitingForPayment, w.booking(t, id).Status)
	assert.Zero(t, w.store.LedgerSize())
}

func TestHandlePayU_CanceledReleasesTicket(t *testing.T) {
	w := newWebhookFixture(t)
	id := w.waitingBooking(t)
	body := payuBody("ORDER-4", id, "CANCELED", 10000)

	result, err := w.processor.HandlePayU(context.Background(), body, signedHeader(body))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCancelled, result.Outcome)
	assert.Equal(t, domain.BookingStatusCancelled, w.booking(t, id).Status)
	assert.Equal(t, domain.TicketStatusAvailable, w.ticketState(t).Status)
}

func TestHandlePayU_NonTerminalStatuses(t *testing.T) {
	tests := []struct {
		status  string
		outcome domain.NotificationOutcome
	}{
		{"PENDING", domain.OutcomeAcknowledged},
		{"WAITING_FOR_CONFIRMATION", domain.OutcomeAcknowledged},
		{"REJECTED", domain.OutcomeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			w := newWebhookFixture(t)
			id := w.waitingBooking(t)
			body := payuBody("ORDER-"+tt.status, id, tt.status, 10000)

			result, err := w.processor.HandlePayU(context.Background(), body, signedHeader(body))
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, domain.BookingStatusWaitingForPayment, w.booking(t, id).Status)
		})
	}
}

func TestHandlePayU_UnknownBooking(t *testing.T) {
	w := newWebhookFixture(t)
	body := payuBody("ORDER-5", uuid.New(), "COMPLETED", 10000)

	result, err := w.processor.HandlePayU(context.Background(), body, signedHeader(body))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, domain.ErrBookingNotFound)

	dead := w.dlq.Messages()
	require.Len(t, dead, 1)
	assert.Equal(t, "NOT_FOUND", dead[0].ErrorCode)
}

// blindLedger never reports existing entries so duplicates reach the unique key
type blindLedger struct {
	repository.NotificationLedger
}

func (blindLedger) Exists(context.Context, string) (bool, error) { return false, nil }

func TestApply_DuplicateDetectedOnAppend(t *testing.T) {
	w := newWebhookFixtureWithLedger(t, func(l repository.NotificationLedger) repository.NotificationLedger {
		return blindLedger{l}
	})
	ctx := context.Background()
	id := w.waitingBooking(t)
	body := payuBody("ORDER-6", id, "COMPLETED", 10000)

	first, err := w.processor.HandlePayU(ctx, body, signedHeader(body))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCompleted, first.Outcome)
	version := w.booking(t, id).Version

	second, err := w.processor.HandlePayU(ctx, body, signedHeader(body))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, 1, w.store.LedgerSize())
	assert.Equal(t, version, w.booking(t, id).Version)
	assert.Empty(t, w.dlq.Messages())
}

func TestApply_ConcurrentDeliveries(t *testing.T) {
	w := newWebhookFixture(t)
	id := w.waitingBooking(t)
	body := payuBody("ORDER-7", id, "COMPLETED", 10000)

	const deliveries = 10
	outcomes := make([]domain.NotificationOutcome, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := w.processor.HandlePayU(context.Background(), body, signedHeader(body))
			if assert.NoError(t, err) {
				outcomes[i] = result.Outcome
			}
		}(i)
	}
	wg.Wait()

	completed := 0
	for _, o := range outcomes {
		if o == domain.OutcomeCompleted {
			completed++
			continue
		}
		assert.Equal(t, domain.OutcomeDuplicate, o)
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, w.store.LedgerSize())
	assert.Len(t, w.notifier.Events(domain.BookingEventPurchased), 1)
}

func TestNotificationErrorCode(t *testing.T) {
	assert.Equal(t, "AMOUNT_MISMATCH", NotificationErrorCode(domain.ErrPaymentAmountMismatch))
	assert.Equal(t, "VERSION_CONFLICT", NotificationErrorCode(fmt.Errorf("%w: %w", retry.ErrMaxRetriesExceeded, domain.ErrVersionConflict)))
	assert.Equal(t, "NOT_FOUND", NotificationErrorCode(domain.ErrTicketNotFound))
	assert.Equal(t, "ILLEGAL_STATE", NotificationErrorCode(domain.ErrIllegalStateTransition))
	assert.Equal(t, "ACCESS_DENIED", NotificationErrorCode(domain.AccessDenied(domain.ErrTicketSoldCannotCancel)))
	assert.Equal(t, "INTERNAL", NotificationErrorCode(errBoom))
}
