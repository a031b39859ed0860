package retry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	Topic   string
	Key     string
	Data    interface{}
	Headers map[string]string
}

// MockKafkaPublisher records ProduceJSON calls
type MockKafkaPublisher struct {
	mu         sync.Mutex
	Published  []publishedMessage
	ShouldFail bool
}

func (m *MockKafkaPublisher) ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	if m.ShouldFail {
		return errors.New("mock publish failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, publishedMessage{Topic: topic, Key: key, Data: data, Headers: headers})
	return nil
}

func TestKafkaDLQPublisher_PublishToDLQ(t *testing.T) {
	mock := &MockKafkaPublisher{}
	publisher := NewKafkaDLQPublisher(mock, &DLQConfig{Topic: "webhooks.dlq", Source: "test-service"})

	msg := &DLQMessage{
		ID:       "msg-123",
		Origin:   "payu",
		Key:      "ORDER-1",
		Payload:  json.RawMessage(`{"order":{"orderId":"ORDER-1"}}`),
		Headers:  map[string]string{"signature": "abc"},
		Error:    "version conflict",
		Attempts: 3,
	}

	require.NoError(t, publisher.PublishToDLQ(context.Background(), msg))
	require.Len(t, mock.Published, 1)

	published := mock.Published[0]
	assert.Equal(t, "webhooks.dlq", published.Topic)
	assert.Equal(t, "ORDER-1", published.Key)
	assert.Equal(t, "payu", published.Headers["origin"])
	assert.Equal(t, "3", published.Headers["attempts"])
	assert.Equal(t, "test-service", published.Headers["source"])
	assert.Equal(t, "abc", published.Headers["original_signature"])

	sent, ok := published.Data.(*DLQMessage)
	require.True(t, ok)
	assert.False(t, sent.MovedToDLQAt.IsZero())
	assert.Equal(t, "test-service", sent.Source)
}

func TestKafkaDLQPublisher_NilMessage(t *testing.T) {
	publisher := NewKafkaDLQPublisher(&MockKafkaPublisher{}, nil)
	assert.Error(t, publisher.PublishToDLQ(context.Background(), nil))
	assert.Equal(t, "payment.webhook.dlq", publisher.Topic())
}

func TestKafkaDLQPublisher_PublishFails(t *testing.T) {
	publisher := NewKafkaDLQPublisher(&MockKafkaPublisher{ShouldFail: true}, nil)
	assert.Error(t, publisher.PublishToDLQ(context.Background(), &DLQMessage{ID: "x"}))
}

func TestDLQHandler_ProcessWithDLQ_Success(t *testing.T) {
	mock := &MockKafkaPublisher{}
	handler := NewDLQHandler(NewKafkaDLQPublisher(mock, nil), &DLQHandlerConfig{
		RetryConfig: &Config{MaxAttempts: 3, Backoff: Linear(time.Millisecond)},
	})

	attempts := 0
	err := handler.ProcessWithDLQ(context.Background(), &MessageContext{ID: "m"}, func(ctx context.Context) error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, mock.Published)
}

func TestDLQHandler_ProcessWithDLQ_AllRetriesFail(t *testing.T) {
	errConflictLocal := errors.New("version conflict")
	mock := &MockKafkaPublisher{}

	var captured *DLQMessage
	handler := NewDLQHandler(NewKafkaDLQPublisher(mock, nil), &DLQHandlerConfig{
		RetryConfig: &Config{MaxAttempts: 3, Backoff: Linear(time.Millisecond)},
		Source:      "test-service",
		ErrorCode:   func(err error) string { return "CONFLICT" },
		OnDLQ:       func(msg *DLQMessage) { captured = msg },
	})

	attempts := 0
	err := handler.ProcessWithDLQ(context.Background(), &MessageContext{ID: "m", Origin: "payu", Key: "ORDER-1"},
		func(ctx context.Context) error {
			attempts++
			return errConflictLocal
		})

	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, errConflictLocal)
	assert.Equal(t, 3, attempts)
	require.Len(t, mock.Published, 1)
	require.NotNil(t, captured)
	assert.Equal(t, 3, captured.Attempts)
	assert.Equal(t, "CONFLICT", captured.ErrorCode)
	assert.False(t, captured.FirstAttemptAt.IsZero())
}

func TestDLQHandler_ProcessWithDLQ_PermanentError(t *testing.T) {
	errMismatch := errors.New("amount mismatch")
	mock := &MockKafkaPublisher{}
	handler := NewDLQHandler(NewKafkaDLQPublisher(mock, nil), &DLQHandlerConfig{
		RetryConfig: &Config{MaxAttempts: 3},
	})

	attempts := 0
	err := handler.ProcessWithDLQ(context.Background(), &MessageContext{ID: "m"}, func(ctx context.Context) error {
		attempts++
		return Permanent(errMismatch)
	})

	assert.Equal(t, errMismatch, err)
	assert.Equal(t, 1, attempts)
	assert.Len(t, mock.Published, 1)
}

func TestDLQHandler_ProcessWithDLQ_PublishFails(t *testing.T) {
	errBoom := errors.New("boom")
	handler := NewDLQHandler(NewKafkaDLQPublisher(&MockKafkaPublisher{ShouldFail: true}, nil), &DLQHandlerConfig{
		RetryConfig: &Config{MaxAttempts: 1},
	})

	err := handler.ProcessWithDLQ(context.Background(), &MessageContext{ID: "m"}, func(ctx context.Context) error {
		return errBoom
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish to DLQ")
	assert.ErrorIs(t, err, errBoom)
}

func TestNoOpDLQPublisher(t *testing.T) {
	assert.NoError(t, NewNoOpDLQPublisher().PublishToDLQ(context.Background(), &DLQMessage{ID: "x"}))
}
