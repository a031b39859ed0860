package kafka

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(context.Background(), nil)
	assert.Error(t, err)

	_, err = NewProducer(context.Background(), &ProducerConfig{})
	assert.Error(t, err)
}

func TestToRecord(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	record := toRecord(&Message{
		Topic:     "booking.notifications",
		Key:       []byte("booking-1"),
		Value:     []byte(`{"a":1}`),
		Headers:   map[string]string{"event_type": "booking.paid"},
		Timestamp: ts,
	})

	assert.Equal(t, "booking.notifications", record.Topic)
	assert.Equal(t, []byte("booking-1"), record.Key)
	assert.Equal(t, ts, record.Timestamp)
	require.Len(t, record.Headers, 1)
	assert.Equal(t, "event_type", record.Headers[0].Key)
	assert.Equal(t, []byte("booking.paid"), record.Headers[0].Value)
}

func TestProducer_Integration(t *testing.T) {
	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("TEST_KAFKA_BROKERS not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	p, err := NewProducer(ctx, &ProducerConfig{Brokers: strings.Split(brokers, ","), ClientID: "ticket-rush-test"})
	require.NoError(t, err)
	defer p.Close()

	err = p.ProduceJSON(ctx, "ticket-rush-test", "k", map[string]string{"hello": "world"}, nil)
	assert.NoError(t, err)
}
