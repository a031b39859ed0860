package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/kafka"
)

// NotificationDispatcher publishes booking events for downstream delivery
type NotificationDispatcher interface {
	Publish(ctx context.Context, event *domain.BookingEvent) error
	Close() error
}

// MessageProducer is the part of kafka.Producer the dispatcher needs
type MessageProducer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// KafkaDispatcherConfig configures KafkaNotificationDispatcher
type KafkaDispatcherConfig struct {
	Topic       string
	ServiceName string
	Timeout     time.Duration
}

// KafkaNotificationDispatcher implements NotificationDispatcher using Kafka
type KafkaNotificationDispatcher struct {
	producer MessageProducer
	config   *KafkaDispatcherConfig
}

// NewKafkaNotificationDispatcher creates a dispatcher over an existing producer
func NewKafkaNotificationDispatcher(producer MessageProducer, cfg *KafkaDispatcherConfig) *KafkaNotificationDispatcher {
	if cfg == nil {
		cfg = &KafkaDispatcherConfig{}
	}
	if cfg.Topic == "" {
		cfg.Topic = "booking.notifications"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ticket-rush"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &KafkaNotificationDispatcher{producer: producer, config: cfg}
}

// Publish produces the event keyed by booking id
func (d *KafkaNotificationDispatcher) Publish(ctx context.Context, event *domain.BookingEvent) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &kafka.Message{
		Topic: d.config.Topic,
		Key:   []byte(event.Key()),
		Value: value,
		Headers: map[string]string{
			"event_type":   string(event.EventType),
			"event_id":     event.EventID,
			"source":       d.config.ServiceName,
			"content_type": "application/json",
		},
		Timestamp: event.OccurredAt,
	}

	if err := d.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.EventType, err)
	}
	return nil
}

// Close is a no-op; the producer is owned by the container
func (d *KafkaNotificationDispatcher) Close() error {
	return nil
}

// NoOpNotificationDispatcher drops events
type NoOpNotificationDispatcher struct{}

// NewNoOpNotificationDispatcher creates a new no-op dispatcher
func NewNoOpNotificationDispatcher() *NoOpNotificationDispatcher {
	return &NoOpNotificationDispatcher{}
}

// Publish is a no-op
func (d *NoOpNotificationDispatcher) Publish(ctx context.Context, event *domain.BookingEvent) error {
	return nil
}

// Close is a no-op
func (d *NoOpNotificationDispatcher) Close() error {
	return nil
}
