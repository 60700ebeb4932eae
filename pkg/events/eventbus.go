package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/credwatch-go/pkg/resilience"
)

// Compliance event types consumed downstream by audit and the external
// renewal workflow.
const (
	TypeReminderDispatched = "credential.reminder.dispatched"
	TypeCredentialExpired  = "credential.expired"
	TypeCredentialRenewed  = "credential.renewed"
)

type Event struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	CredentialID string                 `json:"credentialId"`
	HolderID     string                 `json:"holderId"`
	Timestamp    time.Time              `json:"timestamp"`
	Payload      map[string]interface{} `json:"payload"`
}

type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NewEvent builds a compliance event with identity and timestamp filled in.
func NewEvent(eventType, credentialID, holderID string, payload map[string]interface{}) Event {
	return Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		CredentialID: credentialID,
		HolderID:     holderID,
		Timestamp:    time.Now().UTC(),
		Payload:      payload,
	}
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaEventBus publishes compliance events keyed by credential so
// downstream consumers see one credential's events in order.
type KafkaEventBus struct {
	writer *kafka.Writer
	retry  resilience.RetryConfig
}

func NewKafkaEventBus(config KafkaConfig) (*KafkaEventBus, error) {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      config.Brokers,
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	})

	return &KafkaEventBus{writer: writer, retry: resilience.DefaultRetryConfig()}, nil
}

func (k *KafkaEventBus) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.CredentialID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}

	// Transient broker errors are retried with backoff before surfacing.
	return resilience.Retry(ctx, k.retry, func() error {
		return k.writer.WriteMessages(ctx, msg)
	})
}

func (k *KafkaEventBus) Close() error {
	return k.writer.Close()
}

// NopEventBus drops events; used when Kafka is disabled and in tests.
type NopEventBus struct{}

func (NopEventBus) Publish(ctx context.Context, event Event) error { return nil }
func (NopEventBus) Close() error                                   { return nil }
