package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"deskrelay/internal/broker"
	"deskrelay/internal/logger"
	"deskrelay/pkg/metrics"
)

// MessageCreatedEvent is published for downstream consumers
// (automation, analytics) once a message is durably stored.
type MessageCreatedEvent struct {
	EventID   string    `json:"eventId"`
	MessageID int64     `json:"messageId"`
	TicketID  int64     `json:"ticketId"`
	StoreID   int64     `json:"storeId"`
	Flags     []string  `json:"flags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type EventPublisher interface {
	PublishMessageCreated(ctx context.Context, event MessageCreatedEvent) error
}

type KafkaEventPublisher struct {
	producer broker.Producer
	topic    string
	logger   logger.Logger
}

func NewKafkaEventPublisher(producer broker.Producer, topic string, log logger.Logger) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
		topic:    topic,
		logger:   log,
	}
}

func (p *KafkaEventPublisher) PublishMessageCreated(ctx context.Context, event MessageCreatedEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := []byte(fmt.Sprintf("%d", event.TicketID))
	if err := p.producer.Publish(ctx, p.topic, key, value); err != nil {
		metrics.EventPublishTotal.WithLabelValues("failed").Inc()
		return err
	}

	metrics.EventPublishTotal.WithLabelValues("published").Inc()
	return nil
}
