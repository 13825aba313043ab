package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskrelay/internal/logger"
)

type fakeProducer struct {
	topic string
	key   []byte
	value []byte
	err   error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.key = key
	p.value = value
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func TestPublishMessageCreated(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewKafkaEventPublisher(producer, "ticket_message_events", logger.NopLogger())

	event := MessageCreatedEvent{
		MessageID: 9,
		TicketID:  42,
		StoreID:   3,
		Flags:     []string{"auto_submitted"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, pub.PublishMessageCreated(context.Background(), event))

	assert.Equal(t, "ticket_message_events", producer.topic)
	assert.Equal(t, "42", string(producer.key))

	var decoded MessageCreatedEvent
	require.NoError(t, json.Unmarshal(producer.value, &decoded))
	assert.Equal(t, int64(9), decoded.MessageID)
	assert.Equal(t, int64(42), decoded.TicketID)
	assert.Equal(t, int64(3), decoded.StoreID)
	assert.Equal(t, []string{"auto_submitted"}, decoded.Flags)
	assert.NotEmpty(t, decoded.EventID, "an event id is assigned when absent")
}

func TestPublishMessageCreatedError(t *testing.T) {
	producer := &fakeProducer{err: fmt.Errorf("broker unavailable")}
	pub := NewKafkaEventPublisher(producer, "ticket_message_events", logger.NopLogger())

	err := pub.PublishMessageCreated(context.Background(), MessageCreatedEvent{TicketID: 42})
	assert.Error(t, err)
}
