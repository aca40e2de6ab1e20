package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher пишет outbox-сообщения в один topic в формате Envelope.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт publisher; пустой topic заменяется на TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	p := &OutboxTopicPublisher{producer: producer, topic: topic, now: time.Now}
	if p.topic == "" {
		p.topic = TopicOrderEvents
	}
	return p
}

func (p *OutboxTopicPublisher) Topic() string { return p.topic }

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return ErrProducerClosed
	}

	value, err := json.Marshal(NewEnvelope(msg, p.now()))
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", msg.ID, err)
	}
	return p.producer.Send(ctx, Message{
		Topic: p.topic,
		Key:   MessageKey(msg),
		Value: value,
		Headers: []Header{
			{Key: HeaderOutboxID, Value: msg.ID},
			{Key: HeaderEventType, Value: msg.EventType},
			{Key: HeaderAggregateType, Value: msg.AggregateType},
		},
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
