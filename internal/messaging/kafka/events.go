package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Kafka headers, которыми сопровождается каждое событие из outbox.
const (
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderAggregateType = "x-aggregate-type"
)

// Envelope — формат сообщения в топике: метаданные outbox плюс исходный payload.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt.UTC(),
	}
}

// MessageKey возвращает ключ партиционирования: события одного агрегата идут в одну партицию.
func MessageKey(msg domain.OutboxMessage) string {
	if msg.AggregateID != "" {
		return msg.AggregateID
	}
	return msg.ID
}

// ErrNotDeadLetter возвращается, если сообщение в DLQ не содержит payload DeadLetter.
var ErrNotDeadLetter = errors.New("message is not an outbox dead letter")

// DecodeDeadLetter разбирает сообщение из DLQ topic и восстанавливает исходное outbox-сообщение.
func DecodeDeadLetter(value []byte) (domain.OutboxMessage, domain.DeadLetter, error) {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return domain.OutboxMessage{}, domain.DeadLetter{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope.Payload) == 0 {
		return domain.OutboxMessage{}, domain.DeadLetter{}, ErrNotDeadLetter
	}

	var letter domain.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return domain.OutboxMessage{}, domain.DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(letter.Payload) == 0 {
		return domain.OutboxMessage{}, domain.DeadLetter{}, ErrNotDeadLetter
	}

	msg := letter.Original()
	if msg.ID == "" {
		msg.ID = envelope.ID
	}
	if msg.AggregateType == "" {
		msg.AggregateType = envelope.AggregateType
	}
	if msg.AggregateID == "" {
		msg.AggregateID = envelope.AggregateID
	}
	if msg.EventType == "" {
		msg.EventType = envelope.EventType
	}
	return msg, letter, nil
}
