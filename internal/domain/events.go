package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AggregateTypeOrder = "order"
	// EventTypeOrderPlaced публикуется после фиксации заказа и списания остатков.
	EventTypeOrderPlaced = "order.placed"
)

// OrderPlacedLine — позиция в событии order.placed.
type OrderPlacedLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// OrderPlacedEvent — полезная нагрузка события order.placed.
type OrderPlacedEvent struct {
	OrderID    string            `json:"order_id"`
	CustomerID string            `json:"customer_id"`
	Lines      []OrderPlacedLine `json:"lines"`
	Total      decimal.Decimal   `json:"total"`
	PlacedAt   time.Time         `json:"placed_at"`
}

// NewOrderPlacedMessage собирает outbox-сообщение по оформленному заказу.
func NewOrderPlacedMessage(order Order) (OutboxMessage, error) {
	lines := make([]OrderPlacedLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderPlacedLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.Price,
		})
	}

	payload, err := json.Marshal(OrderPlacedEvent{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Lines:      lines,
		Total:      order.Total(),
		PlacedAt:   order.CreatedAt,
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal order placed event: %w", err)
	}

	return OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     EventTypeOrderPlaced,
		Payload:       payload,
	}, nil
}

// DeadLetter описывает payload сообщения, исчерпавшего попытки публикации.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// NewDeadLetterMessage заворачивает исходное сообщение вместе с причиной отказа.
// Метаданные outbox сохраняются, payload заменяется на DeadLetter.
func NewDeadLetterMessage(msg OutboxMessage, publishErr error, failedAt time.Time) (OutboxMessage, error) {
	reason := ""
	if publishErr != nil {
		reason = publishErr.Error()
	}

	payload, err := json.Marshal(DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishError:  reason,
		FailedAt:      failedAt.UTC(),
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal dead letter payload: %w", err)
	}

	dead := msg
	dead.Payload = payload
	return dead, nil
}

// Original восстанавливает исходное outbox-сообщение.
func (d DeadLetter) Original() OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}
