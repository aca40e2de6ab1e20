package domain_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestNewOrderPlacedMessage(t *testing.T) {
	order := twoLineOrder()

	msg, err := domain.NewOrderPlacedMessage(order)
	if err != nil {
		t.Fatalf("NewOrderPlacedMessage: %v", err)
	}
	if msg.ID != "" {
		t.Errorf("ID = %q, repository assigns it on enqueue", msg.ID)
	}
	if msg.AggregateType != domain.AggregateTypeOrder || msg.AggregateID != "ord-a" || msg.EventType != domain.EventTypeOrderPlaced {
		t.Errorf("unexpected metadata: %+v", msg)
	}

	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if event.OrderID != "ord-a" || event.CustomerID != "cus-a" || !event.PlacedAt.Equal(placedAt) {
		t.Errorf("unexpected event header: %+v", event)
	}
	if !event.Total.Equal(dec("35")) {
		t.Errorf("total = %s, want 35", event.Total)
	}
	if len(event.Lines) != 2 || event.Lines[1].ProductID != "prd-2" || event.Lines[1].Quantity != 2 || !event.Lines[1].Price.Equal(dec("2.5")) {
		t.Errorf("unexpected lines: %+v", event.Lines)
	}
}

func TestDeadLetter_KeepsOriginal(t *testing.T) {
	src := domain.OutboxMessage{
		ID:            "obx-7",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "ord-a",
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       []byte(`{"order_id":"ord-a"}`),
	}

	dead, err := domain.NewDeadLetterMessage(src, errors.New("leader not available"), placedAt)
	if err != nil {
		t.Fatalf("NewDeadLetterMessage: %v", err)
	}
	if dead.ID != src.ID || dead.AggregateID != src.AggregateID || dead.EventType != src.EventType {
		t.Errorf("outbox metadata changed: %+v", dead)
	}

	var letter domain.DeadLetter
	if err := json.Unmarshal(dead.Payload, &letter); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if letter.PublishError != "leader not available" || !letter.FailedAt.Equal(placedAt) {
		t.Errorf("unexpected dead letter: %+v", letter)
	}

	back := letter.Original()
	if back.ID != src.ID || back.AggregateType != src.AggregateType || string(back.Payload) != string(src.Payload) {
		t.Errorf("Original() = %+v, want %+v", back, src)
	}
}

func TestDeadLetter_NilError(t *testing.T) {
	dead, err := domain.NewDeadLetterMessage(domain.OutboxMessage{ID: "obx-8", Payload: []byte(`{}`)}, nil, placedAt)
	if err != nil {
		t.Fatalf("NewDeadLetterMessage: %v", err)
	}
	var letter domain.DeadLetter
	if err := json.Unmarshal(dead.Payload, &letter); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if letter.PublishError != "" {
		t.Errorf("PublishError = %q, want empty", letter.PublishError)
	}
}
