package domain

import (
	"context"
	"time"
)

// OutboxStatus — состояние записи outbox.
type OutboxStatus string

const (
	// Запись ждёт публикации.
	OutboxStatusPending OutboxStatus = "pending"
	// Запись доставлена брокеру.
	OutboxStatusSent OutboxStatus = "sent"
	// Попытки исчерпаны, запись ушла в DLQ или отброшена.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxMessage — событие, ожидающее публикации.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats — снимок backlog outbox для метрик и health-проверок.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

// OutboxWriter дописывает событие в outbox. Вызов внутри Transactor.WithinTx
// фиксируется или откатывается вместе с остальными изменениями транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OutboxReader отдаёт воркеру записи в порядке поступления.
type OutboxReader interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
}

// OutboxRepository объединяет запись, чтение и смену статусов outbox.
// MarkSent и MarkFailed возвращают ErrOutboxMessageNotFound для неизвестного ID.
type OutboxRepository interface {
	OutboxWriter
	OutboxReader
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher доставляет событие наружу. Повторная доставка того же
// сообщения допустима, потребители дедуплицируют по ID.
type OutboxPublisher interface {
	Publish(ctx context.Context, event OutboxMessage) error
}
