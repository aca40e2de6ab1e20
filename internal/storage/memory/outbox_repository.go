package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultPullLimit = 100

type outboxEntry struct {
	msg       domain.OutboxMessage
	status    domain.OutboxStatus
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// OutboxRepository держит outbox в памяти. Записи лежат в порядке Enqueue,
// поэтому PullPending не сортирует.
type OutboxRepository struct {
	mu      sync.RWMutex
	gate    readGate
	entries []*outboxEntry
	byID    map[string]*outboxEntry
	now     func() time.Time
}

// NewOutboxRepository создаёт пустой outbox.
func NewOutboxRepository(opts ...Option) *OutboxRepository {
	return &OutboxRepository{
		gate: newReadGate(opts),
		byID: make(map[string]*outboxEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue добавляет сообщение в хвост очереди. Внутри транзакции
// Transactor откат удаляет запись.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	r.mu.Lock()
	ts := r.now()
	entry := &outboxEntry{msg: msg, status: domain.OutboxStatusPending, createdAt: ts, updatedAt: ts}
	r.entries = append(r.entries, entry)
	r.byID[msg.ID] = entry
	r.mu.Unlock()

	recordUndo(ctx, func() { r.remove(entry) })
	return msg, nil
}

func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultPullLimit
	}

	defer r.gate.enter(ctx)()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, e := range r.entries {
		if len(out) == limit {
			break
		}
		if e.status == domain.OutboxStatusPending {
			out = append(out, e.msg)
		}
	}
	return out, nil
}

func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	defer r.gate.enter(ctx)()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.entries {
		switch e.status {
		case domain.OutboxStatusPending:
			if stats.PendingCount == 0 {
				stats.OldestPendingAt = e.createdAt
			}
			stats.PendingCount++
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.transition(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.transition(id, domain.OutboxStatusFailed)
}

// Status отдаёт текущее состояние записи; нужен тестам воркера.
func (r *OutboxRepository) Status(id string) (domain.OutboxStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return e.status, true
}

func (r *OutboxRepository) transition(id string, to domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return domain.ErrOutboxMessageNotFound
	}
	e.status = to
	e.attempts++
	e.updatedAt = r.now()
	return nil
}

func (r *OutboxRepository) remove(target *outboxEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byID, target.msg.ID)
	for i, e := range r.entries {
		if e == target {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
