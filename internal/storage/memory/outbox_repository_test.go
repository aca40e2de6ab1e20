package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func enqueueOrderEvent(t *testing.T, repo *OutboxRepository, ctx context.Context, orderID string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
	})
	require.NoError(t, err)
	return msg
}

func TestOutboxRepository_PullKeepsEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	ids := make([]string, 0, 3)
	for _, orderID := range []string{"order-1", "order-2", "order-3"} {
		msg := enqueueOrderEvent(t, repo, ctx, orderID)
		require.NotEmpty(t, msg.ID)
		ids = append(ids, msg.ID)
	}
	require.NoError(t, repo.MarkSent(ctx, ids[0]))

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[1], pending[0].ID)
	assert.Equal(t, ids[2], pending[1].ID)

	limited, err := repo.PullPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, ids[1], limited[0].ID)
}

func TestOutboxRepository_Stats(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := base
	repo.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStats{}, stats)

	first := enqueueOrderEvent(t, repo, ctx, "order-1")
	enqueueOrderEvent(t, repo, ctx, "order-2")
	third := enqueueOrderEvent(t, repo, ctx, "order-3")
	require.NoError(t, repo.MarkSent(ctx, first.ID))
	require.NoError(t, repo.MarkFailed(ctx, third.ID))

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, base.Add(2*time.Second), stats.OldestPendingAt)
}

func TestOutboxRepository_Transitions(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	msg := enqueueOrderEvent(t, repo, ctx, "order-1")

	status, ok := repo.Status(msg.ID)
	require.True(t, ok)
	assert.Equal(t, domain.OutboxStatusPending, status)

	require.NoError(t, repo.MarkSent(ctx, msg.ID))
	status, _ = repo.Status(msg.ID)
	assert.Equal(t, domain.OutboxStatusSent, status)

	require.NoError(t, repo.MarkFailed(ctx, msg.ID))
	status, _ = repo.Status(msg.ID)
	assert.Equal(t, domain.OutboxStatusFailed, status)

	err := repo.MarkSent(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrOutboxMessageNotFound), "got %v", err)
	_, ok = repo.Status("missing")
	assert.False(t, ok)
}

func TestOutboxRepository_EnqueueRolledBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	tx := NewTransactor()
	kept := enqueueOrderEvent(t, repo, ctx, "order-kept")

	boom := errors.New("boom")
	err := tx.WithinTx(ctx, func(txCtx context.Context) error {
		enqueueOrderEvent(t, repo, txCtx, "order-dropped")
		return boom
	})
	require.ErrorIs(t, err, boom)

	pending, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, kept.ID, pending[0].ID)
}
