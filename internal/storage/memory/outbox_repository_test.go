package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

func enqueueCreated(t *testing.T, store *Store, id int32) domain.OutboxMessage {
	t.Helper()

	record, err := domain.NewLifecycleRecord(domain.EventOrderCreated, domain.Order{ID: id}, testTime)
	require.NoError(t, err)

	store.mu.Lock()
	store.appendLifecycleLocked(record)
	store.mu.Unlock()

	return record.Outbox
}

func TestOutboxRepository_PullPendingInOrder(t *testing.T) {
	store := NewStore()
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	first := enqueueCreated(t, store, 1)
	second := enqueueCreated(t, store, 2)
	enqueueCreated(t, store, 3)

	pending, err := repo.PullPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	pending, err = repo.PullPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "non-positive limit falls back to the default")
}

func TestOutboxRepository_MarkSentAndFailedSettleMessages(t *testing.T) {
	store := NewStore()
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	sent := enqueueCreated(t, store, 1)
	failed := enqueueCreated(t, store, 2)
	kept := enqueueCreated(t, store, 3)

	require.NoError(t, repo.MarkSent(ctx, sent.ID))
	require.NoError(t, repo.MarkFailed(ctx, failed.ID))

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, kept.ID, pending[0].ID)

	store.mu.RLock()
	assert.Len(t, store.outbox, 1, "settled messages are not retained")
	store.mu.RUnlock()

	err = repo.MarkSent(ctx, sent.ID)
	require.ErrorIs(t, err, domain.ErrOutboxPublish, "a settled message cannot be settled twice")
	err = repo.MarkSent(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOutboxPublish)
}

func TestOutboxRepository_QueueDoesNotGrowWithDeliveredMessages(t *testing.T) {
	store := NewStore()
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	for id := range int32(500) {
		msg := enqueueCreated(t, store, id+1)
		require.NoError(t, repo.MarkSent(ctx, msg.ID))
	}

	store.mu.RLock()
	assert.Empty(t, store.outbox)
	store.mu.RUnlock()

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestOutboxRepository_Stats(t *testing.T) {
	store := NewStore()
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.IsZero())

	msg := enqueueCreated(t, store, 1)
	enqueueCreated(t, store, 2)
	require.NoError(t, repo.MarkSent(ctx, msg.ID))

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, testTime, stats.OldestPendingAt)
}
