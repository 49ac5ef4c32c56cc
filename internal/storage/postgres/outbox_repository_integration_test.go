package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	orders := NewOrderRepository(store, fixedClock(now))
	repo := NewOutboxRepository(store)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.IsZero())

	first, err := orders.Create(ctx, fakeDraft(line(1, "18.00", 1, 0)))
	require.NoError(t, err)
	_, err = orders.MarkOrdered(ctx, first)
	require.NoError(t, err)

	pending, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, string(domain.EventOrderCreated), pending[0].EventType)
	assert.Equal(t, domain.AggregateTypeOrder, pending[0].AggregateType)
	assert.NotEmpty(t, pending[0].Payload)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount)
	assert.True(t, now.Equal(stats.OldestPendingAt))

	limited, err := repo.PullPending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, repo.MarkSent(ctx, pending[0].ID))
	require.NoError(t, repo.MarkFailed(ctx, pending[1].ID))

	pending, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = repo.MarkSent(ctx, "missing-id")
	require.ErrorIs(t, err, domain.ErrOutboxPublish)
}

func TestTimelineRepository_PostgresUnknownOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	events, err := NewTimelineRepository(store).List(context.Background(), 424242)
	require.NoError(t, err)
	assert.Empty(t, events)
}
