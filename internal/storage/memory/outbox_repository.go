package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

const defaultOutboxPullLimit = 100

// pendingMessage is an outbox message that has not been settled yet.
// Settled messages (sent or dead-lettered) are dropped from the queue.
type pendingMessage struct {
	msg        domain.OutboxMessage
	enqueuedAt time.Time
}

type outboxRepository struct {
	store *Store
}

// NewOutboxRepository creates the polling side of the in-memory outbox.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{store: store}
}

// PullPending returns up to limit pending messages in enqueue order.
func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	head := r.store.outbox[:min(limit, len(r.store.outbox))]
	result := make([]domain.OutboxMessage, 0, len(head))
	for _, pending := range head {
		result = append(result, pending.msg)
	}
	return result, nil
}

func (r *outboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stats := domain.OutboxStats{PendingCount: len(r.store.outbox)}
	for _, pending := range r.store.outbox {
		if stats.OldestPendingAt.IsZero() || pending.enqueuedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = pending.enqueuedAt
		}
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id)
}

// MarkFailed drops the message as well; its copy lives on in the dead-letter topic.
func (r *outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id)
}

func (r *outboxRepository) settle(id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	idx := slices.IndexFunc(r.store.outbox, func(p pendingMessage) bool { return p.msg.ID == id })
	if idx < 0 {
		return fmt.Errorf("outbox message %s: %w", id, domain.ErrOutboxPublish)
	}
	r.store.outbox = slices.Delete(r.store.outbox, idx, idx+1)
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
