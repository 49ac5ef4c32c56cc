package memory

import (
	"context"
	"slices"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

type timelineRepository struct {
	store *Store
}

// NewTimelineRepository creates the in-memory timeline reader.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{store: store}
}

// List returns the order's events oldest first. Events survive order deletion.
func (r *timelineRepository) List(_ context.Context, orderID int32) ([]domain.TimelineEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	events := make([]domain.TimelineEvent, 0)
	for _, event := range r.store.timeline {
		if event.OrderID == orderID {
			events = append(events, event)
		}
	}
	slices.SortStableFunc(events, func(a, b domain.TimelineEvent) int {
		return a.Occurred.Compare(b.Occurred)
	})
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
