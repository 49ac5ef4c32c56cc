package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

type timelineRepository struct {
	db querier
}

// NewTimelineRepository creates the PostgreSQL timeline reader.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) List(ctx context.Context, orderID int32) ([]domain.TimelineEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, storeError("list timeline events", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, storeError("scan timeline event", err)
		}
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate timeline events", err)
	}

	return events, nil
}

// appendLifecycle writes the timeline entry and the outbox message of one order change.
// It is called with the transaction of that change.
func appendLifecycle(ctx context.Context, q querier, record domain.LifecycleRecord) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, reason, occurred)
		VALUES ($1, $2, $3, $4)
	`, record.Timeline.OrderID, string(record.Timeline.Type), record.Timeline.Reason, record.Timeline.Occurred); err != nil {
		return storeError("append timeline event", err)
	}

	msg := record.Outbox
	if _, err := q.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, record.Timeline.Occurred); err != nil {
		return storeError(fmt.Sprintf("enqueue outbox message %s", msg.EventType), err)
	}

	return nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
