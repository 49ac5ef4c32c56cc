package domain

import (
	"context"
	"time"
)

// Clock supplies "now" for lifecycle transitions.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// OutboxPublisher pushes outbox messages to a broker. Publish must be idempotent.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}

// OutboxRepository is the polling side of the transactional outbox.
// Messages are enqueued by the order repositories inside their write transaction.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository reads lifecycle events of an order.
type TimelineRepository interface {
	List(ctx context.Context, orderID int32) ([]TimelineEvent, error)
}

// OutboxMessage is an event waiting to be published.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats describes the pending backlog.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
