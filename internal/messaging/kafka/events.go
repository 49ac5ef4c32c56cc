package kafka

import (
	"encoding/json"
	"time"
)

// Topics used by the order service.
const (
	TopicOrderEvents     = "northwind.order.events"
	TopicDeadLetterQueue = "northwind.order.dlq"
)

// Record headers attached to every published order event.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// Envelope wraps an outbox message on the wire. Consumers dedupe on ID.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}
