package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// AggregateTypeOrder tags outbox messages produced by order writes.
const AggregateTypeOrder = "order"

// EventType names a lifecycle change of an order.
type EventType string

const (
	EventOrderCreated EventType = "order.created"
	EventOrderUpdated EventType = "order.updated"
	EventOrderDeleted EventType = "order.deleted"
	EventOrderOrdered EventType = "order.ordered"
	EventOrderShipped EventType = "order.shipped"
)

// TimelineEvent is one entry of an order's lifecycle history.
type TimelineEvent struct {
	OrderID  int32
	Type     EventType
	Reason   string
	Occurred time.Time
}

// OrderEventPayload is the JSON body of an order outbox message.
type OrderEventPayload struct {
	OrderID    int32       `json:"order_id"`
	CustomerID *string     `json:"customer_id,omitempty"`
	Status     OrderStatus `json:"status"`
	LineCount  int         `json:"line_count"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// LifecycleRecord is written in the same transaction as the order change.
type LifecycleRecord struct {
	Timeline TimelineEvent
	Outbox   OutboxMessage
}

// NewLifecycleRecord builds the timeline entry and the outbox message for an order change.
func NewLifecycleRecord(eventType EventType, order Order, at time.Time) (LifecycleRecord, error) {
	status := order.Status()
	payload, err := json.Marshal(OrderEventPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     status,
		LineCount:  len(order.Lines),
		OccurredAt: at,
	})
	if err != nil {
		return LifecycleRecord{}, fmt.Errorf("marshal order event: %w", err)
	}

	return LifecycleRecord{
		Timeline: TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   string(status),
			Occurred: at,
		},
		Outbox: OutboxMessage{
			ID:            uuid.NewString(),
			AggregateType: AggregateTypeOrder,
			AggregateID:   strconv.FormatInt(int64(order.ID), 10),
			EventType:     string(eventType),
			Payload:       payload,
		},
	}, nil
}
