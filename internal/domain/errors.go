package domain

import (
	"errors"
	"fmt"
)

// Error categories. Callers match them with errors.Is.
var (
	// ErrNotFound is returned when an order, its lines or a product is missing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when the lifecycle state forbids an operation.
	ErrInvalidTransition = errors.New("invalid order state transition")
	// ErrStoreUnavailable wraps connectivity and execution failures of the store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidOrder is returned when the submitted order content is malformed.
	ErrInvalidOrder = errors.New("invalid order")
)

var (
	// ErrOrderNotFound: no order row for the id.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrOrderLinesNotFound: the order has no lines.
	ErrOrderLinesNotFound = fmt.Errorf("order lines %w", ErrNotFound)
	// ErrProductNotFound: no product row for the id.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)

	// ErrOrderNotUpdatable: an Ordered or Shipped order cannot be edited.
	ErrOrderNotUpdatable = fmt.Errorf("%w: order is not in status new", ErrInvalidTransition)
	// ErrOrderDateSet: order date must be empty when editing.
	ErrOrderDateSet = fmt.Errorf("%w: order date must be empty", ErrInvalidTransition)
	// ErrShippedDateSet: shipped date must be empty when editing.
	ErrShippedDateSet = fmt.Errorf("%w: shipped date must be empty", ErrInvalidTransition)
	// ErrOrderShipped: a shipped order cannot be deleted.
	ErrOrderShipped = fmt.Errorf("%w: order is shipped", ErrInvalidTransition)
	// ErrOrderNotNew: only new orders can be marked as ordered.
	ErrOrderNotNew = fmt.Errorf("%w: order is not new", ErrInvalidTransition)
	// ErrOrderNotOrdered: only ordered orders can be marked as shipped.
	ErrOrderNotOrdered = fmt.Errorf("%w: order is not ordered", ErrInvalidTransition)

	// ErrOrderHasNoLines: Create and Update need at least one line.
	ErrOrderHasNoLines = fmt.Errorf("%w: order has no lines", ErrInvalidOrder)
	// ErrDuplicateOrderLine: a product may appear on one line of an order only.
	ErrDuplicateOrderLine = fmt.Errorf("%w: duplicate product line", ErrInvalidOrder)

	// ErrOutboxPublish is returned when an outbox record cannot be updated.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsNotFound reports whether err belongs to the not-found category.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidTransition reports whether err is a lifecycle violation.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsInvalidOrder reports whether err rejects the order content itself.
func IsInvalidOrder(err error) bool {
	return errors.Is(err, ErrInvalidOrder)
}

// IsStoreUnavailable reports whether err came from a failing store.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
