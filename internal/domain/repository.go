package domain

import (
	"context"
	"iter"
)

// OrderRepository manages order aggregates under the lifecycle rules.
type OrderRepository interface {
	// List lazily yields order headers without lines. Every range re-runs the query;
	// a store failure is yielded as the first (zero, err) pair.
	List(ctx context.Context) iter.Seq2[Order, error]
	// GetByID returns the order with all lines and their products resolved.
	GetByID(ctx context.Context, id int32) (Order, error)
	// Create stores a new order in status New together with its lines.
	Create(ctx context.Context, draft Order) (Order, error)
	// Update rewrites header fields (except the lifecycle dates) and replaces the lines.
	Update(ctx context.Context, order Order) (Order, error)
	// Delete removes the order and its lines unless it has been shipped.
	Delete(ctx context.Context, order Order) error
	// MarkOrdered moves a New order to Ordered.
	MarkOrdered(ctx context.Context, order Order) (Order, error)
	// MarkShipped moves an Ordered order to Shipped.
	MarkShipped(ctx context.Context, order Order) (Order, error)
	// CustomerOrderHistory totals quantities per product over every order of the customer.
	CustomerOrderHistory(ctx context.Context, customerID string) ([]CustomerProductTotal, error)
	// CustomerOrderDetails lists priced lines of one order.
	CustomerOrderDetails(ctx context.Context, orderID int32) ([]CustomerOrderDetail, error)
}

// OrderLineRepository manages the line set of an order.
type OrderLineRepository interface {
	// ListByOrderID returns ErrOrderLinesNotFound eagerly when the order has no lines.
	ListByOrderID(ctx context.Context, orderID int32) (iter.Seq2[OrderLine, error], error)
	AddLines(ctx context.Context, order Order) error
	// ReplaceLines deletes every stored line and inserts the order's current lines.
	ReplaceLines(ctx context.Context, order Order) error
	DeleteLines(ctx context.Context, order Order) error
}

// ProductRepository is a read-only product lookup.
type ProductRepository interface {
	GetByID(ctx context.Context, id int32) (Product, error)
}
