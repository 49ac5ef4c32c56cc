package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus describes where an order is in its lifecycle.
// It is always derived from the order and shipped dates and never stored.
type OrderStatus string

const (
	// OrderStatusNew: the order has not been placed yet and can still be edited.
	OrderStatusNew OrderStatus = "new"
	// OrderStatusOrdered: the order date is set, the order awaits shipment.
	OrderStatusOrdered OrderStatus = "ordered"
	// OrderStatusShipped: both dates are set. Terminal state.
	OrderStatusShipped OrderStatus = "shipped"
)

// StatusOf derives the lifecycle status from the two lifecycle dates.
func StatusOf(orderDate, shippedDate *time.Time) OrderStatus {
	switch {
	case orderDate == nil:
		return OrderStatusNew
	case shippedDate == nil:
		return OrderStatusOrdered
	default:
		return OrderStatusShipped
	}
}

// Product is a read-only catalogue entry referenced by order lines.
type Product struct {
	ID              int32
	Name            string
	SupplierID      *int32
	CategoryID      *int32
	QuantityPerUnit *string
	UnitPrice       *decimal.Decimal
	UnitsInStock    *int16
	UnitsOnOrder    *int16
	ReorderLevel    *int16
	Discontinued    bool
}

// OrderLine is one product position of an order.
// Lines are never edited in place: the whole set is replaced on update.
type OrderLine struct {
	OrderID int32
	// Product carries at least the product id; GetByID also fills the rest.
	Product   Product
	UnitPrice decimal.Decimal
	Quantity  int16
	// Discount is a fraction in [0, 1].
	Discount float32
}

// Order is the aggregate root owning its lines.
type Order struct {
	ID             int32
	CustomerID     *string
	EmployeeID     *int32
	OrderDate      *time.Time
	RequiredDate   *time.Time
	ShippedDate    *time.Time
	ShipVia        *int32
	Freight        *decimal.Decimal
	ShipName       *string
	ShipAddress    *string
	ShipCity       *string
	ShipRegion     *string
	ShipPostalCode *string
	ShipCountry    *string
	Lines          []OrderLine
}

// Status returns the derived lifecycle status.
func (o Order) Status() OrderStatus {
	return StatusOf(o.OrderDate, o.ShippedDate)
}

// WithLinesOwned returns a copy whose lines point back to the order id.
func (o Order) WithLinesOwned() Order {
	if len(o.Lines) == 0 {
		return o
	}
	lines := make([]OrderLine, len(o.Lines))
	for i, line := range o.Lines {
		line.OrderID = o.ID
		lines[i] = line
	}
	o.Lines = lines
	return o
}

// CheckUpdatable validates that the order may be edited.
// The checks run in a fixed order and the first failure wins.
func CheckUpdatable(o Order) error {
	status := o.Status()
	if status == OrderStatusOrdered || status == OrderStatusShipped {
		return fmt.Errorf("%w: order %d is %s", ErrOrderNotUpdatable, o.ID, status)
	}
	if o.OrderDate != nil {
		return fmt.Errorf("%w: order %d", ErrOrderDateSet, o.ID)
	}
	if o.ShippedDate != nil {
		return fmt.Errorf("%w: order %d", ErrShippedDateSet, o.ID)
	}
	return nil
}

// CheckLines validates the line set written by Create and Update.
// Lines are keyed by product, so a product can appear once.
func CheckLines(o Order) error {
	if len(o.Lines) == 0 {
		return fmt.Errorf("%w: order %d", ErrOrderHasNoLines, o.ID)
	}
	seen := make(map[int32]struct{}, len(o.Lines))
	for _, line := range o.Lines {
		if _, dup := seen[line.Product.ID]; dup {
			return fmt.Errorf("%w: order %d, product %d", ErrDuplicateOrderLine, o.ID, line.Product.ID)
		}
		seen[line.Product.ID] = struct{}{}
	}
	return nil
}

// CheckDeletable rejects shipped orders.
func CheckDeletable(o Order) error {
	if o.Status() == OrderStatusShipped {
		return fmt.Errorf("%w: order %d", ErrOrderShipped, o.ID)
	}
	return nil
}

// CheckCanMarkOrdered allows New -> Ordered only.
func CheckCanMarkOrdered(o Order) error {
	if status := o.Status(); status != OrderStatusNew {
		return fmt.Errorf("%w: order %d is %s", ErrOrderNotNew, o.ID, status)
	}
	return nil
}

// CheckCanMarkShipped allows Ordered -> Shipped only.
func CheckCanMarkShipped(o Order) error {
	if status := o.Status(); status != OrderStatusOrdered {
		return fmt.Errorf("%w: order %d is %s", ErrOrderNotOrdered, o.ID, status)
	}
	return nil
}
