package memory

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

type orderRepository struct {
	store *Store
	clock domain.Clock
}

// NewOrderRepository creates the in-memory order repository.
// A nil clock falls back to the system clock.
func NewOrderRepository(store *Store, clock domain.Clock) domain.OrderRepository {
	if clock == nil {
		clock = domain.SystemClock
	}
	return &orderRepository{store: store, clock: clock}
}

// List snapshots the order ids at the start of every range and yields headers without lines.
func (r *orderRepository) List(_ context.Context) iter.Seq2[domain.Order, error] {
	return func(yield func(domain.Order, error) bool) {
		r.store.mu.RLock()
		ids := r.store.sortedOrderIDsLocked()
		r.store.mu.RUnlock()

		for _, id := range ids {
			r.store.mu.RLock()
			order, ok := r.store.orders[id]
			if ok {
				order = cloneHeader(order)
			}
			r.store.mu.RUnlock()

			// Deleted while iterating.
			if !ok {
				continue
			}
			if !yield(order, nil) {
				return
			}
		}
	}
}

func (r *orderRepository) GetByID(_ context.Context, id int32) (domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.store.orderLocked(id)
}

func (r *orderRepository) Create(_ context.Context, draft domain.Order) (domain.Order, error) {
	if err := domain.CheckLines(draft); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	header := cloneHeader(draft)
	header.OrderDate = nil
	header.ShippedDate = nil
	header.ID = r.store.nextID

	draft.ID = header.ID
	if err := r.store.addLinesLocked(draft); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	record, err := domain.NewLifecycleRecord(domain.EventOrderCreated, draftWithHeader(header, draft), r.clock.Now().UTC())
	if err != nil {
		delete(r.store.lines, header.ID)
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	r.store.nextID++
	r.store.orders[header.ID] = header
	r.store.appendLifecycleLocked(record)

	return r.store.orderLocked(header.ID)
}

func (r *orderRepository) Update(_ context.Context, order domain.Order) (domain.Order, error) {
	if err := domain.CheckUpdatable(order); err != nil {
		return domain.Order{}, err
	}
	if err := domain.CheckLines(order); err != nil {
		return domain.Order{}, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.orders[order.ID]
	if !ok {
		return domain.Order{}, fmt.Errorf("update order %d: %w", order.ID, domain.ErrOrderNotFound)
	}
	if err := domain.CheckUpdatable(stored); err != nil {
		return domain.Order{}, fmt.Errorf("update order %d: %w", order.ID, err)
	}

	record, err := domain.NewLifecycleRecord(domain.EventOrderUpdated, order, r.clock.Now().UTC())
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order %d: %w", order.ID, err)
	}
	if err := r.store.replaceLinesLocked(order); err != nil {
		return domain.Order{}, fmt.Errorf("update order %d: %w", order.ID, err)
	}

	header := cloneHeader(order)
	header.OrderDate = stored.OrderDate
	header.ShippedDate = stored.ShippedDate
	r.store.orders[order.ID] = header
	r.store.appendLifecycleLocked(record)

	return r.store.orderLocked(order.ID)
}

func (r *orderRepository) Delete(_ context.Context, order domain.Order) error {
	if err := domain.CheckDeletable(order); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.orders[order.ID]
	if !ok {
		return nil
	}
	if err := domain.CheckDeletable(stored); err != nil {
		return fmt.Errorf("delete order %d: %w", order.ID, err)
	}

	stored.Lines = r.store.lines[order.ID]
	record, err := domain.NewLifecycleRecord(domain.EventOrderDeleted, stored, r.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete order %d: %w", order.ID, err)
	}

	delete(r.store.lines, order.ID)
	delete(r.store.orders, order.ID)
	r.store.appendLifecycleLocked(record)
	return nil
}

func (r *orderRepository) MarkOrdered(_ context.Context, order domain.Order) (domain.Order, error) {
	return r.markTransition(order, domain.CheckCanMarkOrdered, domain.EventOrderOrdered,
		func(o *domain.Order, now time.Time) { o.OrderDate = &now })
}

func (r *orderRepository) MarkShipped(_ context.Context, order domain.Order) (domain.Order, error) {
	return r.markTransition(order, domain.CheckCanMarkShipped, domain.EventOrderShipped,
		func(o *domain.Order, now time.Time) { o.ShippedDate = &now })
}

func (r *orderRepository) markTransition(
	order domain.Order,
	guard func(domain.Order) error,
	event domain.EventType,
	stamp func(*domain.Order, time.Time),
) (domain.Order, error) {
	if err := guard(order); err != nil {
		return domain.Order{}, err
	}
	now := r.clock.Now().UTC()

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.orders[order.ID]
	if !ok {
		return domain.Order{}, fmt.Errorf("%s order %d: %w", event, order.ID, domain.ErrOrderNotFound)
	}
	if err := guard(stored); err != nil {
		return domain.Order{}, fmt.Errorf("%s order %d: %w", event, order.ID, err)
	}

	updated := cloneHeader(stored)
	stamp(&updated, now)

	record, err := domain.NewLifecycleRecord(event, draftWithHeader(updated, order), now)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%s order %d: %w", event, order.ID, err)
	}

	r.store.orders[order.ID] = updated
	r.store.appendLifecycleLocked(record)

	return r.store.orderLocked(order.ID)
}

func (r *orderRepository) CustomerOrderHistory(_ context.Context, customerID string) ([]domain.CustomerProductTotal, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	totals := make(map[string]int64)
	for id, order := range r.store.orders {
		if order.CustomerID == nil || *order.CustomerID != customerID {
			continue
		}
		for _, line := range r.store.lines[id] {
			totals[r.store.products[line.Product.ID].Name] += int64(line.Quantity)
		}
	}

	history := make([]domain.CustomerProductTotal, 0, len(totals))
	for name, total := range totals {
		history = append(history, domain.CustomerProductTotal{ProductName: name, Total: total})
	}
	slices.SortFunc(history, func(a, b domain.CustomerProductTotal) int {
		return cmp.Compare(a.ProductName, b.ProductName)
	})
	return history, nil
}

func (r *orderRepository) CustomerOrderDetails(_ context.Context, orderID int32) ([]domain.CustomerOrderDetail, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	lines := r.store.lines[orderID]
	if len(lines) == 0 {
		return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrOrderLinesNotFound)
	}

	details := make([]domain.CustomerOrderDetail, 0, len(lines))
	for _, line := range lines {
		details = append(details, domain.NewCustomerOrderDetail(r.store.products[line.Product.ID].Name, line))
	}
	slices.SortStableFunc(details, func(a, b domain.CustomerOrderDetail) int {
		return cmp.Compare(a.ProductName, b.ProductName)
	})
	return details, nil
}

// orderLocked assembles the full aggregate with resolved products. Caller holds mu.
// An order without lines is a lookup fault, same as in ListByOrderID.
func (s *Store) orderLocked(id int32) (domain.Order, error) {
	header, ok := s.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %d: %w", id, domain.ErrOrderNotFound)
	}
	if len(s.lines[id]) == 0 {
		return domain.Order{}, fmt.Errorf("order %d: %w", id, domain.ErrOrderLinesNotFound)
	}

	order := cloneHeader(header)
	order.Lines = make([]domain.OrderLine, 0, len(s.lines[id]))
	for _, line := range s.lines[id] {
		product, err := s.productLocked(line.Product.ID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("resolve line product: %w", err)
		}
		line.Product = product
		order.Lines = append(order.Lines, line)
	}
	return order.WithLinesOwned(), nil
}

// draftWithHeader pairs a stored header with the caller's lines for event payloads.
func draftWithHeader(header, withLines domain.Order) domain.Order {
	header.Lines = withLines.Lines
	return header
}

var _ domain.OrderRepository = (*orderRepository)(nil)
