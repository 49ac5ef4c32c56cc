package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

type orderLineRepository struct {
	store *Store
}

// NewOrderLineRepository creates the in-memory line repository.
func NewOrderLineRepository(store *Store) domain.OrderLineRepository {
	return &orderLineRepository{store: store}
}

func (r *orderLineRepository) ListByOrderID(_ context.Context, orderID int32) (iter.Seq2[domain.OrderLine, error], error) {
	r.store.mu.RLock()
	found := len(r.store.lines[orderID]) > 0
	r.store.mu.RUnlock()

	if !found {
		return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrOrderLinesNotFound)
	}

	return func(yield func(domain.OrderLine, error) bool) {
		r.store.mu.RLock()
		lines := slices.Clone(r.store.lines[orderID])
		r.store.mu.RUnlock()

		for _, line := range lines {
			if !yield(line, nil) {
				return
			}
		}
	}, nil
}

func (r *orderLineRepository) AddLines(_ context.Context, order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.addLinesLocked(order)
}

func (r *orderLineRepository) ReplaceLines(_ context.Context, order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.replaceLinesLocked(order)
}

func (r *orderLineRepository) DeleteLines(_ context.Context, order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	delete(r.store.lines, order.ID)
	return nil
}

// addLinesLocked validates every product before touching the line set.
// (order, product) is the line key, as in the order_details primary key.
func (s *Store) addLinesLocked(order domain.Order) error {
	taken := make(map[int32]struct{}, len(s.lines[order.ID])+len(order.Lines))
	for _, line := range s.lines[order.ID] {
		taken[line.Product.ID] = struct{}{}
	}
	for _, line := range order.Lines {
		if _, ok := s.products[line.Product.ID]; !ok {
			return fmt.Errorf("insert line for product %d: %w", line.Product.ID, domain.ErrProductNotFound)
		}
		if _, dup := taken[line.Product.ID]; dup {
			return fmt.Errorf("insert line for product %d: %w", line.Product.ID, domain.ErrDuplicateOrderLine)
		}
		taken[line.Product.ID] = struct{}{}
	}

	lines := slices.Clone(s.lines[order.ID])
	for _, line := range order.Lines {
		lines = append(lines, domain.OrderLine{
			OrderID:   order.ID,
			Product:   domain.Product{ID: line.Product.ID},
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Discount:  line.Discount,
		})
	}
	if len(lines) == 0 {
		return nil
	}
	slices.SortStableFunc(lines, func(a, b domain.OrderLine) int {
		return int(a.Product.ID) - int(b.Product.ID)
	})
	s.lines[order.ID] = lines
	return nil
}

// replaceLinesLocked restores the previous line set when the new one is rejected.
func (s *Store) replaceLinesLocked(order domain.Order) error {
	previous, had := s.lines[order.ID]
	delete(s.lines, order.ID)
	if err := s.addLinesLocked(order); err != nil {
		if had {
			s.lines[order.ID] = previous
		}
		return err
	}
	return nil
}

var _ domain.OrderLineRepository = (*orderLineRepository)(nil)
