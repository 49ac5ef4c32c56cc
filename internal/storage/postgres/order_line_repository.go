package postgres

import (
	"context"
	"fmt"
	"iter"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

type orderLineRepository struct {
	db querier
}

// NewOrderLineRepository creates the PostgreSQL line repository bound to the pool.
func NewOrderLineRepository(store *Store) domain.OrderLineRepository {
	return newOrderLineRepository(store.DB())
}

// newOrderLineRepository binds the repository to a pool or to an open transaction.
func newOrderLineRepository(q querier) *orderLineRepository {
	return &orderLineRepository{db: q}
}

func (r *orderLineRepository) ListByOrderID(ctx context.Context, orderID int32) (iter.Seq2[domain.OrderLine, error], error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM order_details WHERE order_id = $1)`, orderID,
	).Scan(&exists); err != nil {
		return nil, storeError("check order lines", err)
	}
	if !exists {
		return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrOrderLinesNotFound)
	}

	return func(yield func(domain.OrderLine, error) bool) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT order_id, product_id, unit_price, quantity, discount
			FROM order_details
			WHERE order_id = $1
			ORDER BY product_id
		`, orderID)
		if err != nil {
			yield(domain.OrderLine{}, storeError("list order lines", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var line domain.OrderLine
			if err := rows.Scan(
				&line.OrderID, &line.Product.ID, &line.UnitPrice, &line.Quantity, &line.Discount,
			); err != nil {
				yield(domain.OrderLine{}, storeError("scan order line", err))
				return
			}
			if !yield(line, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.OrderLine{}, storeError("iterate order lines", err))
		}
	}, nil
}

func (r *orderLineRepository) AddLines(ctx context.Context, order domain.Order) error {
	for _, line := range order.Lines {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO order_details (order_id, product_id, unit_price, quantity, discount)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, line.Product.ID, line.UnitPrice, line.Quantity, line.Discount); err != nil {
			switch {
			case isForeignKeyViolation(err):
				return fmt.Errorf("insert line for product %d: %w", line.Product.ID, domain.ErrProductNotFound)
			case isUniqueViolation(err):
				return fmt.Errorf("insert line for product %d: %w", line.Product.ID, domain.ErrDuplicateOrderLine)
			}
			return storeError("insert order line", err)
		}
	}
	return nil
}

func (r *orderLineRepository) ReplaceLines(ctx context.Context, order domain.Order) error {
	if err := r.DeleteLines(ctx, order); err != nil {
		return err
	}
	return r.AddLines(ctx, order)
}

func (r *orderLineRepository) DeleteLines(ctx context.Context, order domain.Order) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM order_details WHERE order_id = $1`, order.ID); err != nil {
		return storeError("delete order lines", err)
	}
	return nil
}

var _ domain.OrderLineRepository = (*orderLineRepository)(nil)
