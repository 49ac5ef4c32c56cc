package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

const orderColumns = `order_id, customer_id, employee_id, order_date, required_date, shipped_date,
	ship_via, freight, ship_name, ship_address, ship_city, ship_region, ship_postal_code, ship_country`

type orderRepository struct {
	db    *sql.DB
	clock domain.Clock
}

// NewOrderRepository creates the PostgreSQL order repository.
// A nil clock falls back to the system clock.
func NewOrderRepository(store *Store, clock domain.Clock) domain.OrderRepository {
	if clock == nil {
		clock = domain.SystemClock
	}
	return &orderRepository{db: store.DB(), clock: clock}
}

func (r *orderRepository) List(ctx context.Context) iter.Seq2[domain.Order, error] {
	return func(yield func(domain.Order, error) bool) {
		rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY order_id`)
		if err != nil {
			yield(domain.Order{}, storeError("list orders", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			order, err := scanOrder(rows)
			if err != nil {
				yield(domain.Order{}, storeError("scan order row", err))
				return
			}
			if !yield(order, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Order{}, storeError("iterate order rows", err))
		}
	}
}

func (r *orderRepository) GetByID(ctx context.Context, id int32) (domain.Order, error) {
	order, err := selectOrder(ctx, r.db, id, false)
	if err != nil {
		return domain.Order{}, err
	}

	lines, err := r.loadLines(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	// Products are resolved after the line cursor is closed.
	products := newProductRepository(r.db)
	for i := range lines {
		product, err := products.GetByID(ctx, lines[i].Product.ID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("resolve line product: %w", err)
		}
		lines[i].Product = product
	}
	order.Lines = lines

	return order.WithLinesOwned(), nil
}

// loadLines collects the line set. An order without lines yields ErrOrderLinesNotFound.
func (r *orderRepository) loadLines(ctx context.Context, orderID int32) ([]domain.OrderLine, error) {
	seq, err := newOrderLineRepository(r.db).ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.OrderLine, 0)
	for line, err := range seq {
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (r *orderRepository) Create(ctx context.Context, draft domain.Order) (domain.Order, error) {
	if err := domain.CheckLines(draft); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	draft.OrderDate = nil
	draft.ShippedDate = nil

	id, err := withTx(ctx, r.db, func(tx *sql.Tx) (int32, error) {
		var id int32
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO orders (
				customer_id, employee_id, required_date, ship_via, freight, ship_name,
				ship_address, ship_city, ship_region, ship_postal_code, ship_country
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING order_id
		`, headerArgs(draft)...).Scan(&id); err != nil {
			return 0, storeError("insert order", err)
		}

		draft.ID = id
		if err := newOrderLineRepository(tx).AddLines(ctx, draft); err != nil {
			return 0, err
		}
		if err := r.recordLifecycle(ctx, tx, domain.EventOrderCreated, draft); err != nil {
			return 0, err
		}
		return id, nil
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *orderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := domain.CheckUpdatable(order); err != nil {
		return domain.Order{}, err
	}
	if err := domain.CheckLines(order); err != nil {
		return domain.Order{}, err
	}

	_, err := withTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		stored, err := selectOrder(ctx, tx, order.ID, true)
		if err != nil {
			return struct{}{}, err
		}
		if err := domain.CheckUpdatable(stored); err != nil {
			return struct{}{}, err
		}

		args := append([]any{order.ID}, headerArgs(order)...)
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET customer_id = $2,
			    employee_id = $3,
			    required_date = $4,
			    ship_via = $5,
			    freight = $6,
			    ship_name = $7,
			    ship_address = $8,
			    ship_city = $9,
			    ship_region = $10,
			    ship_postal_code = $11,
			    ship_country = $12
			WHERE order_id = $1
		`, args...); err != nil {
			return struct{}{}, storeError("update order", err)
		}

		if err := newOrderLineRepository(tx).ReplaceLines(ctx, order); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, r.recordLifecycle(ctx, tx, domain.EventOrderUpdated, order)
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order %d: %w", order.ID, err)
	}

	return r.GetByID(ctx, order.ID)
}

func (r *orderRepository) Delete(ctx context.Context, order domain.Order) error {
	if err := domain.CheckDeletable(order); err != nil {
		return err
	}

	_, err := withTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		stored, err := selectOrder(ctx, tx, order.ID, true)
		if errors.Is(err, domain.ErrNotFound) {
			return struct{}{}, nil
		}
		if err != nil {
			return struct{}{}, err
		}
		if err := domain.CheckDeletable(stored); err != nil {
			return struct{}{}, err
		}

		if err := newOrderLineRepository(tx).DeleteLines(ctx, stored); err != nil {
			return struct{}{}, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE order_id = $1`, stored.ID); err != nil {
			return struct{}{}, storeError("delete order", err)
		}
		return struct{}{}, r.recordLifecycle(ctx, tx, domain.EventOrderDeleted, stored)
	})
	if err != nil {
		return fmt.Errorf("delete order %d: %w", order.ID, err)
	}
	return nil
}

func (r *orderRepository) MarkOrdered(ctx context.Context, order domain.Order) (domain.Order, error) {
	return r.markTransition(ctx, order, domain.CheckCanMarkOrdered, domain.EventOrderOrdered, "order_date",
		func(o *domain.Order, now time.Time) { o.OrderDate = &now })
}

func (r *orderRepository) MarkShipped(ctx context.Context, order domain.Order) (domain.Order, error) {
	return r.markTransition(ctx, order, domain.CheckCanMarkShipped, domain.EventOrderShipped, "shipped_date",
		func(o *domain.Order, now time.Time) { o.ShippedDate = &now })
}

// markTransition stamps one lifecycle date with the clock's "now".
// column is always one of the two fixed date columns.
func (r *orderRepository) markTransition(
	ctx context.Context,
	order domain.Order,
	guard func(domain.Order) error,
	event domain.EventType,
	column string,
	stamp func(*domain.Order, time.Time),
) (domain.Order, error) {
	if err := guard(order); err != nil {
		return domain.Order{}, err
	}
	now := r.clock.Now().UTC().Truncate(time.Microsecond)

	_, err := withTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		stored, err := selectOrder(ctx, tx, order.ID, true)
		if err != nil {
			return struct{}{}, err
		}
		if err := guard(stored); err != nil {
			return struct{}{}, err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET `+column+` = $2 WHERE order_id = $1`, order.ID, now,
		); err != nil {
			return struct{}{}, storeError("update "+column, err)
		}

		stamp(&stored, now)
		stored.Lines = order.Lines
		return struct{}{}, r.recordLifecycle(ctx, tx, event, stored)
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("%s order %d: %w", event, order.ID, err)
	}

	return r.GetByID(ctx, order.ID)
}

func (r *orderRepository) CustomerOrderHistory(ctx context.Context, customerID string) ([]domain.CustomerProductTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.product_name, SUM(d.quantity)
		FROM products p
		JOIN order_details d ON d.product_id = p.product_id
		JOIN orders o ON o.order_id = d.order_id
		WHERE o.customer_id = $1
		GROUP BY p.product_name
		ORDER BY p.product_name
	`, customerID)
	if err != nil {
		return nil, storeError("query customer order history", err)
	}
	defer rows.Close()

	history := make([]domain.CustomerProductTotal, 0)
	for rows.Next() {
		var row domain.CustomerProductTotal
		if err := rows.Scan(&row.ProductName, &row.Total); err != nil {
			return nil, storeError("scan customer order history", err)
		}
		history = append(history, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate customer order history", err)
	}

	return history, nil
}

func (r *orderRepository) CustomerOrderDetails(ctx context.Context, orderID int32) ([]domain.CustomerOrderDetail, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.product_name, d.unit_price, d.quantity, d.discount
		FROM order_details d
		JOIN products p ON p.product_id = d.product_id
		WHERE d.order_id = $1
		ORDER BY p.product_name
	`, orderID)
	if err != nil {
		return nil, storeError("query customer order details", err)
	}
	defer rows.Close()

	details := make([]domain.CustomerOrderDetail, 0)
	for rows.Next() {
		var (
			name string
			line domain.OrderLine
		)
		if err := rows.Scan(&name, &line.UnitPrice, &line.Quantity, &line.Discount); err != nil {
			return nil, storeError("scan customer order detail", err)
		}
		details = append(details, domain.NewCustomerOrderDetail(name, line))
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate customer order details", err)
	}
	if len(details) == 0 {
		return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrOrderLinesNotFound)
	}

	return details, nil
}

func (r *orderRepository) recordLifecycle(ctx context.Context, q querier, event domain.EventType, order domain.Order) error {
	record, err := domain.NewLifecycleRecord(event, order, r.clock.Now().UTC())
	if err != nil {
		return err
	}
	return appendLifecycle(ctx, q, record)
}

// selectOrder reads one order header; forUpdate locks the row until the transaction ends.
func selectOrder(ctx context.Context, q querier, id int32, forUpdate bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("order %d: %w", id, domain.ErrOrderNotFound)
		}
		return domain.Order{}, storeError("select order", err)
	}
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order       domain.Order
		customerID  sql.NullString
		employeeID  sql.NullInt32
		orderDate   sql.NullTime
		required    sql.NullTime
		shipped     sql.NullTime
		shipVia     sql.NullInt32
		freight     decimal.NullDecimal
		shipName    sql.NullString
		shipAddress sql.NullString
		shipCity    sql.NullString
		shipRegion  sql.NullString
		postalCode  sql.NullString
		shipCountry sql.NullString
	)

	if err := row.Scan(
		&order.ID, &customerID, &employeeID, &orderDate, &required, &shipped,
		&shipVia, &freight, &shipName, &shipAddress, &shipCity, &shipRegion, &postalCode, &shipCountry,
	); err != nil {
		return domain.Order{}, err
	}

	order.CustomerID = nullString(customerID)
	order.EmployeeID = nullInt32(employeeID)
	order.OrderDate = nullTime(orderDate)
	order.RequiredDate = nullTime(required)
	order.ShippedDate = nullTime(shipped)
	order.ShipVia = nullInt32(shipVia)
	order.Freight = nullDecimal(freight)
	order.ShipName = nullString(shipName)
	order.ShipAddress = nullString(shipAddress)
	order.ShipCity = nullString(shipCity)
	order.ShipRegion = nullString(shipRegion)
	order.ShipPostalCode = nullString(postalCode)
	order.ShipCountry = nullString(shipCountry)

	return order, nil
}

// headerArgs binds every mutable header column in table order, skipping the lifecycle dates.
func headerArgs(o domain.Order) []any {
	return []any{
		o.CustomerID, o.EmployeeID, o.RequiredDate, o.ShipVia, decimalArg(o.Freight), o.ShipName,
		o.ShipAddress, o.ShipCity, o.ShipRegion, o.ShipPostalCode, o.ShipCountry,
	}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
