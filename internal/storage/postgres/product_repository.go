package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

type productRepository struct {
	db querier
}

// NewProductRepository creates the PostgreSQL product lookup.
func NewProductRepository(store *Store) domain.ProductRepository {
	return newProductRepository(store.DB())
}

func newProductRepository(q querier) *productRepository {
	return &productRepository{db: q}
}

func (r *productRepository) GetByID(ctx context.Context, id int32) (domain.Product, error) {
	var (
		product   domain.Product
		supplier  sql.NullInt32
		category  sql.NullInt32
		perUnit   sql.NullString
		unitPrice decimal.NullDecimal
		inStock   sql.NullInt16
		onOrder   sql.NullInt16
		reorder   sql.NullInt16
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, product_name, supplier_id, category_id, quantity_per_unit,
		       unit_price, units_in_stock, units_on_order, reorder_level, discontinued
		FROM products
		WHERE product_id = $1
	`, id).Scan(
		&product.ID, &product.Name, &supplier, &category, &perUnit,
		&unitPrice, &inStock, &onOrder, &reorder, &product.Discontinued,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, fmt.Errorf("product %d: %w", id, domain.ErrProductNotFound)
		}
		return domain.Product{}, storeError("select product", err)
	}

	product.SupplierID = nullInt32(supplier)
	product.CategoryID = nullInt32(category)
	product.QuantityPerUnit = nullString(perUnit)
	product.UnitPrice = nullDecimal(unitPrice)
	product.UnitsInStock = nullInt16(inStock)
	product.UnitsOnOrder = nullInt16(onOrder)
	product.ReorderLevel = nullInt16(reorder)

	return product, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
