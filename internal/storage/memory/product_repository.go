package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

type productRepository struct {
	store *Store
}

// NewProductRepository creates the in-memory product lookup.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{store: store}
}

func (r *productRepository) GetByID(_ context.Context, id int32) (domain.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.store.productLocked(id)
}

func (s *Store) productLocked(id int32) (domain.Product, error) {
	product, ok := s.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, domain.ErrProductNotFound)
	}
	return product, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
