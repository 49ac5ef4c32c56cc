package memory

import (
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

// Store keeps all tables in memory behind a single lock, so every
// repository call is atomic. Used for local development and tests.
type Store struct {
	mu       sync.RWMutex
	nextID   int32
	orders   map[int32]domain.Order
	lines    map[int32][]domain.OrderLine
	products map[int32]domain.Product
	timeline []domain.TimelineEvent
	outbox   []pendingMessage
}

// NewStore creates an empty store with the given product catalogue.
func NewStore(products ...domain.Product) *Store {
	s := &Store{
		nextID:   1,
		orders:   make(map[int32]domain.Order),
		lines:    make(map[int32][]domain.OrderLine),
		products: make(map[int32]domain.Product, len(products)),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// NewSeededStore creates a store preloaded with the Northwind catalogue head.
func NewSeededStore() *Store {
	return NewStore(SeedProducts()...)
}

// SeedProducts mirrors the products seeded by the PostgreSQL migrations.
func SeedProducts() []domain.Product {
	p := func(id int32, name string, supplier, category int32, perUnit, price string, stock, onOrder, reorder int16, discontinued bool) domain.Product {
		return domain.Product{
			ID:              id,
			Name:            name,
			SupplierID:      lo.ToPtr(supplier),
			CategoryID:      lo.ToPtr(category),
			QuantityPerUnit: lo.ToPtr(perUnit),
			UnitPrice:       lo.ToPtr(decimal.RequireFromString(price)),
			UnitsInStock:    lo.ToPtr(stock),
			UnitsOnOrder:    lo.ToPtr(onOrder),
			ReorderLevel:    lo.ToPtr(reorder),
			Discontinued:    discontinued,
		}
	}

	return []domain.Product{
		p(1, "Chai", 1, 1, "10 boxes x 20 bags", "18.00", 39, 0, 10, false),
		p(2, "Chang", 1, 1, "24 - 12 oz bottles", "19.00", 17, 40, 25, false),
		p(3, "Aniseed Syrup", 1, 2, "12 - 550 ml bottles", "10.00", 13, 70, 25, false),
		p(4, "Chef Anton's Cajun Seasoning", 2, 2, "48 - 6 oz jars", "22.00", 53, 0, 0, false),
		p(5, "Chef Anton's Gumbo Mix", 2, 2, "36 boxes", "21.35", 0, 0, 0, true),
		p(6, "Grandma's Boysenberry Spread", 3, 2, "12 - 8 oz jars", "25.00", 120, 0, 25, false),
		p(7, "Uncle Bob's Organic Dried Pears", 3, 7, "12 - 1 lb pkgs.", "30.00", 15, 0, 10, false),
		p(8, "Northwoods Cranberry Sauce", 3, 2, "12 - 12 oz jars", "40.00", 6, 0, 0, false),
		p(9, "Mishi Kobe Niku", 4, 6, "18 - 500 g pkgs.", "97.00", 29, 0, 0, true),
		p(10, "Ikura", 4, 8, "12 - 200 ml jars", "31.00", 31, 0, 0, false),
		p(11, "Queso Cabrales", 5, 4, "1 kg pkg.", "21.00", 22, 30, 30, false),
		p(12, "Queso Manchego La Pastora", 5, 4, "10 - 500 g pkgs.", "38.00", 86, 0, 0, false),
	}
}

// appendLifecycleLocked records the timeline entry and outbox message. Caller holds mu.
func (s *Store) appendLifecycleLocked(record domain.LifecycleRecord) {
	s.timeline = append(s.timeline, record.Timeline)
	s.outbox = append(s.outbox, pendingMessage{
		msg:        record.Outbox,
		enqueuedAt: record.Timeline.Occurred,
	})
}

func (s *Store) sortedOrderIDsLocked() []int32 {
	ids := make([]int32, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return lo.ToPtr(*p)
}

// cloneHeader copies the order header without lines, detaching every pointer field.
func cloneHeader(o domain.Order) domain.Order {
	return domain.Order{
		ID:             o.ID,
		CustomerID:     clonePtr(o.CustomerID),
		EmployeeID:     clonePtr(o.EmployeeID),
		OrderDate:      clonePtr(o.OrderDate),
		RequiredDate:   clonePtr(o.RequiredDate),
		ShippedDate:    clonePtr(o.ShippedDate),
		ShipVia:        clonePtr(o.ShipVia),
		Freight:        clonePtr(o.Freight),
		ShipName:       clonePtr(o.ShipName),
		ShipAddress:    clonePtr(o.ShipAddress),
		ShipCity:       clonePtr(o.ShipCity),
		ShipRegion:     clonePtr(o.ShipRegion),
		ShipPostalCode: clonePtr(o.ShipPostalCode),
		ShipCountry:    clonePtr(o.ShipCountry),
	}
}
