package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

var testTime = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func TestSeedProducts(t *testing.T) {
	products := SeedProducts()

	assert.Len(t, products, 12)
	for i, p := range products {
		assert.Equal(t, int32(i+1), p.ID)
		assert.NotEmpty(t, p.Name)
		assert.NotNil(t, p.UnitPrice)
	}
}

func TestCloneHeader_DetachesPointers(t *testing.T) {
	city := "Reims"
	src := NewSeededStore()
	src.orders[1] = cloneHeader(domain.Order{ID: 1, ShipCity: &city})

	city = "Paris"
	assert.Equal(t, "Reims", *src.orders[1].ShipCity)
	assert.Nil(t, src.orders[1].OrderDate)
}
