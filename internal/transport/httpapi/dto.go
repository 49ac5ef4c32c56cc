package httpapi

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

type orderLineRequest struct {
	ProductID int32           `json:"product_id" binding:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int16           `json:"quantity" binding:"required,gt=0"`
	Discount  float32         `json:"discount" binding:"gte=0,lte=1"`
}

// orderRequest is the body of POST /orders and PUT /orders/:id.
// Lifecycle dates are accepted so that the domain guards can reject them.
type orderRequest struct {
	CustomerID     *string            `json:"customer_id" binding:"omitempty,max=5"`
	EmployeeID     *int32             `json:"employee_id"`
	OrderDate      *time.Time         `json:"order_date"`
	RequiredDate   *time.Time         `json:"required_date"`
	ShippedDate    *time.Time         `json:"shipped_date"`
	ShipVia        *int32             `json:"ship_via"`
	Freight        *decimal.Decimal   `json:"freight"`
	ShipName       *string            `json:"ship_name" binding:"omitempty,max=40"`
	ShipAddress    *string            `json:"ship_address" binding:"omitempty,max=60"`
	ShipCity       *string            `json:"ship_city" binding:"omitempty,max=15"`
	ShipRegion     *string            `json:"ship_region" binding:"omitempty,max=15"`
	ShipPostalCode *string            `json:"ship_postal_code" binding:"omitempty,max=10"`
	ShipCountry    *string            `json:"ship_country" binding:"omitempty,max=15"`
	Lines          []orderLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// validateAmounts covers the decimal fields the binding tags cannot reach.
func (r orderRequest) validateAmounts() string {
	if r.Freight != nil && r.Freight.IsNegative() {
		return "freight must not be negative"
	}
	for _, line := range r.Lines {
		if line.UnitPrice.IsNegative() {
			return "unit_price must not be negative"
		}
	}
	return ""
}

func (r orderRequest) toDomain(id int32) domain.Order {
	return domain.Order{
		ID:             id,
		CustomerID:     r.CustomerID,
		EmployeeID:     r.EmployeeID,
		OrderDate:      r.OrderDate,
		RequiredDate:   r.RequiredDate,
		ShippedDate:    r.ShippedDate,
		ShipVia:        r.ShipVia,
		Freight:        r.Freight,
		ShipName:       r.ShipName,
		ShipAddress:    r.ShipAddress,
		ShipCity:       r.ShipCity,
		ShipRegion:     r.ShipRegion,
		ShipPostalCode: r.ShipPostalCode,
		ShipCountry:    r.ShipCountry,
		Lines: lo.Map(r.Lines, func(l orderLineRequest, _ int) domain.OrderLine {
			return domain.OrderLine{
				OrderID:   id,
				Product:   domain.Product{ID: l.ProductID},
				UnitPrice: l.UnitPrice,
				Quantity:  l.Quantity,
				Discount:  l.Discount,
			}
		}),
	}
}

type productResponse struct {
	ID              int32            `json:"id"`
	Name            string           `json:"name,omitempty"`
	SupplierID      *int32           `json:"supplier_id,omitempty"`
	CategoryID      *int32           `json:"category_id,omitempty"`
	QuantityPerUnit *string          `json:"quantity_per_unit,omitempty"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	UnitsInStock    *int16           `json:"units_in_stock,omitempty"`
	UnitsOnOrder    *int16           `json:"units_on_order,omitempty"`
	ReorderLevel    *int16           `json:"reorder_level,omitempty"`
	Discontinued    bool             `json:"discontinued"`
}

type orderLineResponse struct {
	OrderID   int32           `json:"order_id"`
	Product   productResponse `json:"product"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int16           `json:"quantity"`
	Discount  float32         `json:"discount"`
}

type orderResponse struct {
	ID             int32               `json:"id"`
	Status         domain.OrderStatus  `json:"status"`
	CustomerID     *string             `json:"customer_id"`
	EmployeeID     *int32              `json:"employee_id"`
	OrderDate      *time.Time          `json:"order_date"`
	RequiredDate   *time.Time          `json:"required_date"`
	ShippedDate    *time.Time          `json:"shipped_date"`
	ShipVia        *int32              `json:"ship_via"`
	Freight        *decimal.Decimal    `json:"freight"`
	ShipName       *string             `json:"ship_name"`
	ShipAddress    *string             `json:"ship_address"`
	ShipCity       *string             `json:"ship_city"`
	ShipRegion     *string             `json:"ship_region"`
	ShipPostalCode *string             `json:"ship_postal_code"`
	ShipCountry    *string             `json:"ship_country"`
	Lines          []orderLineResponse `json:"lines,omitempty"`
}

type timelineEventResponse struct {
	Type     domain.EventType `json:"type"`
	Reason   string           `json:"reason"`
	Occurred time.Time        `json:"occurred"`
}

type historyRowResponse struct {
	ProductName string `json:"product_name"`
	Total       int64  `json:"total"`
}

type detailRowResponse struct {
	ProductName     string          `json:"product_name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        int16           `json:"quantity"`
	DiscountPercent int32           `json:"discount_percent"`
	ExtendedPrice   decimal.Decimal `json:"extended_price"`
}

func newProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:              p.ID,
		Name:            p.Name,
		SupplierID:      p.SupplierID,
		CategoryID:      p.CategoryID,
		QuantityPerUnit: p.QuantityPerUnit,
		UnitPrice:       p.UnitPrice,
		UnitsInStock:    p.UnitsInStock,
		UnitsOnOrder:    p.UnitsOnOrder,
		ReorderLevel:    p.ReorderLevel,
		Discontinued:    p.Discontinued,
	}
}

func newOrderLineResponse(l domain.OrderLine, _ int) orderLineResponse {
	return orderLineResponse{
		OrderID:   l.OrderID,
		Product:   newProductResponse(l.Product),
		UnitPrice: l.UnitPrice,
		Quantity:  l.Quantity,
		Discount:  l.Discount,
	}
}

func newOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		Status:         o.Status(),
		CustomerID:     o.CustomerID,
		EmployeeID:     o.EmployeeID,
		OrderDate:      o.OrderDate,
		RequiredDate:   o.RequiredDate,
		ShippedDate:    o.ShippedDate,
		ShipVia:        o.ShipVia,
		Freight:        o.Freight,
		ShipName:       o.ShipName,
		ShipAddress:    o.ShipAddress,
		ShipCity:       o.ShipCity,
		ShipRegion:     o.ShipRegion,
		ShipPostalCode: o.ShipPostalCode,
		ShipCountry:    o.ShipCountry,
		Lines:          lo.Map(o.Lines, newOrderLineResponse),
	}
}
