package domain

import "github.com/shopspring/decimal"

// CustomerProductTotal is one row of a customer's purchase history.
type CustomerProductTotal struct {
	ProductName string
	Total       int64
}

// CustomerOrderDetail is one priced line of an order.
type CustomerOrderDetail struct {
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int16
	// DiscountPercent is the discount as a whole percentage.
	DiscountPercent int32
	ExtendedPrice   decimal.Decimal
}

// NewCustomerOrderDetail prices a line: unit_price * quantity * (1 - discount), rounded to cents.
func NewCustomerOrderDetail(productName string, line OrderLine) CustomerOrderDetail {
	discount := decimal.NewFromFloat32(line.Discount)
	extended := line.UnitPrice.
		Mul(decimal.NewFromInt(int64(line.Quantity))).
		Mul(decimal.NewFromInt(1).Sub(discount)).
		Round(2)

	return CustomerOrderDetail{
		ProductName:     productName,
		UnitPrice:       line.UnitPrice,
		Quantity:        line.Quantity,
		DiscountPercent: int32(discount.Mul(decimal.NewFromInt(100)).IntPart()),
		ExtendedPrice:   extended,
	}
}
