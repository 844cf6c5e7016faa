// Package pricing computes cart and order totals.
//
// The discount is applied and truncated to cents per line, never on the aggregate, so
// a cart total always equals the sum of its line totals.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/safar/go-cart-store/internal/models"
)

var hundred = decimal.NewFromInt(100)

// centPlaces is the precision of every stored amount (NUMERIC(12,2)).
const centPlaces = 2

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
	Discount  int
}

type Totals struct {
	SubTotal decimal.Decimal
	Total    decimal.Decimal
}

// LineSubTotal is price × quantity.
func LineSubTotal(l Line) decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineTotal is price × quantity × (1 − discount/100), truncated to whole
// cents.
func LineTotal(l Line) decimal.Decimal {
	pct := decimal.NewFromInt(int64(100 - clampDiscount(l.Discount)))
	return LineSubTotal(l).Mul(pct).Div(hundred).RoundFloor(centPlaces)
}

func Calculate(lines []Line) Totals {
	totals := Totals{SubTotal: decimal.Zero, Total: decimal.Zero}
	for _, l := range lines {
		totals.SubTotal = totals.SubTotal.Add(LineSubTotal(l))
		totals.Total = totals.Total.Add(LineTotal(l))
	}
	return totals
}

func clampDiscount(d int) int {
	switch {
	case d < 0:
		return 0
	case d > 100:
		return 100
	}
	return d
}

func CartLines(items []models.CartItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, Line{
			UnitPrice: it.Product.Price,
			Quantity:  it.Quantity,
			Discount:  it.Product.Discount,
		})
	}
	return lines
}

// Recalculate recomputes the cart totals from scratch.
func Recalculate(cart *models.Cart) {
	totals := Calculate(CartLines(cart.Items))
	cart.SubTotal = totals.SubTotal
	cart.Total = totals.Total
}
