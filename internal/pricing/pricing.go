// Package pricing derives every monetary figure of a cart line. All functions
// are pure and assume their inputs were validated by the caller.
package pricing

import (
	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

func Subtotal(unitPrice int64, quantity int) int64 {
	return unitPrice * int64(quantity)
}

// DiscountAmount is subtotal*percent/100 rounded half away from zero.
func DiscountAmount(subtotal int64, percent float64) int64 {
	if percent == 0 || subtotal == 0 {
		return 0
	}
	return decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromFloat(percent)).
		Div(hundred).
		Round(0).
		IntPart()
}

// Total never goes below zero.
func Total(item domain.LineItem) int64 {
	total := item.Subtotal + item.ServiceCharge + item.MiscAmount -
		DiscountAmount(item.Subtotal, item.DiscountPercent) - item.PromoAmount
	if total < 0 {
		return 0
	}
	return total
}

// Recompute refreshes subtotal and total from the item's own fields.
func Recompute(item domain.LineItem) domain.LineItem {
	item.Subtotal = Subtotal(item.UnitPrice, item.Quantity)
	item.Total = Total(item)
	return item
}

// Aggregate sums only active items.
func Aggregate(items []domain.LineItem) domain.Totals {
	var totals domain.Totals
	for _, item := range items {
		if !item.IsActive() {
			continue
		}
		totals.Subtotal += item.Subtotal
		totals.Misc += item.MiscAmount
		totals.ServiceCharge += item.ServiceCharge
		totals.Discount += DiscountAmount(item.Subtotal, item.DiscountPercent)
		totals.Promo += item.PromoAmount
		totals.Total += item.Total
		totals.ItemCount++
	}
	return totals
}
