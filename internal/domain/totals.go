package domain

import (
	"fmt"
	"math"
	"time"
)

// DiscountAmountCents resolves the discount value against a subtotal. A fixed
// discount is already in cents; a percentage discount is taken off the
// subtotal. The result is clamped to [0, subtotal].
func DiscountAmountCents(subtotal int64, discount float64, discountType DiscountType) int64 {
	var amount int64
	switch discountType {
	case DiscountPercentage:
		amount = int64(math.Round(float64(subtotal) * discount / 100))
	default:
		amount = int64(math.Round(discount))
	}
	if amount < 0 {
		amount = 0
	}
	if amount > subtotal {
		amount = subtotal
	}
	return amount
}

func TaxAmountCents(subtotal int64, taxRatePercent float64) int64 {
	return int64(math.Round(float64(subtotal) * taxRatePercent / 100))
}

// ComputeTotals fills SubtotalCents and TotalCents from the sale's own items,
// discount and tax: total = subtotal - discountAmount + taxAmount.
func ComputeTotals(sale *Sale) {
	subtotal := int64(0)
	for _, item := range sale.Items {
		subtotal += item.PriceCents * int64(item.Qty)
	}
	sale.SubtotalCents = subtotal
	discountAmount := DiscountAmountCents(subtotal, sale.Discount, sale.DiscountType)
	sale.TotalCents = subtotal - discountAmount + TaxAmountCents(subtotal, sale.TaxRatePercent)
}

// FormatInvoiceNumber builds INV-YYMMDD-NNNN from a sale date and the per-day
// sequence allocated by the store inside the sale transaction.
func FormatInvoiceNumber(date time.Time, seq int64) string {
	return fmt.Sprintf("INV-%s-%04d", date.UTC().Format("060102"), seq)
}
