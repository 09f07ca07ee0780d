// Package rollup computes the running-total adjustments kept on a customer
// record. The deltas are applied by the store backends inside the same
// transaction as the sale write that caused them.
package rollup

import (
	"time"

	"posledger/backend/internal/domain"
)

type Delta struct {
	SpentCents    int64
	PurchaseCount int64
	LastPurchase  *time.Time
}

// Increment is the rollup side effect of sale creation.
func Increment(totalCents int64, now time.Time) Delta {
	at := now.UTC()
	return Delta{SpentCents: totalCents, PurchaseCount: 1, LastPurchase: &at}
}

// Reversal undoes a sale's rollup on deletion. Item returns intentionally do
// not produce a reversal: a partially returned purchase stays in the
// customer's history.
func Reversal(sale domain.Sale) Delta {
	return Delta{SpentCents: -sale.TotalCents, PurchaseCount: -1}
}

// Apply folds a delta into the customer record. Totals are floored at zero:
// a reversal may run against rollups accumulated before the reversal policy
// existed.
func Apply(customer *domain.Customer, delta Delta) {
	customer.TotalSpentCents += delta.SpentCents
	if customer.TotalSpentCents < 0 {
		customer.TotalSpentCents = 0
	}
	customer.PurchaseCount += delta.PurchaseCount
	if customer.PurchaseCount < 0 {
		customer.PurchaseCount = 0
	}
	if delta.LastPurchase != nil {
		customer.LastPurchase = delta.LastPurchase
	}
}
