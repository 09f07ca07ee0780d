// Package ledger owns the stock-movement arithmetic for the product ledger.
// It plans reservations and releases as signed per-product deltas; the store
// backends apply the deltas inside the caller's transaction, so the ledger
// itself never commits anything.
package ledger

import "posledger/backend/internal/domain"

type Item struct {
	ProductID string
	Qty       int
}

// Delta is a planned stock movement for one product. Qty is negative for a
// reservation and positive for a release. Sold tracks the totalSold bump that
// accompanies a reservation.
type Delta struct {
	ProductID string
	Qty       int
	Sold      int64
}

// StockView reports the current stock for a product, or false when the
// product does not exist (or is soft-deleted).
type StockView func(productID string) (int, bool)

// Plan validates a reservation against the given stock view. If any item's
// quantity exceeds current stock the entire reservation fails; no partial
// plan is ever returned.
func Plan(items []Item, stock StockView) ([]Delta, error) {
	requested := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := requested[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		requested[item.ProductID] += item.Qty
	}

	deltas := make([]Delta, 0, len(order))
	for _, productID := range order {
		qty := requested[productID]
		available, exists := stock(productID)
		if !exists {
			return nil, &domain.ProductNotFoundError{ProductID: productID}
		}
		if qty > available {
			return nil, &domain.InsufficientStockError{
				ProductID: productID,
				Requested: qty,
				Available: available,
			}
		}
		deltas = append(deltas, Delta{ProductID: productID, Qty: -qty, Sold: int64(qty)})
	}
	return deltas, nil
}

// Release plans the inverse movement for delete/return flows. Stock has no
// upper bound so a release never fails.
func Release(items []Item) []Delta {
	released := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if item.Qty < 1 {
			continue
		}
		if _, seen := released[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		released[item.ProductID] += item.Qty
	}

	deltas := make([]Delta, 0, len(order))
	for _, productID := range order {
		deltas = append(deltas, Delta{ProductID: productID, Qty: released[productID]})
	}
	return deltas
}

// Diff compares the per-product quantities of two item lists and returns the
// additional reservation needed (positive Qty) or release owed (negative Qty)
// to move from old to new.
func Diff(old []domain.SaleItem, updated []domain.SaleItem) []Item {
	oldQty := make(map[string]int, len(old))
	for _, item := range old {
		oldQty[item.ProductID] += item.Qty
	}
	newQty := make(map[string]int, len(updated))
	seen := make(map[string]struct{}, len(updated)+len(old))
	order := make([]string, 0, len(updated)+len(old))
	for _, item := range updated {
		if _, ok := seen[item.ProductID]; !ok {
			seen[item.ProductID] = struct{}{}
			order = append(order, item.ProductID)
		}
		newQty[item.ProductID] += item.Qty
	}
	for _, item := range old {
		if _, ok := seen[item.ProductID]; !ok {
			seen[item.ProductID] = struct{}{}
			order = append(order, item.ProductID)
		}
	}

	diffs := make([]Item, 0, len(order))
	for _, productID := range order {
		delta := newQty[productID] - oldQty[productID]
		if delta == 0 {
			continue
		}
		diffs = append(diffs, Item{ProductID: productID, Qty: delta})
	}
	return diffs
}
