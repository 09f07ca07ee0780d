package rollup

import (
	"testing"
	"time"

	"posledger/backend/internal/domain"
)

func TestIncrementThenReversalRestoresCustomer(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	customer := domain.Customer{ID: "cust-1", Name: "Budi"}

	Apply(&customer, Increment(25000, now))
	if customer.TotalSpentCents != 25000 || customer.PurchaseCount != 1 {
		t.Fatalf("unexpected rollup %+v", customer)
	}
	if customer.LastPurchase == nil || !customer.LastPurchase.Equal(now) {
		t.Fatalf("unexpected lastPurchase %v", customer.LastPurchase)
	}

	sale := domain.Sale{TotalCents: 25000, CustomerID: "cust-1"}
	Apply(&customer, Reversal(sale))
	if customer.TotalSpentCents != 0 || customer.PurchaseCount != 0 {
		t.Fatalf("reversal must restore the counters, got %+v", customer)
	}
	if customer.LastPurchase == nil {
		t.Fatal("reversal must not clear lastPurchase")
	}
}

func TestApplyFloorsAtZero(t *testing.T) {
	customer := domain.Customer{TotalSpentCents: 1000, PurchaseCount: 1}
	Apply(&customer, Reversal(domain.Sale{TotalCents: 99999}))
	if customer.TotalSpentCents != 0 || customer.PurchaseCount != 0 {
		t.Fatalf("counters must floor at zero, got %+v", customer)
	}
}
