package domain

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMapProductDefaultsAndCoercion(t *testing.T) {
	product, err := MapProduct("prod-1", map[string]any{
		"name":  "Kopi Sachet",
		"price": float64(2600),
	})
	if err != nil {
		t.Fatalf("map product: %v", err)
	}
	if product.ID != "prod-1" || product.Name != "Kopi Sachet" {
		t.Fatalf("unexpected product %+v", product)
	}
	if product.PriceCents != 2600 {
		t.Fatalf("float price must coerce to cents, got %d", product.PriceCents)
	}
	if product.Stock != 0 {
		t.Fatalf("missing stock must default to 0, got %d", product.Stock)
	}
	if product.LastSold != nil || product.Deleted {
		t.Fatalf("missing optionals must stay zero: %+v", product)
	}
}

func TestMapSaleDateRepresentations(t *testing.T) {
	want := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	cases := []struct {
		name string
		raw  any
	}{
		{"native time", want},
		{"driver datetime", primitive.NewDateTimeFromTime(want)},
		{"rfc3339 string", "2026-08-20T10:30:00Z"},
		{"epoch seconds", want.Unix()},
		{"epoch millis", want.UnixMilli()},
		{"epoch float", float64(want.Unix())},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sale, err := MapSale("sale-1", map[string]any{"date": tc.raw})
			if err != nil {
				t.Fatalf("map sale: %v", err)
			}
			if !sale.Date.Equal(want) {
				t.Fatalf("expected %s, got %s", want, sale.Date)
			}
		})
	}

	if _, err := MapSale("sale-1", map[string]any{"date": "not-a-date"}); err == nil {
		t.Fatal("unparseable date must be reported")
	}
	if _, err := MapSale("sale-1", map[string]any{"date": struct{}{}}); err == nil {
		t.Fatal("unknown date representation must be reported")
	}
}

func TestMapSaleDefaultsAndItems(t *testing.T) {
	sale, err := MapSale("sale-1", map[string]any{
		"items": []any{
			map[string]any{"productId": "prod-a", "name": "Product A", "price": int32(1000), "quantity": int64(2)},
		},
		"returns": primitive.A{
			primitive.M{"productId": "prod-a", "quantity": 1, "date": "2026-08-21T00:00:00Z"},
		},
		"subtotal": 2000,
		"total":    2000,
	})
	if err != nil {
		t.Fatalf("map sale: %v", err)
	}
	if sale.DiscountType != DiscountFixed {
		t.Fatalf("missing discountType must default to fixed, got %s", sale.DiscountType)
	}
	if sale.PaymentMethod != PaymentCash {
		t.Fatalf("missing paymentMethod must default to cash, got %s", sale.PaymentMethod)
	}
	if sale.Status != SaleCompleted {
		t.Fatalf("missing status must default to completed, got %s", sale.Status)
	}
	if len(sale.Items) != 1 || sale.Items[0].Qty != 2 || sale.Items[0].PriceCents != 1000 {
		t.Fatalf("unexpected items %+v", sale.Items)
	}
	if len(sale.Returns) != 1 || sale.Returns[0].Qty != 1 {
		t.Fatalf("unexpected returns %+v", sale.Returns)
	}
}

func TestSaleDocMapSaleRoundTrip(t *testing.T) {
	at := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	original := Sale{
		ID:            "sale-1",
		InvoiceNumber: "INV-260828-0001",
		Date:          at,
		Items: []SaleItem{
			{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 3},
		},
		SubtotalCents: 3000,
		Discount:      10,
		DiscountType:  DiscountPercentage,
		TotalCents:    2700,
		PaymentMethod: PaymentQRIS,
		Status:        SaleCompleted,
		Returns:       []ReturnEntry{{ProductID: "prod-a", Qty: 1, Date: at}},
		CustomerID:    "cust-1",
	}

	mapped, err := MapSale(original.ID, SaleDoc(original))
	if err != nil {
		t.Fatalf("map sale: %v", err)
	}
	if mapped.InvoiceNumber != original.InvoiceNumber ||
		mapped.TotalCents != original.TotalCents ||
		mapped.DiscountType != original.DiscountType ||
		mapped.CustomerID != original.CustomerID {
		t.Fatalf("round trip diverged: %+v", mapped)
	}
	if !mapped.Date.Equal(original.Date) {
		t.Fatalf("date diverged: %s vs %s", mapped.Date, original.Date)
	}
	if len(mapped.Returns) != 1 || mapped.Returns[0].Qty != 1 {
		t.Fatalf("returns diverged: %+v", mapped.Returns)
	}
}

func TestMapCustomer(t *testing.T) {
	customer, err := MapCustomer("cust-1", map[string]any{
		"name":          "Sari",
		"totalSpent":    int64(125000),
		"purchaseCount": 4,
		"lastPurchase":  "2026-08-01",
	})
	if err != nil {
		t.Fatalf("map customer: %v", err)
	}
	if customer.TotalSpentCents != 125000 || customer.PurchaseCount != 4 {
		t.Fatalf("unexpected rollup fields %+v", customer)
	}
	if customer.LastPurchase == nil || customer.LastPurchase.Format("2006-01-02") != "2026-08-01" {
		t.Fatalf("unexpected lastPurchase %v", customer.LastPurchase)
	}
}
