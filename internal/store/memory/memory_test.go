package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	ctx := context.Background()

	seed := []domain.Product{
		{ID: "prod-a", Name: "Product A", Category: "grocery", PriceCents: 1000, Stock: 10},
		{ID: "prod-b", Name: "Product B", Category: "grocery", PriceCents: 2500, Stock: 3},
		{ID: "prod-c", Name: "Product C", Category: "beverage", PriceCents: 500, Stock: 0},
	}
	for _, p := range seed {
		if _, err := s.CreateProduct(ctx, p); err != nil {
			t.Fatalf("seed product %s: %v", p.ID, err)
		}
	}
	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "cust-1", Name: "Budi"}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return s
}

func draftSale(items ...domain.SaleItem) domain.Sale {
	sale := domain.Sale{
		Items:         items,
		PaymentMethod: domain.PaymentCash,
		DiscountType:  domain.DiscountFixed,
	}
	for _, item := range items {
		sale.SubtotalCents += item.PriceCents * int64(item.Qty)
	}
	sale.TotalCents = sale.SubtotalCents
	return sale
}

func TestCreateSaleDecrementsStockAndRollsUpCustomer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sale := draftSale(
		domain.SaleItem{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 4},
		domain.SaleItem{ProductID: "prod-b", Name: "Product B", PriceCents: 2500, Qty: 2},
	)
	sale.CustomerID = "cust-1"

	created, err := s.CreateSale(ctx, sale)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if created.Status != domain.SaleCompleted {
		t.Fatalf("expected completed status, got %s", created.Status)
	}
	if !strings.HasPrefix(created.InvoiceNumber, "INV-") {
		t.Fatalf("unexpected invoice number %q", created.InvoiceNumber)
	}

	productA, err := s.GetProduct(ctx, "prod-a")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if productA.Stock != 6 {
		t.Fatalf("expected stock 6, got %d", productA.Stock)
	}
	if productA.TotalSold != 4 {
		t.Fatalf("expected totalSold 4, got %d", productA.TotalSold)
	}
	if productA.LastSold == nil {
		t.Fatal("expected lastSold to be set")
	}

	customer, err := s.GetCustomer(ctx, "cust-1")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if customer.TotalSpentCents != created.TotalCents {
		t.Fatalf("expected totalSpent %d, got %d", created.TotalCents, customer.TotalSpentCents)
	}
	if customer.PurchaseCount != 1 {
		t.Fatalf("expected purchaseCount 1, got %d", customer.PurchaseCount)
	}
	if customer.LastPurchase == nil {
		t.Fatal("expected lastPurchase to be set")
	}
}

func TestCreateSaleInsufficientStockLeavesStateUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sale := draftSale(
		domain.SaleItem{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 2},
		domain.SaleItem{ProductID: "prod-b", Name: "Product B", PriceCents: 2500, Qty: 4},
	)

	_, err := s.CreateSale(ctx, sale)
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.ProductID != "prod-b" || insufficient.Available != 3 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}

	productA, _ := s.GetProduct(ctx, "prod-a")
	if productA.Stock != 10 {
		t.Fatalf("stock of prod-a should be untouched, got %d", productA.Stock)
	}
	sales, _ := s.ListSales(ctx)
	if len(sales) != 0 {
		t.Fatalf("no sale should have been recorded, got %d", len(sales))
	}
}

func TestCreateSaleDuplicateLineItemsAggregated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sale := draftSale(
		domain.SaleItem{ProductID: "prod-b", Name: "Product B", PriceCents: 2500, Qty: 2},
		domain.SaleItem{ProductID: "prod-b", Name: "Product B", PriceCents: 2500, Qty: 2},
	)

	_, err := s.CreateSale(ctx, sale)
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError for aggregated qty 4, got %v", err)
	}
	if insufficient.Requested != 4 {
		t.Fatalf("expected aggregated requested 4, got %d", insufficient.Requested)
	}
}

func TestInvoiceNumbersMonotonicPerDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateSale(ctx, draftSale(domain.SaleItem{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 1}))
	if err != nil {
		t.Fatalf("first sale: %v", err)
	}
	second, err := s.CreateSale(ctx, draftSale(domain.SaleItem{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 1}))
	if err != nil {
		t.Fatalf("second sale: %v", err)
	}

	day := time.Now().UTC().Format("060102")
	if first.InvoiceNumber != "INV-"+day+"-0001" {
		t.Fatalf("unexpected first invoice %q", first.InvoiceNumber)
	}
	if second.InvoiceNumber != "INV-"+day+"-0002" {
		t.Fatalf("unexpected second invoice %q", second.InvoiceNumber)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale := draftSale(domain.SaleItem{ProductID: "prod-b", Name: "Product B", PriceCents: 2500, Qty: 1})
			if _, err := s.CreateSale(ctx, sale); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	var won int
	for range successes {
		won++
	}
	if won != 3 {
		t.Fatalf("expected exactly 3 sales to win the 3 units, got %d", won)
	}
	product, _ := s.GetProduct(ctx, "prod-b")
	if product.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", product.Stock)
	}
}

func TestUpdateSaleAppliesQuantityDiff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSale(ctx, draftSale(domain.SaleItem{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 4}))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	updated := *created
	updated.Items = []domain.SaleItem{{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 2}}
	updated.SubtotalCents = 2000
	updated.TotalCents = 2000
	if _, err := s.UpdateSale(ctx, updated); err != nil {
		t.Fatalf("update sale: %v", err)
	}

	product, _ := s.GetProduct(ctx, "prod-a")
	if product.Stock != 8 {
		t.Fatalf("expected 2 units released back to reach stock 8, got %d", product.Stock)
	}

	// Raising the quantity beyond remaining stock must fail atomically.
	updated.Items = []domain.SaleItem{{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 20}}
	_, err = s.UpdateSale(ctx, updated)
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	product, _ = s.GetProduct(ctx, "prod-a")
	if product.Stock != 8 {
		t.Fatalf("failed update must not change stock, got %d", product.Stock)
	}
}

func TestDeleteSaleReleasesRemainingStockAndReversesRollup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sale := draftSale(domain.SaleItem{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 5})
	sale.CustomerID = "cust-1"
	created, err := s.CreateSale(ctx, sale)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if _, err := s.AppendReturn(ctx, created.ID, "prod-a", 2, time.Now()); err != nil {
		t.Fatalf("append return: %v", err)
	}
	product, _ := s.GetProduct(ctx, "prod-a")
	if product.Stock != 7 {
		t.Fatalf("expected stock 7 after return, got %d", product.Stock)
	}

	deleted, err := s.DeleteSale(ctx, created.ID)
	if err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	if deleted.Status != domain.SaleDeleted {
		t.Fatalf("expected deleted status, got %s", deleted.Status)
	}

	// Only the 3 not-yet-returned units come back; total stock ends at 10.
	product, _ = s.GetProduct(ctx, "prod-a")
	if product.Stock != 10 {
		t.Fatalf("expected stock restored to 10, got %d", product.Stock)
	}

	customer, _ := s.GetCustomer(ctx, "cust-1")
	if customer.TotalSpentCents != 0 {
		t.Fatalf("expected rollup reversed to 0, got %d", customer.TotalSpentCents)
	}
	if customer.PurchaseCount != 0 {
		t.Fatalf("expected purchaseCount reversed to 0, got %d", customer.PurchaseCount)
	}

	if _, err := s.DeleteSale(ctx, created.ID); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("double delete should be rejected, got %v", err)
	}
}

func TestAppendReturnEnforcesReturnableCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSale(ctx, draftSale(domain.SaleItem{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 3}))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if _, err := s.AppendReturn(ctx, created.ID, "prod-a", 2, time.Now()); err != nil {
		t.Fatalf("first return: %v", err)
	}

	_, err = s.AppendReturn(ctx, created.ID, "prod-a", 2, time.Now())
	var over *domain.OverReturnError
	if !errors.As(err, &over) {
		t.Fatalf("expected OverReturnError, got %v", err)
	}
	if over.MaxReturnable != 1 {
		t.Fatalf("expected max returnable 1, got %d", over.MaxReturnable)
	}

	_, err = s.AppendReturn(ctx, created.ID, "prod-c", 1, time.Now())
	if !errors.As(err, &over) {
		t.Fatalf("returning an unpurchased product should fail, got %v", err)
	}

	customer, _ := s.GetCustomer(ctx, "cust-1")
	if customer.TotalSpentCents != 0 || customer.PurchaseCount != 0 {
		t.Fatal("returns must never touch customer rollups")
	}
}

func TestRollupSkipsMissingCustomer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sale := draftSale(domain.SaleItem{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 1})
	sale.CustomerID = "cust-ghost"
	if _, err := s.CreateSale(ctx, sale); err != nil {
		t.Fatalf("sale with unknown customer must still commit: %v", err)
	}
}

func TestSubscribePublishesFullCollections(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe, err := s.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if _, err := s.CreateSale(ctx, draftSale(domain.SaleItem{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 1})); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case event := <-events:
			seen[event.Collection] = true
			if event.Collection == store.CollectionSales && len(event.Docs) != 1 {
				t.Fatalf("expected 1 sale doc, got %d", len(event.Docs))
			}
		case <-deadline:
			t.Fatalf("timed out waiting for change events, saw %v", seen)
		}
	}
	if !seen[store.CollectionProducts] || !seen[store.CollectionSales] {
		t.Fatalf("expected products and sales events, saw %v", seen)
	}
}

func TestSoftDeletedProductHiddenFromListAndReservations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.SetProductDeleted(ctx, "prod-a", true); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	products, _ := s.ListProducts(ctx)
	for _, p := range products {
		if p.ID == "prod-a" {
			t.Fatal("soft-deleted product should be hidden from listings")
		}
	}

	_, err := s.CreateSale(ctx, draftSale(domain.SaleItem{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 1}))
	var notFound *domain.ProductNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ProductNotFoundError for deleted product, got %v", err)
	}

	if _, err := s.SetProductDeleted(ctx, "prod-a", false); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := s.CreateSale(ctx, draftSale(domain.SaleItem{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 1})); err != nil {
		t.Fatalf("restored product must be sellable again: %v", err)
	}
}
