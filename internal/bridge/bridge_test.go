package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/store/memory"
)

func TestBridgeMirrorsCommittedState(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	b := New(s)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start bridge: %v", err)
	}
	defer b.Close()

	if _, err := s.CreateProduct(ctx, domain.Product{ID: "prod-a", Name: "Product A", PriceCents: 1000, Stock: 5}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := s.CreateSale(ctx, domain.Sale{
		Items:         []domain.SaleItem{{ProductID: "prod-a", Name: "Product A", PriceCents: 1000, Qty: 2}},
		SubtotalCents: 2000,
		TotalCents:    2000,
		PaymentMethod: domain.PaymentCash,
		DiscountType:  domain.DiscountFixed,
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	state := waitForState(t, b, func(state State) bool {
		return len(state.Products) == 1 && len(state.Sales) == 1
	})

	if state.Products[0].Stock != 3 {
		t.Fatalf("mirror should show committed stock 3, got %d", state.Products[0].Stock)
	}
	if state.Sales[0].Status != domain.SaleCompleted {
		t.Fatalf("mirror should show completed sale, got %s", state.Sales[0].Status)
	}
	if state.Version == 0 {
		t.Fatal("version must advance with applied events")
	}
}

func TestBridgeStateIsACopy(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	b := New(s)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start bridge: %v", err)
	}
	defer b.Close()

	if _, err := s.CreateProduct(ctx, domain.Product{ID: "prod-a", Name: "Product A", PriceCents: 1000, Stock: 5}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	state := waitForState(t, b, func(state State) bool { return len(state.Products) == 1 })

	state.Products[0].Name = "mutated"
	if again := b.State(); len(again.Products) == 1 && again.Products[0].Name == "mutated" {
		t.Fatal("mutating a returned state must not affect the mirror")
	}
}

func TestBridgeIgnoresUnknownCollections(t *testing.T) {
	feed := &stubFeed{events: make(chan store.ChangeEvent, 1)}
	b := New(feed)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start bridge: %v", err)
	}
	defer b.Close()

	feed.events <- store.ChangeEvent{Collection: "unknown", Docs: nil}

	time.Sleep(50 * time.Millisecond)
	if state := b.State(); state.Version != 0 {
		t.Fatalf("unknown collections must not bump the version, got %d", state.Version)
	}
}

type stubFeed struct {
	events chan store.ChangeEvent
}

func (f *stubFeed) Subscribe(ctx context.Context) (<-chan store.ChangeEvent, func(), error) {
	var once sync.Once
	return f.events, func() { once.Do(func() { close(f.events) }) }, nil
}

func waitForState(t *testing.T, b *Bridge, ready func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state := b.State(); ready(state) {
			return state
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for bridge state")
	return State{}
}
