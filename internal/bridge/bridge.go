// Package bridge mirrors the persisted collections into process memory.
// Analytics read from the mirror so report queries never touch the backend.
package bridge

import (
	"context"
	"log"
	"sync"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

// State is one consistent view of the mirrored collections. Version increases
// on every applied change event.
type State struct {
	Products  []domain.Product
	Sales     []domain.Sale
	Customers []domain.Customer
	Version   uint64
}

type Bridge struct {
	feed store.ChangeFeed

	mu    sync.RWMutex
	state State

	cancel      context.CancelFunc
	unsubscribe func()
	done        chan struct{}
}

func New(feed store.ChangeFeed) *Bridge {
	return &Bridge{feed: feed}
}

// Start subscribes to the change feed and keeps applying events until Close
// is called or the feed terminates.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	events, unsubscribe, err := b.feed.Subscribe(ctx)
	if err != nil {
		cancel()
		return err
	}
	b.cancel = cancel
	b.unsubscribe = unsubscribe
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		for event := range events {
			b.apply(event)
		}
		log.Printf("[bridge] change feed closed")
	}()
	return nil
}

func (b *Bridge) Close() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	b.unsubscribe()
	<-b.done
}

// apply replaces the named collection wholesale. Events always carry the full
// collection, so no per-document merging is needed.
func (b *Bridge) apply(event store.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch event.Collection {
	case store.CollectionProducts:
		products := make([]domain.Product, 0, len(event.Docs))
		for _, doc := range event.Docs {
			product, err := domain.MapProduct(doc.ID, doc.Data)
			if err != nil {
				log.Printf("[bridge] WARN: skipping malformed product %s: %v", doc.ID, err)
				continue
			}
			products = append(products, product)
		}
		b.state.Products = products
	case store.CollectionSales:
		sales := make([]domain.Sale, 0, len(event.Docs))
		for _, doc := range event.Docs {
			sale, err := domain.MapSale(doc.ID, doc.Data)
			if err != nil {
				log.Printf("[bridge] WARN: skipping malformed sale %s: %v", doc.ID, err)
				continue
			}
			sales = append(sales, sale)
		}
		b.state.Sales = sales
	case store.CollectionCustomers:
		customers := make([]domain.Customer, 0, len(event.Docs))
		for _, doc := range event.Docs {
			customer, err := domain.MapCustomer(doc.ID, doc.Data)
			if err != nil {
				log.Printf("[bridge] WARN: skipping malformed customer %s: %v", doc.ID, err)
				continue
			}
			customers = append(customers, customer)
		}
		b.state.Customers = customers
	default:
		log.Printf("[bridge] WARN: ignoring event for unknown collection %s", event.Collection)
		return
	}
	b.state.Version++
}

// State returns a copy of the current mirror. The slices are fresh, so
// callers may sort and filter without racing the feed.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	copied := State{
		Products:  make([]domain.Product, len(b.state.Products)),
		Sales:     make([]domain.Sale, len(b.state.Sales)),
		Customers: make([]domain.Customer, len(b.state.Customers)),
		Version:   b.state.Version,
	}
	copy(copied.Products, b.state.Products)
	copy(copied.Sales, b.state.Sales)
	copy(copied.Customers, b.state.Customers)
	return copied
}
