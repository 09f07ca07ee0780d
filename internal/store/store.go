package store

import (
	"context"
	"errors"
	"time"

	"posledger/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

const (
	CollectionProducts  = "products"
	CollectionSales     = "sales"
	CollectionCustomers = "customers"
)

// Repository is the persistence contract the core consumes. Each sale
// operation is a single atomic unit: the backend verifies stock, applies the
// ledger deltas and rollup adjustment, and writes the sale together, with
// isolation against concurrent writers. Partial application is never
// observable to readers.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	SetProductDeleted(ctx context.Context, id string, deleted bool) (*domain.Product, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	ListSales(ctx context.Context) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)

	// CreateSale allocates the invoice number from the per-day counter,
	// re-verifies and decrements stock, inserts the sale, and increments the
	// customer rollup, all in one transaction.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)

	// UpdateSale overwrites the sale's mutable fields; the transaction diffs
	// old vs new item quantities and reserves or releases only the
	// difference.
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)

	// DeleteSale soft-deletes the sale, clears its returns, releases the
	// stock still held by it, and reverses the customer rollup.
	DeleteSale(ctx context.Context, id string) (*domain.Sale, error)

	// AppendReturn verifies the remaining returnable quantity, appends the
	// return entry, and releases the stock, as one read-modify-write unit.
	AppendReturn(ctx context.Context, saleID string, productID string, qty int, at time.Time) (*domain.Sale, error)
}

// RawDoc is a stored document plus its id, prior to entity mapping.
type RawDoc struct {
	ID   string
	Data map[string]any
}

// ChangeEvent announces that a collection changed; Docs is the full
// collection contents after the change. Consumers replace their in-memory
// copy wholesale.
type ChangeEvent struct {
	Collection string
	Docs       []RawDoc
}

// ChangeFeed is the store's live-query surface. Subscribe returns a channel
// of change events and an unsubscribe function; the channel is closed when
// the context ends or unsubscribe is called.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan ChangeEvent, func(), error)
}
