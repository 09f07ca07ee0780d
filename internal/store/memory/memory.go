package memory

import (
	"context"
	"log"
	"slices"
	"sync"
	"time"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/rollup"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

// Store is the in-memory reference backend. One mutex guards every
// collection, so each sale operation is naturally a single atomic unit with
// isolation; committed stock can never be observed negative.
type Store struct {
	mu         sync.RWMutex
	products   map[string]domain.Product
	sales      map[string]domain.Sale
	customers  map[string]domain.Customer
	invoiceSeq map[string]int64

	subMu       sync.Mutex
	subscribers map[int]chan store.ChangeEvent
	nextSubID   int
}

func New() *Store {
	return &Store{
		products:    make(map[string]domain.Product),
		sales:       make(map[string]domain.Sale),
		customers:   make(map[string]domain.Customer),
		invoiceSeq:  make(map[string]int64),
		subscribers: make(map[int]chan store.ChangeEvent),
	}
}

func NewSeeded() *Store {
	s := New()

	products := []domain.Product{
		{ID: "prod-mie-01", Name: "Mie Goreng Instan", Category: "grocery", Barcode: "8991002101012", PriceCents: 3500, Stock: 120},
		{ID: "prod-telur-01", Name: "Telur 10 Butir", Category: "grocery", PriceCents: 26500, Stock: 80},
		{ID: "prod-susu-01", Name: "Susu UHT 1L", Category: "dairy", Barcode: "8999099101033", PriceCents: 18900, Stock: 60},
		{ID: "prod-roti-01", Name: "Roti Tawar", Category: "bakery", PriceCents: 17800, Stock: 40},
		{ID: "prod-kopi-01", Name: "Kopi Sachet", Category: "beverage", PriceCents: 2600, Stock: 200},
		{ID: "prod-air-01", Name: "Air Mineral 600ml", Category: "beverage", Barcode: "8996001600016", PriceCents: 3900, Stock: 150},
		{ID: "prod-sabun-01", Name: "Sabun Mandi", Category: "household", PriceCents: 7400, Stock: 90},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	customers := []domain.Customer{
		{ID: "cust-andi", Name: "Andi Wijaya", Phone: "0812-1111-2222"},
		{ID: "cust-sari", Name: "Sari Lestari", Phone: "0813-3333-4444", Email: "sari@example.com"},
	}
	for _, c := range customers {
		s.customers[c.ID] = c
	}

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Deleted {
			continue
		}
		products = append(products, cloneProduct(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneProduct(product)
	return &copied, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && !p.Deleted {
			result[id] = cloneProduct(p)
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.PriceCents < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		s.mu.Unlock()
		return nil, store.ErrInvalidInput
	}
	s.products[product.ID] = cloneProduct(product)
	created := cloneProduct(product)
	s.mu.Unlock()

	s.publishProducts()
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	existing, exists := s.products[product.ID]
	if !exists {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	// The ledger owns these counters; direct overwrites never touch them.
	product.TotalSold = existing.TotalSold
	product.LastSold = existing.LastSold
	product.Deleted = existing.Deleted
	s.products[product.ID] = cloneProduct(product)
	updated := cloneProduct(product)
	s.mu.Unlock()

	s.publishProducts()
	return &updated, nil
}

func (s *Store) SetProductDeleted(_ context.Context, id string, deleted bool) (*domain.Product, error) {
	s.mu.Lock()
	product, exists := s.products[id]
	if !exists {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	product.Deleted = deleted
	s.products[id] = product
	updated := cloneProduct(product)
	s.mu.Unlock()

	s.publishProducts()
	return &updated, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, cloneCustomer(c))
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneCustomer(customer)
	return &copied, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customers[customer.ID]; exists {
		s.mu.Unlock()
		return nil, store.ErrInvalidInput
	}
	s.customers[customer.ID] = cloneCustomer(customer)
	created := cloneCustomer(customer)
	s.mu.Unlock()

	s.publishCustomers()
	return &created, nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		sales = append(sales, cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.Date.Equal(b.Date) {
			return cmpString(b.ID, a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneSale(sale)
	return &copied, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	reservation := make([]ledger.Item, 0, len(sale.Items))
	for _, item := range sale.Items {
		if item.Qty < 1 {
			s.mu.Unlock()
			return nil, store.ErrInvalidInput
		}
		reservation = append(reservation, ledger.Item{ProductID: item.ProductID, Qty: item.Qty})
	}

	deltas, err := ledger.Plan(reservation, s.stockViewLocked())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	now := time.Now().UTC()
	if sale.Date.IsZero() {
		sale.Date = now
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	dayKey := sale.Date.UTC().Format("060102")
	s.invoiceSeq[dayKey]++
	sale.InvoiceNumber = domain.FormatInvoiceNumber(sale.Date, s.invoiceSeq[dayKey])
	sale.Status = domain.SaleCompleted
	sale.Returns = nil

	s.applyDeltasLocked(deltas, now)
	s.applyRollupLocked(sale.CustomerID, rollup.Increment(sale.TotalCents, now))

	s.sales[sale.ID] = cloneSale(sale)
	created := cloneSale(sale)
	s.mu.Unlock()

	s.publishProducts()
	s.publishSales()
	if sale.CustomerID != "" {
		s.publishCustomers()
	}
	return &created, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	old, exists := s.sales[sale.ID]
	if !exists {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if old.Status == domain.SaleDeleted {
		s.mu.Unlock()
		return nil, store.ErrInvalidInput
	}

	// New quantities must still cover what has already been returned.
	newQty := sale.ItemQtyByProduct()
	for productID, returned := range old.ReturnedQtyByProduct() {
		if newQty[productID] < returned {
			s.mu.Unlock()
			return nil, store.ErrInvalidInput
		}
	}

	reserve := make([]ledger.Item, 0, 4)
	release := make([]ledger.Item, 0, 4)
	for _, diff := range ledger.Diff(old.Items, sale.Items) {
		if diff.Qty > 0 {
			reserve = append(reserve, diff)
		} else {
			release = append(release, ledger.Item{ProductID: diff.ProductID, Qty: -diff.Qty})
		}
	}

	now := time.Now().UTC()
	if len(reserve) > 0 {
		deltas, err := ledger.Plan(reserve, s.stockViewLocked())
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.applyDeltasLocked(deltas, now)
	}
	if len(release) > 0 {
		s.applyDeltasLocked(ledger.Release(release), now)
	}

	sale.InvoiceNumber = old.InvoiceNumber
	sale.Status = old.Status
	sale.Returns = old.Returns
	s.sales[sale.ID] = cloneSale(sale)
	updated := cloneSale(sale)
	s.mu.Unlock()

	s.publishProducts()
	s.publishSales()
	return &updated, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.Lock()
	sale, exists := s.sales[id]
	if !exists {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleDeleted {
		s.mu.Unlock()
		return nil, store.ErrInvalidInput
	}

	// Release what the sale still holds: the original reservation minus the
	// quantities already released by item returns.
	returned := sale.ReturnedQtyByProduct()
	release := make([]ledger.Item, 0, len(sale.Items))
	for productID, qty := range sale.ItemQtyByProduct() {
		remaining := qty - returned[productID]
		if remaining > 0 {
			release = append(release, ledger.Item{ProductID: productID, Qty: remaining})
		}
	}
	now := time.Now().UTC()
	s.applyDeltasLocked(ledger.Release(release), now)
	s.applyRollupLocked(sale.CustomerID, rollup.Reversal(sale))

	sale.Status = domain.SaleDeleted
	sale.Returns = nil
	s.sales[id] = cloneSale(sale)
	deleted := cloneSale(sale)
	s.mu.Unlock()

	s.publishProducts()
	s.publishSales()
	if sale.CustomerID != "" {
		s.publishCustomers()
	}
	return &deleted, nil
}

func (s *Store) AppendReturn(_ context.Context, saleID string, productID string, qty int, at time.Time) (*domain.Sale, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	sale, exists := s.sales[saleID]
	if !exists {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleDeleted {
		s.mu.Unlock()
		return nil, store.ErrInvalidInput
	}

	purchased := sale.ItemQtyByProduct()[productID]
	returned := sale.ReturnedQtyByProduct()[productID]
	if qty > purchased-returned {
		s.mu.Unlock()
		return nil, &domain.OverReturnError{
			ProductID:     productID,
			Requested:     qty,
			MaxReturnable: purchased - returned,
		}
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}
	sale.Returns = append(sale.Returns, domain.ReturnEntry{ProductID: productID, Qty: qty, Date: at.UTC()})
	s.applyDeltasLocked(ledger.Release([]ledger.Item{{ProductID: productID, Qty: qty}}), at)
	s.sales[saleID] = cloneSale(sale)
	updated := cloneSale(sale)
	s.mu.Unlock()

	s.publishProducts()
	s.publishSales()
	return &updated, nil
}

// stockViewLocked exposes current stock to the ledger planner; deleted
// products are invisible to reservations. Caller holds s.mu.
func (s *Store) stockViewLocked() ledger.StockView {
	return func(productID string) (int, bool) {
		product, exists := s.products[productID]
		if !exists || product.Deleted {
			return 0, false
		}
		return product.Stock, true
	}
}

// applyDeltasLocked moves stock per the planned deltas. Releases for products
// that vanished are skipped: stock for a missing product has nowhere to go.
// Caller holds s.mu.
func (s *Store) applyDeltasLocked(deltas []ledger.Delta, now time.Time) {
	for _, delta := range deltas {
		product, exists := s.products[delta.ProductID]
		if !exists {
			log.Printf("[memory-store] WARN: skipping stock delta for missing product %s", delta.ProductID)
			continue
		}
		product.Stock += delta.Qty
		if delta.Sold > 0 {
			product.TotalSold += delta.Sold
			at := now.UTC()
			product.LastSold = &at
		}
		s.products[delta.ProductID] = product
	}
}

// applyRollupLocked folds a rollup delta into the customer record. A missing
// customer is skipped, never fatal. Caller holds s.mu.
func (s *Store) applyRollupLocked(customerID string, delta rollup.Delta) {
	if customerID == "" {
		return
	}
	customer, exists := s.customers[customerID]
	if !exists {
		log.Printf("[memory-store] WARN: customer %s not found, skipping rollup", customerID)
		return
	}
	rollup.Apply(&customer, delta)
	s.customers[customerID] = customer
}

// Subscribe implements store.ChangeFeed. Events carry the full collection
// contents after each committed change.
func (s *Store) Subscribe(ctx context.Context) (<-chan store.ChangeEvent, func(), error) {
	ch := make(chan store.ChangeEvent, 64)

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return ch, unsubscribe, nil
}

func (s *Store) publishProducts() {
	s.mu.RLock()
	docs := make([]store.RawDoc, 0, len(s.products))
	for id, p := range s.products {
		docs = append(docs, store.RawDoc{ID: id, Data: domain.ProductDoc(p)})
	}
	s.mu.RUnlock()
	s.publish(store.ChangeEvent{Collection: store.CollectionProducts, Docs: docs})
}

func (s *Store) publishSales() {
	s.mu.RLock()
	docs := make([]store.RawDoc, 0, len(s.sales))
	for id, sale := range s.sales {
		docs = append(docs, store.RawDoc{ID: id, Data: domain.SaleDoc(sale)})
	}
	s.mu.RUnlock()
	s.publish(store.ChangeEvent{Collection: store.CollectionSales, Docs: docs})
}

func (s *Store) publishCustomers() {
	s.mu.RLock()
	docs := make([]store.RawDoc, 0, len(s.customers))
	for id, c := range s.customers {
		docs = append(docs, store.RawDoc{ID: id, Data: domain.CustomerDoc(c)})
	}
	s.mu.RUnlock()
	s.publish(store.ChangeEvent{Collection: store.CollectionCustomers, Docs: docs})
}

func (s *Store) publish(event store.ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Slow consumer; each event carries full state so dropping one
			// only delays convergence until the next change.
			log.Printf("[memory-store] WARN: dropping change event for subscriber %d", id)
		}
	}
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	if src.LastSold != nil {
		at := src.LastSold.UTC()
		dup.LastSold = &at
	}
	return dup
}

func cloneCustomer(src domain.Customer) domain.Customer {
	dup := src
	if src.LastPurchase != nil {
		at := src.LastPurchase.UTC()
		dup.LastPurchase = &at
	}
	return dup
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	returns := make([]domain.ReturnEntry, len(src.Returns))
	copy(returns, src.Returns)
	dup.Returns = returns
	return dup
}
