// Package mongo implements the persistent backend on MongoDB. Multi-document
// sale operations run inside causally-consistent sessions so the stock
// re-check, counter bump and writes commit or roll back as one unit.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

const (
	connectTimeout     = 10 * time.Second
	collectionCounters = "counters"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func New(ctx context.Context, uri string, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &Store{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	log.Printf("[mongo-store] connected to database %s", dbName)
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	productIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "barcode", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "name", Value: 1}}},
	}
	if _, err := s.db.Collection(store.CollectionProducts).Indexes().CreateMany(ctx, productIndexes); err != nil {
		return err
	}

	saleIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "invoiceNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "customerId", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	if _, err := s.db.Collection(store.CollectionSales).Indexes().CreateMany(ctx, saleIndexes); err != nil {
		return err
	}

	customerIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}},
	}
	_, err := s.db.Collection(store.CollectionCustomers).Indexes().CreateMany(ctx, customerIndexes)
	return err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	filter := bson.M{"deleted": bson.M{"$ne": true}}
	opts := options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "name", Value: 1}})
	cursor, err := s.db.Collection(store.CollectionProducts).Find(ctx, filter, opts)
	if err != nil {
		return nil, &domain.PersistenceError{Cause: err}
	}
	defer cursor.Close(ctx)

	var products []domain.Product
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		product, err := domain.MapProduct(docID(raw), raw)
		if err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		products = append(products, product)
	}
	return products, cursor.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	raw, err := s.findOne(ctx, store.CollectionProducts, id)
	if err != nil {
		return nil, err
	}
	product, err := domain.MapProduct(id, raw)
	if err != nil {
		return nil, &domain.PersistenceError{Cause: err}
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	filter := bson.M{"_id": bson.M{"$in": ids}, "deleted": bson.M{"$ne": true}}
	cursor, err := s.db.Collection(store.CollectionProducts).Find(ctx, filter)
	if err != nil {
		return nil, &domain.PersistenceError{Cause: err}
	}
	defer cursor.Close(ctx)

	result := make(map[string]domain.Product, len(ids))
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		id := docID(raw)
		product, err := domain.MapProduct(id, raw)
		if err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		result[id] = product
	}
	return result, cursor.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.PriceCents < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	doc := withID(product.ID, domain.ProductDoc(product))
	if _, err := s.db.Collection(store.CollectionProducts).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, &domain.PersistenceError{Cause: err}
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	// Sale-derived counters stay owned by the sale operations; a product
	// edit only touches the catalog fields.
	update := bson.M{"$set": bson.M{
		"name":     product.Name,
		"category": product.Category,
		"barcode":  product.Barcode,
		"price":    product.PriceCents,
		"stock":    product.Stock,
	}}
	return s.patchProduct(ctx, product.ID, update)
}

func (s *Store) SetProductDeleted(ctx context.Context, id string, deleted bool) (*domain.Product, error) {
	return s.patchProduct(ctx, id, bson.M{"$set": bson.M{"deleted": deleted}})
}

func (s *Store) patchProduct(ctx context.Context, id string, update bson.M) (*domain.Product, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var raw bson.M
	err := s.db.Collection(store.CollectionProducts).
		FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).
		Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &domain.PersistenceError{Cause: err}
	}
	product, err := domain.MapProduct(id, raw)
	if err != nil {
		return nil, &domain.PersistenceError{Cause: err}
	}
	return &product, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := s.db.Collection(store.CollectionCustomers).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, &domain.PersistenceError{Cause: err}
	}
	defer cursor.Close(ctx)

	var customers []domain.Customer
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		customer, err := domain.MapCustomer(docID(raw), raw)
		if err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		customers = append(customers, customer)
	}
	return customers, cursor.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	raw, err := s.findOne(ctx, store.CollectionCustomers, id)
	if err != nil {
		return nil, err
	}
	customer, err := domain.MapCustomer(id, raw)
	if err != nil {
		return nil, &domain.PersistenceError{Cause: err}
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}

	doc := withID(customer.ID, domain.CustomerDoc(customer))
	if _, err := s.db.Collection(store.CollectionCustomers).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, &domain.PersistenceError{Cause: err}
	}
	return &customer, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}})
	cursor, err := s.db.Collection(store.CollectionSales).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, &domain.PersistenceError{Cause: err}
	}
	defer cursor.Close(ctx)

	var sales []domain.Sale
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		sale, err := domain.MapSale(docID(raw), raw)
		if err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		sales = append(sales, sale)
	}
	return sales, cursor.Err()
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	raw, err := s.findOne(ctx, store.CollectionSales, id)
	if err != nil {
		return nil, err
	}
	sale, err := domain.MapSale(id, raw)
	if err != nil {
		return nil, &domain.PersistenceError{Cause: err}
	}
	return &sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	reservation := make([]ledger.Item, 0, len(sale.Items))
	for _, item := range sale.Items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		reservation = append(reservation, ledger.Item{ProductID: item.ProductID, Qty: item.Qty})
	}

	result, err := s.withTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		deltas, err := s.planLocked(sessCtx, reservation)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		if sale.Date.IsZero() {
			sale.Date = now
		}
		if sale.ID == "" {
			sale.ID = xid.New("sale")
		}
		seq, err := s.nextInvoiceSeq(sessCtx, sale.Date)
		if err != nil {
			return nil, err
		}
		sale.InvoiceNumber = domain.FormatInvoiceNumber(sale.Date, seq)
		sale.Status = domain.SaleCompleted
		sale.Returns = nil

		if err := s.applyDeltas(sessCtx, deltas, now); err != nil {
			return nil, err
		}
		if err := s.applyRollup(sessCtx, sale.CustomerID, sale.TotalCents, 1, &now); err != nil {
			return nil, err
		}

		doc := withID(sale.ID, domain.SaleDoc(sale))
		if _, err := s.db.Collection(store.CollectionSales).InsertOne(sessCtx, doc); err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		return &sale, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Sale), nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	result, err := s.withTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		old, err := s.GetSale(sessCtx, sale.ID)
		if err != nil {
			return nil, err
		}
		if old.Status == domain.SaleDeleted {
			return nil, store.ErrInvalidInput
		}

		newQty := sale.ItemQtyByProduct()
		for productID, returned := range old.ReturnedQtyByProduct() {
			if newQty[productID] < returned {
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
			deltas, err := s.planLocked(sessCtx, reserve)
			if err != nil {
				return nil, err
			}
			if err := s.applyDeltas(sessCtx, deltas, now); err != nil {
				return nil, err
			}
		}
		if len(release) > 0 {
			if err := s.applyDeltas(sessCtx, ledger.Release(release), now); err != nil {
				return nil, err
			}
		}

		sale.InvoiceNumber = old.InvoiceNumber
		sale.Status = old.Status
		sale.Returns = old.Returns
		doc := withID(sale.ID, domain.SaleDoc(sale))
		if _, err := s.db.Collection(store.CollectionSales).ReplaceOne(sessCtx, bson.M{"_id": sale.ID}, doc); err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		return &sale, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Sale), nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) (*domain.Sale, error) {
	result, err := s.withTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		sale, err := s.GetSale(sessCtx, id)
		if err != nil {
			return nil, err
		}
		if sale.Status == domain.SaleDeleted {
			return nil, store.ErrInvalidInput
		}

		returned := sale.ReturnedQtyByProduct()
		release := make([]ledger.Item, 0, len(sale.Items))
		for productID, qty := range sale.ItemQtyByProduct() {
			if remaining := qty - returned[productID]; remaining > 0 {
				release = append(release, ledger.Item{ProductID: productID, Qty: remaining})
			}
		}

		now := time.Now().UTC()
		if err := s.applyDeltas(sessCtx, ledger.Release(release), now); err != nil {
			return nil, err
		}
		if err := s.applyRollup(sessCtx, sale.CustomerID, -sale.TotalCents, -1, nil); err != nil {
			return nil, err
		}

		sale.Status = domain.SaleDeleted
		sale.Returns = nil
		doc := withID(sale.ID, domain.SaleDoc(*sale))
		if _, err := s.db.Collection(store.CollectionSales).ReplaceOne(sessCtx, bson.M{"_id": sale.ID}, doc); err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		return sale, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Sale), nil
}

func (s *Store) AppendReturn(ctx context.Context, saleID string, productID string, qty int, at time.Time) (*domain.Sale, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	result, err := s.withTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		sale, err := s.GetSale(sessCtx, saleID)
		if err != nil {
			return nil, err
		}
		if sale.Status == domain.SaleDeleted {
			return nil, store.ErrInvalidInput
		}

		purchased := sale.ItemQtyByProduct()[productID]
		returned := sale.ReturnedQtyByProduct()[productID]
		if qty > purchased-returned {
			return nil, &domain.OverReturnError{
				ProductID:     productID,
				Requested:     qty,
				MaxReturnable: purchased - returned,
			}
		}

		when := at
		if when.IsZero() {
			when = time.Now().UTC()
		}
		sale.Returns = append(sale.Returns, domain.ReturnEntry{ProductID: productID, Qty: qty, Date: when.UTC()})
		if err := s.applyDeltas(sessCtx, ledger.Release([]ledger.Item{{ProductID: productID, Qty: qty}}), when); err != nil {
			return nil, err
		}

		doc := withID(sale.ID, domain.SaleDoc(*sale))
		if _, err := s.db.Collection(store.CollectionSales).ReplaceOne(sessCtx, bson.M{"_id": sale.ID}, doc); err != nil {
			return nil, &domain.PersistenceError{Cause: err}
		}
		return sale, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Sale), nil
}

func (s *Store) withTransaction(ctx context.Context, fn func(mongo.SessionContext) (any, error)) (any, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, &domain.PersistenceError{Cause: err}
	}
	defer session.EndSession(ctx)

	return session.WithTransaction(ctx, fn)
}

// planLocked reads current stock for the requested products inside the
// session and asks the ledger for deltas. The transaction's snapshot plus the
// write conflict detection on the later $inc make the check-then-decrement
// safe under concurrency.
func (s *Store) planLocked(sessCtx mongo.SessionContext, items []ledger.Item) ([]ledger.Delta, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	stock, err := s.GetProductsByIDs(sessCtx, ids)
	if err != nil {
		return nil, err
	}
	view := func(productID string) (int, bool) {
		product, ok := stock[productID]
		if !ok {
			return 0, false
		}
		return product.Stock, true
	}
	return ledger.Plan(items, view)
}

func (s *Store) applyDeltas(sessCtx mongo.SessionContext, deltas []ledger.Delta, now time.Time) error {
	products := s.db.Collection(store.CollectionProducts)
	for _, delta := range deltas {
		update := bson.M{"$inc": bson.M{"stock": delta.Qty}}
		if delta.Sold > 0 {
			update["$inc"].(bson.M)["totalSold"] = delta.Sold
			update["$set"] = bson.M{"lastSold": now.UTC()}
		}
		result, err := products.UpdateOne(sessCtx, bson.M{"_id": delta.ProductID}, update)
		if err != nil {
			return &domain.PersistenceError{Cause: err}
		}
		if result.MatchedCount == 0 {
			log.Printf("[mongo-store] WARN: skipping stock delta for missing product %s", delta.ProductID)
		}
	}
	return nil
}

func (s *Store) applyRollup(sessCtx mongo.SessionContext, customerID string, spentCents int64, purchases int64, lastPurchase *time.Time) error {
	if customerID == "" {
		return nil
	}
	update := bson.M{"$inc": bson.M{"totalSpent": spentCents, "purchaseCount": purchases}}
	if lastPurchase != nil {
		update["$set"] = bson.M{"lastPurchase": lastPurchase.UTC()}
	}
	result, err := s.db.Collection(store.CollectionCustomers).UpdateOne(sessCtx, bson.M{"_id": customerID}, update)
	if err != nil {
		return &domain.PersistenceError{Cause: err}
	}
	if result.MatchedCount == 0 {
		log.Printf("[mongo-store] WARN: customer %s not found, skipping rollup", customerID)
		return nil
	}
	// Reversals can drive the counters negative when history was pruned;
	// floor them back to zero.
	if spentCents < 0 {
		_, err = s.db.Collection(store.CollectionCustomers).UpdateOne(sessCtx,
			bson.M{"_id": customerID, "$or": bson.A{
				bson.M{"totalSpent": bson.M{"$lt": 0}},
				bson.M{"purchaseCount": bson.M{"$lt": 0}},
			}},
			bson.M{"$max": bson.M{"totalSpent": int64(0), "purchaseCount": int64(0)}})
		if err != nil {
			return &domain.PersistenceError{Cause: err}
		}
	}
	return nil
}

// nextInvoiceSeq allocates the next per-day invoice sequence from the
// counters collection inside the current transaction.
func (s *Store) nextInvoiceSeq(sessCtx mongo.SessionContext, date time.Time) (int64, error) {
	counterID := "invoice-" + date.UTC().Format("060102")
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(collectionCounters).
		FindOneAndUpdate(sessCtx, bson.M{"_id": counterID}, bson.M{"$inc": bson.M{"seq": 1}}, opts).
		Decode(&counter)
	if err != nil {
		return 0, &domain.PersistenceError{Cause: err}
	}
	return counter.Seq, nil
}

// Subscribe implements store.ChangeFeed on top of change streams. An initial
// snapshot of every collection is emitted, then each stream event triggers a
// re-read of its collection so consumers always see full contents.
func (s *Store) Subscribe(ctx context.Context) (<-chan store.ChangeEvent, func(), error) {
	watched := []string{store.CollectionProducts, store.CollectionSales, store.CollectionCustomers}

	streamCtx, cancel := context.WithCancel(ctx)
	events := make(chan store.ChangeEvent, 64)

	streams := make([]*mongo.ChangeStream, 0, len(watched))
	for _, collection := range watched {
		stream, err := s.db.Collection(collection).Watch(streamCtx, mongo.Pipeline{})
		if err != nil {
			cancel()
			for _, open := range streams {
				open.Close(context.Background())
			}
			return nil, nil, &domain.PersistenceError{Cause: err}
		}
		streams = append(streams, stream)
	}

	var wg sync.WaitGroup
	for i, collection := range watched {
		if err := s.emitCollection(streamCtx, collection, events); err != nil {
			cancel()
			for _, open := range streams {
				open.Close(context.Background())
			}
			return nil, nil, err
		}
		stream := streams[i]
		name := collection
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stream.Close(context.Background())
			for stream.Next(streamCtx) {
				if err := s.emitCollection(streamCtx, name, events); err != nil {
					log.Printf("[mongo-store] WARN: re-reading %s after change: %v", name, err)
				}
			}
		}()
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			wg.Wait()
			close(events)
		})
	}
	return events, unsubscribe, nil
}

func (s *Store) emitCollection(ctx context.Context, collection string, events chan<- store.ChangeEvent) error {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return &domain.PersistenceError{Cause: err}
	}
	defer cursor.Close(ctx)

	var docs []store.RawDoc
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return &domain.PersistenceError{Cause: err}
		}
		docs = append(docs, store.RawDoc{ID: docID(raw), Data: raw})
	}
	if err := cursor.Err(); err != nil {
		return &domain.PersistenceError{Cause: err}
	}

	select {
	case events <- store.ChangeEvent{Collection: collection, Docs: docs}:
	case <-ctx.Done():
	default:
		log.Printf("[mongo-store] WARN: dropping change event for %s, consumer is slow", collection)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, collection string, id string) (bson.M, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &domain.PersistenceError{Cause: err}
	}
	return raw, nil
}

func withID(id string, doc map[string]any) bson.M {
	out := bson.M(doc)
	out["_id"] = id
	return out
}

func docID(raw bson.M) string {
	id, _ := raw["_id"].(string)
	delete(raw, "_id")
	return id
}
