// Package service implements the core sale and catalog operations on top of
// the store. It validates input, snapshots product data into sale lines and
// computes totals; the store performs the transactional writes.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/metrics"
	"posledger/backend/internal/store"
)

type Service struct {
	repo    store.Repository
	metrics *metrics.Metrics
}

func New(repo store.Repository, m *metrics.Metrics) *Service {
	return &Service{repo: repo, metrics: m}
}

func (s *Service) Products(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) Product(ctx context.Context, id string) (*domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.ProductNotFoundError{ProductID: id}
	}
	return product, err
}

func (s *Service) AddProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("product name is required: %w", store.ErrInvalidInput)
	}
	if req.PriceCents < 0 {
		return nil, fmt.Errorf("price must not be negative: %w", store.ErrInvalidInput)
	}
	if req.Stock < 0 {
		return nil, fmt.Errorf("stock must not be negative: %w", store.ErrInvalidInput)
	}
	return s.repo.CreateProduct(ctx, domain.Product{
		Name:       req.Name,
		Category:   req.Category,
		Barcode:    req.Barcode,
		PriceCents: req.PriceCents,
		Stock:      req.Stock,
	})
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	existing, err := s.Product(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.Category != nil {
		existing.Category = *req.Category
	}
	if req.Barcode != nil {
		existing.Barcode = *req.Barcode
	}
	if req.PriceCents != nil {
		existing.PriceCents = *req.PriceCents
	}
	if req.Stock != nil {
		existing.Stock = *req.Stock
	}

	updated, err := s.repo.UpdateProduct(ctx, *existing)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.ProductNotFoundError{ProductID: id}
	}
	return updated, err
}

// DeleteProduct soft-deletes: the product disappears from listings and new
// reservations, but sale history keeps referring to it.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	_, err := s.repo.SetProductDeleted(ctx, id, true)
	if errors.Is(err, store.ErrNotFound) {
		return &domain.ProductNotFoundError{ProductID: id}
	}
	return err
}

func (s *Service) RestoreProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := s.repo.SetProductDeleted(ctx, id, false)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.ProductNotFoundError{ProductID: id}
	}
	return product, err
}

func (s *Service) Customers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) Customer(ctx context.Context, id string) (*domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.CustomerNotFoundError{CustomerID: id}
	}
	return customer, err
}

func (s *Service) AddCustomer(ctx context.Context, req domain.CustomerCreateRequest) (*domain.Customer, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("customer name is required: %w", store.ErrInvalidInput)
	}
	return s.repo.CreateCustomer(ctx, domain.Customer{
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
	})
}

func (s *Service) Sales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx)
}

func (s *Service) Sale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.SaleNotFoundError{SaleID: id}
	}
	return sale, err
}

func (s *Service) CreateSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	if draft.DiscountType == "" {
		draft.DiscountType = domain.DiscountFixed
	}
	if draft.PaymentMethod == "" {
		draft.PaymentMethod = domain.PaymentCash
	}
	if err := validateSaleFields(draft.Discount, draft.DiscountType, draft.TaxRatePercent, draft.PaymentMethod); err != nil {
		return nil, err
	}
	items, err := s.snapshotItems(ctx, draft.Items, nil)
	if err != nil {
		return nil, err
	}
	// An unknown customer id is not fatal: the store logs and skips the
	// rollup, the sale itself still commits.

	sale := domain.Sale{
		Items:          items,
		Discount:       draft.Discount,
		DiscountType:   draft.DiscountType,
		TaxRatePercent: draft.TaxRatePercent,
		PaymentMethod:  draft.PaymentMethod,
		CustomerID:     draft.CustomerID,
	}
	if draft.Date != nil {
		sale.Date = draft.Date.UTC()
	}
	domain.ComputeTotals(&sale)

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		s.countStockRejection(err)
		return nil, err
	}
	s.metrics.SalesCreated.Inc()
	s.metrics.SaleTotalCents.Observe(float64(created.TotalCents))
	return created, nil
}

func (s *Service) UpdateSale(ctx context.Context, id string, patch domain.SalePatch) (*domain.Sale, error) {
	existing, err := s.Sale(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == domain.SaleDeleted {
		return nil, fmt.Errorf("sale %s is deleted: %w", id, store.ErrInvalidInput)
	}

	updated := *existing
	if patch.Date != nil {
		updated.Date = patch.Date.UTC()
	}
	if patch.Discount != nil {
		updated.Discount = *patch.Discount
	}
	if patch.DiscountType != nil {
		updated.DiscountType = *patch.DiscountType
	}
	if patch.TaxRatePercent != nil {
		updated.TaxRatePercent = *patch.TaxRatePercent
	}
	if patch.PaymentMethod != nil {
		updated.PaymentMethod = *patch.PaymentMethod
	}
	if patch.CustomerID != nil {
		updated.CustomerID = *patch.CustomerID
	}
	if err := validateSaleFields(updated.Discount, updated.DiscountType, updated.TaxRatePercent, updated.PaymentMethod); err != nil {
		return nil, err
	}

	if patch.Items != nil {
		items, err := s.snapshotItems(ctx, patch.Items, existing.Items)
		if err != nil {
			return nil, err
		}
		updated.Items = items
	}
	domain.ComputeTotals(&updated)

	result, err := s.repo.UpdateSale(ctx, updated)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.SaleNotFoundError{SaleID: id}
	}
	if err != nil {
		s.countStockRejection(err)
		return nil, err
	}
	s.metrics.SalesUpdated.Inc()
	return result, nil
}

func (s *Service) DeleteSale(ctx context.Context, id string) (*domain.Sale, error) {
	deleted, err := s.repo.DeleteSale(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.SaleNotFoundError{SaleID: id}
	}
	if err != nil {
		return nil, err
	}
	s.metrics.SalesDeleted.Inc()
	return deleted, nil
}

func (s *Service) ReturnItems(ctx context.Context, req domain.ReturnRequest) (*domain.Sale, error) {
	if req.Qty < 1 {
		return nil, fmt.Errorf("return quantity must be at least 1: %w", store.ErrInvalidInput)
	}
	sale, err := s.repo.AppendReturn(ctx, req.SaleID, req.ProductID, req.Qty, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.SaleNotFoundError{SaleID: req.SaleID}
	}
	if err != nil {
		return nil, err
	}
	s.metrics.ReturnsRecorded.Inc()
	return sale, nil
}

// snapshotItems resolves sale line inputs against the live catalog, copying
// name and price into the line. Lines whose product already appears in prior
// items reuse the prior snapshot so an edit never silently reprices history.
func (s *Service) snapshotItems(ctx context.Context, inputs []domain.SaleItemInput, prior []domain.SaleItem) ([]domain.SaleItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("a sale needs at least one item: %w", store.ErrInvalidInput)
	}

	priorByProduct := make(map[string]domain.SaleItem, len(prior))
	for _, item := range prior {
		priorByProduct[item.ProductID] = item
	}

	missing := make([]string, 0, len(inputs))
	for _, input := range inputs {
		if input.Qty < 1 {
			return nil, fmt.Errorf("item quantity must be at least 1: %w", store.ErrInvalidInput)
		}
		if _, ok := priorByProduct[input.ProductID]; !ok {
			missing = append(missing, input.ProductID)
		}
	}

	var catalog map[string]domain.Product
	if len(missing) > 0 {
		var err error
		catalog, err = s.repo.GetProductsByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
	}

	items := make([]domain.SaleItem, 0, len(inputs))
	for _, input := range inputs {
		if snapshot, ok := priorByProduct[input.ProductID]; ok {
			snapshot.Qty = input.Qty
			items = append(items, snapshot)
			continue
		}
		product, ok := catalog[input.ProductID]
		if !ok {
			return nil, &domain.ProductNotFoundError{ProductID: input.ProductID}
		}
		items = append(items, domain.SaleItem{
			ProductID:  product.ID,
			Name:       product.Name,
			PriceCents: product.PriceCents,
			Qty:        input.Qty,
		})
	}
	return items, nil
}

func (s *Service) countStockRejection(err error) {
	var insufficient *domain.InsufficientStockError
	if errors.As(err, &insufficient) {
		s.metrics.StockRejections.Inc()
	}
}

func validateSaleFields(discount float64, discountType domain.DiscountType, taxRate float64, payment domain.PaymentMethod) error {
	if discount < 0 {
		return fmt.Errorf("discount must not be negative: %w", store.ErrInvalidInput)
	}
	if !discountType.Valid() {
		return fmt.Errorf("unknown discount type %q: %w", discountType, store.ErrInvalidInput)
	}
	if discountType == domain.DiscountPercentage && discount > 100 {
		return fmt.Errorf("percentage discount must not exceed 100: %w", store.ErrInvalidInput)
	}
	if taxRate < 0 || taxRate > 100 {
		return fmt.Errorf("tax rate must be between 0 and 100: %w", store.ErrInvalidInput)
	}
	if !payment.Valid() {
		return fmt.Errorf("unknown payment method %q: %w", payment, store.ErrInvalidInput)
	}
	return nil
}
