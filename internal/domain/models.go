package domain

import "time"

type DiscountType string

const (
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentQRIS     PaymentMethod = "qris"
)

type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SaleDeleted   SaleStatus = "deleted"
)

func (d DiscountType) Valid() bool {
	return d == DiscountFixed || d == DiscountPercentage
}

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentQRIS:
		return true
	}
	return false
}

type Product struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Category   string     `json:"category"`
	Barcode    string     `json:"barcode,omitempty"`
	PriceCents int64      `json:"price_cents"`
	Stock      int        `json:"stock"`
	TotalSold  int64      `json:"total_sold"`
	LastSold   *time.Time `json:"last_sold,omitempty"`
	Deleted    bool       `json:"deleted"`
}

// SaleItem is a snapshot of the product at sale time. Name and price are
// intentionally decoupled from the live product so historical invoices stay
// stable when the product is later edited or deleted.
type SaleItem struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Qty        int    `json:"qty"`
}

type ReturnEntry struct {
	ProductID string    `json:"product_id"`
	Qty       int       `json:"qty"`
	Date      time.Time `json:"date"`
}

type Sale struct {
	ID             string        `json:"id"`
	InvoiceNumber  string        `json:"invoice_number"`
	Date           time.Time     `json:"date"`
	Items          []SaleItem    `json:"items"`
	SubtotalCents  int64         `json:"subtotal_cents"`
	Discount       float64       `json:"discount"`
	DiscountType   DiscountType  `json:"discount_type"`
	TaxRatePercent float64       `json:"tax_rate_percent"`
	TotalCents     int64         `json:"total_cents"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	Status         SaleStatus    `json:"status"`
	Returns        []ReturnEntry `json:"returns"`
	CustomerID     string        `json:"customer_id,omitempty"`
}

type Customer struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	Email           string     `json:"email,omitempty"`
	TotalSpentCents int64      `json:"total_spent_cents"`
	PurchaseCount   int64      `json:"purchase_count"`
	LastPurchase    *time.Time `json:"last_purchase,omitempty"`
}

type SaleItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type SaleDraft struct {
	Date           *time.Time      `json:"date,omitempty"`
	Items          []SaleItemInput `json:"items"`
	Discount       float64         `json:"discount"`
	DiscountType   DiscountType    `json:"discount_type"`
	TaxRatePercent float64         `json:"tax_rate_percent"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	CustomerID     string          `json:"customer_id,omitempty"`
}

// SalePatch carries the mutable sale fields; nil means unchanged.
type SalePatch struct {
	Date           *time.Time      `json:"date,omitempty"`
	Items          []SaleItemInput `json:"items,omitempty"`
	Discount       *float64        `json:"discount,omitempty"`
	DiscountType   *DiscountType   `json:"discount_type,omitempty"`
	TaxRatePercent *float64        `json:"tax_rate_percent,omitempty"`
	PaymentMethod  *PaymentMethod  `json:"payment_method,omitempty"`
	CustomerID     *string         `json:"customer_id,omitempty"`
}

type ReturnRequest struct {
	SaleID    string `json:"sale_id"`
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type ProductCreateRequest struct {
	Name       string `json:"name"`
	Category   string `json:"category"`
	Barcode    string `json:"barcode,omitempty"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Category   *string `json:"category,omitempty"`
	Barcode    *string `json:"barcode,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Stock      *int    `json:"stock,omitempty"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// ReturnedQtyByProduct sums the sale's return entries per product.
func (s Sale) ReturnedQtyByProduct() map[string]int {
	result := make(map[string]int, len(s.Items))
	for _, entry := range s.Returns {
		result[entry.ProductID] += entry.Qty
	}
	return result
}

// ItemQtyByProduct sums the sale's line quantities per product.
func (s Sale) ItemQtyByProduct() map[string]int {
	result := make(map[string]int, len(s.Items))
	for _, item := range s.Items {
		result[item.ProductID] += item.Qty
	}
	return result
}
