package domain

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The mappers convert raw store documents into typed entities. They are pure
// functions: heterogeneous date representations are normalized to time.Time,
// numeric fields are coerced from whatever width the store returned, and
// missing fields receive their documented defaults.

func MapProduct(id string, raw map[string]any) (Product, error) {
	product := Product{
		ID:         id,
		Name:       asString(raw["name"]),
		Category:   asString(raw["category"]),
		Barcode:    asString(raw["barcode"]),
		PriceCents: asInt64(raw["price"]),
		Stock:      int(asInt64(raw["stock"])),
		TotalSold:  asInt64(raw["totalSold"]),
		Deleted:    asBool(raw["deleted"]),
	}
	if raw["lastSold"] != nil {
		lastSold, err := asTime(raw["lastSold"])
		if err != nil {
			return Product{}, fmt.Errorf("product %s: %w", id, err)
		}
		product.LastSold = &lastSold
	}
	return product, nil
}

func MapSale(id string, raw map[string]any) (Sale, error) {
	sale := Sale{
		ID:             id,
		InvoiceNumber:  asString(raw["invoiceNumber"]),
		Discount:       asFloat64(raw["discount"]),
		DiscountType:   DiscountType(asString(raw["discountType"])),
		TaxRatePercent: asFloat64(raw["tax"]),
		SubtotalCents:  asInt64(raw["subtotal"]),
		TotalCents:     asInt64(raw["total"]),
		PaymentMethod:  PaymentMethod(asString(raw["paymentMethod"])),
		Status:         SaleStatus(asString(raw["status"])),
		CustomerID:     asString(raw["customerId"]),
	}
	if !sale.DiscountType.Valid() {
		sale.DiscountType = DiscountFixed
	}
	if !sale.PaymentMethod.Valid() {
		sale.PaymentMethod = PaymentCash
	}
	if sale.Status != SaleDeleted {
		sale.Status = SaleCompleted
	}
	if raw["date"] != nil {
		date, err := asTime(raw["date"])
		if err != nil {
			return Sale{}, fmt.Errorf("sale %s: %w", id, err)
		}
		sale.Date = date
	}

	for i, rawItem := range asSlice(raw["items"]) {
		item, ok := asMap(rawItem)
		if !ok {
			return Sale{}, fmt.Errorf("sale %s: item %d is not a document", id, i)
		}
		sale.Items = append(sale.Items, SaleItem{
			ProductID:  asString(item["productId"]),
			Name:       asString(item["name"]),
			PriceCents: asInt64(item["price"]),
			Qty:        int(asInt64(item["quantity"])),
		})
	}
	for i, rawEntry := range asSlice(raw["returns"]) {
		entry, ok := asMap(rawEntry)
		if !ok {
			return Sale{}, fmt.Errorf("sale %s: return %d is not a document", id, i)
		}
		date, err := asTime(entry["date"])
		if err != nil {
			return Sale{}, fmt.Errorf("sale %s: %w", id, err)
		}
		sale.Returns = append(sale.Returns, ReturnEntry{
			ProductID: asString(entry["productId"]),
			Qty:       int(asInt64(entry["quantity"])),
			Date:      date,
		})
	}
	return sale, nil
}

func MapCustomer(id string, raw map[string]any) (Customer, error) {
	customer := Customer{
		ID:              id,
		Name:            asString(raw["name"]),
		Phone:           asString(raw["phone"]),
		Email:           asString(raw["email"]),
		TotalSpentCents: asInt64(raw["totalSpent"]),
		PurchaseCount:   asInt64(raw["purchaseCount"]),
	}
	if raw["lastPurchase"] != nil {
		lastPurchase, err := asTime(raw["lastPurchase"])
		if err != nil {
			return Customer{}, fmt.Errorf("customer %s: %w", id, err)
		}
		customer.LastPurchase = &lastPurchase
	}
	return customer, nil
}

// asTime normalizes the date representations seen in stored documents:
// native time, a driver timestamp, an RFC 3339 string, or an epoch number
// (seconds or milliseconds).
func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil timestamp")
		}
		return t.UTC(), nil
	case primitive.DateTime:
		return t.Time().UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date string %q", t)
	case int64:
		return epochToTime(t), nil
	case int:
		return epochToTime(int64(t)), nil
	case float64:
		return epochToTime(int64(t)), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported date representation %T", v)
	}
}

// Values above this are treated as epoch milliseconds rather than seconds.
const epochMillisCutoff = int64(1) << 40

func epochToTime(v int64) time.Time {
	if v >= epochMillisCutoff {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	default:
		return 0
	}
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case primitive.A:
		return s
	default:
		return nil
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case primitive.M:
		return m, true
	default:
		return nil, false
	}
}
