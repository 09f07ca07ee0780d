package domain

// The *Doc helpers are the write-side counterpart of the mappers: they
// flatten an entity into the raw document layout the stores persist and the
// change feed republishes.

func ProductDoc(p Product) map[string]any {
	doc := map[string]any{
		"name":      p.Name,
		"category":  p.Category,
		"price":     p.PriceCents,
		"stock":     p.Stock,
		"totalSold": p.TotalSold,
		"deleted":   p.Deleted,
	}
	if p.Barcode != "" {
		doc["barcode"] = p.Barcode
	}
	if p.LastSold != nil {
		doc["lastSold"] = p.LastSold.UTC()
	}
	return doc
}

func SaleDoc(s Sale) map[string]any {
	items := make([]any, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, map[string]any{
			"productId": item.ProductID,
			"name":      item.Name,
			"price":     item.PriceCents,
			"quantity":  item.Qty,
		})
	}
	returns := make([]any, 0, len(s.Returns))
	for _, entry := range s.Returns {
		returns = append(returns, map[string]any{
			"productId": entry.ProductID,
			"quantity":  entry.Qty,
			"date":      entry.Date.UTC(),
		})
	}
	doc := map[string]any{
		"invoiceNumber": s.InvoiceNumber,
		"date":          s.Date.UTC(),
		"items":         items,
		"subtotal":      s.SubtotalCents,
		"discount":      s.Discount,
		"discountType":  string(s.DiscountType),
		"tax":           s.TaxRatePercent,
		"total":         s.TotalCents,
		"paymentMethod": string(s.PaymentMethod),
		"status":        string(s.Status),
		"returns":       returns,
	}
	if s.CustomerID != "" {
		doc["customerId"] = s.CustomerID
	}
	return doc
}

func CustomerDoc(c Customer) map[string]any {
	doc := map[string]any{
		"name":          c.Name,
		"phone":         c.Phone,
		"totalSpent":    c.TotalSpentCents,
		"purchaseCount": c.PurchaseCount,
	}
	if c.Email != "" {
		doc["email"] = c.Email
	}
	if c.LastPurchase != nil {
		doc["lastPurchase"] = c.LastPurchase.UTC()
	}
	return doc
}
