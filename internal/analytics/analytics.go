// Package analytics derives reports from the mirrored sale, product and
// customer collections. Every number is recomputed from the sale log, so a
// drifted stored rollup can never leak into a report.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"posledger/backend/internal/bridge"
	"posledger/backend/internal/domain"
	"posledger/backend/internal/metrics"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodMonthly, PeriodYearly:
		return true
	}
	return false
}

// StateSource yields a consistent snapshot of the mirrored collections.
type StateSource interface {
	State() bridge.State
}

type SalesBucket struct {
	Key              string `json:"key"`
	RevenueCents     int64  `json:"revenueCents"`
	TransactionCount int    `json:"transactionCount"`
}

type SalesReport struct {
	Period            Period                        `json:"period"`
	Buckets           []SalesBucket                 `json:"buckets"`
	Sales             []domain.Sale                 `json:"sales"`
	TotalRevenueCents int64                         `json:"totalRevenueCents"`
	NetRevenueCents   int64                         `json:"netRevenueCents"`
	TransactionCount  int                           `json:"transactionCount"`
	AvgSaleCents      int64                         `json:"avgSaleCents"`
	RevenueByPayment  map[domain.PaymentMethod]int64 `json:"revenueByPayment"`
}

type InventoryReport struct {
	TotalProducts        int              `json:"totalProducts"`
	InStock              int              `json:"inStock"`
	LowStock             int              `json:"lowStock"`
	OutOfStock           int              `json:"outOfStock"`
	TotalStockValueCents int64            `json:"totalStockValueCents"`
	LowStockProducts     []domain.Product `json:"lowStockProducts"`
	OutOfStockProducts   []domain.Product `json:"outOfStockProducts"`
}

type CustomerStat struct {
	CustomerID    string `json:"customerId"`
	Name          string `json:"name"`
	SpentCents    int64  `json:"spentCents"`
	PurchaseCount int    `json:"purchaseCount"`
}

type CustomerReport struct {
	TotalCustomers   int            `json:"totalCustomers"`
	ActiveCustomers  int            `json:"activeCustomers"`
	AvgSpentCents    int64          `json:"avgSpentCents"`
	TopBySpent       []CustomerStat `json:"topBySpent"`
}

type ProductStat struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	QtySold      int    `json:"qtySold"`
	RevenueCents int64  `json:"revenueCents"`
}

type ProductReport struct {
	TopByQuantity []ProductStat `json:"topByQuantity"`
	TopByRevenue  []ProductStat `json:"topByRevenue"`
}

const topN = 5

type Engine struct {
	source            StateSource
	cache             SnapshotCache
	metrics           *metrics.Metrics
	lowStockThreshold int
	cacheTTL          time.Duration
}

func NewEngine(source StateSource, cache SnapshotCache, m *metrics.Metrics, lowStockThreshold int, cacheTTL time.Duration) *Engine {
	if cache == nil {
		cache = NoopCache{}
	}
	if lowStockThreshold < 1 {
		lowStockThreshold = 5
	}
	return &Engine{
		source:            source,
		cache:             cache,
		metrics:           m,
		lowStockThreshold: lowStockThreshold,
		cacheTTL:          cacheTTL,
	}
}

func (e *Engine) SalesAnalytics(ctx context.Context, period Period, asOf time.Time) (*SalesReport, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("invalid period %q", period)
	}
	state := e.source.State()

	var report SalesReport
	key := fmt.Sprintf("sales:%s:%s:%d", period, asOf.UTC().Format("2006-01-02"), state.Version)
	if e.loadCached(ctx, "sales", key, &report) {
		return &report, nil
	}

	report = SalesReport{
		Period:           period,
		RevenueByPayment: make(map[domain.PaymentMethod]int64),
	}
	buckets := make(map[string]*SalesBucket)
	window := periodWindow(period, asOf)

	for _, sale := range state.Sales {
		if sale.Status != domain.SaleCompleted {
			continue
		}
		if sale.Date.Before(window.start) || !sale.Date.Before(window.end) {
			continue
		}
		report.Sales = append(report.Sales, sale)
		report.TotalRevenueCents += sale.TotalCents
		report.NetRevenueCents += netRevenueCents(sale)
		report.TransactionCount++
		report.RevenueByPayment[sale.PaymentMethod] += sale.TotalCents

		key := window.bucketKey(sale.Date)
		bucket, ok := buckets[key]
		if !ok {
			bucket = &SalesBucket{Key: key}
			buckets[key] = bucket
		}
		bucket.RevenueCents += sale.TotalCents
		bucket.TransactionCount++
	}

	report.Buckets = make([]SalesBucket, 0, len(buckets))
	for _, bucket := range buckets {
		report.Buckets = append(report.Buckets, *bucket)
	}
	slices.SortFunc(report.Buckets, func(a, b SalesBucket) int {
		if a.Key == b.Key {
			return 0
		}
		if a.Key < b.Key {
			return -1
		}
		return 1
	})
	if report.TransactionCount > 0 {
		report.AvgSaleCents = report.TotalRevenueCents / int64(report.TransactionCount)
	}

	e.storeCached(ctx, key, report)
	return &report, nil
}

func (e *Engine) InventoryReport(ctx context.Context) (*InventoryReport, error) {
	state := e.source.State()

	var report InventoryReport
	key := fmt.Sprintf("inventory:%d:%d", e.lowStockThreshold, state.Version)
	if e.loadCached(ctx, "inventory", key, &report) {
		return &report, nil
	}

	for _, product := range state.Products {
		if product.Deleted {
			continue
		}
		report.TotalProducts++
		report.TotalStockValueCents += product.PriceCents * int64(product.Stock)
		switch {
		case product.Stock <= 0:
			report.OutOfStock++
			report.OutOfStockProducts = append(report.OutOfStockProducts, product)
		case product.Stock <= e.lowStockThreshold:
			report.LowStock++
			report.LowStockProducts = append(report.LowStockProducts, product)
		default:
			report.InStock++
		}
	}
	sortProducts(report.LowStockProducts)
	sortProducts(report.OutOfStockProducts)

	e.storeCached(ctx, key, report)
	return &report, nil
}

// CustomerAnalytics re-aggregates spend from the sale log instead of trusting
// the stored rollup counters.
func (e *Engine) CustomerAnalytics(ctx context.Context) (*CustomerReport, error) {
	state := e.source.State()

	var report CustomerReport
	key := fmt.Sprintf("customers:%d", state.Version)
	if e.loadCached(ctx, "customers", key, &report) {
		return &report, nil
	}

	stats := make(map[string]*CustomerStat)
	for _, sale := range state.Sales {
		if sale.Status != domain.SaleCompleted || sale.CustomerID == "" {
			continue
		}
		stat, ok := stats[sale.CustomerID]
		if !ok {
			stat = &CustomerStat{CustomerID: sale.CustomerID}
			stats[sale.CustomerID] = stat
		}
		stat.SpentCents += sale.TotalCents
		stat.PurchaseCount++
	}

	report.TotalCustomers = len(state.Customers)
	report.ActiveCustomers = len(stats)

	// Collection order first, then a stable sort, so ties keep that order.
	ranked := make([]CustomerStat, 0, len(stats))
	var totalSpent int64
	for _, customer := range state.Customers {
		stat, ok := stats[customer.ID]
		if !ok {
			continue
		}
		stat.Name = customer.Name
		ranked = append(ranked, *stat)
		totalSpent += stat.SpentCents
	}
	if len(ranked) > 0 {
		report.AvgSpentCents = totalSpent / int64(len(ranked))
	}
	slices.SortStableFunc(ranked, func(a, b CustomerStat) int {
		if a.SpentCents == b.SpentCents {
			return 0
		}
		if a.SpentCents > b.SpentCents {
			return -1
		}
		return 1
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	report.TopBySpent = ranked

	e.storeCached(ctx, key, report)
	return &report, nil
}

func (e *Engine) ProductAnalytics(ctx context.Context) (*ProductReport, error) {
	state := e.source.State()

	var report ProductReport
	key := fmt.Sprintf("products:%d", state.Version)
	if e.loadCached(ctx, "products", key, &report) {
		return &report, nil
	}

	stats := make(map[string]*ProductStat)
	order := make([]string, 0, 16)
	for _, sale := range state.Sales {
		if sale.Status != domain.SaleCompleted {
			continue
		}
		for _, item := range sale.Items {
			stat, ok := stats[item.ProductID]
			if !ok {
				stat = &ProductStat{ProductID: item.ProductID, Name: item.Name}
				stats[item.ProductID] = stat
				order = append(order, item.ProductID)
			}
			stat.QtySold += item.Qty
			stat.RevenueCents += item.PriceCents * int64(item.Qty)
		}
	}

	ranked := make([]ProductStat, 0, len(order))
	for _, productID := range order {
		ranked = append(ranked, *stats[productID])
	}

	report.TopByQuantity = topStats(ranked, func(a, b ProductStat) bool { return a.QtySold > b.QtySold })
	report.TopByRevenue = topStats(ranked, func(a, b ProductStat) bool { return a.RevenueCents > b.RevenueCents })

	e.storeCached(ctx, key, report)
	return &report, nil
}

func (e *Engine) loadCached(ctx context.Context, report string, key string, out any) bool {
	payload, found, err := e.cache.Get(ctx, key)
	if err != nil {
		log.Printf("[analytics] WARN: cache get %s: %v", key, err)
		return false
	}
	if !found {
		e.countCache(report, "miss")
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		log.Printf("[analytics] WARN: cache decode %s: %v", key, err)
		return false
	}
	e.countCache(report, "hit")
	return true
}

func (e *Engine) storeCached(ctx context.Context, key string, report any) {
	payload, err := json.Marshal(report)
	if err != nil {
		log.Printf("[analytics] WARN: cache encode %s: %v", key, err)
		return
	}
	if err := e.cache.Set(ctx, key, payload, e.cacheTTL); err != nil {
		log.Printf("[analytics] WARN: cache set %s: %v", key, err)
	}
}

func (e *Engine) countCache(report string, outcome string) {
	if e.metrics != nil {
		e.metrics.AnalyticsCacheHits.WithLabelValues(report, outcome).Inc()
	}
}

// netRevenueCents feeds the supplementary net figure: the sale total minus
// the line value of every returned unit, scaled against the pre-discount
// subtotal so discounts and tax shrink proportionally. Revenue totals,
// buckets and rankings always use the raw sale total.
func netRevenueCents(sale domain.Sale) int64 {
	if len(sale.Returns) == 0 || sale.SubtotalCents <= 0 {
		return sale.TotalCents
	}
	price := make(map[string]int64, len(sale.Items))
	for _, item := range sale.Items {
		price[item.ProductID] = item.PriceCents
	}
	var returnedValue int64
	for _, entry := range sale.Returns {
		returnedValue += price[entry.ProductID] * int64(entry.Qty)
	}
	net := sale.TotalCents - (sale.TotalCents*returnedValue)/sale.SubtotalCents
	if net < 0 {
		net = 0
	}
	return net
}

type window struct {
	start     time.Time
	end       time.Time
	keyFormat string
}

func (w window) bucketKey(at time.Time) string {
	return at.UTC().Format(w.keyFormat)
}

// periodWindow resolves the calendar bucket containing asOf: the same day,
// the same month, or the same year. Sub-buckets split a month by day and a
// year by month.
func periodWindow(period Period, asOf time.Time) window {
	asOf = asOf.UTC()
	switch period {
	case PeriodMonthly:
		start := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
		return window{start: start, end: start.AddDate(0, 1, 0), keyFormat: "2006-01-02"}
	case PeriodYearly:
		start := time.Date(asOf.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return window{start: start, end: start.AddDate(1, 0, 0), keyFormat: "2006-01"}
	default:
		start := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
		return window{start: start, end: start.AddDate(0, 0, 1), keyFormat: "2006-01-02"}
	}
}

// sortProducts orders shortage lists with the most depleted product first.
func sortProducts(products []domain.Product) {
	slices.SortStableFunc(products, func(a, b domain.Product) int {
		if a.Stock != b.Stock {
			return a.Stock - b.Stock
		}
		return strings.Compare(a.Name, b.Name)
	})
}

func topStats(stats []ProductStat, better func(a, b ProductStat) bool) []ProductStat {
	ranked := make([]ProductStat, len(stats))
	copy(ranked, stats)
	slices.SortStableFunc(ranked, func(a, b ProductStat) int {
		if better(a, b) {
			return -1
		}
		if better(b, a) {
			return 1
		}
		return 0
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}
