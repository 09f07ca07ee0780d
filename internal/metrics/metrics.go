// Package metrics holds the Prometheus instruments for the sale engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SalesCreated       prometheus.Counter
	SalesUpdated       prometheus.Counter
	SalesDeleted       prometheus.Counter
	ReturnsRecorded    prometheus.Counter
	StockRejections    prometheus.Counter
	SaleTotalCents     prometheus.Histogram
	AnalyticsCacheHits *prometheus.CounterVec
}

// New registers every instrument on the given registerer. Tests pass a fresh
// registry so parallel packages never collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SalesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "sales_created_total",
			Help:      "Sale transactions committed.",
		}),
		SalesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "sales_updated_total",
			Help:      "Sale transactions updated in place.",
		}),
		SalesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "sales_deleted_total",
			Help:      "Sale transactions soft-deleted with stock release.",
		}),
		ReturnsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "returns_recorded_total",
			Help:      "Item returns appended to sales.",
		}),
		StockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "stock_rejections_total",
			Help:      "Sale attempts rejected for insufficient stock.",
		}),
		SaleTotalCents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "posledger",
			Name:      "sale_total_cents",
			Help:      "Distribution of committed sale totals in cents.",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 8),
		}),
		AnalyticsCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "analytics_cache_requests_total",
			Help:      "Analytics snapshot cache lookups by outcome.",
		}, []string{"report", "outcome"}),
	}

	reg.MustRegister(
		m.SalesCreated,
		m.SalesUpdated,
		m.SalesDeleted,
		m.ReturnsRecorded,
		m.StockRejections,
		m.SaleTotalCents,
		m.AnalyticsCacheHits,
	)
	return m
}
