package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for fetch and refresh cycles.
type Metrics struct {
	Registry               *prometheus.Registry
	RequestsTotal          *prometheus.CounterVec
	RequestDuration        prometheus.Histogram
	PricesParsedTotal      prometheus.Counter
	ErrorsTotal            *prometheus.CounterVec
	CyclesTotal            *prometheus.CounterVec
	ProductPrice           *prometheus.GaugeVec
	SnapshotFailuresTotal  *prometheus.CounterVec
	LastLiveCycleTimestamp prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poultry_requests_total",
			Help: "Total report requests issued, by source kind.",
		},
		[]string{"kind"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poultry_request_duration_seconds",
			Help:    "HTTP request latency for report requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pricesParsed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poultry_prices_parsed_total",
			Help: "Total number of product prices extracted from live reports.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poultry_fetch_errors_total",
			Help: "Total number of report fetch errors by type.",
		},
		[]string{"error_type"},
	)
	cycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poultry_cycles_total",
			Help: "Refresh cycles by resulting freshness status.",
		},
		[]string{"status"},
	)
	price := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poultry_product_price",
			Help: "Last published price per canonical product.",
		},
		[]string{"product"},
	)
	snapshotFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poultry_snapshot_failures_total",
			Help: "Snapshot store failures by operation.",
		},
		[]string{"op"},
	)
	lastLive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poultry_last_live_cycle_timestamp_seconds",
			Help: "Unix time of the last cycle that produced live prices.",
		},
	)

	registry.MustRegister(requests, requestDuration, pricesParsed, errorsTotal, cycles, price, snapshotFailures, lastLive)

	return &Metrics{
		Registry:               registry,
		RequestsTotal:          requests,
		RequestDuration:        requestDuration,
		PricesParsedTotal:      pricesParsed,
		ErrorsTotal:            errorsTotal,
		CyclesTotal:            cycles,
		ProductPrice:           price,
		SnapshotFailuresTotal:  snapshotFailures,
		LastLiveCycleTimestamp: lastLive,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddPrices adds n to the parsed prices counter.
func (m *Metrics) AddPrices(n int) {
	if m == nil {
		return
	}
	m.PricesParsedTotal.Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCycle counts a finished cycle; live cycles also stamp the live gauge.
func (m *Metrics) IncCycle(status string, at time.Time) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(status).Inc()
	if status == "live" {
		m.LastLiveCycleTimestamp.Set(float64(at.Unix()))
	}
}

// SetPrice publishes the current price of a product.
func (m *Metrics) SetPrice(product string, price float64) {
	if m == nil {
		return
	}
	m.ProductPrice.WithLabelValues(product).Set(price)
}

// IncSnapshotFailure counts a failed snapshot load or save.
func (m *Metrics) IncSnapshotFailure(op string) {
	if m == nil {
		return
	}
	m.SnapshotFailuresTotal.WithLabelValues(op).Inc()
}
