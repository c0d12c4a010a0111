// Package metrics provides Prometheus metrics for a loam store
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a store
type Metrics struct {
	// Store operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	DocumentsLive     prometheus.Gauge
	TombstonesTotal   prometheus.Gauge

	// Index metrics
	IndexEntries *prometheus.GaugeVec

	// Query metrics
	QueryDuration *prometheus.HistogramVec
	QueriesTotal  *prometheus.CounterVec

	// Subscription metrics
	SubscriptionsActive prometheus.Gauge
	DeliveriesTotal     prometheus.Counter

	// Generation metrics
	GenerationRequestsTotal *prometheus.CounterVec
}

// New creates and registers all metrics on the given registerer.
// A nil registerer uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{}

	m.OperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loam_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "status"},
	)

	m.OperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loam_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	m.DocumentsLive = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "loam_documents_live",
			Help: "Number of live documents in the store",
		},
	)

	m.TombstonesTotal = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "loam_tombstones_total",
			Help: "Number of tombstoned document ids",
		},
	)

	m.IndexEntries = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loam_index_entries",
			Help: "Number of entries per index",
		},
		[]string{"index"},
	)

	m.QueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loam_query_duration_seconds",
			Help:    "Duration of query evaluations in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"index"},
	)

	m.QueriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loam_queries_total",
			Help: "Total number of query evaluations",
		},
		[]string{"index", "status"},
	)

	m.SubscriptionsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "loam_subscriptions_active",
			Help: "Number of active live subscriptions",
		},
	)

	m.DeliveriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "loam_deliveries_total",
			Help: "Total number of subscription result deliveries",
		},
	)

	m.GenerationRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loam_generation_requests_total",
			Help: "Total number of document generation requests",
		},
		[]string{"status"},
	)

	return m
}

// RecordOperation records a store operation with its status
func (m *Metrics) RecordOperation(operation string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordQuery records a query evaluation against an index
func (m *Metrics) RecordQuery(index string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(index, status).Inc()
	m.QueryDuration.WithLabelValues(index).Observe(duration.Seconds())
}

// UpdateStoreStats updates the document and tombstone counts
func (m *Metrics) UpdateStoreStats(docs int, tombstones int) {
	if m == nil {
		return
	}
	m.DocumentsLive.Set(float64(docs))
	m.TombstonesTotal.Set(float64(tombstones))
}

// RecordGeneration records one generation request outcome
func (m *Metrics) RecordGeneration(status string) {
	if m == nil {
		return
	}
	m.GenerationRequestsTotal.WithLabelValues(status).Inc()
}

// UpdateSubscriptions updates the active subscription count
func (m *Metrics) UpdateSubscriptions(n int) {
	if m == nil {
		return
	}
	m.SubscriptionsActive.Set(float64(n))
}

// RecordDeliveries records subscription deliveries triggered by one write
func (m *Metrics) RecordDeliveries(n int) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.Add(float64(n))
}

// UpdateIndexStats updates the entry count for one index
func (m *Metrics) UpdateIndexStats(index string, entries int) {
	if m == nil {
		return
	}
	m.IndexEntries.WithLabelValues(index).Set(float64(entries))
}
