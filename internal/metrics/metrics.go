// Package metrics exposes Prometheus collectors for the feed engine,
// the record stores and upstream ingest.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed engine
	poolBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedpool_pool_builds_total",
		Help: "Pools built (initialize or refresh) per feed variant",
	}, []string{"variant"})

	poolSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedpool_pool_size_records",
		Help:    "Number of records in a freshly built pool",
		Buckets: []float64{0, 10, 30, 60, 120, 200, 300, 500},
	}, []string{"variant"})

	recordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedpool_records_dropped_total",
		Help: "Records dropped while building a pool by reason",
	}, []string{"variant", "reason"}) // reason=malformed|quality

	pagesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedpool_pages_served_total",
		Help: "Pages served from pools per feed variant",
	}, []string{"variant"})

	sourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedpool_source_failures_total",
		Help: "Record source failures during initialize or refresh",
	}, []string{"variant"})

	loadsIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedpool_loads_ignored_total",
		Help: "Load requests collapsed because a load was already in flight",
	}, []string{"variant"})

	// Sessions
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedpool_sessions_active",
		Help: "Feed sessions currently held in memory",
	})

	// HTTP
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedpool_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// Ingest
	ingestItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedpool_ingest_items_total",
		Help: "Upstream feed items processed by outcome",
	}, []string{"outcome"}) // outcome=new|duplicate|skipped|error

	ingestFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedpool_ingest_fetch_errors_total",
		Help: "Upstream feed fetch or parse failures",
	})
)

// RecordPoolBuild records a pool build with its resulting size.
func RecordPoolBuild(variant string, size int) {
	poolBuilds.WithLabelValues(variant).Inc()
	poolSize.WithLabelValues(variant).Observe(float64(size))
}

// RecordDropped records records removed before pooling.
func RecordDropped(variant, reason string, n int) {
	if n <= 0 {
		return
	}
	recordsDropped.WithLabelValues(variant, reason).Add(float64(n))
}

// RecordPageServed increments the served page counter.
func RecordPageServed(variant string) {
	pagesServed.WithLabelValues(variant).Inc()
}

// RecordSourceFailure increments the source failure counter.
func RecordSourceFailure(variant string) {
	sourceFailures.WithLabelValues(variant).Inc()
}

// RecordLoadIgnored increments the collapsed load counter.
func RecordLoadIgnored(variant string) {
	loadsIgnored.WithLabelValues(variant).Inc()
}

// SetActiveSessions sets the active session gauge.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordIngestItem records the outcome of one upstream item.
func RecordIngestItem(outcome string) {
	ingestItems.WithLabelValues(outcome).Inc()
}

// RecordIngestFetchError increments the upstream fetch error counter.
func RecordIngestFetchError() {
	ingestFetchErrors.Inc()
}

// ObserveHTTPRequest records one served request. route is the router
// pattern, not the raw path.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
