// file: internal/metrics/metrics.go
// version: 2.0.0
// guid: 9f8e7d6c-5b4a-3210-9fed-cba876543210

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "exam_results"

var (
	registerOnce sync.Once

	fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetches_total",
		Help:      "Resource fetches by resource kind and outcome",
	}, []string{"resource", "outcome"})
	fetchRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_retries_total",
		Help:      "Fetch attempts repeated after a transient failure",
	}, []string{"resource"})
	fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Duration of resource fetches including retries",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms up to ~10s
	}, []string{"resource"})

	cacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_events_total",
		Help:      "Cache hits, misses and evictions by cache name",
	}, []string{"cache", "event"})

	lookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookups_total",
		Help:      "Exact-match lookups by session and outcome",
	}, []string{"session", "outcome"})
	lookupDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "lookup_duration_seconds",
		Help:      "Duration of exact-match lookups",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
	}, []string{"session"})

	indexBuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_index_builds_total",
		Help:      "Search index (re)builds by session",
	}, []string{"session"})
	indexRecords = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "search_index_records",
		Help:      "Records held by the current search index of a session",
	}, []string{"session"})
	searchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "searches_total",
		Help:      "Name searches by source (cache or index)",
	}, []string{"source"})
	searchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Duration of name searches answered by the index",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	operationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Background operations by type and final status",
	}, []string{"type", "status"})
	operationsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "operations_active",
		Help:      "Background operations currently running",
	})
	operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of background operations",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2.5, 10),
	}, []string{"type"})
	sseClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_stream_clients",
		Help:      "Connected server-sent event clients",
	})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(fetchTotal, fetchRetries, fetchDuration, cacheEvents,
			lookupTotal, lookupDuration, indexBuilds, indexRecords, searchTotal, searchDuration,
			operationTotal, operationsActive, operationDuration, sseClients)
	})
}

// Fetch helpers
func ObserveFetch(resource, outcome string, d time.Duration) {
	fetchTotal.WithLabelValues(resource, outcome).Inc()
	fetchDuration.WithLabelValues(resource).Observe(d.Seconds())
}
func IncFetchRetry(resource string) { fetchRetries.WithLabelValues(resource).Inc() }

// Cache helpers
func IncCacheHit(cache string)      { cacheEvents.WithLabelValues(cache, "hit").Inc() }
func IncCacheMiss(cache string)     { cacheEvents.WithLabelValues(cache, "miss").Inc() }
func IncCacheEviction(cache string) { cacheEvents.WithLabelValues(cache, "evict").Inc() }

// Lookup helpers
func ObserveLookup(session, outcome string, d time.Duration) {
	lookupTotal.WithLabelValues(session, outcome).Inc()
	lookupDuration.WithLabelValues(session).Observe(d.Seconds())
}

// Search helpers
func IncIndexBuild(session string)          { indexBuilds.WithLabelValues(session).Inc() }
func SetIndexRecords(session string, n int) { indexRecords.WithLabelValues(session).Set(float64(n)) }
func IncSearchCached()                      { searchTotal.WithLabelValues("cache").Inc() }
func ObserveSearch(d time.Duration) {
	searchTotal.WithLabelValues("index").Inc()
	searchDuration.Observe(d.Seconds())
}

// Operation helpers
func IncOperationStarted() { operationsActive.Inc() }
func ObserveOperation(opType, status string, d time.Duration) {
	operationsActive.Dec()
	operationTotal.WithLabelValues(opType, status).Inc()
	operationDuration.WithLabelValues(opType).Observe(d.Seconds())
}

// SetEventClients records the number of connected event stream clients.
func SetEventClients(n int) { sseClients.Set(float64(n)) }
