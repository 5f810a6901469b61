package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/pasi-sync-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	cacheLatency       prometheus.Observer
	cacheWrite         prometheus.Observer
	cacheHitRatio      prometheus.Gauge
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	storeDuration      *prometheus.HistogramVec
	storeWriteFailures *prometheus.CounterVec
	syncRuns           *prometheus.CounterVec
	syncRunDuration    prometheus.Observer
	syncOutcomes       *prometheus.GaugeVec
	links              *prometheus.CounterVec

	cacheHitCount          uint64
	cacheMissCount         uint64
	requestCount           uint64
	requestDurationTotal   uint64
	storeOpCount           uint64
	storeOpDurationTotal   uint64
	syncRunCount           uint64
	linkCount              uint64
	storeWriteFailureCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	storeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "record_store_operation_seconds",
		Help:    "Duration of record store reads and writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	storeWriteFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "record_store_write_failures_total",
		Help: "Multi-path writes that were rejected by the record store",
	}, []string{"operation"})

	syncRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pasi_sync_runs_total",
		Help: "Completed reconciliation runs",
	}, []string{"result"})

	syncRunDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pasi_sync_run_duration_seconds",
		Help:    "Duration of reconciliation runs",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	syncOutcomes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pasi_sync_report_entries",
		Help: "Entries per bucket written by the last reconciliation run",
	}, []string{"school_year", "bucket"})

	links := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pasi_links_total",
		Help: "Link attempts by origin and result",
	}, []string{"origin", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		storeDuration, storeWriteFailures, syncRuns, syncRunDuration, syncOutcomes, links, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:           registry,
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		storeDuration:      storeDuration,
		storeWriteFailures: storeWriteFailures,
		syncRuns:           syncRuns,
		syncRunDuration:    syncRunDuration,
		syncOutcomes:       syncOutcomes,
		links:              links,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveStoreOperation records record store timing for label.
func (m *MetricsService) ObserveStoreOperation(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.storeOpCount, 1)
	atomic.AddUint64(&m.storeOpDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordStoreWriteFailure counts a rejected multi-path write.
func (m *MetricsService) RecordStoreWriteFailure(operation string) {
	if m == nil {
		return
	}
	m.storeWriteFailures.WithLabelValues(operation).Inc()
	atomic.AddUint64(&m.storeWriteFailureCount, 1)
}

// RecordLink counts a link attempt. origin is "manual" or "auto".
func (m *MetricsService) RecordLink(origin string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	} else {
		atomic.AddUint64(&m.linkCount, 1)
	}
	m.links.WithLabelValues(origin, result).Inc()
}

// RecordSyncRun records a finished reconciliation run and the bucket sizes it produced.
func (m *MetricsService) RecordSyncRun(sy models.SchoolYear, counts map[string]int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.syncRuns.WithLabelValues(result).Inc()
	m.syncRunDuration.Observe(duration.Seconds())
	atomic.AddUint64(&m.syncRunCount, 1)
	if err != nil {
		return
	}
	for _, bucket := range models.Buckets {
		m.syncOutcomes.WithLabelValues(sy.Path(), bucket.Name()).Set(float64(counts[bucket.Name()]))
	}
}

// Snapshot returns aggregated metrics suitable for the JSON metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	storeOps := atomic.LoadUint64(&m.storeOpCount)
	storeDuration := atomic.LoadUint64(&m.storeOpDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgStoreMs float64
	if storeOps > 0 {
		avgStoreMs = float64(storeDuration) / float64(storeOps) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		StoreOperations:          storeOps,
		AverageStoreOperationMs:  avgStoreMs,
		SyncRuns:                 atomic.LoadUint64(&m.syncRunCount),
		LinksCreated:             atomic.LoadUint64(&m.linkCount),
		StoreWriteFailures:       atomic.LoadUint64(&m.storeWriteFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
