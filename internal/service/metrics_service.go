package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-activity-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry              *prometheus.Registry
	handler               http.Handler
	requestDuration       *prometheus.HistogramVec
	requestTotal          *prometheus.CounterVec
	cacheLatency          prometheus.Observer
	cacheWrite            prometheus.Observer
	cacheHitRatio         prometheus.Gauge
	cacheHits             prometheus.Counter
	cacheMisses           prometheus.Counter
	recalcDuration        prometheus.Histogram
	recalcTotal           *prometheus.CounterVec
	recalcDeferred        prometheus.Counter
	evidenceDecisionTotal *prometheus.CounterVec

	cacheHitCount       uint64
	cacheMissCount      uint64
	requestCount        uint64
	requestDurationSum  uint64
	recalcCount         uint64
	recalcFailureCount  uint64
	recalcDurationTotal uint64
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

	recalcDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "progress_recalculation_duration_seconds",
		Help:    "Duration of student progress recalculations",
		Buckets: prometheus.DefBuckets,
	})

	recalcTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_recalculations_total",
		Help: "Progress recalculations by outcome",
	}, []string{"outcome"})

	recalcDeferred := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "progress_recalculations_deferred_total",
		Help: "Recalculations handed to the retry queue after a synchronous failure",
	})

	evidenceDecisionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_decisions_total",
		Help: "Evidence review decisions by outcome",
	}, []string{"decision"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		recalcDuration, recalcTotal, recalcDeferred, evidenceDecisionTotal, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:              registry,
		handler:               handler,
		requestDuration:       requestDuration,
		requestTotal:          requestTotal,
		cacheLatency:          cacheLatency,
		cacheWrite:            cacheWrite,
		cacheHitRatio:         cacheHitRatio,
		cacheHits:             cacheHits,
		cacheMisses:           cacheMisses,
		recalcDuration:        recalcDuration,
		recalcTotal:           recalcTotal,
		recalcDeferred:        recalcDeferred,
		evidenceDecisionTotal: evidenceDecisionTotal,
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
	atomic.AddUint64(&m.requestDurationSum, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveRecalculation records one progress recalculation and its outcome.
func (m *MetricsService) ObserveRecalculation(duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		atomic.AddUint64(&m.recalcFailureCount, 1)
	}
	m.recalcDuration.Observe(duration.Seconds())
	m.recalcTotal.WithLabelValues(outcome).Inc()
	atomic.AddUint64(&m.recalcCount, 1)
	atomic.AddUint64(&m.recalcDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordRecalculationDeferred counts a recalculation handed to the retry queue.
func (m *MetricsService) RecordRecalculationDeferred() {
	if m == nil {
		return
	}
	m.recalcDeferred.Inc()
}

// TrackRecalculationQueue publishes the pending job count of the recalculation queue.
func (m *MetricsService) TrackRecalculationQueue(pending func() int) {
	if m == nil || pending == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "progress_recalculation_queue_pending",
		Help: "Student recalculations waiting or running on the background queue",
	}, func() float64 {
		return float64(pending())
	}))
}

// RecordEvidenceDecision counts approve and reject decisions.
func (m *MetricsService) RecordEvidenceDecision(decision string) {
	if m == nil {
		return
	}
	m.evidenceDecisionTotal.WithLabelValues(decision).Inc()
}

// Snapshot returns aggregated metrics suitable for the metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationSum)
	recalcs := atomic.LoadUint64(&m.recalcCount)
	recalcFailures := atomic.LoadUint64(&m.recalcFailureCount)
	recalcDuration := atomic.LoadUint64(&m.recalcDurationTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgRecalcMs float64
	if recalcs > 0 {
		avgRecalcMs = float64(recalcDuration) / float64(recalcs) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:                  cacheRatio,
		CacheHits:                      hits,
		CacheMisses:                    misses,
		RequestsTotal:                  requests,
		AverageRequestDurationMs:       avgRequestMs,
		RecalculationsTotal:            recalcs,
		RecalculationFailures:          recalcFailures,
		AverageRecalculationDurationMs: avgRecalcMs,
		Goroutines:                     runtime.NumGoroutine(),
		GeneratedAt:                    time.Now().UTC(),
	}
}
