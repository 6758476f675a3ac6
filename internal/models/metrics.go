package models

import "time"

// SystemMetrics is a lightweight snapshot of instrumentation counters.
type SystemMetrics struct {
	CacheHitRatio                  float64   `json:"cache_hit_ratio"`
	CacheHits                      uint64    `json:"cache_hits"`
	CacheMisses                    uint64    `json:"cache_misses"`
	RequestsTotal                  uint64    `json:"requests_total"`
	AverageRequestDurationMs       float64   `json:"average_request_duration_ms"`
	RecalculationsTotal            uint64    `json:"recalculations_total"`
	RecalculationFailures          uint64    `json:"recalculation_failures"`
	AverageRecalculationDurationMs float64   `json:"average_recalculation_duration_ms"`
	Goroutines                     int       `json:"goroutines"`
	GeneratedAt                    time.Time `json:"generated_at"`
}
