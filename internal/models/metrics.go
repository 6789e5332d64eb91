package models

import "time"

// MetricsSnapshot summarises service counters for the JSON metrics endpoint.
type MetricsSnapshot struct {
	RequestsTotal        uint64    `json:"requests_total"`
	CacheHits            uint64    `json:"cache_hits"`
	CacheMisses          uint64    `json:"cache_misses"`
	CacheHitRatio        float64   `json:"cache_hit_ratio"`
	OrdersCreated        uint64    `json:"orders_created"`
	ConfirmationTimeouts uint64    `json:"confirmation_timeouts"`
	AccessDenied         uint64    `json:"access_denied"`
	ProgressUpdates      uint64    `json:"progress_updates"`
	Goroutines           int       `json:"goroutines"`
	GeneratedAt          time.Time `json:"generated_at"`
}
