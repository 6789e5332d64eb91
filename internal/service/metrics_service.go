package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

// Verification outcomes recorded by ObserveVerification.
const (
	VerificationSucceeded = "success"
	VerificationRejected  = "rejected"
	VerificationErrored   = "gateway_error"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP, cache and enrollment lifecycle events.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	ordersCreated        prometheus.Counter
	verifications        *prometheus.CounterVec
	confirmationTimeouts prometheus.Counter
	confirmationAttempts prometheus.Histogram
	accessDenied         *prometheus.CounterVec
	progressUpdates      prometheus.Counter
	coursesCompleted     prometheus.Counter
	pendingExpired       prometheus.Counter
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
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	ordersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_orders_created_total",
		Help: "Payment orders created for paid enrollments",
	})

	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_verifications_total",
		Help: "Payment verifications by result",
	}, []string{"result"})

	confirmationTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_confirmation_timeouts_total",
		Help: "Confirmations that did not become visible within the polling budget",
	})

	confirmationAttempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "enrollment_confirmation_attempts",
		Help:    "Reads needed before a confirmed enrollment became visible",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
	})

	accessDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_access_denied_total",
		Help: "Denied content or progress requests by reason",
	}, []string{"reason"})

	progressUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_progress_updates_total",
		Help: "Accepted module progress updates",
	})

	coursesCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_courses_completed_total",
		Help: "Enrollments that reached course completion",
	})

	pendingExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_pending_expired_total",
		Help: "Pending enrollments failed by the sweeper after their order expired",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		ordersCreated, verifications, confirmationTimeouts, confirmationAttempts,
		accessDenied, progressUpdates, coursesCompleted, pendingExpired, goroutines,
	)

	return &MetricsService{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		cacheLatency:         cacheLatency,
		cacheWrite:           cacheWrite,
		cacheHits:            cacheHits,
		cacheMisses:          cacheMisses,
		ordersCreated:        ordersCreated,
		verifications:        verifications,
		confirmationTimeouts: confirmationTimeouts,
		confirmationAttempts: confirmationAttempts,
		accessDenied:         accessDenied,
		progressUpdates:      progressUpdates,
		coursesCompleted:     coursesCompleted,
		pendingExpired:       pendingExpired,
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

func (m *MetricsService) IncOrdersCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *MetricsService) ObserveVerification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

// ObserveConfirmation records how many reads a confirmation poll used and whether it timed out.
func (m *MetricsService) ObserveConfirmation(attempts int, visible bool) {
	if m == nil {
		return
	}
	m.confirmationAttempts.Observe(float64(attempts))
	if !visible {
		m.confirmationTimeouts.Inc()
	}
}

func (m *MetricsService) IncAccessDenied(reason string) {
	if m == nil {
		return
	}
	m.accessDenied.WithLabelValues(reason).Inc()
}

// IncProgressUpdate counts an accepted progress write, and a completion when it finished the course.
func (m *MetricsService) IncProgressUpdate(courseCompleted bool) {
	if m == nil {
		return
	}
	m.progressUpdates.Inc()
	if courseCompleted {
		m.coursesCompleted.Inc()
	}
}

func (m *MetricsService) AddPendingExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.pendingExpired.Add(float64(n))
}

// Snapshot returns aggregated counters for the metrics JSON endpoint.
func (m *MetricsService) Snapshot() models.MetricsSnapshot {
	snap := models.MetricsSnapshot{Goroutines: runtime.NumGoroutine(), GeneratedAt: time.Now().UTC()}
	if m == nil {
		return snap
	}
	families, err := m.registry.Gather()
	if err != nil {
		return snap
	}
	for _, family := range families {
		var total float64
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				total += float64(metric.GetHistogram().GetSampleCount())
			}
		}
		switch family.GetName() {
		case "http_requests_total":
			snap.RequestsTotal = uint64(total)
		case "cache_hits_total":
			snap.CacheHits = uint64(total)
		case "cache_misses_total":
			snap.CacheMisses = uint64(total)
		case "enrollment_orders_created_total":
			snap.OrdersCreated = uint64(total)
		case "enrollment_confirmation_timeouts_total":
			snap.ConfirmationTimeouts = uint64(total)
		case "enrollment_access_denied_total":
			snap.AccessDenied = uint64(total)
		case "enrollment_progress_updates_total":
			snap.ProgressUpdates = uint64(total)
		}
	}
	if lookups := snap.CacheHits + snap.CacheMisses; lookups > 0 {
		snap.CacheHitRatio = float64(snap.CacheHits) / float64(lookups)
	}
	return snap
}
