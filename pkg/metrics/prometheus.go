// Package metrics provides Prometheus metrics for the duel rating service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// defaultLatencyBuckets are millisecond buckets shared by latency histograms.
var defaultLatencyBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Manager manages all Prometheus metrics for the duel service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Battle metrics
	battlesResolved *prometheus.CounterVec
	battleFailures  *prometheus.CounterVec
	battleLatency   prometheus.Histogram
	ratingChange    prometheus.Histogram
	txRetries       *prometheus.CounterVec

	// Selection metrics
	selections       *prometheus.CounterVec
	selectionLatency prometheus.Histogram
	cacheSize        prometheus.Gauge

	// Refresh metrics
	cacheRefreshes        *prometheus.CounterVec
	cacheRefreshDuration  prometheus.Histogram
	cacheRefreshLoaded    prometheus.Gauge
	circuitBreakerState   *prometheus.GaugeVec
	poolSize              prometheus.Gauge
	totalImages           prometheus.Gauge
	scheduledJobs         *prometheus.CounterVec
	scheduledJobsDuration *prometheus.HistogramVec

	// Leaderboard metrics
	leaderboardRegenerations        *prometheus.CounterVec
	leaderboardCriterionFailures    *prometheus.CounterVec
	leaderboardRegenerationDuration prometheus.Histogram
	leaderboardLastGeneratedUnix    prometheus.Gauge

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "duel",
		subsystem:        "engine",
		histogramBuckets: defaultLatencyBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.battlesResolved = m.counterVec("battles_resolved_total", "Total number of battles resolved", "gender")
	m.battleFailures = m.counterVec("battle_failures_total", "Total number of failed battle resolutions by reason", "reason")
	m.battleLatency = m.histogram("battle_resolve_latency_milliseconds", "Battle resolution latency in milliseconds", m.histogramBuckets)
	m.ratingChange = m.histogram("rating_change_points", "Absolute rating change applied to battle winners",
		[]float64{1, 2, 4, 8, 16, 32, 64, 128, 256})
	m.txRetries = m.counterVec("transaction_retries_total", "Store transactions retried after a conflict", "backend")

	m.selections = m.counterVec("selections_total", "Candidate selections by result", "result")
	m.selectionLatency = m.histogram("selection_latency_milliseconds", "Candidate selection latency in milliseconds",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25})
	m.cacheSize = m.gauge("selection_cache_size", "Entries in the active selection snapshot")

	m.cacheRefreshes = m.counterVec("cache_refreshes_total", "Selection cache refreshes by status", "status")
	m.cacheRefreshDuration = m.histogram("cache_refresh_duration_milliseconds", "Selection cache refresh duration in milliseconds",
		[]float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000})
	m.cacheRefreshLoaded = m.gauge("cache_refresh_loaded_records", "Records loaded by the last completed refresh")
	m.circuitBreakerState = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "circuit_breaker_state",
		Help:        "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		ConstLabels: m.constLabels,
	}, []string{"name"})
	m.poolSize = m.gauge("pool_size", "Images currently eligible for battles")
	m.totalImages = m.gauge("total_images", "Images known to the metadata counters")
	m.scheduledJobs = m.counterVec("scheduled_jobs_total", "Scheduled job runs by job and status", "job", "status")
	m.scheduledJobsDuration = m.histogramVec("scheduled_job_duration_milliseconds", "Scheduled job duration in milliseconds", "job")

	m.leaderboardRegenerations = m.counterVec("leaderboard_regenerations_total", "Leaderboard regeneration runs by status", "status")
	m.leaderboardCriterionFailures = m.counterVec("leaderboard_criterion_failures_total", "Failed leaderboard criteria by key", "key")
	m.leaderboardRegenerationDuration = m.histogram("leaderboard_regeneration_duration_milliseconds",
		"Leaderboard regeneration duration in milliseconds", m.histogramBuckets)
	m.leaderboardLastGeneratedUnix = m.gauge("leaderboard_last_generated_unix", "Unix timestamp of the last regeneration")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Total errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total errors by HTTP endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of failed operations in milliseconds", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Current number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Most recent GC pause in milliseconds",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50})
}

// Battle metrics.

func RecordBattleResolved(gender string) {
	globalManager.battlesResolved.WithLabelValues(gender).Inc()
}

func RecordBattleFailure(reason string) {
	globalManager.battleFailures.WithLabelValues(reason).Inc()
}

func RecordBattleLatency(latencyMs float64) {
	globalManager.battleLatency.Observe(latencyMs)
}

func RecordRatingChange(points float64) {
	if points < 0 {
		points = -points
	}
	globalManager.ratingChange.Observe(points)
}

func RecordTransactionRetry(backend string) {
	globalManager.txRetries.WithLabelValues(backend).Inc()
}

// Selection metrics.

func RecordSelection(result string, latencyMs float64) {
	globalManager.selections.WithLabelValues(result).Inc()
	globalManager.selectionLatency.Observe(latencyMs)
}

func UpdateCacheSize(size int) {
	globalManager.cacheSize.Set(float64(size))
}

// Refresh metrics.

func RecordCacheRefresh(status string, durationMs float64, loaded int) {
	globalManager.cacheRefreshes.WithLabelValues(status).Inc()
	if status == "success" {
		globalManager.cacheRefreshDuration.Observe(durationMs)
		globalManager.cacheRefreshLoaded.Set(float64(loaded))
	}
}

func UpdateCircuitBreakerState(name string, state int) {
	globalManager.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func UpdatePoolSize(count int) {
	globalManager.poolSize.Set(float64(count))
}

func UpdateTotalImages(count int) {
	globalManager.totalImages.Set(float64(count))
}

func RecordScheduledJob(job, status string, durationMs float64) {
	globalManager.scheduledJobs.WithLabelValues(job, status).Inc()
	globalManager.scheduledJobsDuration.WithLabelValues(job).Observe(durationMs)
}

// Leaderboard metrics.

func RecordLeaderboardRegeneration(status string, durationMs float64, unix int64) {
	globalManager.leaderboardRegenerations.WithLabelValues(status).Inc()
	globalManager.leaderboardRegenerationDuration.Observe(durationMs)
	globalManager.leaderboardLastGeneratedUnix.Set(float64(unix))
}

func RecordLeaderboardCriterionFailure(key string) {
	globalManager.leaderboardCriterionFailures.WithLabelValues(key).Inc()
}

// HTTP metrics.

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error metrics.

func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System metrics.

func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry the global manager reports to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
