// Package metrics provides Prometheus metrics for the matchpoint service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the matchpoint service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Enrollment - the core of the service
	joinAttempts  prometheus.Counter
	joinOutcomes  *prometheus.CounterVec
	leaveOutcomes *prometheus.CounterVec

	// Lifecycle and catalogue
	lifecycleActions *prometheus.CounterVec
	matchesCreated   prometheus.Counter
	matchesTotal     prometheus.Gauge

	// Store - conditional updates and queries per driver
	storeUpdateLatency *prometheus.HistogramVec
	storeCASRetries    *prometheus.CounterVec
	storeQueryLatency  *prometheus.HistogramVec

	// Discovery
	discoveryLatency *prometheus.HistogramVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System Performance Metrics
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
		namespace:        "matchpoint",
		subsystem:        "service",
		histogramBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.joinAttempts = auto.NewCounter(m.counterOpts(
		"join_attempts_total", "Total number of join attempts"))
	m.joinOutcomes = auto.NewCounterVec(m.counterOpts(
		"join_outcomes_total", "Join outcomes by result (success, full, race_lost, ineligible, ...)"),
		[]string{"result"})
	m.leaveOutcomes = auto.NewCounterVec(m.counterOpts(
		"leave_outcomes_total", "Leave outcomes by result"),
		[]string{"result"})

	m.lifecycleActions = auto.NewCounterVec(m.counterOpts(
		"lifecycle_actions_total", "Host lifecycle actions by action and result"),
		[]string{"action", "result"})
	m.matchesCreated = auto.NewCounter(m.counterOpts(
		"matches_created_total", "Total number of matches created"))
	m.matchesTotal = auto.NewGauge(m.gaugeOpts(
		"matches", "Number of matches held by the store"))

	m.storeUpdateLatency = auto.NewHistogramVec(m.histogramOpts(
		"store_update_latency_milliseconds", "Latency of atomic conditional updates in milliseconds"),
		[]string{"driver", "result"})
	m.storeCASRetries = auto.NewCounterVec(m.counterOpts(
		"store_cas_retries_total", "Compare-and-swap retries after a concurrent writer won"),
		[]string{"driver"})
	m.storeQueryLatency = auto.NewHistogramVec(m.histogramOpts(
		"store_query_latency_milliseconds", "Latency of store reads and queries in milliseconds"),
		[]string{"driver"})

	m.discoveryLatency = auto.NewHistogramVec(m.histogramOpts(
		"discovery_latency_milliseconds", "Latency of match listing in milliseconds"),
		[]string{"mode"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts(
		"http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts(
		"http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts(
		"errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts(
		"errors_by_endpoint_total", "Error responses by endpoint, method and error code"),
		[]string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts(
		"system_memory_bytes", "Heap memory in use in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts(
		"system_goroutines", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts(
		"system_gc_pause_milliseconds", "Most recent GC pause in milliseconds"))
}

// RecordJoinAttempt increments the join attempts counter.
func RecordJoinAttempt() {
	globalManager.joinAttempts.Inc()
}

// RecordJoinOutcome counts a join by result.
func RecordJoinOutcome(result string) {
	globalManager.joinOutcomes.WithLabelValues(result).Inc()
}

// RecordLeaveOutcome counts a leave by result.
func RecordLeaveOutcome(result string) {
	globalManager.leaveOutcomes.WithLabelValues(result).Inc()
}

// RecordLifecycleAction counts a host action by result.
func RecordLifecycleAction(action, result string) {
	globalManager.lifecycleActions.WithLabelValues(action, result).Inc()
}

// RecordMatchCreated increments the created matches counter.
func RecordMatchCreated() {
	globalManager.matchesCreated.Inc()
}

// UpdateMatchesTotal sets the number of stored matches.
func UpdateMatchesTotal(count int) {
	globalManager.matchesTotal.Set(float64(count))
}

// RecordStoreUpdateLatency records a conditional update latency in milliseconds.
func RecordStoreUpdateLatency(driver, result string, latencyMs float64) {
	globalManager.storeUpdateLatency.WithLabelValues(driver, result).Observe(latencyMs)
}

// RecordStoreCASRetry counts a compare-and-swap retry.
func RecordStoreCASRetry(driver string) {
	globalManager.storeCASRetries.WithLabelValues(driver).Inc()
}

// RecordStoreQueryLatency records a read latency in milliseconds.
func RecordStoreQueryLatency(driver string, latencyMs float64) {
	globalManager.storeQueryLatency.WithLabelValues(driver).Observe(latencyMs)
}

// RecordDiscoveryLatency records a listing latency in milliseconds.
func RecordDiscoveryLatency(mode string, latencyMs float64) {
	globalManager.discoveryLatency.WithLabelValues(mode).Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records errors by component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records error responses by endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
