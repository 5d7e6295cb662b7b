// Package metrics provides Prometheus-based metrics collection for mcscan.
// Collectors live on a private registry so tests and embedded uses never
// collide with the default global registry.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all mcscan metrics
	namespace = "mcscan"

	// Subsystems
	subsystemScan        = "scan"
	subsystemPersistence = "persistence"
	subsystemAPI         = "api"
	subsystemSystem      = "system"
)

// Progress gauge label values.
const (
	ProgressCompleted = "completed"
	ProgressTotal     = "total"
)

// Flush cycle results.
const (
	FlushSuccess  = "success"
	FlushRetry    = "retry"
	FlushRequeued = "requeued"
	FlushFailed   = "failed"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Scan metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	serversFound  prometheus.Counter
	progress      *prometheus.GaugeVec
	activeWorkers prometheus.Gauge

	// Persistence metrics
	flushCycles   *prometheus.CounterVec
	flushDuration prometheus.Histogram
	rowsCreated   *prometheus.CounterVec
	rowsDropped   prometheus.Counter
	bufferDepth   *prometheus.GaugeVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	goroutines  prometheus.Gauge
	memoryUsage prometheus.Gauge
	uptime      prometheus.Gauge

	startTime time.Time
	mu        sync.Mutex
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initScanMetrics()
	pm.initPersistenceMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initScanMetrics initializes probe and progress metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "probes_total",
			Help:      "Total number of probes by outcome and failure class",
		},
		[]string{"outcome", "class"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "probe_duration_seconds",
			Help:      "Duration of a single status probe in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"outcome"},
	)

	pm.serversFound = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "servers_found_total",
			Help:      "Total number of sockets that answered the status query",
		},
	)

	pm.progress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "progress",
			Help:      "Completed and total tasks of the current scan run",
		},
		[]string{"state"},
	)

	pm.activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active_workers",
			Help:      "Number of scan workers currently running",
		},
	)
}

// initPersistenceMetrics initializes flush loop metrics
func (pm *PrometheusMetrics) initPersistenceMetrics() {
	pm.flushCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPersistence,
			Name:      "flush_cycles_total",
			Help:      "Total number of flush cycles by result",
		},
		[]string{"result"},
	)

	pm.flushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemPersistence,
			Name:      "flush_duration_seconds",
			Help:      "Duration of flush cycles in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0},
		},
	)

	pm.rowsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPersistence,
			Name:      "rows_created_total",
			Help:      "Total number of rows created or updated by entity",
		},
		[]string{"entity"},
	)

	pm.rowsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPersistence,
			Name:      "rows_dropped_total",
			Help:      "Total number of buffered entities rejected by the store and dropped",
		},
	)

	pm.bufferDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemPersistence,
			Name:      "buffer_depth",
			Help:      "Number of pending entries in each write buffer",
		},
		[]string{"buffer"},
	)
}

// initAPIMetrics initializes API-related metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

// initSystemMetrics initializes system-level metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	// Scan metrics
	pm.registry.MustRegister(pm.probesTotal)
	pm.registry.MustRegister(pm.probeDuration)
	pm.registry.MustRegister(pm.serversFound)
	pm.registry.MustRegister(pm.progress)
	pm.registry.MustRegister(pm.activeWorkers)

	// Persistence metrics
	pm.registry.MustRegister(pm.flushCycles)
	pm.registry.MustRegister(pm.flushDuration)
	pm.registry.MustRegister(pm.rowsCreated)
	pm.registry.MustRegister(pm.rowsDropped)
	pm.registry.MustRegister(pm.bufferDepth)

	// API metrics
	pm.registry.MustRegister(pm.httpRequests)
	pm.registry.MustRegister(pm.httpDuration)

	// System metrics
	pm.registry.MustRegister(pm.goroutines)
	pm.registry.MustRegister(pm.memoryUsage)
	pm.registry.MustRegister(pm.uptime)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler returns an HTTP handler serving this instance's registry.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{Registry: pm.registry})
}

// Scan Metrics Methods

// RecordProbe counts one probe and observes its duration.
func (pm *PrometheusMetrics) RecordProbe(outcome, class string, duration time.Duration) {
	pm.probesTotal.WithLabelValues(outcome, class).Inc()
	pm.probeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncrementServersFound increments the discovered server counter
func (pm *PrometheusMetrics) IncrementServersFound() {
	pm.serversFound.Inc()
}

// SetProgress publishes the completed and total task counts.
func (pm *PrometheusMetrics) SetProgress(completed, total int64) {
	pm.progress.WithLabelValues(ProgressCompleted).Set(float64(completed))
	pm.progress.WithLabelValues(ProgressTotal).Set(float64(total))
}

// SetActiveWorkers sets the number of running scan workers
func (pm *PrometheusMetrics) SetActiveWorkers(count int) {
	pm.activeWorkers.Set(float64(count))
}

// Persistence Metrics Methods

// RecordFlush counts a flush cycle by result and observes its duration.
func (pm *PrometheusMetrics) RecordFlush(result string, duration time.Duration) {
	pm.flushCycles.WithLabelValues(result).Inc()
	pm.flushDuration.Observe(duration.Seconds())
}

// AddRowsCreated adds n created rows for entity.
func (pm *PrometheusMetrics) AddRowsCreated(entity string, n int) {
	if n <= 0 {
		return
	}
	pm.rowsCreated.WithLabelValues(entity).Add(float64(n))
}

// AddRowsDropped adds n entities dropped after the store rejected them.
func (pm *PrometheusMetrics) AddRowsDropped(n int) {
	if n <= 0 {
		return
	}
	pm.rowsDropped.Add(float64(n))
}

// SetBufferDepth sets the pending entry count of a write buffer
func (pm *PrometheusMetrics) SetBufferDepth(buffer string, depth int) {
	pm.bufferDepth.WithLabelValues(buffer).Set(float64(depth))
}

// API Metrics Methods

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// StartPeriodicUpdates periodically updates system metrics until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}

// Handler serves the global metrics instance.
func Handler() http.Handler {
	return GetGlobalMetrics().Handler()
}
