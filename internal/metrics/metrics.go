package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for pageforge
type Metrics struct {
	// Layout writes
	LayoutWritesTotal             *prometheus.CounterVec
	StoreOperationDurationSeconds *prometheus.HistogramVec

	// Content gauges
	Layouts        prometheus.Gauge
	LayoutVersions prometheus.Gauge

	// Invalidation bus
	BusEventsPublishedTotal *prometheus.CounterVec
	BusEventsDroppedTotal   prometheus.Counter
	EventClientsActive      prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		LayoutWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageforge_layout_writes_total",
				Help: "Total number of layout write operations",
			},
			[]string{"op", "result"},
		),
		StoreOperationDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pageforge_store_operation_duration_seconds",
				Help:    "Content store operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"op"},
		),

		Layouts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pageforge_layouts",
				Help: "Number of stored layouts",
			},
		),
		LayoutVersions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pageforge_layout_versions",
				Help: "Number of stored layout versions across all layouts",
			},
		),

		BusEventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageforge_bus_events_published_total",
				Help: "Total number of invalidation events published",
			},
			[]string{"kind"},
		),
		BusEventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pageforge_bus_events_dropped_total",
				Help: "Total number of invalidation events dropped for slow subscribers",
			},
		),
		EventClientsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pageforge_event_clients_active",
				Help: "Number of connected event socket clients",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageforge_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pageforge_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageforge_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pageforge_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pageforge_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.LayoutWritesTotal,
		m.StoreOperationDurationSeconds,
		m.Layouts,
		m.LayoutVersions,
		m.BusEventsPublishedTotal,
		m.BusEventsDroppedTotal,
		m.EventClientsActive,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncLayoutWrites counts a layout write by operation and result
func IncLayoutWrites(op, result string) {
	m := Global()
	if m != nil {
		m.LayoutWritesTotal.WithLabelValues(op, result).Inc()
	}
}

// ObserveStoreOperation records how long a store call took
func ObserveStoreOperation(op string, d time.Duration) {
	m := Global()
	if m != nil {
		m.StoreOperationDurationSeconds.WithLabelValues(op).Observe(d.Seconds())
	}
}

// IncBusEventsPublished increments the published event counter
func IncBusEventsPublished(kind string) {
	m := Global()
	if m != nil {
		if kind == "" {
			kind = "unknown"
		}
		m.BusEventsPublishedTotal.WithLabelValues(kind).Inc()
	}
}

// IncBusEventsDropped increments the dropped event counter
func IncBusEventsDropped() {
	m := Global()
	if m != nil {
		m.BusEventsDroppedTotal.Inc()
	}
}

// IncEventClients increments connected event clients
func IncEventClients() {
	m := Global()
	if m != nil {
		m.EventClientsActive.Inc()
	}
}

// DecEventClients decrements connected event clients
func DecEventClients() {
	m := Global()
	if m != nil {
		m.EventClientsActive.Dec()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
