// Package metrics provides Prometheus metrics for the SELECT evaluation service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every Prometheus collector for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	// Presence core
	wsConnections   *prometheus.GaugeVec
	eventsReceived  *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	broadcasts      *prometheus.CounterVec
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	dispatchLatency prometheus.Histogram
	sweepRemovals   prometheus.Counter
	sweepDuration   prometheus.Histogram
	onlineUsers     prometheus.Gauge
	evaluatingUsers prometheus.Gauge

	// Persistence
	storeErrors *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager()
}

// NewManager creates a metrics manager backed by its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "select",
		subsystem:        "tracker",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initCollectors()
	return m
}

func (m *Manager) initCollectors() {
	auto := promauto.With(m.registry)

	m.wsConnections = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ws_connections",
		Help:      "Current websocket connections by room type",
	}, []string{"room"})

	m.eventsReceived = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_received_total",
		Help:      "Total inbound activity events by kind",
	}, []string{"kind"})

	m.eventsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_dropped_total",
		Help:      "Total activity events dropped due to queue backpressure",
	})

	m.broadcasts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "broadcasts_total",
		Help:      "Total events fanned out to the admin room by event name",
	}, []string{"event"})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current activity queue depth",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Configured activity queue capacity",
	})

	m.dispatchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "dispatch_latency_milliseconds",
		Help:      "Histogram of per-event dispatch latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.sweepRemovals = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sweep_removals_total",
		Help:      "Total presence entries reclaimed by the staleness sweep",
	})

	m.sweepDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sweep_duration_milliseconds",
		Help:      "Histogram of sweep pass duration in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.onlineUsers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "online_users",
		Help:      "Users currently tracked as online",
	})

	m.evaluatingUsers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "evaluating_users",
		Help:      "Users currently tracked as evaluating",
	})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_errors_total",
		Help:      "Total persistence failures by operation (best-effort writes included)",
	}, []string{"op"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_milliseconds",
		Help:      "Histogram of HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status"})
}

// Handler serves the manager's registry.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package-level helpers against the global manager.

func Handler() http.Handler { return globalManager.Handler() }

func IncWSConnections(room string) { globalManager.wsConnections.WithLabelValues(room).Inc() }
func DecWSConnections(room string) { globalManager.wsConnections.WithLabelValues(room).Dec() }
func RecordEventReceived(kind string) {
	globalManager.eventsReceived.WithLabelValues(kind).Inc()
}
func RecordEventDropped()          { globalManager.eventsDropped.Inc() }
func RecordBroadcast(event string) { globalManager.broadcasts.WithLabelValues(event).Inc() }

func UpdateQueueSize(n int)            { globalManager.queueSize.Set(float64(n)) }
func UpdateQueueCapacity(n int)        { globalManager.queueCapacity.Set(float64(n)) }
func RecordDispatchLatency(ms float64) { globalManager.dispatchLatency.Observe(ms) }
func RecordSweepRemoval()              { globalManager.sweepRemovals.Inc() }
func RecordSweepDuration(ms float64)   { globalManager.sweepDuration.Observe(ms) }
func UpdateOnlineUsers(n int)          { globalManager.onlineUsers.Set(float64(n)) }
func UpdateEvaluatingUsers(n int)      { globalManager.evaluatingUsers.Set(float64(n)) }
func RecordStoreError(op string)       { globalManager.storeErrors.WithLabelValues(op).Inc() }

func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, status string, ms float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, status).Observe(ms)
}
