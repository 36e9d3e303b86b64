package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "conductor"

const (
	statusOK    = "ok"
	statusError = "error"
)

// Metrics holds the Prometheus collectors of a conductor process. It
// satisfies the conductor's Metrics interface.
type Metrics struct {
	registry *prometheus.Registry

	resolvesTotal    *prometheus.CounterVec
	resolveDuration  prometheus.Histogram
	statesQueued     *prometheus.CounterVec
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	devicesConnected prometheus.Gauge
	eventsDropped    prometheus.Gauge

	requestsTotal *prometheus.CounterVec
}

// New creates and registers the collectors under namespace. An empty
// namespace uses DefaultNamespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		resolvesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Total number of timeline resolve passes",
		}, []string{"status"}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Duration of timeline resolve passes",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		statesQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "states_queued_total",
			Help:      "Total number of states handed to device pipelines",
		}, []string{"device_id"}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of device commands executed",
		}, []string{"device_id", "status"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time taken by devices to accept a command",
			Buckets:   prometheus.DefBuckets,
		}, []string{"device_id"}),
		devicesConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_connected",
			Help:      "Number of device connections",
		}),
		eventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_dropped",
			Help:      "Events dropped on full subscriber buffers since start",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by status class",
		}, []string{"class"}),
	}

	registry.MustRegister(
		m.resolvesTotal,
		m.resolveDuration,
		m.statesQueued,
		m.commandsTotal,
		m.commandDuration,
		m.devicesConnected,
		m.eventsDropped,
		m.requestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ResolveCompleted records one resolve pass.
func (m *Metrics) ResolveCompleted(d time.Duration, err error) {
	m.resolvesTotal.WithLabelValues(status(err)).Inc()
	m.resolveDuration.Observe(d.Seconds())
}

// StatesQueued counts states handed to a device's pipeline.
func (m *Metrics) StatesQueued(deviceID string, n int) {
	if n <= 0 {
		return
	}
	m.statesQueued.WithLabelValues(deviceID).Add(float64(n))
}

// CommandCompleted records one executed device command.
func (m *Metrics) CommandCompleted(deviceID string, d time.Duration, err error) {
	m.commandsTotal.WithLabelValues(deviceID, status(err)).Inc()
	m.commandDuration.WithLabelValues(deviceID).Observe(d.Seconds())
}

// DevicesConnected sets the device connection gauge.
func (m *Metrics) DevicesConnected(n int) {
	m.devicesConnected.Set(float64(n))
}

// SetEventsDropped sets the dropped events gauge.
func (m *Metrics) SetEventsDropped(n uint64) {
	m.eventsDropped.Set(float64(n))
}

// ForgetDevice drops the per-device series of a removed device.
func (m *Metrics) ForgetDevice(deviceID string) {
	m.statesQueued.DeleteLabelValues(deviceID)
	m.commandsTotal.DeleteLabelValues(deviceID, statusOK)
	m.commandsTotal.DeleteLabelValues(deviceID, statusError)
	m.commandDuration.DeleteLabelValues(deviceID)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh sampled values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		inner.ServeHTTP(w, r)
	})
}

func status(err error) string {
	if err != nil {
		return statusError
	}
	return statusOK
}
