// Package telemetry holds photon's Prometheus collectors and tracing helpers.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsPath is where the dev server exposes metrics.
const MetricsPath = "/__photon/metrics"

// WorkerStates are the values of the worker_state label.
var WorkerStates = []string{"absent", "starting", "running", "crashed", "stopping"}

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "photon").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for RPC call duration.
	Buckets []float64

	// Registry receives the collectors. Default: a fresh registry.
	Registry *prometheus.Registry
}

// Option configures Metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "photon",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}
}

// Metrics is the set of dev session collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	workerRestarts prometheus.Counter
	workerState    *prometheus.GaugeVec
	rpcCalls       *prometheus.CounterVec
	rpcDuration    *prometheus.HistogramVec
	hmrClients     prometheus.Gauge
	hmrMessages    *prometheus.CounterVec
	changes        *prometheus.CounterVec
}

// New registers the collectors.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		registry: config.Registry,

		workerRestarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "worker_restarts_total",
			Help:        "Total number of worker restarts",
			ConstLabels: config.ConstLabels,
		}),

		workerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "worker_state",
			Help:        "1 for the current worker lifecycle state, 0 otherwise",
			ConstLabels: config.ConstLabels,
		}, []string{"state"}),

		rpcCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "rpc_calls_total",
			Help:        "Total RPC calls by method and outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"method", "status"}),

		rpcDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "rpc_call_duration_seconds",
			Help:        "RPC call duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"method"}),

		hmrClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "hmr_clients",
			Help:        "Number of connected live-reload clients",
			ConstLabels: config.ConstLabels,
		}),

		hmrMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "hmr_messages_total",
			Help:        "Live-reload messages broadcast by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "file_changes_total",
			Help:        "Classified file change batches by verdict",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall records one RPC call.
func (m *Metrics) ObserveCall(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordRestart records a worker restart.
func (m *Metrics) RecordRestart() {
	if m == nil {
		return
	}
	m.workerRestarts.Inc()
}

// SetWorkerState marks state as the current worker state.
func (m *Metrics) SetWorkerState(state string) {
	if m == nil {
		return
	}
	for _, s := range WorkerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.workerState.WithLabelValues(s).Set(v)
	}
}

// HMRClientConnected records a new live-reload client.
func (m *Metrics) HMRClientConnected() {
	if m == nil {
		return
	}
	m.hmrClients.Inc()
}

// HMRClientDisconnected records a live-reload client leaving.
func (m *Metrics) HMRClientDisconnected() {
	if m == nil {
		return
	}
	m.hmrClients.Dec()
}

// RecordHMRMessage records a broadcast live-reload message.
func (m *Metrics) RecordHMRMessage(kind string) {
	if m == nil {
		return
	}
	m.hmrMessages.WithLabelValues(kind).Inc()
}

// RecordChange records a classified change batch.
func (m *Metrics) RecordChange(kind string) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(kind).Inc()
}
