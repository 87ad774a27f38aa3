package wire

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used as the "reason" label of frames_dropped_total.
const (
	dropMalformed        = "malformed"
	dropUnknownKind      = "unknown_kind"
	dropDecryptError     = "decrypt_error"
	dropPayloadError     = "payload_error"
	dropNotAuthenticated = "not_authenticated"
)

// Handshake outcomes used as the "outcome" label of handshakes_total.
const (
	handshakeAccepted    = "accepted"
	handshakeRejected    = "rejected"
	handshakeMismatch    = "identity_mismatch"
	handshakeReplayed    = "replayed"
	handshakeRateLimited = "rate_limited"
	handshakeFailed      = "failed"
	handshakeDuplicate   = "duplicate"
)

// MetricsConfig configures the Prometheus collectors for connections.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "wire").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "wire",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the collectors shared by all connections given the same
// instance through Options.Metrics. A nil *Metrics records nothing.
type Metrics struct {
	framesIn       prometheus.Counter
	framesOut      prometheus.Counter
	bytesIn        prometheus.Counter
	bytesOut       prometheus.Counter
	framesDropped  *prometheus.CounterVec
	handshakes     *prometheus.CounterVec
	activeConns    prometheus.Gauge
	authenticated  prometheus.Gauge
	destroyedConns *prometheus.CounterVec
}

// NewMetrics registers the connection collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Metrics{
		framesIn:  counter("frames_received_total", "Total number of frames received"),
		framesOut: counter("frames_sent_total", "Total number of frames sent"),
		bytesIn:   counter("bytes_received_total", "Total number of frame body bytes received"),
		bytesOut:  counter("bytes_sent_total", "Total number of frame body bytes sent"),

		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_dropped_total",
			Help:        "Total number of inbound frames dropped",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handshakes_total",
			Help:        "Total number of handshakes received by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of connections not yet destroyed",
			ConstLabels: config.ConstLabels,
		}),

		authenticated: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "authenticated_connections",
			Help:        "Number of live authenticated connections",
			ConstLabels: config.ConstLabels,
		}),

		destroyedConns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_destroyed_total",
			Help:        "Total number of destroyed connections",
			ConstLabels: config.ConstLabels,
		}, []string{"cause"}),
	}
}

func (m *Metrics) frameIn(n int) {
	if m == nil {
		return
	}
	m.framesIn.Inc()
	m.bytesIn.Add(float64(n))
}

func (m *Metrics) frameOut(n int) {
	if m == nil {
		return
	}
	m.framesOut.Inc()
	m.bytesOut.Add(float64(n))
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) handshake(outcome string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) opened() {
	if m == nil {
		return
	}
	m.activeConns.Inc()
}

func (m *Metrics) authenticatedConn() {
	if m == nil {
		return
	}
	m.authenticated.Inc()
}

func (m *Metrics) destroyed(wasAuthenticated bool, cause error) {
	if m == nil {
		return
	}
	m.activeConns.Dec()
	if wasAuthenticated {
		m.authenticated.Dec()
	}
	label := "local"
	if cause != nil {
		label = "error"
	}
	m.destroyedConns.WithLabelValues(label).Inc()
}
