// Package metrics exports push client telemetry to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Zereker/push"
)

// Config controls metric naming and registration.
type Config struct {
	// Registry receives the collectors. Nil selects prometheus.DefaultRegisterer.
	Registry    prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

// DefaultConfig returns the configuration used by pushctl.
func DefaultConfig() Config {
	return Config{
		Namespace: "push",
		Subsystem: "client",
	}
}

// Observer implements push.Observer with Prometheus collectors.
type Observer struct {
	framesSent       *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter
	state            prometheus.Gauge
	transitions      *prometheus.CounterVec
	protocolFailures prometheus.Counter
}

var _ push.Observer = (*Observer)(nil)

// New registers the collectors described by cfg.
func New(cfg Config) *Observer {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Observer{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "frames_sent_total",
			Help:        "Frames written, by signal.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"signal"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "frames_received_total",
			Help:        "Frames decoded, by signal.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"signal"}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "bytes_sent_total",
			Help:        "Frame bytes written, headers included.",
			ConstLabels: cfg.ConstLabels,
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "bytes_received_total",
			Help:        "Frame bytes decoded, headers included.",
			ConstLabels: cfg.ConstLabels,
		}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "connection_state",
			Help:        "Connection state: 0 disconnected, 1 connecting, 2 connected.",
			ConstLabels: cfg.ConstLabels,
		}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "state_transitions_total",
			Help:        "Connection state transitions, by target state.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"state"}),

		protocolFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "protocol_failures_total",
			Help:        "Connections dropped because of a corrupt inbound stream.",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

func (o *Observer) FrameSent(signal push.Signal, size int) {
	o.framesSent.WithLabelValues(signal.String()).Inc()
	o.bytesSent.Add(float64(size))
}

func (o *Observer) FrameReceived(signal push.Signal, size int) {
	o.framesReceived.WithLabelValues(signal.String()).Inc()
	o.bytesReceived.Add(float64(size))
}

func (o *Observer) StateChanged(_, to push.State) {
	o.state.Set(float64(to))
	o.transitions.WithLabelValues(to.String()).Inc()
}

func (o *Observer) ProtocolFailure(error) {
	o.protocolFailures.Inc()
}
