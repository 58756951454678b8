package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aocr"

// Metrics holds the workflow collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transitions        *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	gateFailures       *prometheus.CounterVec
	triggerEvents      *prometheus.CounterVec
	observerFailures   *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Transition attempts by edge and outcome",
			},
			[]string{"from", "to", "outcome"},
		),
		transitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transition_duration_seconds",
				Help:      "Time spent inside RequestTransition",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"outcome"},
		),
		gateFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_failures_total",
				Help:      "Gate evaluations that blocked a transition",
			},
			[]string{"gate"},
		),
		triggerEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trigger_events_total",
				Help:      "Subordinate events received by the trigger dispatcher",
			},
			[]string{"kind", "outcome"},
		),
		observerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observer_failures_total",
				Help:      "Post-commit observer deliveries that failed",
			},
			[]string{"observer"},
		),
	}
	registry.MustRegister(
		m.transitions,
		m.transitionDuration,
		m.gateFailures,
		m.triggerEvents,
		m.observerFailures,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObserveTransition(from, to, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, outcome).Inc()
	m.transitionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) GateFailed(gate string) {
	if m == nil {
		return
	}
	m.gateFailures.WithLabelValues(gate).Inc()
}

func (m *Metrics) TriggerHandled(kind, outcome string) {
	if m == nil {
		return
	}
	m.triggerEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserverFailed(observer string) {
	if m == nil {
		return
	}
	m.observerFailures.WithLabelValues(observer).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
