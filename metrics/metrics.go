// Package metrics wraps the Prometheus instrumentation for the diagnostic
// engine. It uses a private registry so embedding hosts keep control of
// their own default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's metric vectors.
type Metrics struct {
	registry *prometheus.Registry

	RequestsIntercepted prometheus.Counter
	RequestDuration     prometheus.Histogram
	ExceptionsCaptured  prometheus.Counter
	CommandsExecuted    *prometheus.CounterVec
	StateTransitions    *prometheus.CounterVec
}

// New creates a Metrics with its own registry under the given namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "diag"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsIntercepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_requests_intercepted_total",
			Help:      "Outbound HTTP requests observed by the interception layer.",
		}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "network_request_duration_seconds",
			Help:      "Duration of proxied HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		ExceptionsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exceptions_captured_total",
			Help:      "Uncaught faults converted into exception records.",
		}),
		CommandsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "console_commands_total",
			Help:      "Console commands executed, by verb.",
		}, []string{"verb"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_state_transitions_total",
			Help:      "Execution state transitions, by target state.",
		}, []string{"to"}),
	}

	registry.MustRegister(
		m.RequestsIntercepted,
		m.RequestDuration,
		m.ExceptionsCaptured,
		m.CommandsExecuted,
		m.StateTransitions,
	)
	return m
}

// Registry exposes the private registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
