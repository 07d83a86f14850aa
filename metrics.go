package goclass

import (
	"time"

	metrics "github.com/docker/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records dispatch outcomes. Create one per process and share it
// between classes; it holds no per-invocation state.
type Metrics struct {
	ns      *metrics.Namespace
	calls   metrics.LabeledCounter
	latency metrics.LabeledTimer
}

// NewMetrics creates the dispatch metrics under the given prometheus namespace.
func NewMetrics(namespace string) *Metrics {
	ns := metrics.NewNamespace(namespace, "dispatch", nil)
	return &Metrics{
		ns:      ns,
		calls:   ns.NewLabeledCounter("calls", "The number of method dispatches", "class", "method", "outcome"),
		latency: ns.NewLabeledTimer("latency", "The time spent dispatching a method", "class", "method"),
	}
}

// Collector exposes the metrics for registration with a prometheus registry.
func (m *Metrics) Collector() prometheus.Collector {
	return m.ns
}

// Register adds the metrics to the default registry.
func (m *Metrics) Register() {
	metrics.Register(m.ns)
}

func (m *Metrics) observe(class, method, outcome string, start time.Time) {
	m.calls.WithValues(class, method, outcome).Inc(1)
	m.latency.WithValues(class, method).UpdateSince(start)
}
