// Package metrics exposes trading counters through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sorarebot"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	trades        *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	gaps          prometheus.Counter
	cycleDuration *prometheus.HistogramVec
	cycleErrors   *prometheus.CounterVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executed trades by kind.",
		}, []string{"kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "Trades blocked by a safety gate.",
		}, []string{"guard", "decision"}),
		gaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_gaps_total",
			Help:      "Purchases whose follow-up steps failed and need manual reconciliation.",
		}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of trading cycles.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 240},
		}, []string{"cycle"}),
		cycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Assets or offers skipped because of an external failure.",
		}, []string{"cycle"}),
	}
	m.registry.MustRegister(
		m.trades,
		m.rejections,
		m.gaps,
		m.cycleDuration,
		m.cycleErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Trade counts an executed purchase, listing or sale.
func (m *Metrics) Trade(kind string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(kind).Inc()
}

// Rejection counts a guard refusal.
func (m *Metrics) Rejection(guard, decision string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(guard, decision).Inc()
}

// Gap counts a reconciliation gap.
func (m *Metrics) Gap() {
	if m == nil {
		return
	}
	m.gaps.Inc()
}

// CycleError counts a skipped unit of work in a cycle.
func (m *Metrics) CycleError(cycle string) {
	if m == nil {
		return
	}
	m.cycleErrors.WithLabelValues(cycle).Inc()
}

// ObserveCycle records how long a cycle took.
func (m *Metrics) ObserveCycle(cycle string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(cycle).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
