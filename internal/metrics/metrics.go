// Package metrics exposes tailing and alerting counters in Prometheus format.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Hasintha01/logwatcher/internal/model"
)

const namespace = "logwatcher"

// Metrics holds the collectors on a private registry. The default registry is
// not used as it adds Go runtime metrics.
type Metrics struct {
	registry *prometheus.Registry

	lines       *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	rotations   *prometheus.CounterVec
	truncations *prometheus.CounterVec
	pollErrors  *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_read_total",
			Help:      "Complete lines read from watched files.",
		}, []string{"path"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised, by severity.",
		}, []string{"severity"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotations_total",
			Help:      "Rotations detected, by path.",
		}, []string{"path"}),
		truncations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncations_total",
			Help:      "Truncations detected, by path.",
		}, []string{"path"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Failed polls, by path.",
		}, []string{"path"}),
	}
	m.registry.MustRegister(m.lines, m.alerts, m.rotations, m.truncations, m.pollErrors)

	// Pre-create severity series so dashboards see zeros rather than gaps.
	for _, s := range model.Severities {
		m.alerts.WithLabelValues(s.String())
	}
	return m
}

// TrackOpenFiles registers a gauge evaluated at scrape time.
func (m *Metrics) TrackOpenFiles(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "files_open",
		Help:      "Watched files currently held open.",
	}, func() float64 { return float64(fn()) }))
}

// TrackDropped registers a counter of alerts dropped for slow consumers.
func (m *Metrics) TrackDropped(fn func() int64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_dropped_total",
		Help:      "Alerts dropped for slow live consumers.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) LinesRead(path string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.lines.WithLabelValues(path).Add(float64(n))
}

func (m *Metrics) AlertRaised(s model.Severity) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) Rotated(path string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(path).Inc()
}

func (m *Metrics) Truncated(path string) {
	if m == nil {
		return
	}
	m.truncations.WithLabelValues(path).Inc()
}

func (m *Metrics) PollFailed(path string) {
	if m == nil {
		return
	}
	m.pollErrors.WithLabelValues(path).Inc()
}

// Gatherer returns the registry for custom exposition.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
