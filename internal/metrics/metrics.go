// Package metrics holds the prometheus collectors exported at /metrics.
//
// All methods are safe on a nil *Metrics so components can run without a
// registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	eventsProcessed   *prometheus.CounterVec
	providerAttempts  *prometheus.CounterVec
	decisions         *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	mode              *prometheus.GaugeVec
	queueDepth        *prometheus.GaugeVec
	severity          prometheus.Gauge
	rollingConfidence prometheus.Gauge
	pollInterval      prometheus.Gauge
	matchDuration     prometheus.Summary
}

var modes = []string{"normal", "crisis", "safe"}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{Registry: reg}
	m.eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procureiq",
		Name:      "events_processed_total",
		Help:      "Events taken to a terminal state by kind and outcome",
	}, []string{"kind", "outcome"})
	m.providerAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procureiq",
		Name:      "provider_attempts_total",
		Help:      "Matching provider calls by provider and result",
	}, []string{"provider", "result"})
	m.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procureiq",
		Name:      "invoice_decisions_total",
		Help:      "Invoice routing decisions by route",
	}, []string{"route"})
	m.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procureiq",
		Name:      "notifications_total",
		Help:      "Notification deliveries by notifier and result",
	}, []string{"notifier", "result"})
	m.mode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procureiq",
		Name:      "system_mode",
		Help:      "1 for the current operating mode, 0 otherwise",
	}, []string{"mode"})
	m.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procureiq",
		Name:      "queue_events",
		Help:      "Events in the store by status",
	}, []string{"status"})
	m.severity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "procureiq",
		Name:      "system_severity",
		Help:      "Current system severity (0-10)",
	})
	m.rollingConfidence = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "procureiq",
		Name:      "rolling_confidence",
		Help:      "Rolling average confidence of recent automated decisions",
	})
	m.pollInterval = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "procureiq",
		Name:      "agent_poll_interval_seconds",
		Help:      "Current agent idle poll interval",
	})
	m.matchDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "procureiq",
		Name:      "match_duration_seconds",
		Help:      "Time spent in the matching pipeline",
	})
	reg.MustRegister(
		m.eventsProcessed, m.providerAttempts, m.decisions, m.notifications,
		m.mode, m.queueDepth, m.severity, m.rollingConfidence, m.pollInterval, m.matchDuration,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventProcessed(kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ProviderAttempt(provider, result string) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Decision(route string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(route).Inc()
}

func (m *Metrics) Notification(notifier, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(notifier, result).Inc()
}

// SystemState publishes the controller's latest evaluation.
func (m *Metrics) SystemState(mode string, severity int, rolling float64) {
	if m == nil {
		return
	}
	for _, md := range modes {
		v := 0.0
		if md == mode {
			v = 1
		}
		m.mode.WithLabelValues(md).Set(v)
	}
	m.severity.Set(float64(severity))
	m.rollingConfidence.Set(rolling)
}

func (m *Metrics) QueueDepth(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) PollInterval(d time.Duration) {
	if m == nil {
		return
	}
	m.pollInterval.Set(d.Seconds())
}

func (m *Metrics) MatchDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.matchDuration.Observe(d.Seconds())
}
