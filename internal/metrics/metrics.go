// Package metrics exposes Prometheus counters for healing activity, served
// from the daemon's /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mendtool/mend/internal/healing"
)

// Metrics holds the healing instrument set on its own registry, so repeated
// construction in tests never collides.
type Metrics struct {
	registry *prometheus.Registry

	sessions *prometheus.CounterVec
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New builds and registers the instrument set.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mend_sessions_total",
			Help: "Healing sessions by script and termination reason.",
		}, []string{"script", "reason"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mend_attempts_total",
			Help: "Healing attempts by script and verification outcome.",
		}, []string{"script", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mend_session_duration_seconds",
			Help:    "Healing session duration.",
			Buckets: prometheus.ExponentialBuckets(1, 3, 10),
		}, []string{"script"}),
	}
	m.registry.MustRegister(m.sessions, m.attempts, m.duration)
	return m
}

// ObserveSession records one finished session.
func (m *Metrics) ObserveSession(script string, result healing.Result) {
	m.sessions.WithLabelValues(script, string(result.Reason)).Inc()
	m.duration.WithLabelValues(script).Observe(result.Elapsed.Seconds())
	for _, a := range result.Attempts {
		m.attempts.WithLabelValues(script, string(a.Verification.Outcome)).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
