// Package observability groups the Prometheus instruments for the memory
// subsystem.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments. A nil *Metrics is valid and
// records nothing, so components can run uninstrumented in tests.
type Metrics struct {
	WindowBuilds      prometheus.Counter
	WindowSize        prometheus.Histogram
	ConsolidationRuns *prometheus.CounterVec
	PreferenceUpdates *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		WindowBuilds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_builds_total",
			Help:      "Context windows built.",
		}),
		WindowSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "window_size_entries",
			Help:      "Entries returned per context window.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		ConsolidationRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidation_runs_total",
			Help:      "Consolidation passes by outcome.",
		}, []string{"outcome"}),
		PreferenceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preference_updates_total",
			Help:      "Preference writes by kind.",
		}, []string{"kind"}),
	}
}

// ObserveWindow records one window build and its size.
func (m *Metrics) ObserveWindow(size int) {
	if m == nil {
		return
	}
	m.WindowBuilds.Inc()
	m.WindowSize.Observe(float64(size))
}

// ObserveConsolidation records one consolidation pass outcome
// (completed, conflict, error).
func (m *Metrics) ObserveConsolidation(outcome string) {
	if m == nil {
		return
	}
	m.ConsolidationRuns.WithLabelValues(outcome).Inc()
}

// ObservePreferenceUpdate records one preference write (learn, update).
func (m *Metrics) ObservePreferenceUpdate(kind string) {
	if m == nil {
		return
	}
	m.PreferenceUpdates.WithLabelValues(kind).Inc()
}

// MetricsHandler exposes the default registry for embedding hosts.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
