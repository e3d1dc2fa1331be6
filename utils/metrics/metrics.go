// Package metrics holds per-concern Prometheus metric bundles shared by the
// engine's long-running loops.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DiscoveryMetrics instruments the discovery loop
type DiscoveryMetrics struct {
	Ticks        prometheus.Counter
	TickDuration prometheus.Histogram
	EmptyRounds  prometheus.Counter
	Submissions  prometheus.Counter
}

func NewDiscoveryMetrics(namespace string, reg prometheus.Registerer) *DiscoveryMetrics {
	factory := promauto.With(reg)
	return &DiscoveryMetrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_ticks_total",
			Help:      "Total number of discovery rounds started",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_tick_duration_seconds",
			Help:      "Wall time of one discovery round",
			Buckets:   prometheus.DefBuckets,
		}),
		EmptyRounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_empty_rounds_total",
			Help:      "Discovery rounds that found no profitable cycle",
		}),
		Submissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_submissions_total",
			Help:      "Discovery rounds that handed a cycle to the coordinator",
		}),
	}
}

// ObserveTick records one completed round
func (m *DiscoveryMetrics) ObserveTick(start time.Time, submitted bool) {
	m.Ticks.Inc()
	m.TickDuration.Observe(time.Since(start).Seconds())
	if submitted {
		m.Submissions.Inc()
	} else {
		m.EmptyRounds.Inc()
	}
}
