package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	rounds       prometheus.Counter
	changes      prometheus.Counter
	stepDuration prometheus.Histogram
}

// newMetrics builds the engine's instruments. The cache and query
// gauges read live state, so scrapes always see current values without
// the engine updating anything on the hot path.
func newMetrics(reg prometheus.Registerer, e *Engine) *metrics {
	m := &metrics{
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataflow",
			Name:      "rounds_total",
			Help:      "Number of committed rounds.",
		}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataflow",
			Name:      "query_changes_total",
			Help:      "Output changes emitted across all queries.",
		}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dataflow",
			Name:      "step_duration_seconds",
			Help:      "Time spent committing one round.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}
	if reg == nil {
		return m
	}
	reg.MustRegister(m.rounds, m.changes, m.stepDuration)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "dataflow",
		Name:      "arrangements",
		Help:      "Installed shared arrangements.",
	}, func() float64 { return float64(e.CacheStats().Entries) }))
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "dataflow",
		Name:      "arrangement_cache_hits_total",
		Help:      "Arrangement cache lookups answered from the cache.",
	}, func() float64 { return float64(e.CacheStats().Hits) }))
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "dataflow",
		Name:      "arrangement_cache_misses_total",
		Help:      "Arrangement cache lookups that built a new index.",
	}, func() float64 { return float64(e.CacheStats().Misses) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "dataflow",
		Name:      "queries",
		Help:      "Installed queries.",
	}, func() float64 { return float64(e.queryCount()) }))
	return m
}
