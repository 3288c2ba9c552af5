package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the aggregator's Prometheus collectors.
type Metrics struct {
	LeafCurves      prometheus.Counter
	AggregateCurves prometheus.Counter
	SkippedLeaves   prometheus.Counter
	CacheHits       prometheus.Counter
	Inconsistencies prometheus.Counter
	Invalidations   prometheus.Counter
	ComputeDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LeafCurves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "leaf_curves_computed_total",
			Help:      "Total number of leaf decay curves computed",
		}),
		AggregateCurves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "aggregate_curves_computed_total",
			Help:      "Total number of aggregate decay curves computed",
		}),
		SkippedLeaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "leaves_skipped_total",
			Help:      "Leaves left without a curve because no target interval could be resolved",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "cache_hits_total",
			Help:      "Curves served from the memo table instead of recomputed",
		}),
		Inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "graph_inconsistencies_total",
			Help:      "Cycles encountered while walking down associations",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "invalidations_total",
			Help:      "Cached curves dropped because their inputs changed",
		}),
		ComputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "compute_duration_seconds",
			Help:      "ComputeAll duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.LeafCurves,
			m.AggregateCurves,
			m.SkippedLeaves,
			m.CacheHits,
			m.Inconsistencies,
			m.Invalidations,
			m.ComputeDuration,
		)
	}
	return m
}
