// Package metrics exposes Prometheus counters for reconciliation runs.
//
// A nil *Recorder is valid and records nothing, so library code can take
// one unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
)

// Aggregate operations counted per granularity.
const (
	OpMerged    = "merged"
	OpRepointed = "repointed"
	OpRetired   = "retired"
	OpRolledUp  = "rolled_up"
)

// Pair outcomes.
const (
	OutcomeReconciled = "reconciled"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
)

type Recorder struct {
	pairs        *prometheus.CounterVec
	operations   *prometheus.CounterVec
	zeroMatches  *prometheus.CounterVec
	mismatches   prometheus.Counter
	pairDuration prometheus.Histogram
}

// New registers the collectors on reg. Registering twice on the same
// registry panics, as with promauto.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		pairs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixdup",
			Name:      "pairs_total",
			Help:      "Item pairs processed, by outcome.",
		}, []string{"outcome"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixdup",
			Name:      "aggregate_operations_total",
			Help:      "Aggregate records touched, by granularity and operation.",
		}, []string{"granularity", "operation"}),
		zeroMatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixdup",
			Name:      "zero_match_writes_total",
			Help:      "Updates or deletes that matched no document.",
		}, []string{"operation"}),
		mismatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fixdup",
			Name:      "verifier_mismatches_total",
			Help:      "Lifetime totals that disagree with a live re-derivation.",
		}),
		pairDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fixdup",
			Name:      "pair_duration_seconds",
			Help:      "Wall time to process one item pair.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

func (r *Recorder) Pair(outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.pairs.WithLabelValues(outcome).Inc()
	r.pairDuration.Observe(took.Seconds())
}

func (r *Recorder) Operation(g aggregate.Granularity, op string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.operations.WithLabelValues(string(g), op).Add(float64(n))
}

func (r *Recorder) ZeroMatch(op string) {
	if r == nil {
		return
	}
	r.zeroMatches.WithLabelValues(op).Inc()
}

func (r *Recorder) Mismatches(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.mismatches.Add(float64(n))
}
