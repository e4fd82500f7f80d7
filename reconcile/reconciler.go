/*
Package reconcile folds a duplicate item's aggregate tree into the original's.

PURPOSE:
  POS aggregates are materialized per item at four granularities, and every
  coarser record remembers which finer records it already counts. When an
  item was created twice, both identities collected aggregates. Reconcile
  moves or merges every duplicate-owned record into the original's tree so
  that each total counts the union of both histories exactly once.

CONTROL FLOW (per pair, strictly sequential):
  1. Snapshot every duplicate-owned record into a WorkingSet
  2. Leaf merge: daily records are summed into their original twin or
     repointed (leaf.go)
  3. For monthly, ytd, lifetime in that order:
     a. Resolution: duplicate records with an original twin are retired and
        deleted, the rest are repointed (resolve.go)
     b. Rollup: every original record absorbs the snapshot children it does
        not count yet (rollup.go)
  4. Verification is separate and read-only (verify.go)

CHILD MAPPING:
  monthly <- daily, ytd <- monthly, lifetime <- ytd. Lifetime absorbs
  year-to-date children without a window check.

RE-RUNS:
  A second run on a reconciled pair finds no duplicate-owned records and
  issues no writes. A pair that failed after the leaf merge is not safe to
  re-run: merged dailies are already gone from the duplicate, so the
  rollups never see them again. Such a pair needs operator repair; the
  verifier reports which levels disagree.

SEE ALSO:
  - aggregate/store.go: the store operations used here
  - batch/runner.go: the per-pair sequence around ReconcilePair
*/
package reconcile

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/metrics"
)

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	Store   aggregate.AggregateStore
	Log     logrus.FieldLogger
	Metrics *metrics.Recorder
}

func New(store aggregate.AggregateStore, log logrus.FieldLogger, m *metrics.Recorder) *Reconciler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{Store: store, Log: log, Metrics: m}
}

// Summary counts what one ReconcilePair call did.
type Summary struct {
	Snapshot   int                                `json:"snapshot" yaml:"snapshot"`
	Operations map[aggregate.Granularity]OpCounts `json:"operations" yaml:"operations"`
	ZeroMatch  int                                `json:"zero_match" yaml:"zero_match"`
}

// OpCounts are per-granularity operation counts.
type OpCounts struct {
	Merged    int `json:"merged,omitempty" yaml:"merged,omitempty"`
	Repointed int `json:"repointed,omitempty" yaml:"repointed,omitempty"`
	Retired   int `json:"retired,omitempty" yaml:"retired,omitempty"`
	RolledUp  int `json:"rolled_up,omitempty" yaml:"rolled_up,omitempty"`
}

func newSummary() *Summary {
	return &Summary{Operations: make(map[aggregate.Granularity]OpCounts)}
}

func (s *Summary) add(g aggregate.Granularity, fn func(*OpCounts)) {
	c := s.Operations[g]
	fn(&c)
	s.Operations[g] = c
}

// Total sums the counts across granularities.
func (s Summary) Total() OpCounts {
	var t OpCounts
	for _, c := range s.Operations {
		t.Merged += c.Merged
		t.Repointed += c.Repointed
		t.Retired += c.Retired
		t.RolledUp += c.RolledUp
	}
	return t
}

// Touched reports whether any record was written.
func (s Summary) Touched() bool {
	t := s.Total()
	return t.Merged+t.Repointed+t.Retired+t.RolledUp > 0
}

// ReconcilePair runs the leaf merge, then resolution and rollup for each
// interior granularity. The returned Summary is valid up to the failing
// step when an error is returned.
func (r *Reconciler) ReconcilePair(ctx context.Context, pair aggregate.Pair) (Summary, error) {
	log := r.Log.WithFields(logrus.Fields{
		"original_id":  pair.OriginalID,
		"duplicate_id": pair.DuplicateID,
	})
	sum := newSummary()

	snapshot, err := r.Store.FindAggregates(ctx, aggregate.Filter{
		Reference: pair.Duplicate(),
		Location:  pair.Location,
	})
	if err != nil {
		return *sum, fmt.Errorf("snapshot duplicate aggregates: %w", err)
	}
	ws := NewWorkingSet(snapshot)
	sum.Snapshot = ws.Len()
	log.WithField("records", ws.Len()).Info("captured duplicate aggregates")

	dailies := ws.At(aggregate.Daily)
	log.WithField("records", len(dailies)).Info("merging duplicate daily aggregates")
	for _, d := range dailies {
		if err := r.mergeLeaf(ctx, ws, pair, d, sum); err != nil {
			return *sum, fmt.Errorf("merge daily %s: %w", d.ID, err)
		}
	}

	for _, g := range aggregate.InteriorGranularities {
		if err := r.resolveDuplicates(ctx, ws, pair, g, sum); err != nil {
			return *sum, fmt.Errorf("resolve %s: %w", g, err)
		}
		if err := r.rollup(ctx, ws, pair, g, sum); err != nil {
			return *sum, fmt.Errorf("rollup %s: %w", g, err)
		}
	}
	return *sum, nil
}

// zeroMatch logs a write that found nothing to change. Not an error.
func (r *Reconciler) zeroMatch(log logrus.FieldLogger, op, id string, sum *Summary) {
	sum.ZeroMatch++
	r.Metrics.ZeroMatch(op)
	log.WithFields(logrus.Fields{"operation": op, "record_id": id}).
		Info("write matched no document")
}
