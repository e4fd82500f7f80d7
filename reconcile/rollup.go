package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/metrics"
)

// rollup brings every original-owned record at g up to date with the
// duplicate snapshot one level finer.
//
// Every selected child contributes its value exactly once. Only children
// still alive are appended to the child set: a retired child was deleted
// from the store and must not remain as a dangling reference, yet its value
// was never counted by this parent and still has to be added.
func (r *Reconciler) rollup(ctx context.Context, ws *WorkingSet, pair aggregate.Pair, g aggregate.Granularity, sum *Summary) error {
	child, ok := g.Child()
	if !ok {
		return fmt.Errorf("granularity %q has no child level", g)
	}
	log := r.Log.WithFields(logrus.Fields{
		"original_id":  pair.OriginalID,
		"duplicate_id": pair.DuplicateID,
		"granularity":  g,
	})

	parents, err := r.Store.FindAggregates(ctx, aggregate.Filter{
		Reference:   pair.Original(),
		Granularity: g,
	})
	if err != nil {
		return err
	}
	log.WithField("records", len(parents)).Info("rolling up original aggregates")

	for _, p := range parents {
		selected := ws.childrenFor(p, child)
		if len(selected) == 0 {
			continue
		}

		values := make([]decimal.Decimal, 0, len(selected)+1)
		values = append(values, p.Value)
		var fresh []aggregate.Ref
		for _, c := range selected {
			values = append(values, c.Value)
			if !ws.IsRetired(c.ID) {
				fresh = append(fresh, c.Ref())
			}
		}
		value := p.DataKind.Sum(values...)

		res, err := r.Store.MergeValue(ctx, p.ID, value, fresh)
		if err != nil {
			return fmt.Errorf("record %s: %w", p.ID, err)
		}
		if res.Matched == 0 {
			r.zeroMatch(log, "rollup", p.ID, sum)
			continue
		}
		log.WithFields(logrus.Fields{
			"record_id": p.ID,
			"absorbed":  len(selected),
			"children":  len(fresh),
			"value":     value.String(),
		}).Debug("rolled up aggregate")
		sum.add(g, func(c *OpCounts) { c.RolledUp++ })
		r.Metrics.Operation(g, metrics.OpRolledUp, 1)
	}
	return nil
}
