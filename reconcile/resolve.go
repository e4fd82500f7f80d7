package reconcile

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/metrics"
)

// resolveDuplicates classifies every duplicate-owned record at g. A record
// whose slot the original already fills is retired and deleted; its value
// reaches the original through the rollup of the parent level, not here.
// Any other record is repointed and keeps serving its slot.
func (r *Reconciler) resolveDuplicates(ctx context.Context, ws *WorkingSet, pair aggregate.Pair, g aggregate.Granularity, sum *Summary) error {
	log := r.Log.WithFields(logrus.Fields{
		"original_id":  pair.OriginalID,
		"duplicate_id": pair.DuplicateID,
		"granularity":  g,
	})

	dups, err := r.Store.FindAggregates(ctx, aggregate.Filter{
		Reference:   pair.Duplicate(),
		Location:    pair.Location,
		Granularity: g,
	})
	if err != nil {
		return err
	}
	log.WithField("records", len(dups)).Info("resolving duplicate aggregates")

	var toDelete []string
	for _, d := range dups {
		twins, err := r.Store.FindAggregates(ctx, aggregate.SlotFilter(pair.Original(), d))
		if err != nil {
			return err
		}
		if len(twins) > 0 {
			toDelete = append(toDelete, d.ID)
			continue
		}

		res, err := r.Store.SetReference(ctx, d.ID, pair.Original())
		if err != nil {
			return err
		}
		if res.Matched == 0 {
			r.zeroMatch(log, "repoint", d.ID, sum)
			continue
		}
		sum.add(g, func(c *OpCounts) { c.Repointed++ })
		r.Metrics.Operation(g, metrics.OpRepointed, 1)
	}

	if len(toDelete) == 0 {
		return nil
	}
	ws.Retire(toDelete...)
	deleted, err := r.Store.DeleteAggregates(ctx, toDelete)
	if err != nil {
		return err
	}
	if deleted < int64(len(toDelete)) {
		log.WithFields(logrus.Fields{
			"scheduled": len(toDelete),
			"deleted":   deleted,
		}).Info("batch delete removed fewer records than scheduled")
		for i := deleted; i < int64(len(toDelete)); i++ {
			sum.ZeroMatch++
			r.Metrics.ZeroMatch("delete")
		}
	}
	sum.add(g, func(c *OpCounts) { c.Retired += len(toDelete) })
	r.Metrics.Operation(g, metrics.OpRetired, len(toDelete))
	return nil
}
