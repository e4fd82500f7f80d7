package reconcile

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/metrics"
)

// mergeLeaf resolves one duplicate-owned daily record. Daily is the finest
// level, so a collision cannot be rolled up from children: the two values
// are added directly and the duplicate is deleted. Without a collision the
// record is simply handed to the original item.
func (r *Reconciler) mergeLeaf(ctx context.Context, ws *WorkingSet, pair aggregate.Pair, d aggregate.Record, sum *Summary) error {
	log := r.Log.WithFields(logrus.Fields{
		"original_id":  pair.OriginalID,
		"duplicate_id": pair.DuplicateID,
		"granularity":  aggregate.Daily,
		"record_id":    d.ID,
	})

	twins, err := r.Store.FindAggregates(ctx, aggregate.SlotFilter(pair.Original(), d))
	if err != nil {
		return err
	}

	if len(twins) == 0 {
		res, err := r.Store.SetReference(ctx, d.ID, pair.Original())
		if err != nil {
			return err
		}
		if res.Matched == 0 {
			r.zeroMatch(log, "repoint", d.ID, sum)
			return nil
		}
		sum.add(aggregate.Daily, func(c *OpCounts) { c.Repointed++ })
		r.Metrics.Operation(aggregate.Daily, metrics.OpRepointed, 1)
		return nil
	}

	o := twins[0]
	value := d.DataKind.Sum(o.Value, d.Value)
	res, err := r.Store.MergeValue(ctx, o.ID, value, d.Children.Refs())
	if err != nil {
		return err
	}
	if res.Matched == 0 {
		r.zeroMatch(log, "merge", o.ID, sum)
	}

	deleted, err := r.Store.DeleteAggregate(ctx, d.ID)
	if err != nil {
		return err
	}
	if deleted == 0 {
		r.zeroMatch(log, "delete", d.ID, sum)
	}
	ws.Retire(d.ID)

	log.WithFields(logrus.Fields{
		"into":  o.ID,
		"value": value.String(),
	}).Debug("merged daily aggregate")
	sum.add(aggregate.Daily, func(c *OpCounts) { c.Merged++ })
	r.Metrics.Operation(aggregate.Daily, metrics.OpMerged, 1)
	return nil
}
