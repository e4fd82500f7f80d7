/*
Package dedupe finds duplicate item pairs and merges the item-level data
around them.

PURPOSE:
  Items were sometimes created twice: once under <base>.1 and once under
  <base>.2, with identical descriptive fields. This package locates those
  pairs, repoints check items from the duplicate to the original and merges
  the two item documents. Aggregates are handled by package reconcile.

KEY TYPES:
  - Locator:            duplicate groups -> validated pairs
  - CheckItemRepointer: check-item references duplicate -> original
  - ItemMerger:         union of array fields, then delete the duplicate

SEE ALSO:
  - aggregate/pair.go: Pair and the .1/.2 id rule
  - batch/runner.go: the order these steps run in
*/
package dedupe

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
)

// DefaultLimit is the number of duplicate groups examined per run.
const DefaultLimit = 1

// =============================================================================
// LOCATOR
// =============================================================================

type Locator struct {
	Items aggregate.ItemStore
	Limit int
	Log   logrus.FieldLogger
}

func NewLocator(items aggregate.ItemStore, limit int, log logrus.FieldLogger) *Locator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Locator{Items: items, Limit: limit, Log: log}
}

// Each resolves duplicate groups one at a time and calls fn for every valid
// pair. Groups that do not resolve to a pair are skipped. A store error, or
// the first error returned by fn, stops the iteration and is returned.
func (l *Locator) Each(ctx context.Context, fn func(aggregate.Pair) error) error {
	groups, err := l.Items.DuplicateGroups(ctx, l.Limit)
	if err != nil {
		return fmt.Errorf("list duplicate groups: %w", err)
	}
	l.Log.WithFields(logrus.Fields{
		"groups": len(groups),
		"limit":  l.Limit,
	}).Info("duplicate groups found")

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		pair, ok, err := l.Resolve(ctx, g)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(pair); err != nil {
			return err
		}
	}
	return nil
}

// Locate collects every pair Each would yield.
func (l *Locator) Locate(ctx context.Context) ([]aggregate.Pair, error) {
	var pairs []aggregate.Pair
	err := l.Each(ctx, func(p aggregate.Pair) error {
		pairs = append(pairs, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.Log.WithField("pairs", len(pairs)).Info("duplicate pairs resolved")
	return pairs, nil
}

// Resolve turns one group into a pair. ok is false when a descriptive field
// is empty, when the group no longer has two members, when a .1 or .2
// member is missing, or when the two ids do not share a base id.
func (l *Locator) Resolve(ctx context.Context, g aggregate.ItemGroup) (aggregate.Pair, bool, error) {
	log := l.Log.WithFields(logrus.Fields{
		"name":     g.Name,
		"location": g.Location,
	})
	if g.Name == "" || g.Location == "" || g.SaleDepartment == "" || g.MasterDepartment == "" {
		log.Debug("skipping group with empty descriptive field")
		return aggregate.Pair{}, false, nil
	}

	items, err := l.Items.FindItems(ctx, aggregate.ItemFilter{
		Name:             g.Name,
		Location:         g.Location,
		SaleDepartment:   g.SaleDepartment,
		MasterDepartment: g.MasterDepartment,
	})
	if err != nil {
		return aggregate.Pair{}, false, fmt.Errorf("find items of group %q: %w", g.Name, err)
	}
	if len(items) <= 1 {
		log.Debug("group has a single member")
		return aggregate.Pair{}, false, nil
	}

	var original, duplicate *aggregate.Item
	for i := range items {
		switch {
		case original == nil && strings.HasSuffix(items[i].ID, aggregate.OriginalSuffix):
			original = &items[i]
		case duplicate == nil && strings.HasSuffix(items[i].ID, aggregate.DuplicateSuffix):
			duplicate = &items[i]
		}
	}
	if original == nil || duplicate == nil {
		log.Info("group has no .1/.2 members, skipping")
		return aggregate.Pair{}, false, nil
	}

	pair := aggregate.Pair{
		OriginalID:       original.ID,
		DuplicateID:      duplicate.ID,
		Name:             g.Name,
		Location:         g.Location,
		SaleDepartment:   g.SaleDepartment,
		MasterDepartment: g.MasterDepartment,
	}
	if err := pair.Validate(); err != nil {
		log.WithError(err).Info("group members do not share a base id, skipping")
		return aggregate.Pair{}, false, nil
	}
	return pair, true, nil
}
