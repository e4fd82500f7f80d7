package dedupe

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
)

// ItemMerger folds the duplicate item document into the original.
type ItemMerger struct {
	Store aggregate.ItemStore
	Log   logrus.FieldLogger
}

func NewItemMerger(store aggregate.ItemStore, log logrus.FieldLogger) *ItemMerger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ItemMerger{Store: store, Log: log}
}

// MergeResult reports the outcome of one item merge.
type MergeResult struct {
	Fields        []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Matched       int64    `json:"matched" yaml:"matched"`
	Deleted       int64    `json:"deleted" yaml:"deleted"`
	AlreadyMerged bool     `json:"already_merged,omitempty" yaml:"already_merged,omitempty"`
}

// Merge unions every array field of the original with the duplicate's
// field of the same name, writes the original and deletes the duplicate.
// Fields only the duplicate has are dropped. A missing duplicate means the
// pair was merged before and nothing is written.
func (m *ItemMerger) Merge(ctx context.Context, pair aggregate.Pair) (MergeResult, error) {
	log := m.Log.WithFields(logrus.Fields{
		"original_id":  pair.OriginalID,
		"duplicate_id": pair.DuplicateID,
	})

	items, err := m.Store.FindItems(ctx, aggregate.ItemFilter{IDs: []string{pair.OriginalID, pair.DuplicateID}})
	if err != nil {
		return MergeResult{}, fmt.Errorf("find pair items: %w", err)
	}
	var original, duplicate *aggregate.Item
	for i := range items {
		switch items[i].ID {
		case pair.OriginalID:
			original = &items[i]
		case pair.DuplicateID:
			duplicate = &items[i]
		}
	}

	if duplicate == nil {
		log.Info("duplicate item already gone, nothing to merge")
		return MergeResult{AlreadyMerged: true}, nil
	}
	if original == nil {
		return MergeResult{}, fmt.Errorf("original %s: %w", pair.OriginalID, aggregate.ErrItemNotFound)
	}

	merged := MergeLists(original.Lists, duplicate.Lists)
	res := MergeResult{Fields: make([]string, 0, len(merged))}
	for k := range merged {
		res.Fields = append(res.Fields, k)
	}
	sort.Strings(res.Fields)

	if len(merged) > 0 {
		upd, err := m.Store.UpdateItemLists(ctx, original.ID, merged)
		if err != nil {
			return res, fmt.Errorf("update original item: %w", err)
		}
		res.Matched = upd.Matched
	}
	log.WithFields(logrus.Fields{
		"fields":  len(res.Fields),
		"matched": res.Matched,
	}).Info("original item updated")

	res.Deleted, err = m.Store.DeleteItem(ctx, duplicate.ID)
	if err != nil {
		return res, fmt.Errorf("delete duplicate item: %w", err)
	}
	log.WithField("deleted", res.Deleted).Info("duplicate item deleted")
	return res, nil
}

// MergeLists returns, for every key of original, the original elements
// followed by the duplicate's elements it lacks. A key the duplicate does
// not have is copied unchanged.
func MergeLists(original, duplicate map[string][]string) map[string][]string {
	out := make(map[string][]string, len(original))
	for k, ov := range original {
		dv, ok := duplicate[k]
		if !ok {
			out[k] = append([]string(nil), ov...)
			continue
		}
		seen := make(map[string]bool, len(ov)+len(dv))
		merged := make([]string, 0, len(ov)+len(dv))
		for _, v := range append(append([]string(nil), ov...), dv...) {
			if seen[v] {
				continue
			}
			seen[v] = true
			merged = append(merged, v)
		}
		out[k] = merged
	}
	return out
}
