package dedupe

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
)

// CheckItemRepointer moves check items from the duplicate item to the
// original.
type CheckItemRepointer struct {
	Store aggregate.CheckItemStore
	Log   logrus.FieldLogger
}

func NewCheckItemRepointer(store aggregate.CheckItemStore, log logrus.FieldLogger) *CheckItemRepointer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CheckItemRepointer{Store: store, Log: log}
}

// RepointResult reports what Repoint found and changed.
type RepointResult struct {
	Found    int64 `json:"found" yaml:"found"`
	Matched  int64 `json:"matched" yaml:"matched"`
	Modified int64 `json:"modified" yaml:"modified"`
}

// Repoint counts the duplicate's check items and, when there are any,
// rewrites them all in one update. No write is issued for zero.
func (r *CheckItemRepointer) Repoint(ctx context.Context, pair aggregate.Pair) (RepointResult, error) {
	log := r.Log.WithFields(logrus.Fields{
		"original_id":  pair.OriginalID,
		"duplicate_id": pair.DuplicateID,
	})

	n, err := r.Store.CountCheckItems(ctx, pair.Duplicate())
	if err != nil {
		return RepointResult{}, fmt.Errorf("count check items: %w", err)
	}
	log.WithField("check_items", n).Info("check items to repoint")
	if n == 0 {
		return RepointResult{}, nil
	}

	res, err := r.Store.RepointCheckItems(ctx, pair.Duplicate(), pair.Original())
	if err != nil {
		return RepointResult{Found: n}, fmt.Errorf("repoint check items: %w", err)
	}
	log.WithFields(logrus.Fields{
		"matched":  res.Matched,
		"modified": res.Modified,
	}).Info("check items repointed")
	return RepointResult{Found: n, Matched: res.Matched, Modified: res.Modified}, nil
}
