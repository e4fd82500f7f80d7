package reconcile

import (
	"github.com/mkultr4/fix-item-duplicates/aggregate"
)

// WorkingSet is the snapshot of duplicate-owned records taken once at the
// start of a pair. The records never change after capture; only the
// retired projection does. A WorkingSet belongs to exactly one pair.
type WorkingSet struct {
	records []aggregate.Record
	retired map[string]bool
}

func NewWorkingSet(records []aggregate.Record) *WorkingSet {
	cp := make([]aggregate.Record, len(records))
	for i, r := range records {
		cp[i] = r.Clone()
	}
	return &WorkingSet{records: cp, retired: make(map[string]bool)}
}

func (w *WorkingSet) Len() int { return len(w.records) }

// At returns the snapshot records at granularity g.
func (w *WorkingSet) At(g aggregate.Granularity) []aggregate.Record {
	var out []aggregate.Record
	for _, r := range w.records {
		if r.Granularity == g {
			out = append(out, r)
		}
	}
	return out
}

// Retire marks ids as merged away during this run. Ids outside the
// snapshot are ignored.
func (w *WorkingSet) Retire(ids ...string) {
	for _, id := range ids {
		for _, r := range w.records {
			if r.ID == id {
				w.retired[id] = true
				break
			}
		}
	}
}

func (w *WorkingSet) IsRetired(id string) bool { return w.retired[id] }

// RetiredCount reports how many snapshot records were retired.
func (w *WorkingSet) RetiredCount() int { return len(w.retired) }

// childrenFor selects the snapshot records that parent still has to absorb:
// one level finer, same user and data kind, not yet in parent's child set
// and, unless the child level is year-to-date, inside parent's window.
func (w *WorkingSet) childrenFor(parent aggregate.Record, child aggregate.Granularity) []aggregate.Record {
	var out []aggregate.Record
	for _, r := range w.records {
		if r.Granularity != child || r.User != parent.User || r.DataKind != parent.DataKind {
			continue
		}
		if parent.Children.Has(r.Ref()) {
			continue
		}
		if child.Windowed() && !r.Within(parent) {
			continue
		}
		out = append(out, r)
	}
	return out
}
