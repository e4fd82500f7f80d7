/*
store.go - Persistence interfaces for items, check items and aggregates

PURPOSE:
  Defines the boundary between the reconciler and the database. Stores only
  read, set fields, union child sets and delete. There is no business logic
  behind these methods.

KEY INTERFACES:
  AggregateStore: find-by-filter, atomic field set, atomic add-to-set, delete
  ItemStore:      duplicate grouping, item lookup, list update, delete
  CheckItemStore: count and repoint check items by item reference
  Seeder:         bulk insert, used by fixtures and dry runs

ATOMICITY:
  Each single method call is atomic on its own. MergeValue sets the value and
  unions the children in one write, so a crash never leaves a value that
  counts a child the set does not list. Nothing spans two calls.

ZERO MATCHES:
  Updates and deletes report how many documents matched. Zero is not an
  error: a record may have been removed upstream between read and write.

IMPLEMENTATIONS:
  - aggregate/store/memory.go: in-memory, for tests and dry runs
  - store/sqlite/sqlite.go: SQLite
  - store/mongo/mongo.go: MongoDB, the production aggregate-pos-data store
*/
package aggregate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FILTERS
// =============================================================================

// Filter selects aggregate records. Zero-valued fields match anything;
// pointer fields match exactly when set (including the zero time).
type Filter struct {
	Reference   Ref
	Location    string
	Granularity Granularity
	DataKind    DataKind
	User        *string
	Begin       *time.Time
	End         *time.Time
}

// SlotFilter selects the record owned by owner in the same slot as r.
func SlotFilter(owner Ref, r Record) Filter {
	user, begin, end := r.User, r.Begin, r.End
	return Filter{
		Reference:   owner,
		Granularity: r.Granularity,
		DataKind:    r.DataKind,
		User:        &user,
		Begin:       &begin,
		End:         &end,
	}
}

// Matches evaluates the filter in memory.
func (f Filter) Matches(r Record) bool {
	if !f.Reference.IsZero() && r.Reference != f.Reference {
		return false
	}
	if f.Location != "" && r.Location != f.Location {
		return false
	}
	if f.Granularity != "" && r.Granularity != f.Granularity {
		return false
	}
	if f.DataKind != "" && r.DataKind != f.DataKind {
		return false
	}
	if f.User != nil && r.User != *f.User {
		return false
	}
	if f.Begin != nil && !r.Begin.Equal(*f.Begin) {
		return false
	}
	if f.End != nil && !r.End.Equal(*f.End) {
		return false
	}
	return true
}

// ItemFilter selects items. IDs, when non-empty, restricts to those ids.
type ItemFilter struct {
	IDs              []string
	Name             string
	Location         string
	SaleDepartment   string
	MasterDepartment string
}

func (f ItemFilter) Matches(it Item) bool {
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == it.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Name != "" && it.Name != f.Name {
		return false
	}
	if f.Location != "" && it.Location != f.Location {
		return false
	}
	if f.SaleDepartment != "" && it.SaleDepartment != f.SaleDepartment {
		return false
	}
	if f.MasterDepartment != "" && it.MasterDepartment != f.MasterDepartment {
		return false
	}
	return true
}

// UpdateResult reports how many documents a write matched and changed.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type AggregateStore interface {
	// FindAggregates returns every record matching f. Order is unspecified.
	FindAggregates(ctx context.Context, f Filter) ([]Record, error)

	// SetReference rewrites the owning reference of one record.
	SetReference(ctx context.Context, id string, ref Ref) (UpdateResult, error)

	// MergeValue sets value and unions children into one record atomically.
	MergeValue(ctx context.Context, id string, value decimal.Decimal, children []Ref) (UpdateResult, error)

	// DeleteAggregate removes one record. Returns the number deleted.
	DeleteAggregate(ctx context.Context, id string) (int64, error)

	// DeleteAggregates removes many records in one operation.
	DeleteAggregates(ctx context.Context, ids []string) (int64, error)
}

type ItemStore interface {
	// DuplicateGroups returns groups of items with a non-empty name that
	// share name, location and both departments, with more than one member.
	// limit <= 0 means no limit.
	DuplicateGroups(ctx context.Context, limit int) ([]ItemGroup, error)

	FindItems(ctx context.Context, f ItemFilter) ([]Item, error)

	// UpdateItemLists replaces the given array-valued fields on one item.
	UpdateItemLists(ctx context.Context, id string, lists map[string][]string) (UpdateResult, error)

	DeleteItem(ctx context.Context, id string) (int64, error)
}

type CheckItemStore interface {
	CountCheckItems(ctx context.Context, item Ref) (int64, error)
	FindCheckItems(ctx context.Context, item Ref) ([]CheckItem, error)

	// RepointCheckItems rewrites every check item referencing from to to.
	RepointCheckItems(ctx context.Context, from, to Ref) (UpdateResult, error)
}

// Store is everything a reconciliation run needs.
type Store interface {
	AggregateStore
	ItemStore
	CheckItemStore
	Close() error
}

// Seeder bulk-inserts entities. Implemented by every store for fixtures;
// the memory store also uses it to stage dry runs.
type Seeder interface {
	InsertItems(ctx context.Context, items []Item) error
	InsertCheckItems(ctx context.Context, checkItems []CheckItem) error
	InsertAggregates(ctx context.Context, records []Record) error

	// Reset removes every item, check item and aggregate.
	Reset(ctx context.Context) error
}
