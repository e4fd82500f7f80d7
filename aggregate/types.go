/*
Package aggregate defines the records the reconciler works on.

PURPOSE:
  An upstream process materializes POS aggregates per item, per user and per
  data kind at four granularities (daily, monthly, year-to-date, lifetime).
  Each coarser record keeps the set of finer records already summed into it.
  This package holds those types and the store interfaces; it has no
  reconciliation logic.

KEY CONCEPTS IN THIS FILE (types.go):
  - Granularity: the four rollup levels and their child mapping
  - DataKind: currency values (rounded to cents) vs counts (exact)
  - Record: one materialized aggregate
  - Item / CheckItem: the entities aggregates and check items point at

DESIGN PRINCIPLES:
  1. Precision: values are decimal.Decimal, rounding is explicit per kind
  2. Type Safety: references are Ref values, never raw path strings
  3. Materialized children: Record.Children is a ledger of what is already
     counted in Value, never a live query

SEE ALSO:
  - ref.go: typed references and their textual form
  - children.go: ChildSet
  - store.go: persistence interfaces
*/
package aggregate

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// GRANULARITY - Rollup level, finest to coarsest
// =============================================================================

type Granularity string

const (
	Daily      Granularity = "daily"
	Monthly    Granularity = "monthly"
	YearToDate Granularity = "ytd"
	Lifetime   Granularity = "lifetime"
)

// Granularities lists every level, finest first.
var Granularities = []Granularity{Daily, Monthly, YearToDate, Lifetime}

// InteriorGranularities are the levels that roll up from a finer level.
var InteriorGranularities = []Granularity{Monthly, YearToDate, Lifetime}

// Child returns the next finer granularity. Daily has none.
func (g Granularity) Child() (Granularity, bool) {
	switch g {
	case Monthly:
		return Daily, true
	case YearToDate:
		return Monthly, true
	case Lifetime:
		return YearToDate, true
	default:
		return "", false
	}
}

// Rank orders granularities: daily=0 ... lifetime=3, unknown=-1.
func (g Granularity) Rank() int {
	for i, v := range Granularities {
		if v == g {
			return i
		}
	}
	return -1
}

func (g Granularity) Valid() bool { return g.Rank() >= 0 }

// Windowed reports whether a rollup from this child level narrows by time
// window. Year-to-date children are summed into lifetime unconditionally.
func (g Granularity) Windowed() bool { return g != YearToDate }

// =============================================================================
// DATA KIND - What the value measures
// =============================================================================

type DataKind string

const (
	TotalRevenue DataKind = "total-revenue-items"
	ItemCount    DataKind = "number-items"
)

var DataKinds = []DataKind{TotalRevenue, ItemCount}

// IsCurrency reports whether values of this kind are money.
func (k DataKind) IsCurrency() bool { return k == TotalRevenue }

func (k DataKind) Valid() bool { return k == TotalRevenue || k == ItemCount }

// Round applies the kind's storage precision. Currency is rounded to two
// fraction digits, half away from zero. Counts are returned unchanged.
func (k DataKind) Round(v decimal.Decimal) decimal.Decimal {
	if k.IsCurrency() {
		return v.Round(2)
	}
	return v
}

// Sum adds values and rounds the total once.
func (k DataKind) Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return k.Round(total)
}

// =============================================================================
// RECORD - One materialized aggregate
// =============================================================================

// Record is a pre-computed total for one (item, user, data kind, window) at
// one granularity. Begin/End form a half-open window; they are not used to
// narrow year-to-date or lifetime merges.
type Record struct {
	ID          string
	Reference   Ref
	Location    string
	User        string
	Granularity Granularity
	DataKind    DataKind
	Begin       time.Time
	End         time.Time
	Value       decimal.Decimal
	Children    ChildSet
}

// Ref returns the reference other records use to point at this one.
func (r Record) Ref() Ref { return AggregateRef(r.ID) }

// Within reports whether r's window lies inside outer's window.
func (r Record) Within(outer Record) bool {
	return !r.Begin.Before(outer.Begin) && !r.End.After(outer.End)
}

// SameSlot reports whether two records describe the same
// (granularity, data kind, user, window) regardless of owner.
func (r Record) SameSlot(o Record) bool {
	return r.Granularity == o.Granularity &&
		r.DataKind == o.DataKind &&
		r.User == o.User &&
		r.Begin.Equal(o.Begin) &&
		r.End.Equal(o.End)
}

// Clone returns a copy with its own child set.
func (r Record) Clone() Record {
	r.Children = r.Children.Clone()
	return r
}

// =============================================================================
// ITEMS AND CHECK ITEMS
// =============================================================================

// Item is a sellable entity. Lists holds its array-valued fields.
type Item struct {
	ID               string
	Name             string
	Location         string
	SaleDepartment   string
	MasterDepartment string
	Lists            map[string][]string
}

func (i Item) Ref() Ref { return ItemRef(i.ID) }

// ItemGroup is a set of items sharing every descriptive field.
type ItemGroup struct {
	Name             string
	Location         string
	SaleDepartment   string
	MasterDepartment string
	Count            int
}

// CheckItem is a line on a check. Only its item reference matters here.
type CheckItem struct {
	ID       string
	Item     Ref
	Location string
}
