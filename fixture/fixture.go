/*
Package fixture converts JSON documents into items, check items and
aggregate records, and seeds them into a store.

PURPOSE:
  Reconciliation is only testable against realistic trees of aggregates.
  Fixtures describe those trees in the same document shape the production
  collections use, so a fixture file can be produced by exporting real
  documents and trimming them.

JSON SCHEMA:
  {
    "item": [
      {"_id": "abc.1", "name": "Latte", "location": "loc-1",
       "sale-department": "drinks", "master-department": "bar",
       "lists": {"modifiers": ["m1"]}}
    ],
    "check-item": [
      {"_id": "c1", "item": "/v1.0/item/abc.2", "location": "loc-1"}
    ],
    "aggregate-pos-data": [
      {"_id": "d1", "reference": "/v1.0/item/abc.1", "location": "loc-1",
       "user": "u1", "type": "daily", "data-type": "total-revenue-items",
       "bgn-timestamp": "2025-01-03T00:00:00Z",
       "end-timestamp": "2025-01-04T00:00:00Z",
       "value": 10.00, "children": []}
    ]
  }

KEY FEATURES:
  - Validates references, granularities and data kinds
  - Values decode exactly (no float detour)
  - FromRecord renders a record back into the document shape, used by the
    admin API

USAGE:
  f, err := fixture.Parse(data)
  err = fixture.Load(ctx, store, f)

  // Built-in
  f, err := fixture.Scenario("basic")

SEE ALSO:
  - scenarios.go: built-in scenarios
  - aggregate/store.go: Seeder
*/
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type ItemJSON struct {
	ID               string              `json:"_id"`
	Name             string              `json:"name"`
	Location         string              `json:"location"`
	SaleDepartment   string              `json:"sale-department"`
	MasterDepartment string              `json:"master-department"`
	Lists            map[string][]string `json:"lists,omitempty"`
}

type CheckItemJSON struct {
	ID       string `json:"_id"`
	Item     string `json:"item"`
	Location string `json:"location,omitempty"`
}

// AggregateJSON is one aggregate-pos-data document.
type AggregateJSON struct {
	ID        string          `json:"_id"`
	Reference string          `json:"reference"`
	Location  string          `json:"location"`
	User      string          `json:"user"`
	Type      string          `json:"type"`
	DataType  string          `json:"data-type"`
	Begin     time.Time       `json:"bgn-timestamp"`
	End       time.Time       `json:"end-timestamp"`
	Value     decimal.Decimal `json:"value"`
	Children  []string        `json:"children"`
}

// FileJSON is the top-level fixture document.
type FileJSON struct {
	Items      []ItemJSON      `json:"item"`
	CheckItems []CheckItemJSON `json:"check-item"`
	Aggregates []AggregateJSON `json:"aggregate-pos-data"`
}

// Fixture is a parsed, validated data set.
type Fixture struct {
	Items      []aggregate.Item
	CheckItems []aggregate.CheckItem
	Aggregates []aggregate.Record
}

var ErrUnknownScenario = errors.New("unknown scenario")

// =============================================================================
// PARSING
// =============================================================================

// Parse decodes and validates a fixture document.
func Parse(data []byte) (*Fixture, error) {
	var fj FileJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return nil, fmt.Errorf("failed to parse fixture JSON: %w", err)
	}
	return FromJSON(fj)
}

// FromJSON converts the JSON schema types into domain values.
func FromJSON(fj FileJSON) (*Fixture, error) {
	f := &Fixture{}
	seen := make(map[string]bool)

	for _, ij := range fj.Items {
		if ij.ID == "" {
			return nil, fmt.Errorf("item without _id")
		}
		f.Items = append(f.Items, aggregate.Item{
			ID:               ij.ID,
			Name:             ij.Name,
			Location:         ij.Location,
			SaleDepartment:   ij.SaleDepartment,
			MasterDepartment: ij.MasterDepartment,
			Lists:            ij.Lists,
		})
	}

	for _, cj := range fj.CheckItems {
		ref, err := aggregate.ParseRef(cj.Item)
		if err != nil {
			return nil, fmt.Errorf("check item %s: %w", cj.ID, err)
		}
		f.CheckItems = append(f.CheckItems, aggregate.CheckItem{ID: cj.ID, Item: ref, Location: cj.Location})
	}

	for _, aj := range fj.Aggregates {
		if seen[aj.ID] {
			return nil, fmt.Errorf("duplicate aggregate _id %q", aj.ID)
		}
		seen[aj.ID] = true
		r, err := ToRecord(aj)
		if err != nil {
			return nil, err
		}
		f.Aggregates = append(f.Aggregates, r)
	}
	return f, nil
}

// ToRecord validates one aggregate document.
func ToRecord(aj AggregateJSON) (aggregate.Record, error) {
	if aj.ID == "" {
		return aggregate.Record{}, fmt.Errorf("aggregate without _id")
	}
	ref, err := aggregate.ParseRef(aj.Reference)
	if err != nil {
		return aggregate.Record{}, &aggregate.RecordError{ID: aj.ID, Err: err}
	}
	g := aggregate.Granularity(aj.Type)
	if !g.Valid() {
		return aggregate.Record{}, &aggregate.RecordError{ID: aj.ID, Err: fmt.Errorf("unknown type %q", aj.Type)}
	}
	k := aggregate.DataKind(aj.DataType)
	if !k.Valid() {
		return aggregate.Record{}, &aggregate.RecordError{ID: aj.ID, Err: fmt.Errorf("unknown data-type %q", aj.DataType)}
	}
	children, err := aggregate.ParseChildSet(aj.Children)
	if err != nil {
		return aggregate.Record{}, &aggregate.RecordError{ID: aj.ID, Err: err}
	}
	return aggregate.Record{
		ID:          aj.ID,
		Reference:   ref,
		Location:    aj.Location,
		User:        aj.User,
		Granularity: g,
		DataKind:    k,
		Begin:       aj.Begin.UTC(),
		End:         aj.End.UTC(),
		Value:       aj.Value,
		Children:    children,
	}, nil
}

// FromRecord renders a record in document shape. Children are sorted.
func FromRecord(r aggregate.Record) AggregateJSON {
	children := r.Children.Strings()
	if children == nil {
		children = []string{}
	}
	return AggregateJSON{
		ID:        r.ID,
		Reference: r.Reference.String(),
		Location:  r.Location,
		User:      r.User,
		Type:      string(r.Granularity),
		DataType:  string(r.DataKind),
		Begin:     r.Begin,
		End:       r.End,
		Value:     r.Value,
		Children:  children,
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load inserts every entity of f into s.
func Load(ctx context.Context, s aggregate.Seeder, f *Fixture) error {
	if err := s.InsertItems(ctx, f.Items); err != nil {
		return fmt.Errorf("insert items: %w", err)
	}
	if err := s.InsertCheckItems(ctx, f.CheckItems); err != nil {
		return fmt.Errorf("insert check items: %w", err)
	}
	if err := s.InsertAggregates(ctx, f.Aggregates); err != nil {
		return fmt.Errorf("insert aggregates: %w", err)
	}
	return nil
}
