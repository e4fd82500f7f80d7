/*
scenarios.go - Built-in data sets for demos and tests

AVAILABLE SCENARIOS:

	basic:     One duplicate pair with colliding slots at every level, a
	           month only the duplicate has, check items and list fields
	mismatch:  One pair whose original lifetime total disagrees with its
	           year-to-date records before any merge
	unrelated: Two items with equal descriptive fields but different base
	           ids; the locator must not pair them

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' with ID, name, description
 2. Write a builder returning *Fixture
 3. Add the case to Scenario

SEE ALSO:
  - cmd/fixdup/seed.go: `fixdup seed --scenario <id>`
*/
package fixture

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
)

// ScenarioInfo describes a built-in scenario.
type ScenarioInfo struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

var scenarios = []ScenarioInfo{
	{
		ID:          "basic",
		Name:        "Basic duplicate",
		Description: "Colliding daily/monthly/ytd/lifetime slots plus a duplicate-only month",
	},
	{
		ID:          "mismatch",
		Name:        "Lifetime mismatch",
		Description: "Original lifetime is 42 while its ytd records sum to 41",
	},
	{
		ID:          "unrelated",
		Name:        "Unrelated lookalikes",
		Description: "Same name and departments, different base ids",
	},
}

// Scenarios lists the built-in scenarios.
func Scenarios() []ScenarioInfo {
	return append([]ScenarioInfo(nil), scenarios...)
}

// Scenario builds a fresh copy of a built-in scenario.
func Scenario(id string) (*Fixture, error) {
	switch id {
	case "basic":
		return basicScenario(), nil
	case "mismatch":
		return mismatchScenario(), nil
	case "unrelated":
		return unrelatedScenario(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}
}

// =============================================================================
// SCENARIO BUILDERS
// =============================================================================

const (
	scenarioLocation = "loc-1"
	scenarioSale     = "drinks"
	scenarioMaster   = "bar"
)

func scenarioItem(id, name string, lists map[string][]string) aggregate.Item {
	return aggregate.Item{
		ID:               id,
		Name:             name,
		Location:         scenarioLocation,
		SaleDepartment:   scenarioSale,
		MasterDepartment: scenarioMaster,
		Lists:            lists,
	}
}

// tree builds aggregate records for one owner and user.
type tree struct {
	owner string
	user  string
	kind  aggregate.DataKind
	out   []aggregate.Record
}

func (t *tree) add(id string, g aggregate.Granularity, begin, end time.Time, value string, children ...string) {
	refs := make([]aggregate.Ref, len(children))
	for i, c := range children {
		refs[i] = aggregate.AggregateRef(c)
	}
	t.out = append(t.out, aggregate.Record{
		ID:          id,
		Reference:   aggregate.ItemRef(t.owner),
		Location:    scenarioLocation,
		User:        t.user,
		Granularity: g,
		DataKind:    t.kind,
		Begin:       begin,
		End:         end,
		Value:       decimal.RequireFromString(value),
		Children:    aggregate.NewChildSet(refs...),
	})
}

func day(y int, m time.Month, d int) (time.Time, time.Time) {
	b := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return b, b.AddDate(0, 0, 1)
}

func month(y int, m time.Month) (time.Time, time.Time) {
	b := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return b, b.AddDate(0, 1, 0)
}

func year(y int) (time.Time, time.Time) {
	b := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	return b, b.AddDate(1, 0, 0)
}

var lifeBegin, lifeEnd = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// basicScenario: after reconciliation every revenue level of abc.1 totals
// 17.51 and every count level totals 5.
func basicScenario() *Fixture {
	f := &Fixture{
		Items: []aggregate.Item{
			scenarioItem("abc.1", "Latte", map[string][]string{"modifiers": {"oat", "soy"}, "tags": {"hot"}}),
			scenarioItem("abc.2", "Latte", map[string][]string{"modifiers": {"soy", "almond"}, "printers": {"bar-1"}}),
		},
		CheckItems: []aggregate.CheckItem{
			{ID: "chk-1", Item: aggregate.ItemRef("abc.2"), Location: scenarioLocation},
			{ID: "chk-2", Item: aggregate.ItemRef("abc.2"), Location: scenarioLocation},
			{ID: "chk-3", Item: aggregate.ItemRef("abc.1"), Location: scenarioLocation},
		},
	}

	jb, je := day(2025, time.January, 3)
	fb, fe := day(2025, time.February, 7)
	mjb, mje := month(2025, time.January)
	mfb, mfe := month(2025, time.February)
	yb, ye := year(2025)

	orig := &tree{owner: "abc.1", user: "u1", kind: aggregate.TotalRevenue}
	orig.add("rev-d-o", aggregate.Daily, jb, je, "10.00")
	orig.add("rev-m-o", aggregate.Monthly, mjb, mje, "10.00", "rev-d-o")
	orig.add("rev-y-o", aggregate.YearToDate, yb, ye, "10.00", "rev-m-o")
	orig.add("rev-l-o", aggregate.Lifetime, lifeBegin, lifeEnd, "10.00", "rev-y-o")

	dup := &tree{owner: "abc.2", user: "u1", kind: aggregate.TotalRevenue}
	dup.add("rev-d-x", aggregate.Daily, jb, je, "5.005")
	dup.add("rev-d-feb", aggregate.Daily, fb, fe, "2.50")
	dup.add("rev-m-x", aggregate.Monthly, mjb, mje, "5.005", "rev-d-x")
	dup.add("rev-m-feb", aggregate.Monthly, mfb, mfe, "2.50", "rev-d-feb")
	dup.add("rev-y-x", aggregate.YearToDate, yb, ye, "7.505", "rev-m-x", "rev-m-feb")
	dup.add("rev-l-x", aggregate.Lifetime, lifeBegin, lifeEnd, "7.505", "rev-y-x")

	origN := &tree{owner: "abc.1", user: "u1", kind: aggregate.ItemCount}
	origN.add("cnt-d-o", aggregate.Daily, jb, je, "3")
	origN.add("cnt-m-o", aggregate.Monthly, mjb, mje, "3", "cnt-d-o")
	origN.add("cnt-y-o", aggregate.YearToDate, yb, ye, "3", "cnt-m-o")
	origN.add("cnt-l-o", aggregate.Lifetime, lifeBegin, lifeEnd, "3", "cnt-y-o")

	dupN := &tree{owner: "abc.2", user: "u1", kind: aggregate.ItemCount}
	dupN.add("cnt-d-x", aggregate.Daily, jb, je, "2")
	dupN.add("cnt-m-x", aggregate.Monthly, mjb, mje, "2", "cnt-d-x")
	dupN.add("cnt-y-x", aggregate.YearToDate, yb, ye, "2", "cnt-m-x")
	dupN.add("cnt-l-x", aggregate.Lifetime, lifeBegin, lifeEnd, "2", "cnt-y-x")

	for _, t := range []*tree{orig, dup, origN, dupN} {
		f.Aggregates = append(f.Aggregates, t.out...)
	}
	return f
}

func mismatchScenario() *Fixture {
	f := &Fixture{
		Items: []aggregate.Item{
			scenarioItem("mm.1", "Mocha", nil),
			scenarioItem("mm.2", "Mocha", nil),
		},
	}
	db, de := day(2025, time.May, 2)
	mb, me := month(2025, time.May)
	yb, ye := year(2025)
	pb, pe := year(2024)

	orig := &tree{owner: "mm.1", user: "u1", kind: aggregate.ItemCount}
	orig.add("mm-d", aggregate.Daily, db, de, "42")
	orig.add("mm-m", aggregate.Monthly, mb, me, "42", "mm-d")
	orig.add("mm-y", aggregate.YearToDate, yb, ye, "40", "mm-m")
	orig.add("mm-y-prev", aggregate.YearToDate, pb, pe, "1")
	orig.add("mm-l", aggregate.Lifetime, lifeBegin, lifeEnd, "42", "mm-y", "mm-y-prev")
	f.Aggregates = orig.out
	return f
}

func unrelatedScenario() *Fixture {
	return &Fixture{
		Items: []aggregate.Item{
			scenarioItem("aaa.1", "Tea", nil),
			scenarioItem("bbb.2", "Tea", nil),
		},
	}
}
