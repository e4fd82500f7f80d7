package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/batch"
	"github.com/mkultr4/fix-item-duplicates/fixture"
	"github.com/mkultr4/fix-item-duplicates/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func loadScenario(t *testing.T, st *sqlite.Store, id string) {
	t.Helper()
	f, err := fixture.Scenario(id)
	require.NoError(t, err)
	require.NoError(t, fixture.Load(context.Background(), st, f))
}

func record(id string, ref aggregate.Ref, value string, children ...aggregate.Ref) aggregate.Record {
	begin := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	return aggregate.Record{
		ID:          id,
		Reference:   ref,
		Location:    "loc-1",
		User:        "u1",
		Granularity: aggregate.Monthly,
		DataKind:    aggregate.TotalRevenue,
		Begin:       begin,
		End:         begin.AddDate(0, 1, 0),
		Value:       decimal.RequireFromString(value),
		Children:    aggregate.NewChildSet(children...),
	}
}

// =============================================================================
// AGGREGATES
// =============================================================================

func TestFindAggregates_RoundTripsRecord(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	in := record("m1", aggregate.ItemRef("abc.1"), "10.05", aggregate.AggregateRef("d1"))
	require.NoError(t, st.InsertAggregates(ctx, []aggregate.Record{in}))

	user := "u1"
	begin, end := in.Begin, in.End
	out, err := st.FindAggregates(ctx, aggregate.Filter{
		Reference:   aggregate.ItemRef("abc.1"),
		Granularity: aggregate.Monthly,
		User:        &user,
		Begin:       &begin,
		End:         &end,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "10.05", out[0].Value.String())
	assert.True(t, out[0].Begin.Equal(in.Begin))
	assert.True(t, out[0].Children.Has(aggregate.AggregateRef("d1")))
	assert.Equal(t, aggregate.ItemRef("abc.1"), out[0].Reference)

	other := "u2"
	none, err := st.FindAggregates(ctx, aggregate.Filter{User: &other})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMergeValue_UnionsChildrenAndSetsValue(t *testing.T) {
	// GIVEN: A record counting d1
	// WHEN: Merging a new value with d1 and d2
	// THEN: Children hold both once, a repeat merge modifies nothing

	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.InsertAggregates(ctx, []aggregate.Record{
		record("m1", aggregate.ItemRef("abc.1"), "10", aggregate.AggregateRef("d1")),
	}))

	children := []aggregate.Ref{aggregate.AggregateRef("d1"), aggregate.AggregateRef("d2")}
	res, err := st.MergeValue(ctx, "m1", decimal.RequireFromString("15.01"), children)
	require.NoError(t, err)
	assert.Equal(t, aggregate.UpdateResult{Matched: 1, Modified: 1}, res)

	again, err := st.MergeValue(ctx, "m1", decimal.RequireFromString("15.01"), children)
	require.NoError(t, err)
	assert.Equal(t, aggregate.UpdateResult{Matched: 1}, again)

	out, err := st.FindAggregates(ctx, aggregate.Filter{Reference: aggregate.ItemRef("abc.1")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "15.01", out[0].Value.String())
	assert.Equal(t, 2, out[0].Children.Len())

	missing, err := st.MergeValue(ctx, "nope", decimal.Zero, nil)
	require.NoError(t, err)
	assert.Zero(t, missing.Matched)
}

func TestSetReference_MatchedAndModified(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.InsertAggregates(ctx, []aggregate.Record{
		record("m1", aggregate.ItemRef("abc.2"), "1"),
	}))

	res, err := st.SetReference(ctx, "m1", aggregate.ItemRef("abc.1"))
	require.NoError(t, err)
	assert.Equal(t, aggregate.UpdateResult{Matched: 1, Modified: 1}, res)

	res, err = st.SetReference(ctx, "m1", aggregate.ItemRef("abc.1"))
	require.NoError(t, err)
	assert.Equal(t, aggregate.UpdateResult{Matched: 1}, res)

	res, err = st.SetReference(ctx, "gone", aggregate.ItemRef("abc.1"))
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
}

func TestDeleteAggregates_CountsOnlyExisting(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.InsertAggregates(ctx, []aggregate.Record{
		record("a", aggregate.ItemRef("abc.2"), "1"),
		record("b", aggregate.ItemRef("abc.2"), "2"),
	}))

	n, err := st.DeleteAggregates(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = st.DeleteAggregates(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = st.DeleteAggregate(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// ITEMS AND CHECK ITEMS
// =============================================================================

func TestDuplicateGroups_GroupsNamedItems(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	loadScenario(t, st, "basic")
	require.NoError(t, st.InsertItems(ctx, []aggregate.Item{
		{ID: "x.1", Location: "loc-1"},
		{ID: "x.2", Location: "loc-1"},
	}))

	groups, err := st.DuplicateGroups(ctx, 0)
	require.NoError(t, err)
	require.Len(t, groups, 1, "unnamed items are never grouped")
	assert.Equal(t, "Latte", groups[0].Name)
	assert.Equal(t, 2, groups[0].Count)
}

func TestUpdateItemLists_KeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.InsertItems(ctx, []aggregate.Item{{
		ID:    "abc.1",
		Name:  "Latte",
		Lists: map[string][]string{"modifiers": {"oat"}, "tags": {"hot"}},
	}}))

	res, err := st.UpdateItemLists(ctx, "abc.1", map[string][]string{"modifiers": {"oat", "soy"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Matched)

	items, err := st.FindItems(ctx, aggregate.ItemFilter{IDs: []string{"abc.1"}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"oat", "soy"}, items[0].Lists["modifiers"])
	assert.Equal(t, []string{"hot"}, items[0].Lists["tags"])
}

func TestRepointCheckItems_MovesReferences(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	loadScenario(t, st, "basic")

	n, err := st.CountCheckItems(ctx, aggregate.ItemRef("abc.2"))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	res, err := st.RepointCheckItems(ctx, aggregate.ItemRef("abc.2"), aggregate.ItemRef("abc.1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Modified)

	moved, err := st.FindCheckItems(ctx, aggregate.ItemRef("abc.1"))
	require.NoError(t, err)
	assert.Len(t, moved, 3)
}

func TestReset_ClearsEverything(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	loadScenario(t, st, "basic")

	require.NoError(t, st.Reset(ctx))

	items, err := st.FindItems(ctx, aggregate.ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
	recs, err := st.FindAggregates(ctx, aggregate.Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// =============================================================================
// END TO END
// =============================================================================

func TestRun_Live_AgainstSQLite(t *testing.T) {
	// GIVEN: The basic scenario in SQLite
	// WHEN: A confirmed live run is executed
	// THEN: The original holds the union totals and the duplicate is gone

	ctx := context.Background()
	st := newStore(t)
	loadScenario(t, st, "basic")

	log, _ := logtest.NewNullLogger()
	r := batch.NewRunner(st, log)
	res, err := r.Run(ctx, batch.Options{Confirm: batch.ConfirmPhrase})
	require.NoError(t, err)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, batch.OutcomeReconciled, res.Pairs[0].Outcome)
	assert.Zero(t, res.Mismatches)

	left, err := st.FindAggregates(ctx, aggregate.Filter{Reference: aggregate.ItemRef("abc.2")})
	require.NoError(t, err)
	assert.Empty(t, left)

	lifetime, err := st.FindAggregates(ctx, aggregate.Filter{
		Reference:   aggregate.ItemRef("abc.1"),
		Granularity: aggregate.Lifetime,
		DataKind:    aggregate.TotalRevenue,
	})
	require.NoError(t, err)
	require.Len(t, lifetime, 1)
	assert.Equal(t, "17.51", lifetime[0].Value.String())
}
