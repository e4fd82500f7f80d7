package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/batch"
	"github.com/mkultr4/fix-item-duplicates/fixture"
)

func rawValue(t *testing.T, v any) bson.RawValue {
	t.Helper()
	raw, err := bson.Marshal(bson.D{{Key: "value", Value: v}})
	require.NoError(t, err)
	return bson.Raw(raw).Lookup("value")
}

func TestDecodeValue_NumericEncodings(t *testing.T) {
	d128, err := primitive.ParseDecimal128("7.505")
	require.NoError(t, err)

	cases := map[string]struct {
		in   any
		want string
	}{
		"double":     {15.01, "15.01"},
		"int32":      {int32(5), "5"},
		"int64":      {int64(42), "42"},
		"decimal128": {d128, "7.505"},
		"string":     {"10.00", "10"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := decodeValue(rawValue(t, tc.in))
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s", got)
		})
	}

	_, err = decodeValue(rawValue(t, true))
	assert.ErrorIs(t, err, aggregate.ErrInvalidValue)

	missing, err := decodeValue(bson.RawValue{})
	require.NoError(t, err)
	assert.True(t, missing.IsZero())
}

func TestItemFromDoc_KeepsStringArraysOnly(t *testing.T) {
	doc := bson.M{
		"_id":               "abc.1",
		"name":              "Latte",
		"location":          "loc-1",
		"sale-department":   "drinks",
		"master-department": "bar",
		"modifiers":         primitive.A{"oat", "soy"},
		"prices":            primitive.A{int32(1), int32(2)},
		"color":             "brown",
	}
	it := itemFromDoc(doc)

	assert.Equal(t, "abc.1", it.ID)
	assert.Equal(t, "drinks", it.SaleDepartment)
	assert.Equal(t, map[string][]string{"modifiers": {"oat", "soy"}}, it.Lists)
}

func TestIDFilter_MatchesObjectIDForm(t *testing.T) {
	oid := primitive.NewObjectID()
	q := idFilter(oid.Hex())
	in := q["_id"].(bson.M)["$in"].(bson.A)
	assert.Equal(t, bson.A{oid.Hex(), oid}, in)

	assert.Equal(t, bson.M{"_id": "abc.1"}, idFilter("abc.1"))
	assert.Equal(t, oid.Hex(), idString(oid))
}

func TestAggregateQuery_OnlySetFields(t *testing.T) {
	user := "u1"
	begin := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q := aggregateQuery(aggregate.Filter{
		Reference:   aggregate.ItemRef("abc.1"),
		Granularity: aggregate.YearToDate,
		User:        &user,
		Begin:       &begin,
	})
	assert.Equal(t, bson.M{
		"reference":     "/v1.0/item/abc.1",
		"type":          "ytd",
		"user":          "u1",
		"bgn-timestamp": begin,
	}, q)
}

// =============================================================================
// INTEGRATION (requires FIXDUP_TEST_MONGO_URL)
// =============================================================================

func TestStore_LiveRun_AgainstMongo(t *testing.T) {
	url := os.Getenv("FIXDUP_TEST_MONGO_URL")
	if url == "" {
		t.Skip("FIXDUP_TEST_MONGO_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := New(ctx, Options{URL: url, Database: "fixdup_test_" + uuid.NewString()[:8]})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Drop(context.Background())
		_ = st.Close()
	})

	f, err := fixture.Scenario("basic")
	require.NoError(t, err)
	require.NoError(t, fixture.Load(ctx, st, f))

	log, _ := logtest.NewNullLogger()
	res, err := batch.NewRunner(st, log).Run(ctx, batch.Options{Confirm: batch.ConfirmPhrase})
	require.NoError(t, err)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, batch.OutcomeReconciled, res.Pairs[0].Outcome)
	assert.Zero(t, res.Mismatches)

	left, err := st.FindAggregates(ctx, aggregate.Filter{Reference: aggregate.ItemRef("abc.2")})
	require.NoError(t, err)
	assert.Empty(t, left)

	n, err := st.CountCheckItems(ctx, aggregate.ItemRef("abc.1"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
