package batch_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/aggregate/store"
	"github.com/mkultr4/fix-item-duplicates/batch"
	"github.com/mkultr4/fix-item-duplicates/fixture"
	"github.com/mkultr4/fix-item-duplicates/lock"
	"github.com/mkultr4/fix-item-duplicates/metrics"
	"github.com/mkultr4/fix-item-duplicates/reconcile"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func scenarioStore(t *testing.T, ids ...string) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	for _, id := range ids {
		f, err := fixture.Scenario(id)
		require.NoError(t, err)
		require.NoError(t, fixture.Load(context.Background(), mem, f))
	}
	return mem
}

func newRunner(st aggregate.Store) *batch.Runner {
	log, _ := logtest.NewNullLogger()
	r := batch.NewRunner(st, log)
	r.Limit = 0
	return r
}

type captureReporter struct {
	mu      sync.Mutex
	reports []batch.PairReport
	err     error
}

func (c *captureReporter) WritePair(_ context.Context, rep batch.PairReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, rep)
	return c.err
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (lock.Release, error) {
	return nil, lock.ErrNotObtained
}

// brokenGroups fails duplicate grouping.
type brokenGroups struct{ *store.Memory }

func (brokenGroups) DuplicateGroups(context.Context, int) ([]aggregate.ItemGroup, error) {
	return nil, errors.New("connection reset")
}

// brokenDeletes fails every batch delete of aggregates.
type brokenDeletes struct{ *store.Memory }

func (brokenDeletes) DeleteAggregates(context.Context, []string) (int64, error) {
	return 0, errors.New("write conflict")
}

// cancelOnMerge cancels the run's context right after the first value
// merge and, like a network store, fails writes on a cancelled context.
type cancelOnMerge struct {
	*store.Memory
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnMerge) MergeValue(ctx context.Context, id string, v decimal.Decimal, children []aggregate.Ref) (aggregate.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return aggregate.UpdateResult{}, err
	}
	res, err := c.Memory.MergeValue(ctx, id, v, children)
	c.once.Do(c.cancel)
	return res, err
}

func (c *cancelOnMerge) DeleteAggregate(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.Memory.DeleteAggregate(ctx, id)
}

func (c *cancelOnMerge) DeleteAggregates(ctx context.Context, ids []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.Memory.DeleteAggregates(ctx, ids)
}

func value(t *testing.T, mem *store.Memory, id string) string {
	t.Helper()
	r, ok := mem.Aggregate(id)
	require.True(t, ok, "record %s missing", id)
	return r.Value.String()
}

// =============================================================================
// RUN MODES
// =============================================================================

func TestRun_DryRun_ReportsWithoutWriting(t *testing.T) {
	// GIVEN: The basic scenario
	// WHEN: A dry run is executed
	// THEN: The report shows a clean reconciliation, the store is untouched

	ctx := context.Background()
	mem := scenarioStore(t, "basic")
	r := newRunner(mem)
	rep := &captureReporter{}
	r.Reporter = rep

	res, err := r.Run(ctx, batch.Options{DryRun: true})
	require.NoError(t, err)

	require.Len(t, res.Pairs, 1)
	p := res.Pairs[0]
	assert.True(t, p.DryRun)
	assert.Equal(t, batch.OutcomeReconciled, p.Outcome)
	assert.Equal(t, int64(2), p.CheckItems.Modified)
	assert.Equal(t, int64(1), p.Items.Deleted)
	assert.Zero(t, p.Verification.Mismatches())
	require.Len(t, p.Verification.Findings, 2)
	assert.NotEmpty(t, res.RunID)
	assert.Len(t, rep.reports, 1)

	assert.Equal(t, "10", value(t, mem, "rev-d-o"))
	_, ok := mem.Aggregate("rev-d-x")
	assert.True(t, ok, "dry run must not delete from the source store")
	n, err := mem.CountCheckItems(ctx, aggregate.ItemRef("abc.2"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRun_Live_RequiresConfirm(t *testing.T) {
	r := newRunner(scenarioStore(t, "basic"))
	_, err := r.Run(context.Background(), batch.Options{DryRun: false})
	assert.ErrorIs(t, err, batch.ErrNotConfirmed)
}

func TestRun_Live_ReconcilesStore(t *testing.T) {
	// GIVEN: The basic scenario
	// WHEN: A confirmed live run is executed
	// THEN: Every original level holds the union total and the duplicate is gone

	ctx := context.Background()
	mem := scenarioStore(t, "basic")
	r := newRunner(mem)
	reg := prometheus.NewRegistry()
	r.Metrics = metrics.New(reg)

	res, err := r.Run(ctx, batch.Options{Confirm: batch.ConfirmPhrase})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reconciled)
	assert.Zero(t, res.Mismatches)

	for _, id := range []string{"rev-y-o", "rev-l-o"} {
		assert.Equal(t, "17.51", value(t, mem, id))
	}
	assert.Equal(t, "15.01", value(t, mem, "rev-d-o"))
	assert.Equal(t, "15.01", value(t, mem, "rev-m-o"))
	assert.Equal(t, "5", value(t, mem, "cnt-l-o"))

	left, err := mem.FindAggregates(ctx, aggregate.Filter{Reference: aggregate.ItemRef("abc.2")})
	require.NoError(t, err)
	assert.Empty(t, left)

	items, err := mem.FindItems(ctx, aggregate.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"oat", "soy", "almond"}, items[0].Lists["modifiers"])

	n, err := testutil.GatherAndCount(reg, "fixdup_pairs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	last, err := r.Last()
	require.NoError(t, err)
	assert.Equal(t, res.RunID, last.RunID)

	// A second live run finds no pair left
	again, err := r.Run(ctx, batch.Options{Confirm: batch.ConfirmPhrase})
	require.NoError(t, err)
	assert.Empty(t, again.Pairs)
}

func TestRun_MismatchScenario_ReportedNotFailed(t *testing.T) {
	mem := scenarioStore(t, "mismatch")
	r := newRunner(mem)

	res, err := r.Run(context.Background(), batch.Options{DryRun: true})
	require.NoError(t, err)

	require.Len(t, res.Pairs, 1)
	assert.Equal(t, batch.OutcomeReconciled, res.Pairs[0].Outcome)
	assert.Equal(t, 1, res.Mismatches)
}

func TestRun_UnrelatedItems_NoPairs(t *testing.T) {
	r := newRunner(scenarioStore(t, "unrelated"))
	res, err := r.Run(context.Background(), batch.Options{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, res.Pairs)
}

// =============================================================================
// ERROR BOUNDARIES
// =============================================================================

func TestRun_LookupFailure_AbortsWithLookupError(t *testing.T) {
	r := newRunner(brokenGroups{scenarioStore(t, "basic")})

	_, err := r.Run(context.Background(), batch.Options{DryRun: true})
	var le *batch.LookupError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, err.Error(), "connection reset")

	_, err = r.Last()
	assert.ErrorIs(t, err, batch.ErrNoRunCompleted)
}

func TestRun_PairFailure_RecordedAndRunContinues(t *testing.T) {
	// GIVEN: Two pairs and a store whose batch deletes fail
	// WHEN: A live run is executed
	// THEN: Both pairs are attempted; basic fails at the aggregates step

	mem := scenarioStore(t, "basic", "mismatch")
	r := newRunner(brokenDeletes{mem})

	res, err := r.Run(context.Background(), batch.Options{Confirm: batch.ConfirmPhrase})
	require.NoError(t, err)

	require.Len(t, res.Pairs, 2)
	var failed []batch.PairReport
	for _, p := range res.Pairs {
		if p.Outcome == batch.OutcomeFailed {
			failed = append(failed, p)
		}
	}
	require.Len(t, failed, 1, "only basic has duplicate records to delete")
	assert.Equal(t, batch.StepAggregates, failed[0].FailedStep)
	assert.Contains(t, failed[0].Error, "write conflict")
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Reconciled)
}

func TestRun_Live_CancelledMidPair_FinishesPair(t *testing.T) {
	// GIVEN: The basic and mismatch scenarios, and a context cancelled
	//        right after the first daily merge of the first pair
	// WHEN: A live run is executed, then repeated with a fresh context
	// THEN: The first pair completes, the run stops before the next pair,
	//       and nothing is counted twice

	mem := scenarioStore(t, "basic", "mismatch")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := &cancelOnMerge{Memory: mem, cancel: cancel}
	r := newRunner(st)

	res, err := r.Run(ctx, batch.Options{Confirm: batch.ConfirmPhrase})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, batch.OutcomeReconciled, res.Pairs[0].Outcome, res.Pairs[0].Error)
	assert.Zero(t, res.Pairs[0].Verification.Mismatches())

	_, ok := mem.Aggregate("cnt-d-x")
	assert.False(t, ok, "merged duplicate daily must be deleted")

	res, err = r.Run(context.Background(), batch.Options{Confirm: batch.ConfirmPhrase})
	require.NoError(t, err)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, "mm.1", res.Pairs[0].Pair.OriginalID)

	v, err := reconcile.NewVerifier(mem, nil, nil).Verify(context.Background(), "abc.1")
	require.NoError(t, err)
	assert.Zero(t, v.Mismatches())
	for _, id := range []string{"rev-y-o", "rev-l-o"} {
		assert.Equal(t, "17.51", value(t, mem, id))
	}
}

func TestRun_LockedPair_Skipped(t *testing.T) {
	r := newRunner(scenarioStore(t, "basic"))
	r.Locker = heldLocker{}

	res, err := r.Run(context.Background(), batch.Options{Confirm: batch.ConfirmPhrase})
	require.NoError(t, err)

	require.Len(t, res.Pairs, 1)
	assert.Equal(t, batch.OutcomeSkipped, res.Pairs[0].Outcome)
	assert.Equal(t, 1, res.Skipped)
}

func TestRun_ReporterFailure_FailsPair(t *testing.T) {
	r := newRunner(scenarioStore(t, "basic"))
	r.Reporter = &captureReporter{err: errors.New("disk full")}

	res, err := r.Run(context.Background(), batch.Options{DryRun: true})
	require.NoError(t, err)

	require.Len(t, res.Pairs, 1)
	assert.Equal(t, batch.OutcomeFailed, res.Pairs[0].Outcome)
	assert.Equal(t, batch.StepReport, res.Pairs[0].FailedStep)
	assert.Equal(t, 1, res.Failed)
}

func TestPairError_Unwraps(t *testing.T) {
	err := &batch.PairError{Pair: aggregate.Pair{OriginalID: "a.1", DuplicateID: "a.2"}, Step: batch.StepItems, Err: aggregate.ErrItemNotFound}
	assert.ErrorIs(t, err, aggregate.ErrItemNotFound)
	assert.Equal(t, "pair a.1<-a.2: items: item not found", err.Error())
}
