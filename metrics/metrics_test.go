package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/metrics"
)

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *metrics.Recorder
	assert.NotPanics(t, func() {
		r.Pair(metrics.OutcomeReconciled, time.Second)
		r.Operation(aggregate.Daily, metrics.OpMerged, 3)
		r.ZeroMatch("delete")
		r.Mismatches(1)
	})
}

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.New(reg)

	r.Pair(metrics.OutcomeReconciled, 10*time.Millisecond)
	r.Pair(metrics.OutcomeFailed, 10*time.Millisecond)
	r.Operation(aggregate.Monthly, metrics.OpRolledUp, 2)
	r.Operation(aggregate.Monthly, metrics.OpRolledUp, 0)
	r.Mismatches(0)
	r.Mismatches(2)

	n, err := testutil.GatherAndCount(reg, "fixdup_pairs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(reg, "fixdup_aggregate_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expected := `
# HELP fixdup_verifier_mismatches_total Lifetime totals that disagree with a live re-derivation.
# TYPE fixdup_verifier_mismatches_total counter
fixdup_verifier_mismatches_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "fixdup_verifier_mismatches_total"))
}
