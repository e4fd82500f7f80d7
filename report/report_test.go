package report_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/batch"
	"github.com/mkultr4/fix-item-duplicates/reconcile"
	"github.com/mkultr4/fix-item-duplicates/report"
)

func totals(ytd, monthly, daily string) map[aggregate.Granularity]decimal.Decimal {
	return map[aggregate.Granularity]decimal.Decimal{
		aggregate.YearToDate: decimal.RequireFromString(ytd),
		aggregate.Monthly:    decimal.RequireFromString(monthly),
		aggregate.Daily:      decimal.RequireFromString(daily),
	}
}

func sampleReport() batch.PairReport {
	return batch.PairReport{
		RunID:   "run-1",
		Outcome: batch.OutcomeReconciled,
		Pair: aggregate.Pair{
			OriginalID:       "abc.1",
			DuplicateID:      "abc.2",
			Name:             "Latte",
			Location:         "loc-1",
			SaleDepartment:   "drinks",
			MasterDepartment: "bar",
		},
		Verification: reconcile.Verification{
			ItemID: "abc.1",
			Findings: []reconcile.Finding{
				{
					User:     "u1",
					DataKind: aggregate.ItemCount,
					Lifetime: decimal.RequireFromString("42"),
					Totals:   totals("41", "42", "42"),
					Mismatched: []aggregate.Granularity{
						aggregate.YearToDate,
					},
				},
				{
					User:     "u1",
					DataKind: aggregate.TotalRevenue,
					Lifetime: decimal.RequireFromString("15.01"),
					Totals:   totals("15.01", "15.01", "15.01"),
				},
				{
					User:     "u2",
					DataKind: aggregate.TotalRevenue,
					Lifetime: decimal.RequireFromString("1"),
					Totals:   totals("1", "1", "1"),
				},
			},
		},
	}
}

func TestRenderText_Layout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.RenderText(&buf, sampleReport()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "\nSummary totals:\nOriginal ID: abc.1\nDuplicated ID: abc.2\n"))
	assert.Contains(t, out, "Item Sale Department: drinks")
	assert.Contains(t, out, "User u1 lifetime totals:")
	assert.Contains(t, out, "User u2 lifetime totals:")
	assert.Equal(t, 1, strings.Count(out, "User u1 lifetime totals:"))
	assert.Contains(t, out, "* Data type number-items:\n** YTD: 41\n** Monthly: 42\n** Daily: 42\n** Lifetime: 42\n----------\nERROR: Lifetime totals do not match")
	assert.Equal(t, 1, strings.Count(out, "ERROR: Lifetime totals do not match"))
	assert.NotContains(t, out, "dry run")
}

func TestRenderText_DryRunAndFailure(t *testing.T) {
	rep := sampleReport()
	rep.DryRun = true
	rep.FailedStep = batch.StepItems
	rep.Error = "item not found"

	var buf bytes.Buffer
	require.NoError(t, report.RenderText(&buf, rep))
	assert.Contains(t, buf.String(), "Mode: dry run (no changes written)")
	assert.Contains(t, buf.String(), "FAILED at items: item not found")
}

func TestTextWriter_FileNamedByMillis(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := &report.TextWriter{Dir: dir, Now: func() time.Time { return at }}

	require.NoError(t, w.WritePair(context.Background(), sampleReport()))

	data, err := os.ReadFile(filepath.Join(dir, "log-1748779200000.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Summary totals:")
}

func TestYAMLWriter_OneDocumentPerPair(t *testing.T) {
	dir := t.TempDir()
	w, err := report.New(report.FormatYAML, dir)
	require.NoError(t, err)

	require.NoError(t, w.WritePair(context.Background(), sampleReport()))
	require.NoError(t, w.WritePair(context.Background(), sampleReport()))

	f, err := os.Open(filepath.Join(dir, "fixdup-run-1.yaml"))
	require.NoError(t, err)
	defer f.Close()

	dec := yaml.NewDecoder(f)
	docs := 0
	for {
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			break
		}
		docs++
		pair := doc["pair"].(map[string]any)
		assert.Equal(t, "abc.1", pair["original_id"])
		assert.Equal(t, "reconciled", doc["outcome"])
	}
	assert.Equal(t, 2, docs)
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := report.New("csv", t.TempDir())
	assert.Error(t, err)
}
