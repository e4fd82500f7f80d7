/*
main_test.go - Command tests against a temporary SQLite database

PURPOSE:
	Drives the cobra tree the way an operator would: seed, locate, run,
	verify. Each test gets its own database and report directory.
*/
package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/batch"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func setupEnv(t *testing.T) (reportDir string) {
	t.Helper()
	dir := t.TempDir()
	reportDir = filepath.Join(dir, "reports")
	require.NoError(t, os.MkdirAll(reportDir, 0o755))

	t.Setenv("FIXDUP_STORE", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "fixdup.db"))
	t.Setenv("REPORT_DIR", reportDir)
	t.Setenv("REPORT_FORMAT", "text")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("PAIR_LIMIT", "0")
	t.Setenv("LOG_LEVEL", "error")
	return reportDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// =============================================================================
// TESTS
// =============================================================================

func TestSeedAndLocate(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "seed", "--scenario", "basic", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 2 items")

	out, err = execute(t, "locate", "-o", "yaml")
	require.NoError(t, err)

	var pairs []aggregate.Pair
	require.NoError(t, yaml.Unmarshal([]byte(out), &pairs))
	require.Len(t, pairs, 1)
	assert.Equal(t, "abc.1", pairs[0].OriginalID)
	assert.Equal(t, "abc.2", pairs[0].DuplicateID)
}

func TestSeed_RequiresExactlyOneSource(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "seed")
	assert.Error(t, err)

	_, err = execute(t, "seed", "--scenario", "basic", "--file", "x.json")
	assert.Error(t, err)

	_, err = execute(t, "seed", "--scenario", "nope")
	assert.Error(t, err)
}

func TestSeed_List(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "seed", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "basic")
	assert.Contains(t, out, "unrelated")
}

func TestRun_DryThenLive(t *testing.T) {
	// GIVEN: The basic scenario seeded into SQLite
	// WHEN: A default run, then a confirmed live run
	// THEN: The dry run leaves the pair in place, the live run removes it

	reportDir := setupEnv(t)
	_, err := execute(t, "seed", "--scenario", "basic", "--reset")
	require.NoError(t, err)

	out, err := execute(t, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "(dry run)")
	assert.Contains(t, out, "Reconciled: 1")

	out, err = execute(t, "locate")
	require.NoError(t, err)
	assert.Contains(t, out, "abc.2")

	_, err = execute(t, "run", "--dry-run=false")
	assert.ErrorIs(t, err, batch.ErrNotConfirmed)

	out, err = execute(t, "run", "--dry-run=false", "--confirm", batch.ConfirmPhrase, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"reconciled": 1`)

	out, err = execute(t, "locate")
	require.NoError(t, err)
	assert.Contains(t, out, "No duplicate pairs found.")

	reports, err := os.ReadDir(reportDir)
	require.NoError(t, err)
	assert.NotEmpty(t, reports)
}

func TestVerify_ExitCodeFollowsMismatches(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "seed", "--scenario", "mismatch", "--reset")
	require.NoError(t, err)

	out, err := execute(t, "verify", "mm.1")
	assert.Error(t, err)
	assert.Contains(t, out, "ytd")

	_, err = execute(t, "verify", "mm.2")
	assert.NoError(t, err)
}

func TestRoot_FlagOverridesEnvironment(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "--report-format", "pdf", "locate")
	assert.Error(t, err)

	_, err = execute(t, "locate", "-o", "xml")
	assert.Error(t, err)
}
