/*
Package report writes per-pair findings.

FORMATS:
  text: the operator log, one file per pair named log-<unix-ms>.txt. Each
        lifetime record lists its YTD, Monthly, Daily and Lifetime totals
        and an "ERROR: Lifetime totals do not match" line when they
        disagree.
  yaml: one YAML document per pair appended to fixdup-<run-id>.yaml, for
        tooling.

Both writers implement batch.Reporter.
*/
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/batch"
)

const (
	FormatText = "text"
	FormatYAML = "yaml"
)

// New returns the writer for format, writing under dir.
func New(format, dir string) (batch.Reporter, error) {
	switch format {
	case FormatText, "":
		return &TextWriter{Dir: dir}, nil
	case FormatYAML:
		return &YAMLWriter{Dir: dir}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// =============================================================================
// TEXT
// =============================================================================

const separator = "----------"

type TextWriter struct {
	Dir string
	// Now is stubbed in tests.
	Now func() time.Time
}

func (w *TextWriter) WritePair(_ context.Context, rep batch.PairReport) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(w.Dir, fmt.Sprintf("log-%d.txt", now().UnixMilli()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	if err := RenderText(f, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RenderText writes the human-readable summary of one pair.
func RenderText(out io.Writer, rep batch.PairReport) error {
	var b strings.Builder
	lines := []string{
		"",
		"Summary totals:",
		"Original ID: " + rep.Pair.OriginalID,
		"Duplicated ID: " + rep.Pair.DuplicateID,
		"Item Name: " + rep.Pair.Name,
		"Item Location: " + rep.Pair.Location,
		"Item Sale Department: " + rep.Pair.SaleDepartment,
		"Item Master Department: " + rep.Pair.MasterDepartment,
	}
	if rep.DryRun {
		lines = append(lines, "Mode: dry run (no changes written)")
	}
	if rep.Error != "" {
		lines = append(lines, fmt.Sprintf("FAILED at %s: %s", rep.FailedStep, rep.Error))
	}
	lines = append(lines, separator)

	var user string
	for i, f := range rep.Verification.Findings {
		if i == 0 || f.User != user {
			user = f.User
			lines = append(lines, fmt.Sprintf("User %s lifetime totals:", user), separator)
		}
		lines = append(lines,
			fmt.Sprintf("* Data type %s:", f.DataKind),
			"** YTD: "+f.Totals[aggregate.YearToDate].String(),
			"** Monthly: "+f.Totals[aggregate.Monthly].String(),
			"** Daily: "+f.Totals[aggregate.Daily].String(),
			"** Lifetime: "+f.Lifetime.String(),
			separator,
		)
		if f.Mismatch() {
			lines = append(lines, "ERROR: Lifetime totals do not match")
		}
	}
	b.WriteString(strings.Join(lines, "\n"))
	_, err := io.WriteString(out, b.String())
	return err
}

// =============================================================================
// YAML
// =============================================================================

type YAMLWriter struct {
	Dir string

	mu sync.Mutex
}

func (w *YAMLWriter) WritePair(_ context.Context, rep batch.PairReport) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(w.Dir, fmt.Sprintf("fixdup-%s.yaml", rep.RunID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	if err := RenderYAML(f, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RenderYAML writes rep as one YAML document, starting with "---".
func RenderYAML(out io.Writer, rep batch.PairReport) error {
	if _, err := io.WriteString(out, "---\n"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}
