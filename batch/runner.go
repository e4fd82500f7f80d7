/*
Package batch drives a reconciliation run over every located pair.

PURPOSE:
  One run locates duplicate pairs and, for each pair in turn, repoints check
  items, reconciles aggregates, merges the item documents, verifies lifetime
  totals and writes a findings report. A failing pair is reported and the
  run moves on; only a failure to list pairs aborts the run.

DRY RUN:
  The default. Each pair's items, check items and aggregates are copied
  into an in-memory store and the whole sequence runs against the copy.
  The configured store is only read. A live run needs Options.Confirm set
  to ConfirmPhrase.

CANCELLATION:
  A cancelled context stops the run before the next pair. The pair in
  flight always completes: a merged daily whose duplicate was not yet
  deleted would be counted again by the next run.

LOCKING:
  Live runs hold lock.PairKey(original) for the duration of one pair. A pair
  whose lock is held elsewhere is skipped, not failed.

SEE ALSO:
  - reconcile/reconciler.go: the aggregate algorithm
  - dedupe/: locator, check-item repointer, item merger
  - report/: findings writers
*/
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/aggregate/store"
	"github.com/mkultr4/fix-item-duplicates/dedupe"
	"github.com/mkultr4/fix-item-duplicates/lock"
	"github.com/mkultr4/fix-item-duplicates/metrics"
	"github.com/mkultr4/fix-item-duplicates/reconcile"
)

// =============================================================================
// RESULTS
// =============================================================================

// Pair outcomes as reported.
const (
	OutcomeReconciled = metrics.OutcomeReconciled
	OutcomeFailed     = metrics.OutcomeFailed
	OutcomeSkipped    = metrics.OutcomeSkipped
)

// PairReport is everything one pair's sequence produced.
type PairReport struct {
	RunID        string                 `json:"run_id" yaml:"run_id"`
	DryRun       bool                   `json:"dry_run" yaml:"dry_run"`
	Pair         aggregate.Pair         `json:"pair" yaml:"pair"`
	Outcome      string                 `json:"outcome" yaml:"outcome"`
	FailedStep   string                 `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	Error        string                 `json:"error,omitempty" yaml:"error,omitempty"`
	CheckItems   dedupe.RepointResult   `json:"check_items" yaml:"check_items"`
	Aggregates   reconcile.Summary      `json:"aggregates" yaml:"aggregates"`
	Items        dedupe.MergeResult     `json:"items" yaml:"items"`
	Verification reconcile.Verification `json:"verification" yaml:"verification"`
	StartedAt    time.Time              `json:"started_at" yaml:"started_at"`
	Took         time.Duration          `json:"took" yaml:"took"`
}

// RunResult summarizes one run.
type RunResult struct {
	RunID      string       `json:"run_id" yaml:"run_id"`
	DryRun     bool         `json:"dry_run" yaml:"dry_run"`
	StartedAt  time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time    `json:"finished_at" yaml:"finished_at"`
	Pairs      []PairReport `json:"pairs" yaml:"pairs"`
	Reconciled int          `json:"reconciled" yaml:"reconciled"`
	Failed     int          `json:"failed" yaml:"failed"`
	Skipped    int          `json:"skipped" yaml:"skipped"`
	Mismatches int          `json:"mismatches" yaml:"mismatches"`
}

// Reporter receives each pair's report as soon as the pair finishes.
type Reporter interface {
	WritePair(ctx context.Context, rep PairReport) error
}

// Options select the mode of one run.
type Options struct {
	DryRun  bool
	Confirm string
	// Limit overrides Runner.Limit when positive.
	Limit int
}

// =============================================================================
// RUNNER
// =============================================================================

type Runner struct {
	Store    aggregate.Store
	Locker   lock.Locker
	Reporter Reporter
	Log      logrus.FieldLogger
	Metrics  *metrics.Recorder
	Limit    int

	mu      sync.Mutex
	running bool
	last    *RunResult
}

func NewRunner(st aggregate.Store, log logrus.FieldLogger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{
		Store:  st,
		Locker: lock.Noop{},
		Log:    log,
		Limit:  dedupe.DefaultLimit,
	}
}

// Run processes every located pair sequentially. The returned error is nil
// unless the run could not start or pairs could not be listed; pair
// failures are in the result.
func (r *Runner) Run(ctx context.Context, opts Options) (RunResult, error) {
	if !opts.DryRun && opts.Confirm != ConfirmPhrase {
		return RunResult{}, ErrNotConfirmed
	}
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return RunResult{}, ErrRunInProgress
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	limit := r.Limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	res := RunResult{
		RunID:     uuid.NewString(),
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
	}
	log := r.Log.WithFields(logrus.Fields{
		"run_id":  res.RunID,
		"dry_run": res.DryRun,
	})
	log.WithField("limit", limit).Info("run started")

	locator := dedupe.NewLocator(r.Store, limit, log)
	err := locator.Each(ctx, func(pair aggregate.Pair) error {
		rep := r.runPair(ctx, log, res.RunID, opts.DryRun, pair)
		res.Pairs = append(res.Pairs, rep)
		switch rep.Outcome {
		case OutcomeReconciled:
			res.Reconciled++
		case OutcomeFailed:
			res.Failed++
		case OutcomeSkipped:
			res.Skipped++
		}
		res.Mismatches += rep.Verification.Mismatches()
		return ctx.Err()
	})
	res.FinishedAt = time.Now().UTC()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
		return res, &LookupError{Err: err}
	}

	log.WithFields(logrus.Fields{
		"pairs":      len(res.Pairs),
		"reconciled": res.Reconciled,
		"failed":     res.Failed,
		"skipped":    res.Skipped,
		"mismatches": res.Mismatches,
	}).Info("run finished")

	r.mu.Lock()
	last := res
	r.last = &last
	r.mu.Unlock()
	return res, nil
}

// Last returns the most recent completed run.
func (r *Runner) Last() (RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return RunResult{}, ErrNoRunCompleted
	}
	return *r.last, nil
}

// runPair never returns an error: failures are folded into the report.
func (r *Runner) runPair(ctx context.Context, log logrus.FieldLogger, runID string, dry bool, pair aggregate.Pair) PairReport {
	rep := PairReport{
		RunID:     runID,
		DryRun:    dry,
		Pair:      pair,
		StartedAt: time.Now().UTC(),
	}
	log = log.WithFields(logrus.Fields{
		"original_id":  pair.OriginalID,
		"duplicate_id": pair.DuplicateID,
	})
	log.WithField("name", pair.Name).Info("processing duplicate pair")

	// Steps within a pair are not undoable, so a pair always runs to the
	// end. Cancellation of ctx is observed between pairs.
	ctx = context.WithoutCancel(ctx)
	err := r.sequence(ctx, log, dry, pair, &rep)
	rep.Took = time.Since(rep.StartedAt)

	var pe *PairError
	switch {
	case err == nil:
		rep.Outcome = OutcomeReconciled
	case errors.As(err, &pe) && pe.Step == StepLock && errors.Is(err, lock.ErrNotObtained):
		rep.Outcome = OutcomeSkipped
		rep.Error = err.Error()
		log.WithError(err).Warn("pair locked elsewhere, skipping")
	default:
		rep.Outcome = OutcomeFailed
		rep.Error = err.Error()
		if pe != nil {
			rep.FailedStep = pe.Step
		}
		log.WithError(err).WithField("step", rep.FailedStep).Error("pair failed")
	}
	if r.Reporter != nil && rep.Outcome != OutcomeSkipped {
		if err := r.Reporter.WritePair(ctx, rep); err != nil {
			log.WithError(err).Error("write findings report")
			if rep.Outcome == OutcomeReconciled {
				rep.Outcome = OutcomeFailed
				rep.FailedStep = StepReport
				rep.Error = (&PairError{Pair: pair, Step: StepReport, Err: err}).Error()
			}
		}
	}
	r.Metrics.Pair(rep.Outcome, rep.Took)
	return rep
}

func (r *Runner) sequence(ctx context.Context, log logrus.FieldLogger, dry bool, pair aggregate.Pair, rep *PairReport) (err error) {
	fail := func(step string, err error) error {
		return &PairError{Pair: pair, Step: step, Err: err}
	}
	if err := pair.Validate(); err != nil {
		return fail(StepStage, err)
	}

	target := aggregate.Store(r.Store)
	if dry {
		staged, err := Stage(ctx, r.Store, pair)
		if err != nil {
			return fail(StepStage, err)
		}
		defer staged.Close()
		target = staged
	} else {
		release, err := r.Locker.Acquire(ctx, lock.PairKey(pair.OriginalID))
		if err != nil {
			return fail(StepLock, err)
		}
		defer func() {
			if rerr := release(ctx); rerr != nil {
				log.WithError(rerr).Warn("release pair lock")
			}
		}()
	}

	rep.CheckItems, err = dedupe.NewCheckItemRepointer(target, log).Repoint(ctx, pair)
	if err != nil {
		return fail(StepCheckItems, err)
	}
	rep.Aggregates, err = reconcile.New(target, log, r.Metrics).ReconcilePair(ctx, pair)
	if err != nil {
		return fail(StepAggregates, err)
	}
	rep.Items, err = dedupe.NewItemMerger(target, log).Merge(ctx, pair)
	if err != nil {
		return fail(StepItems, err)
	}
	rep.Verification, err = reconcile.NewVerifier(target, log, r.Metrics).Verify(ctx, pair.OriginalID)
	if err != nil {
		return fail(StepVerify, err)
	}
	return nil
}

// Stage copies everything one pair touches into a fresh memory store.
func Stage(ctx context.Context, src aggregate.Store, pair aggregate.Pair) (*store.Memory, error) {
	mem := store.NewMemory()

	items, err := src.FindItems(ctx, aggregate.ItemFilter{IDs: []string{pair.OriginalID, pair.DuplicateID}})
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	if err := mem.InsertItems(ctx, items); err != nil {
		return nil, err
	}

	for _, ref := range []aggregate.Ref{pair.Original(), pair.Duplicate()} {
		checkItems, err := src.FindCheckItems(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("read check items of %s: %w", ref, err)
		}
		if err := mem.InsertCheckItems(ctx, checkItems); err != nil {
			return nil, err
		}
		records, err := src.FindAggregates(ctx, aggregate.Filter{Reference: ref})
		if err != nil {
			return nil, fmt.Errorf("read aggregates of %s: %w", ref, err)
		}
		if err := mem.InsertAggregates(ctx, records); err != nil {
			return nil, err
		}
	}
	return mem, nil
}
