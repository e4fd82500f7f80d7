/*
scheduler.go - Periodic run scheduler

PURPOSE:
  Runs the batch runner on a fixed interval while the server is up, so new
  duplicates created upstream are located (dry run) or merged (live, when
  confirmed) without an operator call.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - A tick that finds a run already in progress is skipped
  - Stop cancels the run in flight; it finishes its current pair first

CONFIGURATION:
  - Interval: How often to run (default: 1 hour)
  - Options:  batch.Options for every run (dry run unless confirmed)

USAGE:
  s := NewRunScheduler(runner, log)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - handlers.go: StartRun endpoint (manual runs)
  - batch/runner.go: Runner
*/
package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkultr4/fix-item-duplicates/batch"
)

// RunScheduler triggers runs periodically.
type RunScheduler struct {
	Runner   *batch.Runner
	Interval time.Duration
	Options  batch.Options
	Log      logrus.FieldLogger

	ticker *time.Ticker
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runs   atomic.Int64
}

// NewRunScheduler creates a scheduler of dry runs every hour.
func NewRunScheduler(runner *batch.Runner, log logrus.FieldLogger) *RunScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RunScheduler{
		Runner:   runner,
		Interval: time.Hour,
		Options:  batch.Options{DryRun: true},
		Log:      log,
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (rs *RunScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		return
	}
	if rs.Interval <= 0 {
		rs.Log.Info("scheduler disabled, not starting")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.Log.WithFields(logrus.Fields{
		"interval": rs.Interval.String(),
		"dry_run":  rs.Options.DryRun,
	}).Info("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to return.
func (rs *RunScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	rs.cancel()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.Log.Info("scheduler stopped")
}

// Runs returns how many runs completed.
func (rs *RunScheduler) Runs() int {
	return int(rs.runs.Load())
}

func (rs *RunScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.tick(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.tick(ctx)
		case <-rs.stop:
			return
		}
	}
}

func (rs *RunScheduler) tick(ctx context.Context) {
	res, err := rs.Runner.Run(ctx, rs.Options)
	switch {
	case errors.Is(err, batch.ErrRunInProgress):
		rs.Log.Debug("scheduled run skipped, another run in progress")
		return
	case err != nil:
		rs.Log.WithError(err).Error("scheduled run failed")
		return
	}

	rs.runs.Add(1)

	rs.Log.WithFields(logrus.Fields{
		"run_id":     res.RunID,
		"pairs":      len(res.Pairs),
		"reconciled": res.Reconciled,
		"failed":     res.Failed,
		"mismatches": res.Mismatches,
	}).Info("scheduled run completed")
}
