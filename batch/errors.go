/*
errors.go - Run- and pair-level errors

ERROR BOUNDARIES:
  1. LookupError - listing pairs failed; the whole run aborts
  2. PairError   - one step of one pair failed; the run continues with the
                   next pair and the failure is reported

Both unwrap to the underlying cause so errors.Is works on store sentinels.
*/
package batch

import (
	"errors"
	"fmt"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
)

// Pair steps, in execution order.
const (
	StepLock       = "lock"
	StepStage      = "stage"
	StepCheckItems = "check_items"
	StepAggregates = "aggregates"
	StepItems      = "items"
	StepVerify     = "verify"
	StepReport     = "report"
)

// ConfirmPhrase must be passed to execute a non-dry run.
const ConfirmPhrase = "MERGE"

var (
	ErrNotConfirmed   = errors.New("live run requires confirm=" + ConfirmPhrase)
	ErrRunInProgress  = errors.New("a run is already in progress")
	ErrNoRunCompleted = errors.New("no run has completed")
)

// LookupError wraps a failure to enumerate duplicate pairs.
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string { return fmt.Sprintf("locate duplicate pairs: %v", e.Err) }

func (e *LookupError) Unwrap() error { return e.Err }

// PairError wraps a failure inside one pair's sequence.
type PairError struct {
	Pair aggregate.Pair
	Step string
	Err  error
}

func (e *PairError) Error() string {
	return fmt.Sprintf("pair %s: %s: %v", e.Pair, e.Step, e.Err)
}

func (e *PairError) Unwrap() error { return e.Err }
