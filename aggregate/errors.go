/*
errors.go - Centralized error types for aggregate persistence

PURPOSE:
  All sentinel errors shared by stores, the reconciler and the dedupe
  collaborators. Callers wrap these with context and test with errors.Is.

ERROR CATEGORIES:
  1. Lookup errors - entity missing from the store
  2. Data errors - persisted values that cannot be decoded
  3. Pair errors - an item pair that does not satisfy the duplicate rules

SEE ALSO:
  - batch/errors.go: run- and pair-level wrappers
*/
package aggregate

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a record lookup by id finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrItemNotFound is returned when an item of a pair is missing.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidRef is returned when a persisted reference is not of the
	// form /v1.0/<kind>/<id>.
	ErrInvalidRef = errors.New("invalid reference")

	// ErrInvalidValue is returned when a persisted value cannot be decoded.
	ErrInvalidValue = errors.New("invalid aggregate value")

	// ErrPairMismatch is returned when two item ids do not differ only by
	// the .1/.2 discriminator.
	ErrPairMismatch = errors.New("items are not a duplicate pair")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// RecordError ties a decoding failure to the record it came from.
type RecordError struct {
	ID  string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("aggregate %s: %v", e.ID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrItemNotFound)
}
