/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with licence or bill run context.

ERROR CATEGORIES:
  1. Validation errors - Malformed input rejected at the boundary
  2. Lookup errors - Bill runs or licences that do not exist
  3. State errors - Operations not allowed in the current state

  Returns with data problems (nil, under query, not completed) are NOT
  errors. They are excluded from allocation by business rule. Allocation
  that would exceed a ceiling is clamped, never rejected.

USAGE:
    if errors.Is(err, generic.ErrInvalidInput) {
        // 400 to the caller
    }

SEE ALSO:
  - factory/licence.go: Raises ValidationError for bad documents
  - api/handlers.go: Maps these errors to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned when upstream data is malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidQuantity is returned for unparseable or negative volumes.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrBillRunNotFound is returned when a referenced bill run doesn't exist.
	ErrBillRunNotFound = errors.New("bill run not found")

	// ErrLicenceNotFound is returned when a referenced licence doesn't exist.
	ErrLicenceNotFound = errors.New("licence not found")

	// ErrBillRunNotQueued is returned when processing a bill run that is
	// already processing or finished.
	ErrBillRunNotQueued = errors.New("bill run is not queued")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field. It unwraps to ErrInvalidInput.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidQuantity)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBillRunNotFound) ||
		errors.Is(err, ErrLicenceNotFound)
}

// IsConflict returns true if the request clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrBillRunNotQueued)
}
