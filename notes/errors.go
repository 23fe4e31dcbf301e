/*
errors.go - Centralized error taxonomy for the lifecycle engine

PURPOSE:
  All error types in one place. Callers classify failures with errors.Is /
  errors.As; the HTTP layer maps each class to a status code.

ERROR CATEGORIES:
  1. Validation errors   - malformed or out-of-range input, nothing persisted
  2. Not-found errors    - referenced client/policy/insurer/note missing
  3. Transition errors   - operation does not match status, or role too low
  4. Concurrency errors  - a transition lost a race and must be retried
  5. Render errors       - artifact generation failed, note state unchanged

USAGE:
  if errors.Is(err, notes.ErrInvalidTransition) { ... }

  var verr *notes.FieldValidationError
  if errors.As(err, &verr) { ... }

SEE ALSO:
  - lifecycle.go: Produces transition and concurrency errors
  - coinsurance.go: Produces ErrInvalidCoInsuranceSplit
*/
package notes

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input validation failures.
	// Nothing is persisted when it is returned.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCoInsuranceSplit is returned when co-insurance percentages
	// do not sum to 100 within tolerance. Input is rejected, never normalized.
	ErrInvalidCoInsuranceSplit = errors.New("invalid co-insurance split")

	// ErrNotFound is returned when a referenced client, policy, insurer or
	// note does not exist or is inactive.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a lifecycle operation does not
	// match the note's current status, or the actor lacks the required role.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConcurrencyConflict is returned when a transition lost a race
	// against a concurrent transition on the same note. Callers should
	// re-read current state before retrying.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrRenderFailure is returned when artifact generation failed. The
	// note's status is guaranteed unchanged, so Issue can be retried.
	ErrRenderFailure = errors.New("artifact render failed")

	// ErrImmutableField is returned when a caller tries to supply or change
	// a field the engine owns (document number, status, computed amounts).
	ErrImmutableField = errors.New("field is immutable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldValidationError reports a specific bad input field.
type FieldValidationError struct {
	Field  string
	Reason string
}

func (e *FieldValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *FieldValidationError) Unwrap() error { return ErrValidation }

// SplitError reports why a co-insurance split was rejected.
type SplitError struct {
	Total  string // sum of submitted percentages
	Reason string
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("invalid co-insurance split: %s (total %s)", e.Reason, e.Total)
}

func (e *SplitError) Unwrap() error { return ErrInvalidCoInsuranceSplit }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind string // "client", "policy", "insurer", "note"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransitionError reports an illegal lifecycle operation: either the note
// was not in the required status, or the actor's role is not recognized
// for the operation.
type TransitionError struct {
	NoteID    NoteID
	Operation Operation
	Status    Status // status at the time of the attempt
	Role      Role   // set when the failure is a role gate
	Reason    string
}

func (e *TransitionError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("invalid transition: %s on %s: role %q not permitted", e.Operation, e.NoteID, e.Role)
	}
	return fmt.Sprintf("invalid transition: %s on %s in status %q: %s", e.Operation, e.NoteID, e.Status, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ConflictError reports a transition that lost a commit-time race.
type ConflictError struct {
	NoteID    NoteID
	Operation Operation
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification: %s on %s lost a race, re-read and retry", e.Operation, e.NoteID)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrencyConflict }

// RenderError wraps a renderer failure with the note it was for.
type RenderError struct {
	NoteID NoteID
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("artifact render failed for %s: %v", e.NoteID, e.Err)
}

func (e *RenderError) Unwrap() error { return ErrRenderFailure }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is the caller's fault (HTTP 4xx).
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidCoInsuranceSplit) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrImmutableField)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the operation might succeed if retried after
// re-reading current state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrRenderFailure)
}
