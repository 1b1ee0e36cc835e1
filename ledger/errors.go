/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is/errors.As; the API layer maps the
  categories to HTTP status codes.

ERROR CATEGORIES:
  1. Capacity errors - An operation would drive a balance negative
  2. Workflow errors - Invalid state transitions, self-approval
  3. Concurrency errors - Optimistic-lock conflicts (retryable)
  4. Integrity errors - Cross-ledger references that don't add up
     (operator-facing, never silently auto-corrected)

SEE ALSO:
  - envelope.go, fund.go, expenditure.go, adjustment.go: producers
  - api/handlers.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientCapacity is returned when an operation would drive an
	// envelope's or fund's remaining balance negative.
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	// ErrOverCommit is returned when a release or spend exceeds the
	// currently committed capacity.
	ErrOverCommit = errors.New("amount exceeds committed capacity")

	// ErrCapExceeded is returned when an expenditure exceeds its category
	// cap without override approval.
	ErrCapExceeded = errors.New("expenditure exceeds category cap")

	// ErrBudgetExhausted is returned when an incident fund cannot be
	// created at the requested size. The caller must resolve this via an
	// adjustment request before retrying.
	ErrBudgetExhausted = errors.New("budget exhausted for disaster type")

	// ErrIntegrityViolation marks cross-ledger inconsistencies (e.g. a
	// fund referencing a nonexistent envelope). Fatal; logged for manual
	// reconciliation, never auto-corrected.
	ErrIntegrityViolation = errors.New("ledger integrity violation")

	// ErrConcurrentModification is returned when optimistic locking
	// detects a conflicting write. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrSelfApproval is returned when the recorder of an expenditure
	// attempts to approve it. Separation of duties requires a second actor.
	ErrSelfApproval = errors.New("self-approval is not permitted")

	// ErrInvalidTransition is returned for workflow moves out of a
	// terminal or mismatched state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrFundClosed is returned for mutations against a closed fund.
	ErrFundClosed = errors.New("incident fund is closed")

	// ErrDuplicateFund is returned when a disaster already has a fund.
	// Fund creation is a once-only effect of disaster verification.
	ErrDuplicateFund = errors.New("incident fund already exists for disaster")

	ErrEnvelopeNotFound    = errors.New("budget envelope not found")
	ErrFundNotFound        = errors.New("incident fund not found")
	ErrExpenditureNotFound = errors.New("expenditure not found")
	ErrAdjustmentNotFound  = errors.New("adjustment request not found")
	ErrProfileNotFound     = errors.New("needs profile not found for disaster type")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCapacityError reports how far an operation overshoots the
// available balance.
type InsufficientCapacityError struct {
	DisasterType DisasterType
	Available    Money
	Requested    Money
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity on %s envelope: available %s, requested %s",
		e.DisasterType, e.Available, e.Requested)
}

func (e *InsufficientCapacityError) Unwrap() error { return ErrInsufficientCapacity }

// OverCommitError reports a release/spend beyond committed capacity.
type OverCommitError struct {
	DisasterType DisasterType
	Committed    Money
	Requested    Money
}

func (e *OverCommitError) Error() string {
	return fmt.Sprintf("over-commit on %s: committed %s, requested %s",
		e.DisasterType, e.Committed, e.Requested)
}

func (e *OverCommitError) Unwrap() error { return ErrOverCommit }

// CapExceededError reports an expenditure above its category cap.
type CapExceededError struct {
	Category string
	Amount   Money
	Cap      Money
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("expenditure %s exceeds %s cap of %s (no override approval)",
		e.Amount, e.Category, e.Cap)
}

func (e *CapExceededError) Unwrap() error { return ErrCapExceeded }

// BudgetExhaustedError blocks incident fund creation until an adjustment
// request tops up the envelope.
type BudgetExhaustedError struct {
	DisasterType DisasterType
	Requested    Money
	Available    Money
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("cannot open incident fund of %s against %s envelope: only %s remaining",
		e.Requested, e.DisasterType, e.Available)
}

func (e *BudgetExhaustedError) Unwrap() error { return ErrBudgetExhausted }

// IntegrityViolationError carries enough context for manual reconciliation.
type IntegrityViolationError struct {
	Subject string
	Detail  string
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("integrity violation on %s: %s", e.Subject, e.Detail)
}

func (e *IntegrityViolationError) Unwrap() error { return ErrIntegrityViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is a business-rule rejection
// that should surface to the initiating actor rather than the operator.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientCapacity) ||
		errors.Is(err, ErrOverCommit) ||
		errors.Is(err, ErrCapExceeded) ||
		errors.Is(err, ErrBudgetExhausted) ||
		errors.Is(err, ErrSelfApproval) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrFundClosed) ||
		errors.Is(err, ErrDuplicateFund)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEnvelopeNotFound) ||
		errors.Is(err, ErrFundNotFound) ||
		errors.Is(err, ErrExpenditureNotFound) ||
		errors.Is(err, ErrAdjustmentNotFound) ||
		errors.Is(err, ErrProfileNotFound)
}
