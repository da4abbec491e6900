/*
errors.go - Centralized error types for the earnings engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Ledger errors - Earning persistence failures
  2. Validation errors - Business rule violations, corrupted data
  3. Store errors - Conflicts and missing records

SOFT FAILURES:
  A corrupted shift duration is an error value, not a panic. Aggregations
  collect it as an exclusion and keep going; only single-shift lookups
  surface it to the caller.

SEE ALSO:
  - ledger.go: Uses these errors
  - shifts/accrual.go: Produces CorruptedDurationError
  - api/handlers.go: Maps errors to HTTP status
*/
package generic

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a record with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrentModification is returned when a serializable transaction
	// or a conditional update loses a race. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrProcessorNotFound     = errors.New("processor not found")
	ErrDepositNotFound       = errors.New("deposit not found")
	ErrShiftNotFound         = errors.New("shift not found")
	ErrBonusPaymentNotFound  = errors.New("bonus payment not found")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrMissingReferenceData  = errors.New("missing reference data")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidReferenceData  = errors.New("invalid reference data")
	ErrUnsupportedCurrency   = errors.New("unsupported currency")
	ErrCorruptedDuration     = errors.New("CORRUPTED_DURATION")
	ErrShiftNotStarted       = errors.New("shift has no actual start")
	ErrCorruptedData         = errors.New("corrupted stored value")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CorruptedDurationError describes a shift whose tracked times cannot be paid.
type CorruptedDurationError struct {
	ShiftID     string
	ProcessorID ProcessorID
	Start       time.Time
	End         time.Time
	Hours       decimal.Decimal
}

func (e *CorruptedDurationError) Error() string {
	return fmt.Sprintf("CORRUPTED_DURATION: shift %s has %s hours (%s -> %s)",
		e.ShiftID, e.Hours.StringFixed(2), e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (e *CorruptedDurationError) Unwrap() error { return ErrCorruptedDuration }

// TransitionError is returned when a state change is not allowed.
type TransitionError struct {
	Kind string // "bonus_payment", "shift", "deposit"
	ID   string
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition %s -> %s", e.Kind, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ItemError is one line of an itemized batch report.
type ItemError struct {
	ProcessorID ProcessorID `json:"processor_id,omitempty"`
	ItemID      string      `json:"item_id,omitempty"`
	Message     string      `json:"message"`
}

func NewItemError(pid ProcessorID, itemID string, err error) ItemError {
	return ItemError{ProcessorID: pid, ItemID: itemID, Message: err.Error()}
}

func (e ItemError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%s/%s: %s", e.ProcessorID, e.ItemID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.ProcessorID, e.Message)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidReferenceData) ||
		errors.Is(err, ErrUnsupportedCurrency) ||
		errors.Is(err, ErrCorruptedDuration) ||
		errors.Is(err, ErrShiftNotStarted) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProcessorNotFound) ||
		errors.Is(err, ErrDepositNotFound) ||
		errors.Is(err, ErrShiftNotFound) ||
		errors.Is(err, ErrBonusPaymentNotFound)
}
