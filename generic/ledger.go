/*
ledger.go - Append-only earnings log

PURPOSE:
  The Ledger is the immutable record of money owed to agents. Closed shifts
  and approved bonuses land here. Anything that is still provisional (a HELD
  bonus, an in-progress shift) stays out until it settles.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: Same idempotency key = same earning (no duplicates)
  3. DERIVED TOTALS: Totals are summed from entries, never stored

SEE ALSO:
  - store.go: Low-level persistence interface
  - engine/holds.go: Appends bonus earnings on approval
*/
package generic

import (
	"context"
	"errors"
)

// =============================================================================
// LEDGER - Append-only earnings log
// =============================================================================

type Ledger interface {
	// Append adds an earning. Fails with ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, e Earning) error

	// AppendOnce adds an earning and treats a duplicate key as success.
	// Returns true when this call wrote the entry.
	AppendOnce(ctx context.Context, e Earning) (bool, error)

	// Earnings returns entries in the period, chronologically.
	Earnings(ctx context.Context, pid ProcessorID, p Period) ([]Earning, error)

	// Total sums entries in the period. Entries with a different unit are skipped.
	Total(ctx context.Context, pid ProcessorID, p Period, unit Unit) (Amount, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, e Earning) error {
	if e.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, e)
}

func (l *DefaultLedger) AppendOnce(ctx context.Context, e Earning) (bool, error) {
	err := l.Append(ctx, e)
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *DefaultLedger) Earnings(ctx context.Context, pid ProcessorID, p Period) ([]Earning, error) {
	return l.Store.LoadRange(ctx, pid, p.Start, p.End)
}

func (l *DefaultLedger) Total(ctx context.Context, pid ProcessorID, p Period, unit Unit) (Amount, error) {
	es, err := l.Store.LoadRange(ctx, pid, p.Start, p.End)
	if err != nil {
		return Amount{}, err
	}
	total := NewAmount(0, unit)
	for _, e := range es {
		if e.Amount.Unit != unit {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total, nil
}
