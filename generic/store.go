/*
store.go - Persistence interface for the earnings ledger

PURPOSE:
  Defines the interface between ledger logic and the database. The Store
  handles persistence while maintaining append-only semantics. SQLite,
  PostgreSQL and in-memory implementations exist.

APPEND-ONLY CONTRACT:
  - Append(): Single earning write
  - AppendBatch(): Atomic multi-earning write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Every write may include an idempotency key. If the key already exists,
  the write is rejected with ErrDuplicateIdempotencyKey. Sweeps rely on this:
  approving the same bonus twice can never pay it twice.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go
  - store/postgres/postgres.go
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import (
	"context"
	"time"
)

// Store handles persistence of earnings.
// IMPORTANT: Store is APPEND-ONLY. Corrections are ADJUSTMENT earnings.
type Store interface {
	// Append persists an earning. Returns ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, e Earning) error

	// AppendBatch persists multiple earnings atomically.
	AppendBatch(ctx context.Context, es []Earning) error

	// Load returns all earnings for a processor, ordered by EffectiveAt.
	Load(ctx context.Context, pid ProcessorID) ([]Earning, error)

	// LoadRange returns earnings with EffectiveAt in [from, to).
	LoadRange(ctx context.Context, pid ProcessorID, from, to time.Time) ([]Earning, error)

	// Exists checks if an idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
