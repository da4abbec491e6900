/*
store.go - Persistence contract for the earnings engine

PURPOSE:
  Everything the engine reads or writes besides the earnings ledger:
  processors, reference data, deposits, bonus payments, shifts and the
  record of batch runs. The earnings ledger itself is the embedded
  generic.Store.

COMPARE-AND-SWAP:
  State changes never overwrite blindly. TransitionPayment, UpdateShift and
  VoidDeposit carry the status the caller read, and the backend applies
  them as "UPDATE ... WHERE status = <expected>". Zero affected rows means
  another writer got there first: ErrConcurrentModification.

TRANSACTIONS:
  WithTx runs fn against a Store bound to one database transaction. SQLite
  begins it IMMEDIATE, PostgreSQL runs it SERIALIZABLE. A serialization
  failure is reported as ErrConcurrentModification so callers can retry.
  Calling WithTx on a transaction-bound Store reuses the open transaction.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go
  - store/postgres/postgres.go
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
)

type Store interface {
	generic.Store

	// Processors
	SaveProcessor(ctx context.Context, p generic.Processor) error
	GetProcessor(ctx context.Context, id generic.ProcessorID) (generic.Processor, error)
	ListProcessors(ctx context.Context, activeOnly bool) ([]generic.Processor, error)

	// Reference data. Replace* deactivates the current set and inserts the
	// new one; history stays in the table.
	ActiveBonusGrid(ctx context.Context) ([]bonus.GridTier, error)
	ReplaceBonusGrid(ctx context.Context, tiers []bonus.GridTier) error
	ActiveMonthlyTiers(ctx context.Context) ([]bonus.MonthlyTier, error)
	ReplaceMonthlyTiers(ctx context.Context, tiers []bonus.MonthlyTier) error

	// ActiveSalarySettings returns nil, nil when no record is active.
	ActiveSalarySettings(ctx context.Context) (*shifts.SalarySettings, error)
	SalaryHistory(ctx context.Context) ([]shifts.SalarySettings, error)
	SupersedeSalarySettings(ctx context.Context, s shifts.SalarySettings) error

	// Deposits
	InsertDeposit(ctx context.Context, d bonus.Deposit) error
	GetDeposit(ctx context.Context, id string) (bonus.Deposit, error)
	ListDeposits(ctx context.Context, f bonus.DepositFilter) ([]bonus.Deposit, error)
	// DepositTotals sums RECORDED deposits created in [from, to).
	DepositTotals(ctx context.Context, pid generic.ProcessorID, from, to time.Time) (DepositTotals, error)
	VoidDeposit(ctx context.Context, id, reason string, at time.Time) error

	// Bonus payments. InsertPayment fails with ErrDuplicateIdempotencyKey
	// when the key exists.
	InsertPayment(ctx context.Context, p bonus.Payment) error
	GetPayment(ctx context.Context, id string) (bonus.Payment, error)
	GetPaymentByKey(ctx context.Context, key string) (bonus.Payment, error)
	ListPayments(ctx context.Context, f bonus.PaymentFilter) ([]bonus.Payment, error)
	// DuePayments returns HELD payments with HoldUntil <= now, oldest first.
	DuePayments(ctx context.Context, now time.Time, limit int) ([]bonus.Payment, error)
	// TransitionPayment writes p.Status, p.BurnReason and p.UpdatedAt if the
	// stored status is still from.
	TransitionPayment(ctx context.Context, p bonus.Payment, from bonus.Status) error

	// Shifts
	InsertShift(ctx context.Context, s shifts.Shift) error
	GetShift(ctx context.Context, id string) (shifts.Shift, error)
	ListShifts(ctx context.Context, f shifts.Filter) ([]shifts.Shift, error)
	// UpdateShift writes status, actual times and notes if the stored status
	// is still from.
	UpdateShift(ctx context.Context, s shifts.Shift, from shifts.Status) error

	// Batch runs
	SaveRun(ctx context.Context, r Run) error
	ListRuns(ctx context.Context, kind RunKind, limit int) ([]Run, error)

	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// DepositTotals is the running state of one agent's day or month.
type DepositTotals struct {
	Volume decimal.Decimal // sum of base amounts
	Bonus  decimal.Decimal // sum of per-deposit bonuses
	Count  int
}
