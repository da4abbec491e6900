/*
Package engine orchestrates the earnings rules against persistent state.

PURPOSE:
  The bonus and shifts packages hold pure rules. This package feeds them
  with data read from a Store, persists their results, and runs the batch
  jobs (hold/burn sweep, shift auto-close, monthly bonus, payroll) that the
  HTTP API, the scheduler and the earnctl CLI all share. There is exactly
  one implementation of each operation; callers never re-derive rules.

KEY CONCEPTS:
  Deps:    Everything the engine talks to (store, lock, events, clock)
  Options: Business knobs loaded from configuration
  Locker:  Serializes deposit recording per (agent, day)

CONCURRENCY:
  RecordDeposit holds the (agent, day) lock and runs its read-evaluate-write
  inside one Store transaction, so two deposits for the same agent and day
  can never both read the same cumulative total. Sweeps fan out per agent
  with bounded concurrency, and every state change is compare-and-swap, so
  overlapping sweeps transition each record at most once.

SEE ALSO:
  - deposits.go:  RecordDeposit, VoidDeposit
  - monthly.go:   CalculateMonthlyBonus
  - holds.go:     SweepBonusHolds, MarkBonusPaid
  - shifts.go:    Clock-in/out, AutoCloseShifts, ShiftAccrual
  - payroll.go:   Payroll, CurrentEarnings
  - reference.go: Grid, tiers and salary settings
*/
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/events"
	"github.com/umbra/earnings-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Locker grants exclusive access to a key until unlock is called.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Converter turns an amount in any supported currency into the base currency.
type Converter interface {
	Base() string
	ToBase(ctx context.Context, amount decimal.Decimal, code string) (decimal.Decimal, error)
}

type Deps struct {
	Store     Store
	Ledger    generic.Ledger // defaults to generic.NewLedger(Store)
	Locker    Locker         // defaults to an in-process KeyedMutex
	Publisher events.Publisher
	Converter Converter
	Clock     generic.Clock
	Calendar  generic.Calendar
	Logger    *zap.Logger
	Options   Options
}

// Options are the business knobs of the engine.
type Options struct {
	DailyMode           bonus.Mode
	DailyHoldExtraDays  int           // daily bonus held until end of deposit day + N days
	MonthlyHoldDuration time.Duration // monthly bonus held this long after calculation
	BurnCheckHour       int           // burn check runs only at or after this local hour
	ShiftGracePeriod    time.Duration
	AutoCloseOffset     time.Duration
	FallbackHourlyRate  *decimal.Decimal // nil: no fallback, fail fast
	SweepConcurrency    int
	DepositRetryLimit   int
	ExternalCallTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		DailyMode:           bonus.ModeIncremental,
		DailyHoldExtraDays:  1,
		MonthlyHoldDuration: 72 * time.Hour,
		BurnCheckHour:       22,
		ShiftGracePeriod:    30 * time.Minute,
		SweepConcurrency:    4,
		DepositRetryLimit:   3,
		ExternalCallTimeout: 5 * time.Second,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store     Store
	ledger    generic.Ledger
	locker    Locker
	publisher events.Publisher
	converter Converter
	clock     generic.Clock
	cal       generic.Calendar
	log       *zap.Logger
	opts      Options
}

func New(d Deps) *Engine {
	e := &Engine{
		store:     d.Store,
		ledger:    d.Ledger,
		locker:    d.Locker,
		publisher: d.Publisher,
		converter: d.Converter,
		clock:     d.Clock,
		cal:       d.Calendar,
		log:       d.Logger,
		opts:      d.Options,
	}
	if e.ledger == nil {
		e.ledger = generic.NewLedger(d.Store)
	}
	if e.locker == nil {
		e.locker = NewKeyedMutex()
	}
	if e.publisher == nil {
		e.publisher = events.Nop{}
	}
	if e.converter == nil {
		e.converter = baseOnly{}
	}
	if e.clock == nil {
		e.clock = generic.SystemClock{}
	}
	if e.cal.Location == nil {
		e.cal = generic.NewCalendar(time.UTC)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.opts.DailyMode == "" {
		e.opts.DailyMode = bonus.ModeIncremental
	}
	if e.opts.SweepConcurrency <= 0 {
		e.opts.SweepConcurrency = 1
	}
	if e.opts.ExternalCallTimeout <= 0 {
		e.opts.ExternalCallTimeout = 5 * time.Second
	}
	return e
}

func (e *Engine) Calendar() generic.Calendar { return e.cal }
func (e *Engine) Clock() generic.Clock       { return e.clock }
func (e *Engine) Options() Options           { return e.opts }
func (e *Engine) Store() Store               { return e.store }

// ledgerFor returns a ledger bound to st. Inside a transaction this keeps
// ledger writes on the same connection as the state change they belong to.
func (e *Engine) ledgerFor(st Store) generic.Ledger {
	if st == e.store {
		return e.ledger
	}
	return generic.NewLedger(st)
}

// publish is best-effort: the state change already committed.
func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.clock.Now()
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.ExternalCallTimeout)
	defer cancel()
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.log.Warn("event publish failed",
			zap.String("type", ev.Type),
			zap.String("reference_id", ev.ReferenceID),
			zap.Error(err))
	}
}

// withRetry runs fn again while it fails with a retryable error.
func (e *Engine) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= e.opts.DepositRetryLimit; attempt++ {
		if err = fn(); err == nil || !generic.IsRetryable(err) {
			return err
		}
		e.log.Warn("retrying after conflict", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return err
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// baseOnly accepts only amounts already in the base currency.
type baseOnly struct{}

func (baseOnly) Base() string { return "USD" }

func (b baseOnly) ToBase(_ context.Context, amount decimal.Decimal, code string) (decimal.Decimal, error) {
	if code == "" || strings.EqualFold(code, b.Base()) {
		return amount, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", generic.ErrUnsupportedCurrency, code)
}
