/*
Package bonus implements the deposit bonus rules: the daily bonus grid, the
monthly bonus tiers, and the hold/burn life cycle of bonus payments.

PURPOSE:
  Everything in this package is a pure function of its inputs. Reading
  running totals, persisting payments and sweeping holds on a schedule is
  the engine package's job. Keeping the rules here makes them easy to test
  exhaustively and impossible to drift between call sites.

KEY TYPES:
  Deposit:     One recorded deposit and the bonus computed for it
  GridTier:    Daily grid row (amount range -> bonus percentage)
  MonthlyTier: Monthly threshold (volume >= min -> percent of whole volume)
  Payment:     A bonus owed to an agent, HELD until it settles

LIFE CYCLE OF A PAYMENT:
  HELD ──(now >= HoldUntil)──────────────────────────► APPROVED ──► PAID
    │
    └──(dated yesterday, today < yesterday / 2)─────► BURNED

  APPROVED, PAID and BURNED never return to HELD.

SEE ALSO:
  - grid.go:    EvaluateDaily
  - monthly.go: EvaluateMonthly
  - holds.go:   Approve, Burn, ShouldBurn
*/
package bonus

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/generic"
)

// =============================================================================
// DEPOSIT
// =============================================================================

type DepositStatus string

const (
	DepositRecorded DepositStatus = "RECORDED"
	DepositVoided   DepositStatus = "VOIDED"
)

// Deposit is immutable once its bonus is computed, except for an
// administrative void.
type Deposit struct {
	ID            string              `json:"id"`
	ProcessorID   generic.ProcessorID `json:"processor_id"`
	Amount        decimal.Decimal     `json:"amount"` // in Currency
	Currency      string              `json:"currency"`
	BaseAmount    decimal.Decimal     `json:"base_amount"` // Amount converted to the base currency
	CreatedAt     time.Time           `json:"created_at"`
	BonusAmount   decimal.Decimal     `json:"bonus_amount"`
	AppliedTierID string              `json:"applied_tier_id,omitempty"` // empty when no tier matched
	Status        DepositStatus       `json:"status"`
	VoidReason    string              `json:"void_reason,omitempty"`
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// GridTier maps a cumulative daily total range to a bonus percentage.
// MaxAmount nil means unbounded.
type GridTier struct {
	ID              string           `json:"id"`
	MinAmount       decimal.Decimal  `json:"min_amount"`
	MaxAmount       *decimal.Decimal `json:"max_amount,omitempty"`
	BonusPercentage decimal.Decimal  `json:"bonus_percentage"`
	IsActive        bool             `json:"is_active"`
}

// Matches reports whether min <= total <= max (or +inf).
func (t GridTier) Matches(total decimal.Decimal) bool {
	if total.LessThan(t.MinAmount) {
		return false
	}
	return t.MaxAmount == nil || total.LessThanOrEqual(*t.MaxAmount)
}

// MonthlyTier is a non-cumulative monthly volume threshold.
type MonthlyTier struct {
	ID           string          `json:"id"`
	MinAmount    decimal.Decimal `json:"min_amount"`
	BonusPercent decimal.Decimal `json:"bonus_percent"`
	Name         string          `json:"name"`
	IsActive     bool            `json:"is_active"`
}

// =============================================================================
// BONUS PAYMENT
// =============================================================================

type Status string

const (
	StatusHeld     Status = "HELD"
	StatusApproved Status = "APPROVED"
	StatusPaid     Status = "PAID"
	StatusBurned   Status = "BURNED"
)

type Kind string

const (
	KindDaily   Kind = "DAILY"   // from the deposit grid, Period is a day key
	KindMonthly Kind = "MONTHLY" // from the monthly tiers, Period is a month key
)

type Payment struct {
	ID             string              `json:"id"`
	ProcessorID    generic.ProcessorID `json:"processor_id"`
	Kind           Kind                `json:"kind"`
	Amount         decimal.Decimal     `json:"amount"`
	Status         Status              `json:"status"`
	HoldUntil      time.Time           `json:"hold_until"`
	Period         string              `json:"period"` // "2006-01-02" for DAILY, "2006-01" for MONTHLY
	BurnReason     string              `json:"burn_reason,omitempty"`
	SourceID       string              `json:"source_id,omitempty"` // deposit ID or monthly calculation key
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// EarningType is the ledger entry type the payment produces once approved.
func (p Payment) EarningType() generic.EarningType {
	if p.Kind == KindMonthly {
		return generic.EarningMonthlyBonus
	}
	return generic.EarningDepositBonus
}

// PaymentFilter selects payments for listing. Zero values match everything.
type PaymentFilter struct {
	ProcessorID generic.ProcessorID
	Status      Status
	Kind        Kind
	Period      string
	Limit       int
}

// DepositFilter selects deposits for listing. Zero values match everything.
type DepositFilter struct {
	ProcessorID generic.ProcessorID
	From        time.Time
	To          time.Time
	Status      DepositStatus
	Limit       int
}
