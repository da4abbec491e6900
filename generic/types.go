/*
Package generic provides the domain-agnostic primitives of the earnings engine.

PURPOSE:
  Deposits, shifts and bonus payments all end up as money owed to an agent.
  This package holds the shared vocabulary for that: amounts with units, the
  append-only earnings ledger, fixed-zone calendar windows, and the error
  taxonomy every domain package wraps.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 2.5 hours, 125.00 USD)
  - Earning: An immutable ledger entry recording money owed to an agent
  - ProcessorID: Type-safe identifier of the agent (a.k.a. processor)

DESIGN PRINCIPLES:
  1. Immutability: Earnings are never modified, only offset by adjustments
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing identifiers
  4. Auditability: Every earning has reason, reference, and idempotency key

USAGE:
  pay := generic.NewAmount(4, generic.Currency("USD"))
  e := generic.Earning{
      ProcessorID: "agent-7",
      Type:        generic.EarningHourlyPay,
      Amount:      pay,
  }

SEE ALSO:
  - time.go: Calendar windows in the reference zone
  - ledger.go: Earnings persistence interface
  - errors.go: Sentinel and structured errors
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal `json:"value"`
	Unit  Unit            `json:"unit"`
}

type Unit string

const (
	UnitHours Unit = "hours"
)

// Currency returns the unit for a currency code.
func Currency(code string) Unit { return Unit(code) }

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

// DecimalColumns parses decimal text read back from storage. The first
// unparsable column is kept and reported by Err, so a row with several
// money columns needs one check.
type DecimalColumns struct {
	err error
}

func (c *DecimalColumns) Parse(column, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && c.err == nil {
		c.err = fmt.Errorf("%w: column %s holds %q", ErrCorruptedData, column, s)
	}
	return d
}

func (c *DecimalColumns) Err() error { return c.err }

// RoundMoney rounds half away from zero to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// Percent returns value * pct / 100.
func Percent(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct).Div(decimal.NewFromInt(100))
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }

func (a Amount) String() string { return a.Value.StringFixed(2) + " " + string(a.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ProcessorID identifies the agent whose deposits and shifts drive earnings.
type ProcessorID string

type EarningID string

// Processor is the role-tagged account an earning belongs to.
type Processor struct {
	ID        ProcessorID `json:"id"`
	Name      string      `json:"name"`
	Role      string      `json:"role"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
}

// =============================================================================
// EARNING - Atomic change to what an agent is owed
// =============================================================================

type EarningType string

const (
	EarningHourlyPay    EarningType = "HOURLY_PAY"    // Closed shift, hours x rate
	EarningDepositBonus EarningType = "DEPOSIT_BONUS" // Approved daily grid bonus
	EarningMonthlyBonus EarningType = "MONTHLY_BONUS" // Approved monthly tier bonus
	EarningAdjustment   EarningType = "ADJUSTMENT"    // Manual admin correction
)

type Earning struct {
	ID             EarningID         `json:"id"`
	ProcessorID    ProcessorID       `json:"processor_id"`
	Type           EarningType       `json:"type"`
	Amount         Amount            `json:"amount"`
	EffectiveAt    time.Time         `json:"effective_at"`
	ReferenceID    string            `json:"reference_id,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"` // "system", "admin", "scheduler"
	CreatedAt time.Time `json:"created_at"`
}
