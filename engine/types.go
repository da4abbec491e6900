package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
)

// =============================================================================
// BATCH RUNS - Audit record of every sweep, auto-close and monthly pass
// =============================================================================

type RunKind string

const (
	RunSweep     RunKind = "bonus_sweep"
	RunAutoClose RunKind = "shift_autoclose"
	RunMonthly   RunKind = "monthly_bonus"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial" // finished with itemized errors
	RunFailed    RunStatus = "failed"
)

type Run struct {
	ID          string     `json:"id"`
	Kind        RunKind    `json:"kind"`
	Status      RunStatus  `json:"status"`
	Trigger     string     `json:"trigger,omitempty"` // "scheduler", "manual", "cli"
	Processed   int        `json:"processed"`
	Changed     int        `json:"changed"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

// SweepReport is the outcome of one hold/burn sweep.
type SweepReport struct {
	At            time.Time           `json:"at"`
	Approved      []string            `json:"approved"`
	Burned        []string            `json:"burned"`
	BurnCheckRan  bool                `json:"burn_check_ran"`
	AgentsChecked int                 `json:"agents_checked"`
	Conflicts     int                 `json:"conflicts"` // lost CAS races, already handled elsewhere
	Errors        []generic.ItemError `json:"errors,omitempty"`
}

// AutoCloseReport is the outcome of one auto-close pass.
type AutoCloseReport struct {
	At        time.Time           `json:"at"`
	Cutoff    time.Time           `json:"cutoff"`
	Closed    []string            `json:"closed"`
	Missed    []string            `json:"missed"`
	Accrued   []string            `json:"accrued"`
	Excluded  []shifts.Exclusion  `json:"excluded,omitempty"`
	Conflicts int                 `json:"conflicts"`
	Errors    []generic.ItemError `json:"errors,omitempty"`
}

// MonthlyRequest selects one agent, or every active agent when ProcessorID
// is empty.
type MonthlyRequest struct {
	ProcessorID generic.ProcessorID
	Month       string // YYYY-MM in the reference zone; empty means previous month
	DryRun      bool
}

// MonthlyLine is one agent's monthly evaluation.
type MonthlyLine struct {
	ProcessorID generic.ProcessorID `json:"processor_id"`
	Volume      decimal.Decimal     `json:"volume"`
	TierID      string              `json:"tier_id,omitempty"`
	TierName    string              `json:"tier_name,omitempty"`
	Percent     decimal.Decimal     `json:"percent"`
	BonusAmount decimal.Decimal     `json:"bonus_amount"`
	Payment     *bonus.Payment      `json:"payment,omitempty"`
	Existing    bool                `json:"existing"` // payment was already stored
}

type MonthlyReport struct {
	Month  string              `json:"month"`
	DryRun bool                `json:"dry_run"`
	Lines  []MonthlyLine       `json:"lines"`
	Total  decimal.Decimal     `json:"total"`
	Errors []generic.ItemError `json:"errors,omitempty"`
}

// PayrollLine is one agent's pay for a month.
type PayrollLine struct {
	ProcessorID    generic.ProcessorID `json:"processor_id"`
	Hours          decimal.Decimal     `json:"hours"`
	HourlyPay      decimal.Decimal     `json:"hourly_pay"`
	ApprovedBonus  decimal.Decimal     `json:"approved_bonus"`
	HeldBonus      decimal.Decimal     `json:"held_bonus"`
	Total          decimal.Decimal     `json:"total"`
	ShiftsIncluded int                 `json:"shifts_included"`
	Excluded       []shifts.Exclusion  `json:"excluded,omitempty"`
}

type PayrollReport struct {
	Month      string              `json:"month"`
	HourlyRate decimal.Decimal     `json:"hourly_rate"`
	Lines      []PayrollLine       `json:"lines"`
	Total      decimal.Decimal     `json:"total"`
	Errors     []generic.ItemError `json:"errors,omitempty"`
}

// Earnings is an agent's running total for the current month.
type Earnings struct {
	ProcessorID      generic.ProcessorID `json:"processor_id"`
	Month            string              `json:"month"`
	Settled          decimal.Decimal     `json:"settled"`     // ledger entries
	InProgress       decimal.Decimal     `json:"in_progress"` // derived from open shifts
	Held             decimal.Decimal     `json:"held"`        // provisional bonuses
	Total            decimal.Decimal     `json:"total"`       // Settled + InProgress
	InProgressShifts []shifts.Accrual    `json:"in_progress_shifts,omitempty"`

	ByType map[generic.EarningType]decimal.Decimal `json:"by_type"`
}
