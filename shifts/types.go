/*
Package shifts implements shift tracking and hourly pay accrual.

PURPOSE:
  Agents work scheduled shifts. Clocking in makes a shift ACTIVE, clocking
  out (or the auto-closer) makes it COMPLETED, and a shift that was never
  started is MISSED. Paid hours come from the actual start/end times.

KEY DIFFERENCES FROM BONUSES:
  1. Units: hours x hourly rate, not percent of deposit volume
  2. No hold: pay is owed as soon as the shift closes
  3. Soft failures: corrupted durations are excluded, never fatal

STATUS FLOW:
  SCHEDULED ──clock-in──► ACTIVE ──clock-out / auto-close──► COMPLETED
      │
      └──(scheduled end passed, never started)──► MISSED

SEE ALSO:
  - accrual.go: ComputeAccrual, CalculateWorkHours
  - engine/shifts.go: Clock-in/out and the auto-closer
*/
package shifts

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/generic"
)

type Type string

const (
	TypeMorning Type = "MORNING"
	TypeDay     Type = "DAY"
	TypeNight   Type = "NIGHT"
)

func (t Type) Valid() bool {
	return t == TypeMorning || t == TypeDay || t == TypeNight
}

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusMissed    Status = "MISSED"
)

type Shift struct {
	ID             string              `json:"id"`
	ProcessorID    generic.ProcessorID `json:"processor_id"`
	Type           Type                `json:"type"`
	ScheduledStart time.Time           `json:"scheduled_start"`
	ScheduledEnd   time.Time           `json:"scheduled_end"`
	ActualStart    *time.Time          `json:"actual_start,omitempty"`
	ActualEnd      *time.Time          `json:"actual_end,omitempty"`
	Status         Status              `json:"status"`
	Notes          []string            `json:"notes,omitempty"` // audit trail, appended only
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Filter selects shifts for listing. Zero values match everything.
// From/To bound ScheduledStart as [From, To). EndBefore keeps shifts whose
// ScheduledEnd is strictly before it.
type Filter struct {
	ProcessorID generic.ProcessorID
	Status      Status
	From        time.Time
	To          time.Time
	EndBefore   time.Time
	Limit       int
}

// SalarySettings is superseded, never edited: a rate change deactivates the
// current record and creates a new one.
type SalarySettings struct {
	ID         string          `json:"id"`
	HourlyRate decimal.Decimal `json:"hourly_rate"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
}
