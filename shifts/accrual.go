/*
accrual.go - Hourly pay accrual for shifts

PURPOSE:
  Converts tracked start/end times into paid hours and pay.

RULES:
  hours = (end - start) / 3600000ms
  hours <= 0 or hours > 24   -> CORRUPTED_DURATION, excluded from totals
  otherwise                  -> pay = hours x hourly rate (rounded to cents)

  The 24h ceiling guards against historical manual-edit damage; it is not a
  labour rule.

IN-PROGRESS SHIFTS:
  An ACTIVE shift with no actual end accrues against "now". The result is
  derived on every call and never persisted until the shift closes.

SEE ALSO:
  - types.go: Shift, SalarySettings
  - engine/payroll.go: Logs exclusions and aggregates per agent
*/
package shifts

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/generic"
)

// MaxShiftHours is the corruption ceiling for a single shift.
var MaxShiftHours = decimal.NewFromInt(24)

var msPerHour = decimal.NewFromInt(int64(time.Hour / time.Millisecond))

// Hours returns (end - start) in hours at millisecond precision.
func Hours(start, end time.Time) decimal.Decimal {
	return decimal.NewFromInt(end.Sub(start).Milliseconds()).Div(msPerHour)
}

// Accrual is the pay earned by one shift.
type Accrual struct {
	ShiftID     string              `json:"shift_id"`
	ProcessorID generic.ProcessorID `json:"processor_id"`
	Start       time.Time           `json:"start"`
	End         time.Time           `json:"end"`
	Hours       decimal.Decimal     `json:"hours"`
	Pay         decimal.Decimal     `json:"pay"`
	InProgress  bool                `json:"in_progress"`
}

// ComputeAccrual computes hours and pay for one shift.
// Returns *generic.CorruptedDurationError for insane durations and
// generic.ErrShiftNotStarted when there is no actual start.
func ComputeAccrual(s Shift, hourlyRate decimal.Decimal, now time.Time) (Accrual, error) {
	if s.ActualStart == nil {
		return Accrual{}, fmt.Errorf("shift %s: %w", s.ID, generic.ErrShiftNotStarted)
	}

	start := *s.ActualStart
	inProgress := false
	var end time.Time
	switch {
	case s.ActualEnd != nil:
		end = *s.ActualEnd
	case s.Status == StatusActive:
		end = now
		inProgress = true
	default:
		// Closed without an end time: nothing sane to pay.
		return Accrual{}, &generic.CorruptedDurationError{
			ShiftID: s.ID, ProcessorID: s.ProcessorID, Start: start, Hours: decimal.Zero,
		}
	}

	hours := Hours(start, end)
	if !hours.IsPositive() || hours.GreaterThan(MaxShiftHours) {
		return Accrual{}, &generic.CorruptedDurationError{
			ShiftID: s.ID, ProcessorID: s.ProcessorID, Start: start, End: end, Hours: hours,
		}
	}

	return Accrual{
		ShiftID:     s.ID,
		ProcessorID: s.ProcessorID,
		Start:       start,
		End:         end,
		Hours:       hours,
		Pay:         generic.RoundMoney(hours.Mul(hourlyRate)),
		InProgress:  inProgress,
	}, nil
}

// =============================================================================
// WORK HOURS AGGREGATION
// =============================================================================

// Exclusion is a shift left out of a total, with why.
type Exclusion struct {
	ShiftID     string              `json:"shift_id"`
	ProcessorID generic.ProcessorID `json:"processor_id"`
	Reason      string              `json:"reason"`
	Hours       decimal.Decimal     `json:"hours"`
	Err         error               `json:"-"`
}

type WorkSummary struct {
	TotalHours decimal.Decimal
	TotalPay   decimal.Decimal
	Included   []Accrual
	Excluded   []Exclusion
}

// CalculateWorkHours sums hours and pay over shifts. It is pure and never
// fails: corrupted shifts contribute exactly zero and are listed in Excluded.
// Shifts that never started (SCHEDULED, MISSED) are skipped silently.
func CalculateWorkHours(list []Shift, hourlyRate decimal.Decimal, now time.Time) WorkSummary {
	sum := WorkSummary{TotalHours: decimal.Zero, TotalPay: decimal.Zero}
	for _, s := range list {
		if s.Status == StatusScheduled || s.Status == StatusMissed {
			continue
		}
		a, err := ComputeAccrual(s, hourlyRate, now)
		if err != nil {
			ex := Exclusion{ShiftID: s.ID, ProcessorID: s.ProcessorID, Reason: generic.ErrShiftNotStarted.Error(), Err: err, Hours: decimal.Zero}
			var cerr *generic.CorruptedDurationError
			if errors.As(err, &cerr) {
				ex.Reason = generic.ErrCorruptedDuration.Error()
				ex.Hours = cerr.Hours
			}
			sum.Excluded = append(sum.Excluded, ex)
			continue
		}
		sum.TotalHours = sum.TotalHours.Add(a.Hours)
		sum.TotalPay = sum.TotalPay.Add(a.Pay)
		sum.Included = append(sum.Included, a)
	}
	return sum
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func transitionErr(s Shift, to Status) error {
	return &generic.TransitionError{Kind: "shift", ID: s.ID, From: string(s.Status), To: string(to)}
}

// Validate checks a shift before it is scheduled.
func Validate(s Shift) error {
	if s.ProcessorID == "" {
		return fmt.Errorf("%w: shift has no processor", generic.ErrInvalidReferenceData)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown shift type %q", generic.ErrInvalidReferenceData, s.Type)
	}
	if !s.ScheduledEnd.After(s.ScheduledStart) {
		return fmt.Errorf("%w: scheduled end must be after scheduled start", generic.ErrInvalidPeriod)
	}
	return nil
}

func ClockIn(s Shift, now time.Time) (Shift, error) {
	if s.Status != StatusScheduled {
		return s, transitionErr(s, StatusActive)
	}
	start := now
	s.ActualStart = &start
	s.Status = StatusActive
	s.UpdatedAt = now
	return s, nil
}

func ClockOut(s Shift, now time.Time) (Shift, error) {
	if s.Status != StatusActive {
		return s, transitionErr(s, StatusCompleted)
	}
	end := now
	s.ActualEnd = &end
	s.Status = StatusCompleted
	s.UpdatedAt = now
	return s, nil
}

// Overdue reports whether an ACTIVE shift is past its scheduled end plus grace.
func Overdue(s Shift, grace time.Duration, now time.Time) bool {
	return s.Status == StatusActive && s.ScheduledEnd.Before(now.Add(-grace))
}

// AutoClose closes a forgotten shift at ScheduledEnd + offset, not at now.
func AutoClose(s Shift, offset time.Duration, now time.Time) (Shift, error) {
	if s.Status != StatusActive {
		return s, transitionErr(s, StatusCompleted)
	}
	end := s.ScheduledEnd.Add(offset)
	s.ActualEnd = &end
	s.Status = StatusCompleted
	s.UpdatedAt = now
	s.Notes = append(s.Notes, fmt.Sprintf("auto-closed at %s: actual end set to scheduled end %s",
		now.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)))
	return s, nil
}

// MarkMissed flags a shift whose window passed without a clock-in.
func MarkMissed(s Shift, now time.Time) (Shift, error) {
	if s.Status != StatusScheduled {
		return s, transitionErr(s, StatusMissed)
	}
	s.Status = StatusMissed
	s.UpdatedAt = now
	s.Notes = append(s.Notes, fmt.Sprintf("marked missed at %s: no clock-in before scheduled end",
		now.UTC().Format(time.RFC3339)))
	return s, nil
}
