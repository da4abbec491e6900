package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/events"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
)

// startShift schedules a shift on March 10 and, unless clockIn is zero,
// clocks it in at that time.
func (f *fixture) startShift(t *testing.T, pid generic.ProcessorID, from, to, clockIn time.Time) shifts.Shift {
	t.Helper()
	s, err := f.e.ScheduleShift(f.ctx, shifts.Shift{ProcessorID: pid, Type: shifts.TypeDay, ScheduledStart: from, ScheduledEnd: to})
	require.NoError(t, err)
	if clockIn.IsZero() {
		return s
	}
	saved := f.clock.At
	f.clock.At = clockIn
	s, err = f.e.ClockIn(f.ctx, s.ID)
	f.clock.At = saved
	require.NoError(t, err)
	return s
}

func TestClockOut_BooksHourlyPay(t *testing.T) {
	f := newFixture(t)
	f.setRate(t, "2.00")

	// GIVEN: a shift clocked in at 09:00
	s := f.startShift(t, "agent-1", at(10, 9, 0), at(10, 17, 0), at(10, 9, 0))
	assert.Equal(t, shifts.StatusActive, s.Status)

	// WHEN: the agent clocks out two hours later
	f.clock.At = at(10, 11, 0)
	closed, accrual, err := f.e.ClockOut(f.ctx, s.ID)

	// THEN: 2h at $2
	require.NoError(t, err)
	assert.Equal(t, shifts.StatusCompleted, closed.Status)
	require.NotNil(t, accrual)
	assertDec(t, "2", accrual.Hours)
	assertDec(t, "4.00", accrual.Pay)
	assert.Equal(t, 1, f.events.count(events.ShiftClosed))

	// AND: a second shift in progress accrues without being booked
	open := f.startShift(t, "agent-1", at(10, 11, 0), at(10, 19, 0), at(10, 11, 0))
	f.clock.At = at(10, 12, 30)

	earnings, err := f.e.CurrentEarnings(f.ctx, "agent-1")
	require.NoError(t, err)
	assertDec(t, "4.00", earnings.Settled)
	assertDec(t, "3.00", earnings.InProgress)
	assertDec(t, "7.00", earnings.Total)
	assertDec(t, "4.00", earnings.ByType[generic.EarningHourlyPay])
	require.Len(t, earnings.InProgressShifts, 1)
	assert.True(t, earnings.InProgressShifts[0].InProgress)

	live, err := f.e.ShiftAccrual(f.ctx, open.ID)
	require.NoError(t, err)
	assertDec(t, "1.5", live.Hours)

	_, _, err = f.e.ClockOut(f.ctx, s.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestClockOut_MissingRateLeavesShiftOpen(t *testing.T) {
	f := newFixture(t)
	s := f.startShift(t, "agent-1", at(10, 9, 0), at(10, 17, 0), at(10, 9, 0))

	f.clock.At = at(10, 11, 0)
	_, _, err := f.e.ClockOut(f.ctx, s.ID)
	assert.ErrorIs(t, err, generic.ErrMissingReferenceData)

	got, err := f.e.GetShift(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, shifts.StatusActive, got.Status)
	assert.Nil(t, got.ActualEnd)
}

func TestClockOut_FallbackRate(t *testing.T) {
	fallback := dec("1.50")
	f := newFixture(t, func(o *engine.Options) { o.FallbackHourlyRate = &fallback })
	s := f.startShift(t, "agent-1", at(10, 9, 0), at(10, 17, 0), at(10, 9, 0))

	f.clock.At = at(10, 11, 0)
	_, accrual, err := f.e.ClockOut(f.ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, accrual)
	assertDec(t, "3.00", accrual.Pay)
}

func TestScheduleShift_Rejects(t *testing.T) {
	f := newFixture(t)

	_, err := f.e.ScheduleShift(f.ctx, shifts.Shift{ProcessorID: "agent-1", Type: shifts.TypeDay, ScheduledStart: at(10, 17, 0), ScheduledEnd: at(10, 9, 0)})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	_, err = f.e.ScheduleShift(f.ctx, shifts.Shift{ProcessorID: "agent-1", Type: "LUNCH", ScheduledStart: at(10, 9, 0), ScheduledEnd: at(10, 17, 0)})
	assert.ErrorIs(t, err, generic.ErrInvalidReferenceData)

	_, err = f.e.ScheduleShift(f.ctx, shifts.Shift{ProcessorID: "ghost", Type: shifts.TypeDay, ScheduledStart: at(10, 9, 0), ScheduledEnd: at(10, 17, 0)})
	assert.ErrorIs(t, err, generic.ErrProcessorNotFound)
}

func TestAutoCloseShifts(t *testing.T) {
	f := newFixture(t)
	f.setRate(t, "2.00")

	// GIVEN: four shifts on March 10
	forgotten := f.startShift(t, "agent-1", at(10, 9, 0), at(10, 17, 0), at(10, 9, 0))
	late := f.startShift(t, "agent-2", at(10, 9, 0), at(10, 10, 0), at(10, 10, 30))
	noShow := f.startShift(t, "agent-2", at(10, 12, 0), at(10, 14, 0), time.Time{})
	running := f.startShift(t, "agent-1", at(10, 17, 0), at(10, 17, 45), at(10, 17, 0))

	// WHEN: the auto-closer runs at 18:00 with a 30 minute grace period
	f.clock.At = at(10, 18, 0)
	report, err := f.e.AutoCloseShifts(f.ctx)
	require.NoError(t, err)

	// THEN
	assert.True(t, report.Cutoff.Equal(at(10, 17, 30)))
	assert.ElementsMatch(t, []string{forgotten.ID, late.ID}, report.Closed)
	assert.Equal(t, []string{forgotten.ID}, report.Accrued)
	assert.Equal(t, []string{noShow.ID}, report.Missed)
	require.Len(t, report.Excluded, 1)
	assert.Equal(t, late.ID, report.Excluded[0].ShiftID)
	assert.Equal(t, "CORRUPTED_DURATION", report.Excluded[0].Reason)

	closed, err := f.e.GetShift(f.ctx, forgotten.ID)
	require.NoError(t, err)
	assert.Equal(t, shifts.StatusCompleted, closed.Status)
	require.NotNil(t, closed.ActualEnd)
	assert.True(t, closed.ActualEnd.Equal(at(10, 17, 0)))
	require.NotEmpty(t, closed.Notes)
	assert.Contains(t, closed.Notes[len(closed.Notes)-1], "auto-closed")

	// the forgotten shift pays its scheduled 8 hours
	earnings, err := f.e.CurrentEarnings(f.ctx, "agent-1")
	require.NoError(t, err)
	assertDec(t, "16.00", earnings.Settled)

	// the corrupted shift closes but pays nothing
	_, err = f.e.ShiftAccrual(f.ctx, late.ID)
	var cerr *generic.CorruptedDurationError
	require.True(t, errors.As(err, &cerr))
	assertDec(t, "-0.5", cerr.Hours)
	earnings, err = f.e.CurrentEarnings(f.ctx, "agent-2")
	require.NoError(t, err)
	assertDec(t, "0", earnings.Settled)

	missed, err := f.e.GetShift(f.ctx, noShow.ID)
	require.NoError(t, err)
	assert.Equal(t, shifts.StatusMissed, missed.Status)

	untouched, err := f.e.GetShift(f.ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, shifts.StatusActive, untouched.Status)

	assert.Equal(t, 2, f.events.count(events.ShiftAutoClosed))
	assert.Equal(t, 1, f.events.count(events.ShiftMissed))

	// WHEN: it runs again
	again, err := f.e.AutoCloseShifts(f.ctx)

	// THEN: nothing left to do
	require.NoError(t, err)
	assert.Empty(t, again.Closed)
	assert.Empty(t, again.Missed)
	earnings, err = f.e.CurrentEarnings(f.ctx, "agent-1")
	require.NoError(t, err)
	assertDec(t, "16.00", earnings.Settled)
}

func TestAutoCloseShifts_Offset(t *testing.T) {
	f := newFixture(t, func(o *engine.Options) { o.AutoCloseOffset = 15 * time.Minute })
	f.setRate(t, "2.00")
	s := f.startShift(t, "agent-1", at(10, 9, 0), at(10, 17, 0), at(10, 9, 0))

	f.clock.At = at(10, 18, 0)
	report, err := f.e.AutoCloseShifts(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{s.ID}, report.Closed)

	got, err := f.e.GetShift(f.ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ActualEnd)
	assert.True(t, got.ActualEnd.Equal(at(10, 17, 15)))

	earnings, err := f.e.CurrentEarnings(f.ctx, "agent-1")
	require.NoError(t, err)
	assertDec(t, "16.50", earnings.Settled)
}
