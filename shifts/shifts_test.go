package shifts_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
)

var (
	t0   = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	rate = decimal.RequireFromString("2.0")
)

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

func completed(id string, start, end time.Duration) shifts.Shift {
	return shifts.Shift{
		ID:             id,
		ProcessorID:    "agent-1",
		Type:           shifts.TypeDay,
		ScheduledStart: t0,
		ScheduledEnd:   t0.Add(8 * time.Hour),
		ActualStart:    at(start),
		ActualEnd:      at(end),
		Status:         shifts.StatusCompleted,
	}
}

func TestComputeAccrual_TwoHoursAtTwoDollars(t *testing.T) {
	// GIVEN: actualStart=T, actualEnd=T+2h, rate $2.00
	// THEN: 2 hours, $4.00

	a, err := shifts.ComputeAccrual(completed("s1", 0, 2*time.Hour), rate, t0.Add(10*time.Hour))
	require.NoError(t, err)
	assert.True(t, a.Hours.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "4.00", a.Pay.StringFixed(2))
	assert.False(t, a.InProgress)
}

func TestComputeAccrual_MillisecondPrecision(t *testing.T) {
	a, err := shifts.ComputeAccrual(completed("s1", 0, 90*time.Minute), rate, t0)
	require.NoError(t, err)
	assert.Equal(t, "1.5", a.Hours.String())
	assert.Equal(t, "3.00", a.Pay.StringFixed(2))
}

func TestComputeAccrual_CorruptedDurations(t *testing.T) {
	tests := []struct {
		name       string
		start, end time.Duration
	}{
		{"end before start", 2 * time.Hour, time.Hour},
		{"zero length", time.Hour, time.Hour},
		{"over 24h", 0, 24*time.Hour + time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := shifts.ComputeAccrual(completed("bad", tt.start, tt.end), rate, t0)
			assert.ErrorIs(t, err, generic.ErrCorruptedDuration)

			var cerr *generic.CorruptedDurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "bad", cerr.ShiftID)
		})
	}
}

func TestComputeAccrual_ExactlyTwentyFourHoursIsSane(t *testing.T) {
	a, err := shifts.ComputeAccrual(completed("s1", 0, 24*time.Hour), rate, t0)
	require.NoError(t, err)
	assert.Equal(t, "48.00", a.Pay.StringFixed(2))
}

func TestComputeAccrual_InProgressUsesNow(t *testing.T) {
	// GIVEN: An ACTIVE shift started at T with no end
	// WHEN: Asked at T+3h and again at T+4h
	// THEN: The accrual is derived from now each time

	s := completed("live", 0, 0)
	s.ActualEnd = nil
	s.Status = shifts.StatusActive

	a, err := shifts.ComputeAccrual(s, rate, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, a.InProgress)
	assert.Equal(t, "6.00", a.Pay.StringFixed(2))

	a, err = shifts.ComputeAccrual(s, rate, t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "8.00", a.Pay.StringFixed(2))
	assert.Nil(t, s.ActualEnd, "nothing is persisted on the shift")
}

func TestComputeAccrual_NotStarted(t *testing.T) {
	s := completed("s", 0, time.Hour)
	s.ActualStart = nil
	_, err := shifts.ComputeAccrual(s, rate, t0)
	assert.ErrorIs(t, err, generic.ErrShiftNotStarted)
}

func TestComputeAccrual_CompletedWithoutEndIsCorrupted(t *testing.T) {
	s := completed("s", 0, time.Hour)
	s.ActualEnd = nil
	_, err := shifts.ComputeAccrual(s, rate, t0.Add(5*time.Hour))
	assert.ErrorIs(t, err, generic.ErrCorruptedDuration)
}

func TestCalculateWorkHours_ExcludesCorruptedWithoutFailing(t *testing.T) {
	// GIVEN: Two good shifts and two corrupted ones
	// WHEN: Aggregating
	// THEN: Corrupted shifts contribute exactly 0 and are listed as excluded

	list := []shifts.Shift{
		completed("good-1", 0, 2*time.Hour),
		completed("bad-1", 3*time.Hour, time.Hour),
		completed("good-2", 0, 30*time.Minute),
		completed("bad-2", 0, 30*time.Hour),
		{ID: "planned", ProcessorID: "agent-1", Status: shifts.StatusScheduled},
	}

	sum := shifts.CalculateWorkHours(list, rate, t0.Add(48*time.Hour))

	assert.Equal(t, "2.5", sum.TotalHours.String())
	assert.Equal(t, "5.00", sum.TotalPay.StringFixed(2))
	assert.Len(t, sum.Included, 2)
	require.Len(t, sum.Excluded, 2)
	assert.Equal(t, "bad-1", sum.Excluded[0].ShiftID)
	assert.Equal(t, "CORRUPTED_DURATION", sum.Excluded[0].Reason)
	assert.Equal(t, "bad-2", sum.Excluded[1].ShiftID)
}

func TestCalculateWorkHours_IdempotentAndPure(t *testing.T) {
	list := []shifts.Shift{completed("a", 0, 2*time.Hour), completed("b", 0, -time.Hour)}
	now := t0.Add(24 * time.Hour)

	first := shifts.CalculateWorkHours(list, rate, now)
	second := shifts.CalculateWorkHours(list, rate, now)

	assert.True(t, first.TotalHours.Equal(second.TotalHours))
	assert.True(t, first.TotalPay.Equal(second.TotalPay))
	assert.Equal(t, len(first.Excluded), len(second.Excluded))
}

func TestCalculateWorkHours_Empty(t *testing.T) {
	sum := shifts.CalculateWorkHours(nil, rate, t0)
	assert.True(t, sum.TotalHours.IsZero())
	assert.True(t, sum.TotalPay.IsZero())
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func scheduled() shifts.Shift {
	return shifts.Shift{
		ID:             "s-1",
		ProcessorID:    "agent-1",
		Type:           shifts.TypeNight,
		ScheduledStart: t0,
		ScheduledEnd:   t0.Add(8 * time.Hour),
		Status:         shifts.StatusScheduled,
	}
}

func TestClockInClockOut(t *testing.T) {
	s, err := shifts.ClockIn(scheduled(), t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, shifts.StatusActive, s.Status)
	require.NotNil(t, s.ActualStart)

	_, err = shifts.ClockIn(s, t0.Add(10*time.Minute))
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	s, err = shifts.ClockOut(s, t0.Add(8*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, shifts.StatusCompleted, s.Status)
	assert.Equal(t, t0.Add(8*time.Hour), *s.ActualEnd)
}

func TestAutoClose_UsesScheduledEndPlusOffset(t *testing.T) {
	// GIVEN: A shift left ACTIVE, scheduled end T+8h
	// WHEN: Auto-closed the next morning with a 0 offset
	// THEN: actualEnd is the scheduled end, not now, and an audit note is added

	s, err := shifts.ClockIn(scheduled(), t0)
	require.NoError(t, err)

	now := t0.Add(20 * time.Hour)
	require.True(t, shifts.Overdue(s, 30*time.Minute, now))

	closed, err := shifts.AutoClose(s, 0, now)
	require.NoError(t, err)
	assert.Equal(t, shifts.StatusCompleted, closed.Status)
	assert.Equal(t, t0.Add(8*time.Hour), *closed.ActualEnd)
	require.Len(t, closed.Notes, 1)
	assert.Contains(t, closed.Notes[0], "auto-closed")

	_, err = shifts.AutoClose(closed, 0, now)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestOverdue_RespectsGrace(t *testing.T) {
	s, _ := shifts.ClockIn(scheduled(), t0)
	end := t0.Add(8 * time.Hour)

	assert.False(t, shifts.Overdue(s, 30*time.Minute, end.Add(29*time.Minute)))
	assert.True(t, shifts.Overdue(s, 30*time.Minute, end.Add(31*time.Minute)))
	assert.False(t, shifts.Overdue(scheduled(), 0, end.Add(time.Hour)), "only ACTIVE shifts are overdue")
}

func TestMarkMissed(t *testing.T) {
	s, err := shifts.MarkMissed(scheduled(), t0.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, shifts.StatusMissed, s.Status)

	_, err = shifts.MarkMissed(s, t0.Add(9*time.Hour))
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, shifts.Validate(scheduled()))

	bad := scheduled()
	bad.ScheduledEnd = bad.ScheduledStart
	assert.ErrorIs(t, shifts.Validate(bad), generic.ErrInvalidPeriod)

	bad = scheduled()
	bad.Type = "EVENING"
	assert.Error(t, shifts.Validate(bad))
}
