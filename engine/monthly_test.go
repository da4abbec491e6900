package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/generic"
)

// seedFebruary books one February deposit per agent and moves the clock to
// March 2.
func seedFebruary(t *testing.T, f *fixture) {
	t.Helper()
	_, err := f.e.RegisterProcessor(f.ctx, generic.Processor{ID: "agent-3", Name: "agent-3", IsActive: true})
	require.NoError(t, err)

	feb := time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)
	for pid, amount := range map[generic.ProcessorID]string{"agent-1": "25000", "agent-2": "35000", "agent-3": "15000"} {
		_, err := f.e.RecordDeposit(f.ctx, engine.DepositInput{ProcessorID: pid, Amount: dec(amount), Timestamp: feb})
		require.NoError(t, err)
	}
	// a March deposit must not leak into February
	_, err = f.e.RecordDeposit(f.ctx, engine.DepositInput{ProcessorID: "agent-3", Amount: dec("10000"), Timestamp: at(1, 0, 0)})
	require.NoError(t, err)

	f.clock.At = at(2, 9, 0)
}

func monthlyPayments(t *testing.T, f *fixture) []bonus.Payment {
	t.Helper()
	list, err := f.e.ListPayments(f.ctx, bonus.PaymentFilter{Kind: bonus.KindMonthly})
	require.NoError(t, err)
	return list
}

func TestCalculateMonthlyBonus_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	seedFebruary(t, f)

	// WHEN
	report, err := f.e.CalculateMonthlyBonus(f.ctx, engine.MonthlyRequest{Month: "2025-02", DryRun: true})

	// THEN: Silver, Gold and below the first tier
	require.NoError(t, err)
	require.Len(t, report.Lines, 3)
	assertDec(t, "125", report.Lines[0].BonusAmount)
	assert.Equal(t, "Silver", report.Lines[0].TierName)
	assertDec(t, "350", report.Lines[1].BonusAmount)
	assert.Equal(t, "Gold", report.Lines[1].TierName)
	assertDec(t, "0", report.Lines[2].BonusAmount)
	assertDec(t, "15000", report.Lines[2].Volume)
	assertDec(t, "475", report.Total)

	for _, l := range report.Lines {
		assert.Nil(t, l.Payment)
	}
	assert.Empty(t, monthlyPayments(t, f))

	runs, err := f.e.Runs(f.ctx, engine.RunMonthly, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestCalculateMonthlyBonus_DefaultsToPreviousMonthAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seedFebruary(t, f)

	// WHEN: no month given on March 2
	first, err := f.e.CalculateMonthlyBonus(f.ctx, engine.MonthlyRequest{})
	require.NoError(t, err)

	// THEN: February is evaluated and positive bonuses are held for 72h
	assert.Equal(t, "2025-02", first.Month)
	require.Len(t, first.Lines, 3)
	ids := map[generic.ProcessorID]string{}
	for _, l := range first.Lines {
		assert.False(t, l.Existing)
		if l.Payment == nil {
			continue
		}
		ids[l.ProcessorID] = l.Payment.ID
		assert.Equal(t, bonus.StatusHeld, l.Payment.Status)
		assert.Equal(t, "2025-02", l.Payment.Period)
		assert.Equal(t, engine.MonthlyKey(l.ProcessorID, "2025-02"), l.Payment.IdempotencyKey)
		assert.True(t, l.Payment.HoldUntil.Equal(at(2, 9, 0).Add(72*time.Hour)))
	}
	assert.Len(t, ids, 2)

	// WHEN: the same month runs again
	second, err := f.e.CalculateMonthlyBonus(f.ctx, engine.MonthlyRequest{Month: "2025-02"})
	require.NoError(t, err)

	// THEN: stored payments are returned, nothing new is created
	for _, l := range second.Lines {
		if l.Payment == nil {
			continue
		}
		assert.True(t, l.Existing)
		assert.Equal(t, ids[l.ProcessorID], l.Payment.ID)
	}
	assert.Len(t, monthlyPayments(t, f), 2)

	runs, err := f.e.Runs(f.ctx, engine.RunMonthly, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, engine.RunCompleted, runs[0].Status)
}

func TestCalculateMonthlyBonus_SingleProcessor(t *testing.T) {
	f := newFixture(t)
	seedFebruary(t, f)

	report, err := f.e.CalculateMonthlyBonus(f.ctx, engine.MonthlyRequest{ProcessorID: "agent-2", Month: "2025-02"})
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assertDec(t, "350", report.Lines[0].BonusAmount)

	_, err = f.e.CalculateMonthlyBonus(f.ctx, engine.MonthlyRequest{ProcessorID: "ghost"})
	assert.ErrorIs(t, err, generic.ErrProcessorNotFound)

	_, err = f.e.CalculateMonthlyBonus(f.ctx, engine.MonthlyRequest{Month: "Feb"})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}
