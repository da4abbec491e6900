package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
)

var errStoreDown = errors.New("store unavailable")

// flakyStore fails every per-agent read for one processor and passes the
// rest through.
type flakyStore struct {
	engine.Store
	broken generic.ProcessorID
}

func (s flakyStore) ListShifts(ctx context.Context, f shifts.Filter) ([]shifts.Shift, error) {
	if f.ProcessorID == s.broken {
		return nil, errStoreDown
	}
	return s.Store.ListShifts(ctx, f)
}

func (s flakyStore) DepositTotals(ctx context.Context, pid generic.ProcessorID, from, to time.Time) (engine.DepositTotals, error) {
	if pid == s.broken {
		return engine.DepositTotals{}, errStoreDown
	}
	return s.Store.DepositTotals(ctx, pid, from, to)
}

// withBrokenAgent returns an engine over the fixture's database whose
// reads fail for pid.
func (f *fixture) withBrokenAgent(pid generic.ProcessorID) *engine.Engine {
	return engine.New(engine.Deps{
		Store:   flakyStore{Store: f.store, broken: pid},
		Clock:   f.clock,
		Options: engine.DefaultOptions(),
	})
}

func assertItemError(t *testing.T, errs []generic.ItemError, pid generic.ProcessorID) {
	t.Helper()
	require.Len(t, errs, 1)
	assert.Equal(t, pid, errs[0].ProcessorID)
	assert.Contains(t, errs[0].Message, errStoreDown.Error())
}

func TestPayroll_OneAgentFailureKeepsOthers(t *testing.T) {
	f := newFixture(t)
	f.setRate(t, "2.00")

	// GIVEN: agent-2 worked 2h, and agent-1's shifts cannot be read
	s := f.startShift(t, "agent-2", at(10, 9, 0), at(10, 11, 0), at(10, 9, 0))
	f.clock.At = at(10, 11, 0)
	_, _, err := f.e.ClockOut(f.ctx, s.ID)
	require.NoError(t, err)
	broken := f.withBrokenAgent("agent-1")

	// WHEN
	report, err := broken.Payroll(f.ctx, "2025-03")

	// THEN: the report still succeeds with agent-2's line
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assert.Equal(t, generic.ProcessorID("agent-2"), report.Lines[0].ProcessorID)
	assertDec(t, "4", report.Lines[0].HourlyPay)
	assertDec(t, "4", report.Total)

	// AND: agent-1's failure is itemized
	assertItemError(t, report.Errors, "agent-1")
	assert.Equal(t, "2025-03", report.Errors[0].ItemID)
}

func TestSweepBonusHolds_BurnCheckFailureKeepsOthers(t *testing.T) {
	f := newFixture(t)

	// GIVEN: both agents earned a held bonus on Sunday and deposited nothing Monday
	f.clock.At = at(9, 10, 0)
	first := f.deposit(t, "agent-1", "1000")
	second := f.deposit(t, "agent-2", "1000")
	require.NotNil(t, first.Payment)
	require.NotNil(t, second.Payment)

	// AND: agent-1's deposit totals cannot be read
	broken := f.withBrokenAgent("agent-1")

	// WHEN: the sweep runs after the burn hour
	f.clock.At = at(10, 22, 30)
	report, err := broken.SweepBonusHolds(f.ctx)

	// THEN: agent-2's bonus is burned and agent-1's failure is itemized
	require.NoError(t, err)
	assert.True(t, report.BurnCheckRan)
	assert.Equal(t, 2, report.AgentsChecked)
	assert.Equal(t, []string{second.Payment.ID}, report.Burned)
	assertItemError(t, report.Errors, "agent-1")

	// AND: agent-1's payment is untouched
	p, err := f.store.GetPayment(f.ctx, first.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Payment.Status, p.Status)
}

func TestCalculateMonthlyBonus_OneAgentFailureKeepsOthers(t *testing.T) {
	f := newFixture(t)

	// GIVEN: agent-2 deposited enough in March for a monthly tier
	f.clock.At = at(10, 10, 0)
	f.deposit(t, "agent-2", "40000")
	broken := f.withBrokenAgent("agent-1")

	// WHEN
	f.clock.At = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	report, err := broken.CalculateMonthlyBonus(f.ctx, engine.MonthlyRequest{DryRun: true})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "2025-03", report.Month)
	require.Len(t, report.Lines, 1)
	assert.Equal(t, generic.ProcessorID("agent-2"), report.Lines[0].ProcessorID)
	assert.True(t, report.Lines[0].BonusAmount.IsPositive())
	assertItemError(t, report.Errors, "agent-1")
}
