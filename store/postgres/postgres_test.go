package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("UMBRA_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("UMBRA_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := New(ctx, url)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

var day = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestStore_DepositTotalsHalfOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, at := range []time.Time{day, day.Add(14 * time.Hour), day.Add(15 * time.Hour)} {
		require.NoError(t, s.InsertDeposit(ctx, bonus.Deposit{
			ID: "d" + string(rune('1'+i)), ProcessorID: "agent-1", Amount: decimal.NewFromInt(100),
			Currency: "USD", BaseAmount: decimal.RequireFromString("100.25"), BonusAmount: decimal.Zero,
			Status: bonus.DepositRecorded, CreatedAt: at,
		}))
	}

	// [09:00, 24:00) holds the first two; the third is exactly at midnight
	totals, err := s.DepositTotals(ctx, "agent-1", day, day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Count)
	assert.Equal(t, "200.5", totals.Volume.String())
}

func TestStore_PaymentIdempotencyAndCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := bonus.Payment{
		ID: "p1", ProcessorID: "agent-1", Kind: bonus.KindMonthly, Amount: decimal.NewFromInt(125),
		Status: bonus.StatusHeld, HoldUntil: day, Period: "2025-02", IdempotencyKey: "monthly:agent-1:2025-02",
		CreatedAt: day, UpdatedAt: day,
	}
	require.NoError(t, s.InsertPayment(ctx, p))

	dup := p
	dup.ID = "p2"
	assert.ErrorIs(t, s.InsertPayment(ctx, dup), generic.ErrDuplicateIdempotencyKey)

	approved := p
	approved.Status = bonus.StatusApproved
	require.NoError(t, s.TransitionPayment(ctx, approved, bonus.StatusHeld))
	assert.ErrorIs(t, s.TransitionPayment(ctx, approved, bonus.StatusHeld), generic.ErrConcurrentModification)

	missing := approved
	missing.ID = "nope"
	assert.ErrorIs(t, s.TransitionPayment(ctx, missing, bonus.StatusHeld), generic.ErrBonusPaymentNotFound)
}

func TestStore_ShiftRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := day
	sh := shifts.Shift{
		ID: "s1", ProcessorID: "agent-1", Type: shifts.TypeDay,
		ScheduledStart: day, ScheduledEnd: day.Add(8 * time.Hour), ActualStart: &start,
		Status: shifts.StatusActive, Notes: []string{"clocked in"}, CreatedAt: day, UpdatedAt: day,
	}
	require.NoError(t, s.InsertShift(ctx, sh))

	got, err := s.GetShift(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.ActualStart)
	assert.True(t, got.ActualStart.Equal(start))
	assert.Nil(t, got.ActualEnd)
	assert.Equal(t, []string{"clocked in"}, got.Notes)

	list, err := s.ListShifts(ctx, shifts.Filter{Status: shifts.StatusActive, EndBefore: day.Add(9 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx engine.Store) error {
		require.NoError(t, tx.SaveProcessor(ctx, generic.Processor{ID: "agent-9", Name: "Nine", Role: "processor", IsActive: true, CreatedAt: day}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = s.GetProcessor(ctx, "agent-9")
	assert.ErrorIs(t, err, generic.ErrProcessorNotFound)
}
