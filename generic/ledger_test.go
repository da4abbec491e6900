package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() generic.Ledger {
	return generic.NewLedger(store.NewMemory())
}

func usd(s string) generic.Amount {
	return generic.NewAmountFromDecimal(decimal.RequireFromString(s), generic.Currency("USD"))
}

func earning(id string, at time.Time, amount generic.Amount, key string) generic.Earning {
	return generic.Earning{
		ID:             generic.EarningID(id),
		ProcessorID:    "agent-1",
		Type:           generic.EarningHourlyPay,
		Amount:         amount,
		EffectiveAt:    at,
		IdempotencyKey: key,
	}
}

var march = generic.Period{
	Start: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestLedger_AppendRejectsDuplicateKey(t *testing.T) {
	// GIVEN: An earning booked for shift s1
	// WHEN: The same shift is booked again
	// THEN: The second append fails and the total is unchanged

	ctx := context.Background()
	ledger := newTestLedger()
	at := time.Date(2025, time.March, 10, 17, 0, 0, 0, time.UTC)

	if err := ledger.Append(ctx, earning("e1", at, usd("4.00"), "shift:s1")); err != nil {
		t.Fatalf("first append: %v", err)
	}
	err := ledger.Append(ctx, earning("e2", at, usd("4.00"), "shift:s1"))
	if !errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	total, err := ledger.Total(ctx, "agent-1", march, generic.Currency("USD"))
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if !total.Value.Equal(usd("4").Value) {
		t.Errorf("expected 4.00, got %s", total)
	}
}

func TestLedger_AppendOnceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	at := time.Date(2025, time.March, 10, 17, 0, 0, 0, time.UTC)

	wrote, err := ledger.AppendOnce(ctx, earning("e1", at, usd("2.50"), "bonus:p1"))
	if err != nil || !wrote {
		t.Fatalf("expected first write, got wrote=%v err=%v", wrote, err)
	}
	wrote, err = ledger.AppendOnce(ctx, earning("e2", at, usd("2.50"), "bonus:p1"))
	if err != nil || wrote {
		t.Fatalf("expected silent duplicate, got wrote=%v err=%v", wrote, err)
	}
}

func TestLedger_TotalIsHalfOpenAndUnitFiltered(t *testing.T) {
	// GIVEN: Entries at the first instant of March, mid-month, the first
	//        instant of April, and one in hours
	// THEN: March holds the first two currency entries only

	ctx := context.Background()
	ledger := newTestLedger()

	entries := []generic.Earning{
		earning("e1", march.Start, usd("1.00"), ""),
		earning("e2", march.Start.Add(10*24*time.Hour), usd("2.00"), ""),
		earning("e3", march.End, usd("4.00"), ""),
		earning("e4", march.Start.Add(time.Hour), generic.NewAmount(3, generic.UnitHours), ""),
	}
	for _, e := range entries {
		if err := ledger.Append(ctx, e); err != nil {
			t.Fatalf("append %s: %v", e.ID, err)
		}
	}

	total, err := ledger.Total(ctx, "agent-1", march, generic.Currency("USD"))
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if !total.Value.Equal(usd("3").Value) {
		t.Errorf("expected 3.00, got %s", total)
	}

	list, _ := ledger.Earnings(ctx, "agent-1", march)
	if len(list) != 3 {
		t.Errorf("expected 3 entries in March, got %d", len(list))
	}
}

func TestMemory_AppendBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	at := march.Start

	err := mem.AppendBatch(ctx, []generic.Earning{
		earning("e1", at, usd("1"), "k1"),
		earning("e2", at, usd("1"), "k1"),
	})
	if !errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected duplicate inside batch to fail, got %v", err)
	}
	if list, _ := mem.Load(ctx, "agent-1"); len(list) != 0 {
		t.Errorf("expected nothing written, got %d entries", len(list))
	}
}
