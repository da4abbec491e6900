package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/events"
	"github.com/umbra/earnings-engine/factory"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// monday 2025-03-10 09:00 UTC is "today" unless a test moves the clock.
var monday = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 3, day, hour, minute, 0, 0, time.UTC)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	ctx    context.Context
	e      *engine.Engine
	store  *sqlite.Store
	clock  *generic.FixedClock
	events *recorder
}

// newFixture wires an engine on an in-memory SQLite store with the default
// grid and monthly tiers and two active agents. No hourly rate is set.
func newFixture(t *testing.T, configure ...func(*engine.Options)) *fixture {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	opts := engine.DefaultOptions()
	for _, c := range configure {
		c(&opts)
	}
	f := &fixture{
		ctx:    context.Background(),
		store:  st,
		clock:  &generic.FixedClock{At: monday},
		events: &recorder{},
	}
	f.e = engine.New(engine.Deps{Store: st, Clock: f.clock, Publisher: f.events, Options: opts})

	_, err = f.e.ReplaceBonusGrid(f.ctx, factory.DefaultBonusGrid())
	require.NoError(t, err)
	_, err = f.e.ReplaceMonthlyTiers(f.ctx, factory.DefaultMonthlyTiers())
	require.NoError(t, err)
	for _, id := range []generic.ProcessorID{"agent-1", "agent-2"} {
		_, err := f.e.RegisterProcessor(f.ctx, generic.Processor{ID: id, Name: string(id), IsActive: true})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) deposit(t *testing.T, pid generic.ProcessorID, amount string) engine.DepositResult {
	t.Helper()
	res, err := f.e.RecordDeposit(f.ctx, engine.DepositInput{ProcessorID: pid, Amount: dec(amount)})
	require.NoError(t, err)
	return res
}

func (f *fixture) setRate(t *testing.T, rate string) {
	t.Helper()
	_, err := f.e.SetHourlyRate(f.ctx, dec(rate))
	require.NoError(t, err)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}
