/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Request validation and error status mapping
- Deposit, shift and bonus endpoints end to end on an in-memory store
- Reference data replacement
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/factory"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
	"github.com/umbra/earnings-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	router http.Handler
	engine *engine.Engine
	store  *sqlite.Store
	clock  *generic.FixedClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := &generic.FixedClock{At: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	e := engine.New(engine.Deps{Store: st, Clock: clock, Options: engine.DefaultOptions()})
	require.NoError(t, factory.DefaultReferenceData().Apply(context.Background(), e))

	h := NewHandler(e, st, nil)
	return &testServer{router: NewRouter(h, nil), engine: e, store: st, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) mustDo(t *testing.T, method, path string, body any, status int, out any) {
	t.Helper()
	rec := s.do(t, method, path, body)
	require.Equalf(t, status, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
}

func (s *testServer) register(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		s.mustDo(t, http.MethodPost, "/api/processors", CreateProcessorRequest{ID: id, Name: id}, http.StatusCreated, nil)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// =============================================================================
// DEPOSITS
// =============================================================================

func TestRecordDeposit_GridBonusAndHold(t *testing.T) {
	// GIVEN: an agent with $100 already deposited today
	s := newTestServer(t)
	s.register(t, "agent-1")
	s.mustDo(t, http.MethodPost, "/api/deposits", RecordDepositRequest{ProcessorID: "agent-1", Amount: "100"}, http.StatusCreated, nil)

	// WHEN: $500 more is deposited
	var res DepositDTO
	s.mustDo(t, http.MethodPost, "/api/deposits", RecordDepositRequest{ProcessorID: "agent-1", Amount: "500"}, http.StatusCreated, &res)

	// THEN: 0.5% of the deposit, held
	assert.True(t, res.BonusAmount.Equal(decimal.RequireFromString("2.5")), res.BonusAmount.String())
	assert.True(t, res.CumulativeTotal.Equal(decimal.NewFromInt(600)))
	assert.Equal(t, "grid-2", res.AppliedTierID)
	require.NotNil(t, res.Payment)
	assert.Equal(t, bonus.StatusHeld, res.Payment.Status)

	var list struct {
		Bonuses []bonus.Payment `json:"bonuses"`
	}
	s.mustDo(t, http.MethodGet, "/api/bonuses?processor_id=agent-1&status=HELD", nil, http.StatusOK, &list)
	assert.Len(t, list.Bonuses, 1)

	var deposits struct {
		Deposits []bonus.Deposit `json:"deposits"`
	}
	s.mustDo(t, http.MethodGet, "/api/deposits?processor_id=agent-1&from=2025-03-10T00:00:00Z", nil, http.StatusOK, &deposits)
	assert.Len(t, deposits.Deposits, 2)
}

func TestRecordDeposit_Errors(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "agent-1")

	cases := []struct {
		name   string
		body   any
		status int
	}{
		{"not a number", RecordDepositRequest{ProcessorID: "agent-1", Amount: "abc"}, http.StatusBadRequest},
		{"missing processor id", RecordDepositRequest{Amount: "10"}, http.StatusBadRequest},
		{"zero amount", RecordDepositRequest{ProcessorID: "agent-1", Amount: "0"}, http.StatusBadRequest},
		{"unknown agent", RecordDepositRequest{ProcessorID: "ghost", Amount: "10"}, http.StatusNotFound},
		{"unsupported currency", RecordDepositRequest{ProcessorID: "agent-1", Amount: "10", Currency: "EUR"}, http.StatusBadRequest},
		{"malformed body", "{", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/deposits", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(t, http.MethodPost, "/api/deposits", RecordDepositRequest{ProcessorID: "agent-1", Amount: "abc"})
	details, ok := decodeError(t, rec).Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "decimal", details["Amount"])
}

func TestVoidDeposit_TwiceConflicts(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "agent-1")
	var res DepositDTO
	s.mustDo(t, http.MethodPost, "/api/deposits", RecordDepositRequest{ProcessorID: "agent-1", Amount: "1000"}, http.StatusCreated, &res)

	path := fmt.Sprintf("/api/deposits/%s/void", res.Deposit.ID)
	s.mustDo(t, http.MethodPost, path, VoidDepositRequest{Reason: "test"}, http.StatusOK, nil)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path, VoidDepositRequest{Reason: "test"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, path, VoidDepositRequest{}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/deposits/nope/void", VoidDepositRequest{Reason: "x"}).Code)
}

// =============================================================================
// SHIFTS
// =============================================================================

func TestShiftLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "agent-1")
	s.mustDo(t, http.MethodPut, "/api/reference/salary", SalaryRequest{HourlyRate: "2.00"}, http.StatusOK, nil)

	// GIVEN: a scheduled shift clocked in at 09:00
	var shift shifts.Shift
	s.mustDo(t, http.MethodPost, "/api/shifts", ScheduleShiftRequest{
		ProcessorID:    "agent-1",
		Type:           "MORNING",
		ScheduledStart: s.clock.At,
		ScheduledEnd:   s.clock.At.Add(8 * time.Hour),
	}, http.StatusCreated, &shift)
	s.mustDo(t, http.MethodPost, "/api/shifts/"+shift.ID+"/clock-in", nil, http.StatusOK, nil)

	// WHEN: the accrual is queried mid-shift
	s.clock.Advance(90 * time.Minute)
	var live map[string]any
	s.mustDo(t, http.MethodGet, "/api/shifts/"+shift.ID+"/accrual", nil, http.StatusOK, &live)

	// THEN
	assert.Equal(t, "1.5", live["accrued_hours"])
	assert.Equal(t, "3", live["accrued_pay"])
	assert.Equal(t, true, live["in_progress"])

	// WHEN: the agent clocks out at 11:00
	s.clock.Advance(30 * time.Minute)
	var out struct {
		Shift   shifts.Shift    `json:"shift"`
		Accrual *shifts.Accrual `json:"accrual"`
	}
	s.mustDo(t, http.MethodPost, "/api/shifts/"+shift.ID+"/clock-out", nil, http.StatusOK, &out)
	assert.Equal(t, shifts.StatusCompleted, out.Shift.Status)
	require.NotNil(t, out.Accrual)
	assert.True(t, out.Accrual.Pay.Equal(decimal.NewFromInt(4)))

	var earnings engine.Earnings
	s.mustDo(t, http.MethodGet, "/api/processors/agent-1/earnings", nil, http.StatusOK, &earnings)
	assert.True(t, earnings.Settled.Equal(decimal.NewFromInt(4)))

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/shifts/"+shift.ID+"/clock-out", nil).Code)
}

func TestShiftAccrual_CorruptedDuration(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "agent-1")
	s.mustDo(t, http.MethodPut, "/api/reference/salary", SalaryRequest{HourlyRate: "2"}, http.StatusOK, nil)

	// GIVEN: a closed shift that ended before it started
	start, end := s.clock.At, s.clock.At.Add(-time.Hour)
	require.NoError(t, s.store.InsertShift(context.Background(), shifts.Shift{
		ID: "broken", ProcessorID: "agent-1", Type: shifts.TypeDay,
		ScheduledStart: start, ScheduledEnd: start.Add(time.Hour),
		ActualStart: &start, ActualEnd: &end, Status: shifts.StatusCompleted,
	}))

	// WHEN
	rec := s.do(t, http.MethodGet, "/api/shifts/broken/accrual", nil)

	// THEN
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "CORRUPTED_DURATION", resp.Error)
	assert.Equal(t, "-1", resp.Details.(map[string]any)["hours"])
}

func TestScheduleShift_Validation(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "agent-1")

	rec := s.do(t, http.MethodPost, "/api/shifts", ScheduleShiftRequest{
		ProcessorID:    "agent-1",
		Type:           "LUNCH",
		ScheduledStart: s.clock.At,
		ScheduledEnd:   s.clock.At.Add(-time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	details := decodeError(t, rec).Details.(map[string]any)
	assert.Equal(t, "oneof=MORNING DAY NIGHT", details["Type"])
	assert.Equal(t, "gtfield=ScheduledStart", details["ScheduledEnd"])
}

// =============================================================================
// BONUSES, REFERENCE DATA, ADMIN
// =============================================================================

func TestSweepAndMarkPaid(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "agent-1")
	var res DepositDTO
	s.mustDo(t, http.MethodPost, "/api/deposits", RecordDepositRequest{ProcessorID: "agent-1", Amount: "1000"}, http.StatusCreated, &res)
	require.NotNil(t, res.Payment)

	paidPath := "/api/bonuses/" + res.Payment.ID + "/paid"
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, paidPath, nil).Code)

	// two days later the hold has expired
	s.clock.Advance(48 * time.Hour)
	var report engine.SweepReport
	s.mustDo(t, http.MethodPost, "/api/admin/sweep", nil, http.StatusOK, &report)
	assert.Equal(t, []string{res.Payment.ID}, report.Approved)

	var paid bonus.Payment
	s.mustDo(t, http.MethodPost, paidPath, nil, http.StatusOK, &paid)
	assert.Equal(t, bonus.StatusPaid, paid.Status)

	var runs struct {
		Runs []engine.Run `json:"runs"`
	}
	s.mustDo(t, http.MethodGet, "/api/admin/runs?kind=bonus_sweep", nil, http.StatusOK, &runs)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, "api", runs.Runs[0].Trigger)
}

func TestMonthlyCalculate_DryRun(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "agent-1")
	s.mustDo(t, http.MethodPost, "/api/deposits", RecordDepositRequest{ProcessorID: "agent-1", Amount: "35000"}, http.StatusCreated, nil)

	var report engine.MonthlyReport
	s.mustDo(t, http.MethodPost, "/api/bonuses/monthly/calculate", MonthlyBonusRequest{Month: "2025-03", DryRun: true}, http.StatusOK, &report)
	require.Len(t, report.Lines, 1)
	assert.True(t, report.Lines[0].BonusAmount.Equal(decimal.NewFromInt(350)))
	assert.Nil(t, report.Lines[0].Payment)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/bonuses/monthly/calculate", MonthlyBonusRequest{Month: "March"}).Code)
}

func TestReferenceData_ReplaceGrid(t *testing.T) {
	s := newTestServer(t)

	upper := "999.99"
	var grid struct {
		Tiers []bonus.GridTier `json:"tiers"`
	}
	s.mustDo(t, http.MethodPut, "/api/reference/bonus-grid", map[string]any{"tiers": []GridTierRequest{
		{ID: "low", Min: "0", Max: &upper, Percent: "0"},
		{ID: "high", Min: "1000", Percent: "2"},
	}}, http.StatusOK, &grid)
	require.Len(t, grid.Tiers, 2)

	s.mustDo(t, http.MethodGet, "/api/reference/bonus-grid", nil, http.StatusOK, &grid)
	assert.Equal(t, "high", grid.Tiers[1].ID)

	// two unbounded tiers are rejected and the active grid is unchanged
	rec := s.do(t, http.MethodPut, "/api/reference/bonus-grid", map[string]any{"tiers": []GridTierRequest{
		{ID: "a", Min: "0", Percent: "1"},
		{ID: "b", Min: "500", Percent: "2"},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	s.mustDo(t, http.MethodGet, "/api/reference/bonus-grid", nil, http.StatusOK, &grid)
	assert.Len(t, grid.Tiers, 2)
}

func TestSalaryAndPayroll(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "agent-1")

	// without a rate payroll cannot be computed
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodGet, "/api/payroll?month=2025-03", nil).Code)
	var salary map[string]any
	s.mustDo(t, http.MethodGet, "/api/reference/salary", nil, http.StatusOK, &salary)
	assert.NotContains(t, salary, "hourly_rate")

	s.mustDo(t, http.MethodPut, "/api/reference/salary", SalaryRequest{HourlyRate: "2.50"}, http.StatusOK, nil)
	s.mustDo(t, http.MethodGet, "/api/reference/salary", nil, http.StatusOK, &salary)
	assert.Equal(t, "2.5", salary["hourly_rate"])

	var report engine.PayrollReport
	s.mustDo(t, http.MethodGet, "/api/payroll?month=2025-03", nil, http.StatusOK, &report)
	assert.Equal(t, "2025-03", report.Month)
	require.Len(t, report.Lines, 1)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/payroll?month=03-2025", nil).Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{generic.ErrShiftNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", generic.ErrProcessorNotFound), http.StatusNotFound},
		{generic.ErrConcurrentModification, http.StatusConflict},
		{generic.ErrDuplicateIdempotencyKey, http.StatusConflict},
		{&generic.TransitionError{Kind: "shift", ID: "s", From: "COMPLETED", To: "COMPLETED"}, http.StatusConflict},
		{generic.ErrMissingReferenceData, http.StatusUnprocessableEntity},
		{&generic.CorruptedDurationError{ShiftID: "s"}, http.StatusUnprocessableEntity},
		{generic.ErrInvalidAmount, http.StatusBadRequest},
		{generic.ErrInvalidPeriod, http.StatusBadRequest},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
