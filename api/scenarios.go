/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario registers agents, loads the default
	reference data and records deposits or shifts through the engine, so
	the demo data went through exactly the same rules as production data.

AVAILABLE SCENARIOS:

	daily-grid:    Two agents climbing the daily grid today
	monthly-tiers: Last month's volumes landing in Silver, Gold and nothing
	burn:          A big day yesterday, a weak day today (burns at 22:00)
	shifts:        A clean shift, a forgotten shift, a corrupted one, a no-show

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Load default grid, monthly tiers and hourly rate
 3. Register agents
 4. Record deposits / shifts relative to the engine clock

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "burn"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - factory/reference.go: Default grid and tiers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/factory"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
	"go.uber.org/zap"
)

// Resetter wipes all persisted state. Both stores implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "daily-grid",
		Name:        "Daily Grid",
		Description: "Incremental daily bonus: $100 then $500 crosses into the 0.5% tier",
	},
	{
		ID:          "monthly-tiers",
		Name:        "Monthly Tiers",
		Description: "Last month at $25k, $35k and $15k for Silver, Gold and no bonus",
	},
	{
		ID:          "burn",
		Name:        "Performance Drop",
		Description: "$1000 yesterday and $400 today: the held bonus burns at the burn hour",
	},
	{
		ID:          "shifts",
		Name:        "Shifts",
		Description: "Clean, forgotten, corrupted and missed shifts for the auto-closer",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"daily-grid":    (*Handler).loadDailyGridScenario,
	"monthly-tiers": (*Handler).loadMonthlyTiersScenario,
	"burn":          (*Handler).loadBurnScenario,
	"shifts":        (*Handler).loadShiftsScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", req.ScenarioID)
		return
	}
	if h.Store == nil {
		writeError(w, http.StatusNotImplemented, "Scenario loading is disabled", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		writeEngineError(w, "Failed to reset database", err)
		return
	}
	if err := h.seedReference(ctx); err != nil {
		writeEngineError(w, "Failed to load reference data", err)
		return
	}
	if err := load(h, ctx); err != nil {
		writeEngineError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seedReference(ctx context.Context) error {
	if err := factory.DefaultReferenceData().Apply(ctx, h.Engine); err != nil {
		return err
	}
	_, err := h.Engine.SetHourlyRate(ctx, decimal.NewFromInt(2))
	return err
}

func (h *Handler) register(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := h.Engine.RegisterProcessor(ctx, generic.Processor{ID: generic.ProcessorID(id), Name: id, IsActive: true}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) deposit(ctx context.Context, pid, amount string, at time.Time) error {
	_, err := h.Engine.RecordDeposit(ctx, engine.DepositInput{
		ProcessorID: generic.ProcessorID(pid),
		Amount:      decimal.RequireFromString(amount),
		Timestamp:   at,
	})
	return err
}

func (h *Handler) loadDailyGridScenario(ctx context.Context) error {
	if err := h.register(ctx, "agent-1", "agent-2"); err != nil {
		return err
	}
	today := h.Engine.Calendar().Day(h.Engine.Clock().Now()).Start
	for _, d := range [][2]string{
		{"agent-1", "100"},
		{"agent-1", "500"},
		{"agent-2", "700"},
		{"agent-2", "600"},
	} {
		if err := h.deposit(ctx, d[0], d[1], today); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadMonthlyTiersScenario(ctx context.Context) error {
	if err := h.register(ctx, "agent-1", "agent-2", "agent-3"); err != nil {
		return err
	}
	cal := h.Engine.Calendar()
	lastMonth := cal.Month(h.Engine.Clock().Now()).Previous()
	for pid, amounts := range map[string][]string{
		"agent-1": {"10000", "15000"},
		"agent-2": {"20000", "15000"},
		"agent-3": {"15000"},
	} {
		for i, amount := range amounts {
			if err := h.deposit(ctx, pid, amount, lastMonth.Start.AddDate(0, 0, 3+7*i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) loadBurnScenario(ctx context.Context) error {
	if err := h.register(ctx, "agent-1", "agent-2"); err != nil {
		return err
	}
	today := h.Engine.Calendar().Day(h.Engine.Clock().Now())
	yesterday := today.Previous()
	if err := h.deposit(ctx, "agent-1", "1000", yesterday.Start.Add(10*time.Hour)); err != nil {
		return err
	}
	if err := h.deposit(ctx, "agent-2", "1000", yesterday.Start.Add(11*time.Hour)); err != nil {
		return err
	}
	if err := h.deposit(ctx, "agent-1", "400", today.Start); err != nil {
		return err
	}
	return h.deposit(ctx, "agent-2", "600", today.Start)
}

// loadShiftsScenario writes shifts straight to the store because their
// clock-in times lie in the past.
func (h *Handler) loadShiftsScenario(ctx context.Context) error {
	if err := h.register(ctx, "agent-1", "agent-2"); err != nil {
		return err
	}
	now := h.Engine.Clock().Now()
	start := now.Add(-10 * time.Hour).Truncate(time.Hour)
	ptr := func(t time.Time) *time.Time { return &t }

	list := []shifts.Shift{
		{ID: "shift-clean", ProcessorID: "agent-1", Type: shifts.TypeMorning,
			ScheduledStart: start, ScheduledEnd: start.Add(8 * time.Hour), ActualStart: ptr(start), Status: shifts.StatusActive},
		{ID: "shift-forgotten", ProcessorID: "agent-2", Type: shifts.TypeDay,
			ScheduledStart: start, ScheduledEnd: start.Add(8 * time.Hour), ActualStart: ptr(start.Add(15 * time.Minute)), Status: shifts.StatusActive},
		{ID: "shift-corrupted", ProcessorID: "agent-2", Type: shifts.TypeMorning,
			ScheduledStart: start.Add(-24 * time.Hour), ScheduledEnd: start.Add(-23 * time.Hour), ActualStart: ptr(start.Add(-22 * time.Hour)), Status: shifts.StatusActive},
		{ID: "shift-no-show", ProcessorID: "agent-1", Type: shifts.TypeNight,
			ScheduledStart: start.Add(-20 * time.Hour), ScheduledEnd: start.Add(-12 * time.Hour), Status: shifts.StatusScheduled},
	}
	for _, s := range list {
		s.CreatedAt, s.UpdatedAt = now, now
		if err := h.Engine.Store().InsertShift(ctx, s); err != nil {
			return err
		}
	}
	_, _, err := h.Engine.ClockOut(ctx, "shift-clean")
	return err
}
