/*
handlers.go - HTTP API handlers for the earnings engine

PURPOSE:
  Exposes the engine via REST. Handlers parse and validate the request,
  call exactly one engine operation, and serialize the result. No business
  rule lives here: the same operations back the scheduler and earnctl.

ENDPOINTS:
  Processors:
    POST   /api/processors                  Register or update an agent
    GET    /api/processors                  List agents (?active=true)
    GET    /api/processors/{id}/earnings    Month-to-date earnings

  Deposits:
    POST   /api/deposits                    Record a deposit, returns bonus
    GET    /api/deposits                    List (?processor_id, from, to, status, limit)
    POST   /api/deposits/{id}/void          Void and burn its held bonus

  Shifts:
    POST   /api/shifts                      Schedule a shift
    GET    /api/shifts                      List (?processor_id, status, from, to, limit)
    POST   /api/shifts/{id}/clock-in
    POST   /api/shifts/{id}/clock-out       Close and book hourly pay
    GET    /api/shifts/{id}/accrual         Hours and pay, or CORRUPTED_DURATION

  Bonuses:
    GET    /api/bonuses                     List (?processor_id, status, kind, period, limit)
    POST   /api/bonuses/{id}/paid           APPROVED -> PAID
    POST   /api/bonuses/monthly/calculate   Monthly tiers, optional dry run

  Reference data:
    GET|PUT /api/reference/bonus-grid
    GET|PUT /api/reference/monthly-tiers
    GET|PUT /api/reference/salary

  Admin:
    POST   /api/admin/sweep                 Hold/burn sweep now
    POST   /api/admin/auto-close            Shift auto-close now
    GET    /api/admin/runs                  Batch run history (?kind, limit)
    GET    /api/payroll                     Payroll (?month=YYYY-MM)

ERROR HANDLING:
  Engine errors map to HTTP status through the generic error helpers:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Lost race, duplicate, invalid state transition
  - 422: Missing reference data, corrupted shift duration
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request data structures and validation
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Store  Resetter // nil disables scenario loading

	validate *validator.Validate
	log      *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler around a configured engine.
func NewHandler(e *engine.Engine, store Resetter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   e,
		Store:    store,
		validate: newValidator(),
		log:      logger.Named("api"),
	}
}

// =============================================================================
// PROCESSOR HANDLERS
// =============================================================================

func (h *Handler) CreateProcessor(w http.ResponseWriter, r *http.Request) {
	var req CreateProcessorRequest
	if !h.decode(w, r, &req) {
		return
	}
	active := req.IsActive == nil || *req.IsActive
	p, err := h.Engine.RegisterProcessor(r.Context(), generic.Processor{
		ID:       generic.ProcessorID(req.ID),
		Name:     req.Name,
		Role:     req.Role,
		IsActive: active,
	})
	if err != nil {
		writeEngineError(w, "Failed to register processor", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) ListProcessors(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := h.Engine.ListProcessors(r.Context(), activeOnly)
	if err != nil {
		writeEngineError(w, "Failed to list processors", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processors": list})
}

// GetEarnings returns the agent's month so far, including shifts in progress.
func (h *Handler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	pid := generic.ProcessorID(chi.URLParam(r, "id"))
	earnings, err := h.Engine.CurrentEarnings(r.Context(), pid)
	if err != nil {
		writeEngineError(w, "Failed to compute earnings", err)
		return
	}
	writeJSON(w, http.StatusOK, earnings)
}

// =============================================================================
// DEPOSIT HANDLERS
// =============================================================================

func (h *Handler) RecordDeposit(w http.ResponseWriter, r *http.Request) {
	var req RecordDepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, _ := decimal.NewFromString(req.Amount)
	in := engine.DepositInput{
		ProcessorID: generic.ProcessorID(req.ProcessorID),
		Amount:      amount,
		Currency:    req.Currency,
	}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}

	res, err := h.Engine.RecordDeposit(r.Context(), in)
	if err != nil {
		writeEngineError(w, "Failed to record deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, DepositDTO{
		Deposit:         res.Deposit,
		BonusAmount:     res.BonusAmount,
		AppliedTierID:   res.AppliedTierID,
		CumulativeTotal: res.CumulativeTotal,
		Payment:         res.Payment,
	})
}

func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, ok := timeRange(w, r)
	if !ok {
		return
	}
	list, err := h.Engine.ListDeposits(r.Context(), bonus.DepositFilter{
		ProcessorID: generic.ProcessorID(q.Get("processor_id")),
		Status:      bonus.DepositStatus(q.Get("status")),
		From:        from,
		To:          to,
		Limit:       limit(r),
	})
	if err != nil {
		writeEngineError(w, "Failed to list deposits", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": list})
}

func (h *Handler) VoidDeposit(w http.ResponseWriter, r *http.Request) {
	var req VoidDepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	dep, err := h.Engine.VoidDeposit(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeEngineError(w, "Failed to void deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

// =============================================================================
// SHIFT HANDLERS
// =============================================================================

func (h *Handler) ScheduleShift(w http.ResponseWriter, r *http.Request) {
	var req ScheduleShiftRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.Engine.ScheduleShift(r.Context(), shifts.Shift{
		ProcessorID:    generic.ProcessorID(req.ProcessorID),
		Type:           shifts.Type(req.Type),
		ScheduledStart: req.ScheduledStart,
		ScheduledEnd:   req.ScheduledEnd,
	})
	if err != nil {
		writeEngineError(w, "Failed to schedule shift", err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) ListShifts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, ok := timeRange(w, r)
	if !ok {
		return
	}
	list, err := h.Engine.ListShifts(r.Context(), shifts.Filter{
		ProcessorID: generic.ProcessorID(q.Get("processor_id")),
		Status:      shifts.Status(q.Get("status")),
		From:        from,
		To:          to,
		Limit:       limit(r),
	})
	if err != nil {
		writeEngineError(w, "Failed to list shifts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shifts": list})
}

func (h *Handler) ClockIn(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.ClockIn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Failed to clock in", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) ClockOut(w http.ResponseWriter, r *http.Request) {
	s, accrual, err := h.Engine.ClockOut(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Failed to clock out", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift": s, "accrual": accrual})
}

// GetShiftAccrual answers the shift-tracking query: accrued hours and pay,
// or a CORRUPTED_DURATION error carrying the offending hours.
func (h *Handler) GetShiftAccrual(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.ShiftAccrual(r.Context(), chi.URLParam(r, "id"))
	var cerr *generic.CorruptedDurationError
	if errors.As(err, &cerr) {
		writeError(w, http.StatusUnprocessableEntity, generic.ErrCorruptedDuration.Error(), map[string]string{
			"shift_id": cerr.ShiftID,
			"hours":    cerr.Hours.String(),
		})
		return
	}
	if err != nil {
		writeEngineError(w, "Failed to compute accrual", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shift_id":      a.ShiftID,
		"accrued_hours": a.Hours,
		"accrued_pay":   a.Pay,
		"in_progress":   a.InProgress,
	})
}

// =============================================================================
// BONUS HANDLERS
// =============================================================================

func (h *Handler) ListBonuses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.Engine.ListPayments(r.Context(), bonus.PaymentFilter{
		ProcessorID: generic.ProcessorID(q.Get("processor_id")),
		Status:      bonus.Status(q.Get("status")),
		Kind:        bonus.Kind(q.Get("kind")),
		Period:      q.Get("period"),
		Limit:       limit(r),
	})
	if err != nil {
		writeEngineError(w, "Failed to list bonuses", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bonuses": list})
}

func (h *Handler) MarkBonusPaid(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.MarkBonusPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Failed to mark bonus paid", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) CalculateMonthlyBonus(w http.ResponseWriter, r *http.Request) {
	var req MonthlyBonusRequest
	if !h.decode(w, r, &req) {
		return
	}
	report, err := h.Engine.CalculateMonthlyBonus(engine.WithTrigger(r.Context(), "api"), engine.MonthlyRequest{
		ProcessorID: generic.ProcessorID(req.ProcessorID),
		Month:       req.Month,
		DryRun:      req.DryRun,
	})
	if err != nil {
		writeEngineError(w, "Failed to calculate monthly bonus", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

func (h *Handler) GetBonusGrid(w http.ResponseWriter, r *http.Request) {
	grid, err := h.Engine.BonusGrid(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to load bonus grid", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": grid.Tiers()})
}

func (h *Handler) PutBonusGrid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tiers []GridTierRequest `json:"tiers" validate:"dive"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	tiers := make([]bonus.GridTier, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		tier, err := t.toTier()
		if err != nil {
			writeEngineError(w, "Invalid tier", err)
			return
		}
		tiers = append(tiers, tier)
	}
	grid, err := h.Engine.ReplaceBonusGrid(r.Context(), tiers)
	if err != nil {
		writeEngineError(w, "Failed to replace bonus grid", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": grid.Tiers()})
}

func (h *Handler) GetMonthlyTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.Engine.MonthlyTiers(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to load monthly tiers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers.Tiers()})
}

func (h *Handler) PutMonthlyTiers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tiers []MonthlyTierRequest `json:"tiers" validate:"dive"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	tiers := make([]bonus.MonthlyTier, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		tier, err := t.toTier()
		if err != nil {
			writeEngineError(w, "Invalid tier", err)
			return
		}
		tiers = append(tiers, tier)
	}
	mt, err := h.Engine.ReplaceMonthlyTiers(r.Context(), tiers)
	if err != nil {
		writeEngineError(w, "Failed to replace monthly tiers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": mt.Tiers()})
}

func (h *Handler) GetSalary(w http.ResponseWriter, r *http.Request) {
	history, err := h.Engine.SalaryHistory(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to load salary settings", err)
		return
	}
	resp := map[string]any{"history": history}
	if rate, err := h.Engine.HourlyRate(r.Context()); err == nil {
		resp["hourly_rate"] = rate
	} else if !errors.Is(err, generic.ErrMissingReferenceData) {
		writeEngineError(w, "Failed to load hourly rate", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) PutSalary(w http.ResponseWriter, r *http.Request) {
	var req SalaryRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, _ := decimal.NewFromString(req.HourlyRate)
	s, err := h.Engine.SetHourlyRate(r.Context(), rate)
	if err != nil {
		writeEngineError(w, "Failed to set hourly rate", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.SweepBonusHolds(engine.WithTrigger(r.Context(), "api"))
	if err != nil {
		writeEngineError(w, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) RunAutoClose(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.AutoCloseShifts(engine.WithTrigger(r.Context(), "api"))
	if err != nil {
		writeEngineError(w, "Auto-close failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Engine.Runs(r.Context(), engine.RunKind(r.URL.Query().Get("kind")), limit(r))
	if err != nil {
		writeEngineError(w, "Failed to list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.Payroll(r.Context(), r.URL.Query().Get("month"))
	if err != nil {
		writeEngineError(w, "Failed to compute payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. On failure it has already
// written the 400 response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", validationDetails(err))
		return false
	}
	return true
}

func limit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// timeRange parses optional RFC 3339 "from" and "to" query parameters.
func timeRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s (use RFC 3339)", p.name), err.Error())
			return from, to, false
		}
		*p.dst = t
	}
	return from, to, true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrMissingReferenceData), errors.Is(err, generic.ErrCorruptedDuration):
		return http.StatusUnprocessableEntity
	case generic.IsRetryable(err),
		errors.Is(err, generic.ErrDuplicateIdempotencyKey),
		errors.Is(err, generic.ErrInvalidTransition):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}

func writeEngineError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err.Error())
}
