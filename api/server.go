/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Timeout:    Bounds every request
  5. CORS:       Cross-origin requests from operator tooling

ROUTE GROUPS:
  /api/processors/*     Agents and their earnings
  /api/deposits/*       Deposit recording and voids
  /api/shifts/*         Shift life cycle and accrual
  /api/bonuses/*        Bonus payments and monthly calculation
  /api/reference/*      Bonus grid, monthly tiers, salary
  /api/admin/*          Manual sweep, auto-close, run history
  /api/payroll          Monthly payroll report
  /api/scenarios/*      Demo data (dev only)

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/processors", func(r chi.Router) {
			r.Get("/", h.ListProcessors)
			r.Post("/", h.CreateProcessor)
			r.Get("/{id}/earnings", h.GetEarnings)
		})

		r.Route("/deposits", func(r chi.Router) {
			r.Get("/", h.ListDeposits)
			r.Post("/", h.RecordDeposit)
			r.Post("/{id}/void", h.VoidDeposit)
		})

		r.Route("/shifts", func(r chi.Router) {
			r.Get("/", h.ListShifts)
			r.Post("/", h.ScheduleShift)
			r.Post("/{id}/clock-in", h.ClockIn)
			r.Post("/{id}/clock-out", h.ClockOut)
			r.Get("/{id}/accrual", h.GetShiftAccrual)
		})

		r.Route("/bonuses", func(r chi.Router) {
			r.Get("/", h.ListBonuses)
			r.Post("/monthly/calculate", h.CalculateMonthlyBonus)
			r.Post("/{id}/paid", h.MarkBonusPaid)
		})

		r.Route("/reference", func(r chi.Router) {
			r.Get("/bonus-grid", h.GetBonusGrid)
			r.Put("/bonus-grid", h.PutBonusGrid)
			r.Get("/monthly-tiers", h.GetMonthlyTiers)
			r.Put("/monthly-tiers", h.PutMonthlyTiers)
			r.Get("/salary", h.GetSalary)
			r.Put("/salary", h.PutSalary)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.RunSweep)
			r.Post("/auto-close", h.RunAutoClose)
			r.Get("/runs", h.ListRuns)
		})

		r.Get("/payroll", h.GetPayroll)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
