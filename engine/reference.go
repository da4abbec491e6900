package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
	"go.uber.org/zap"
)

// =============================================================================
// PROCESSORS
// =============================================================================

func (e *Engine) RegisterProcessor(ctx context.Context, p generic.Processor) (generic.Processor, error) {
	if strings.TrimSpace(string(p.ID)) == "" {
		return generic.Processor{}, fmt.Errorf("%w: processor id is required", generic.ErrInvalidReferenceData)
	}
	if p.Role == "" {
		p.Role = "processor"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = e.clock.Now()
	}
	if err := e.store.SaveProcessor(ctx, p); err != nil {
		return generic.Processor{}, err
	}
	return p, nil
}

func (e *Engine) GetProcessor(ctx context.Context, id generic.ProcessorID) (generic.Processor, error) {
	return e.store.GetProcessor(ctx, id)
}

func (e *Engine) ListProcessors(ctx context.Context, activeOnly bool) ([]generic.Processor, error) {
	return e.store.ListProcessors(ctx, activeOnly)
}

// =============================================================================
// BONUS REFERENCE DATA - Replacement is prospective only
// =============================================================================

// ReplaceBonusGrid swaps the active daily grid. Deposits already recorded
// keep the bonus they were given.
func (e *Engine) ReplaceBonusGrid(ctx context.Context, tiers []bonus.GridTier) (bonus.Grid, error) {
	for i := range tiers {
		if tiers[i].ID == "" {
			tiers[i].ID = newID("grid")
		}
		tiers[i].IsActive = true
	}
	grid, err := bonus.NewGrid(tiers)
	if err != nil {
		return bonus.Grid{}, err
	}
	if err := e.store.ReplaceBonusGrid(ctx, grid.Tiers()); err != nil {
		return bonus.Grid{}, err
	}
	e.log.Info("bonus grid replaced", zap.Int("tiers", len(grid.Tiers())))
	return grid, nil
}

func (e *Engine) BonusGrid(ctx context.Context) (bonus.Grid, error) {
	rows, err := e.store.ActiveBonusGrid(ctx)
	if err != nil {
		return bonus.Grid{}, err
	}
	return bonus.NewGrid(rows)
}

func (e *Engine) ReplaceMonthlyTiers(ctx context.Context, tiers []bonus.MonthlyTier) (bonus.MonthlyTiers, error) {
	for i := range tiers {
		if tiers[i].ID == "" {
			tiers[i].ID = newID("tier")
		}
		tiers[i].IsActive = true
	}
	mt, err := bonus.NewMonthlyTiers(tiers)
	if err != nil {
		return bonus.MonthlyTiers{}, err
	}
	if err := e.store.ReplaceMonthlyTiers(ctx, mt.Tiers()); err != nil {
		return bonus.MonthlyTiers{}, err
	}
	e.log.Info("monthly tiers replaced", zap.Int("tiers", len(mt.Tiers())))
	return mt, nil
}

func (e *Engine) MonthlyTiers(ctx context.Context) (bonus.MonthlyTiers, error) {
	rows, err := e.store.ActiveMonthlyTiers(ctx)
	if err != nil {
		return bonus.MonthlyTiers{}, err
	}
	return bonus.NewMonthlyTiers(rows)
}

// =============================================================================
// SALARY SETTINGS
// =============================================================================

// HourlyRate is the active rate, or the configured fallback. With neither,
// it fails with ErrMissingReferenceData instead of guessing.
func (e *Engine) HourlyRate(ctx context.Context) (decimal.Decimal, error) {
	return e.hourlyRate(ctx, e.store)
}

func (e *Engine) hourlyRate(ctx context.Context, st Store) (decimal.Decimal, error) {
	s, err := st.ActiveSalarySettings(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if s != nil {
		return s.HourlyRate, nil
	}
	if e.opts.FallbackHourlyRate != nil {
		e.log.Warn("no active salary settings, using configured fallback rate",
			zap.String("rate", e.opts.FallbackHourlyRate.String()))
		return *e.opts.FallbackHourlyRate, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no active salary settings and no fallback hourly rate configured", generic.ErrMissingReferenceData)
}

// SetHourlyRate supersedes the active settings. The old record is kept
// inactive for history.
func (e *Engine) SetHourlyRate(ctx context.Context, rate decimal.Decimal) (shifts.SalarySettings, error) {
	if rate.IsNegative() || rate.IsZero() {
		return shifts.SalarySettings{}, fmt.Errorf("%w: hourly rate must be positive, got %s", generic.ErrInvalidAmount, rate)
	}
	s := shifts.SalarySettings{
		ID:         newID("sal"),
		HourlyRate: rate,
		IsActive:   true,
		CreatedAt:  e.clock.Now(),
	}
	if err := e.store.SupersedeSalarySettings(ctx, s); err != nil {
		return shifts.SalarySettings{}, err
	}
	e.log.Info("hourly rate changed", zap.String("rate", rate.String()))
	return s, nil
}

func (e *Engine) SalaryHistory(ctx context.Context) ([]shifts.SalarySettings, error) {
	return e.store.SalaryHistory(ctx)
}
