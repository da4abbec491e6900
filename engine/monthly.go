package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/events"
	"github.com/umbra/earnings-engine/generic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// MONTHLY BONUS - Non-cumulative tier on the whole month's volume
// =============================================================================

// MonthlyKey is the idempotency key of an agent's monthly bonus payment.
func MonthlyKey(pid generic.ProcessorID, month string) string {
	return "monthly:" + string(pid) + ":" + month
}

// CalculateMonthlyBonus evaluates the monthly tiers for one agent or every
// active agent. An empty Month means the previous calendar month in the
// reference zone, the last one that is complete. Unless DryRun is set, a positive bonus is stored as a HELD
// MONTHLY payment; running it again for the same month returns the stored
// payment instead of creating another. One agent's failure is reported in
// Errors and does not stop the others.
func (e *Engine) CalculateMonthlyBonus(ctx context.Context, req MonthlyRequest) (MonthlyReport, error) {
	now := e.clock.Now()
	month := req.Month
	if month == "" {
		month = e.cal.MonthKey(e.cal.Month(now).Previous().Start)
	}
	window, err := e.cal.ParseMonth(month)
	if err != nil {
		return MonthlyReport{}, err
	}

	tierRows, err := e.store.ActiveMonthlyTiers(ctx)
	if err != nil {
		return MonthlyReport{}, err
	}
	tiers, err := bonus.NewMonthlyTiers(tierRows)
	if err != nil {
		return MonthlyReport{}, err
	}

	pids, err := e.targetProcessors(ctx, req.ProcessorID)
	if err != nil {
		return MonthlyReport{}, err
	}

	var run Run
	if !req.DryRun {
		run = e.startRun(ctx, RunMonthly)
	}

	report := MonthlyReport{Month: month, DryRun: req.DryRun, Total: decimal.Zero}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.SweepConcurrency)
	for _, pid := range pids {
		g.Go(func() error {
			line, err := e.monthlyFor(gctx, pid, month, window, tiers, req.DryRun)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.Error("monthly bonus failed", zap.String("processor_id", string(pid)), zap.Error(err))
				report.Errors = append(report.Errors, generic.NewItemError(pid, month, err))
				return nil
			}
			report.Lines = append(report.Lines, line)
			report.Total = report.Total.Add(line.BonusAmount)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Lines, func(i, j int) bool { return report.Lines[i].ProcessorID < report.Lines[j].ProcessorID })

	if !req.DryRun {
		changed := 0
		for _, l := range report.Lines {
			if l.Payment != nil && !l.Existing {
				changed++
			}
		}
		e.finishRun(ctx, run, len(pids), changed, len(report.Errors), nil)
	}
	return report, nil
}

func (e *Engine) monthlyFor(ctx context.Context, pid generic.ProcessorID, month string, window generic.Period, tiers bonus.MonthlyTiers, dryRun bool) (MonthlyLine, error) {
	key := MonthlyKey(pid, month)
	line := MonthlyLine{ProcessorID: pid, Percent: decimal.Zero, BonusAmount: decimal.Zero}

	if !dryRun {
		if existing, err := e.store.GetPaymentByKey(ctx, key); err == nil {
			return existingMonthlyLine(line, existing), nil
		} else if !generic.IsNotFound(err) {
			return line, err
		}
	}

	totals, err := e.store.DepositTotals(ctx, pid, window.Start, window.End)
	if err != nil {
		return line, err
	}
	res := bonus.EvaluateMonthly(tiers, totals.Volume)
	line.Volume = res.Volume
	line.BonusAmount = res.BonusAmount
	if res.Tier != nil {
		line.TierID = res.Tier.ID
		line.TierName = res.Tier.Name
		line.Percent = res.Tier.BonusPercent
	}
	if dryRun || !res.BonusAmount.IsPositive() {
		return line, nil
	}

	now := e.clock.Now()
	p := bonus.Payment{
		ID:             newID("bp"),
		ProcessorID:    pid,
		Kind:           bonus.KindMonthly,
		Amount:         res.BonusAmount,
		Status:         bonus.StatusHeld,
		HoldUntil:      now.Add(e.opts.MonthlyHoldDuration),
		Period:         month,
		SourceID:       key,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = e.store.InsertPayment(ctx, p)
	if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		// A concurrent run stored it between our lookup and insert.
		existing, getErr := e.store.GetPaymentByKey(ctx, key)
		if getErr != nil {
			return line, getErr
		}
		return existingMonthlyLine(line, existing), nil
	}
	if err != nil {
		return line, fmt.Errorf("store monthly payment: %w", err)
	}

	line.Payment = &p
	e.log.Info("monthly bonus held",
		zap.String("processor_id", string(pid)),
		zap.String("month", month),
		zap.String("volume", res.Volume.StringFixed(2)),
		zap.String("bonus", res.BonusAmount.StringFixed(2)))
	e.publish(ctx, paymentEvent(events.BonusHeld, p))
	return line, nil
}

// existingMonthlyLine reports the stored payment instead of recomputing, so a
// month is never counted twice even if deposits changed since.
func existingMonthlyLine(line MonthlyLine, p bonus.Payment) MonthlyLine {
	line.BonusAmount = p.Amount
	line.Payment = &p
	line.Existing = true
	return line
}

// targetProcessors is the single agent asked for, or every active agent.
func (e *Engine) targetProcessors(ctx context.Context, pid generic.ProcessorID) ([]generic.ProcessorID, error) {
	if pid != "" {
		if _, err := e.store.GetProcessor(ctx, pid); err != nil {
			return nil, err
		}
		return []generic.ProcessorID{pid}, nil
	}
	procs, err := e.store.ListProcessors(ctx, true)
	if err != nil {
		return nil, err
	}
	ids := make([]generic.ProcessorID, 0, len(procs))
	for _, p := range procs {
		ids = append(ids, p.ID)
	}
	return ids, nil
}
