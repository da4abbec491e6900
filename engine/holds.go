/*
holds.go - Hold/burn sweep

PURPOSE:
  Promotes HELD bonus payments whose cooldown ended and burns daily bonuses
  whose agent dropped off the next day. Meant to be triggered by a
  scheduler with at-least-once semantics.

ORDER PER SWEEP:
  1. Approve every HELD payment with HoldUntil <= now. Approval and the
     matching DEPOSIT_BONUS / MONTHLY_BONUS ledger entry commit together.
  2. If the reference-zone hour is at or past BurnCheckHour, for each
     active agent compare yesterday's and today's deposit totals and burn
     the DAILY payments still HELD for yesterday when
     today < yesterday / 2.

  The burn check is gated by the hour because early in the day today's
  total is naturally small; checking at 01:00 would burn almost everyone.

IDEMPOTENCE:
  Both steps select by status and write with compare-and-swap, and ledger
  entries carry the key "bonus:<paymentID>". Re-running, or two sweeps
  overlapping, transitions each payment at most once and pays it at most
  once. A lost race is counted as a conflict, not an error.
*/
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/events"
	"github.com/umbra/earnings-engine/generic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sweepPageSize = 500

// SweepBonusHolds runs one approve-then-burn pass.
func (e *Engine) SweepBonusHolds(ctx context.Context) (SweepReport, error) {
	now := e.clock.Now()
	log := e.log.Named("sweep")
	run := e.startRun(ctx, RunSweep)

	report := SweepReport{At: now}
	var mu sync.Mutex
	record := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}

	// Step 1: activate expired holds.
	seen := make(map[string]bool)
	for {
		page, err := e.store.DuePayments(ctx, now, sweepPageSize)
		if err != nil {
			e.finishRun(ctx, run, 0, 0, 0, err)
			return report, err
		}
		fresh := page[:0]
		for _, p := range page {
			if !seen[p.ID] {
				seen[p.ID] = true
				fresh = append(fresh, p)
			}
		}
		if len(fresh) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.SweepConcurrency)
		for _, p := range fresh {
			g.Go(func() error {
				approved, err := e.approvePayment(gctx, p, now)
				switch {
				case errors.Is(err, generic.ErrConcurrentModification):
					record(func() { report.Conflicts++ })
				case err != nil:
					log.Error("approve failed", zap.String("payment_id", p.ID), zap.String("processor_id", string(p.ProcessorID)), zap.Error(err))
					record(func() { report.Errors = append(report.Errors, generic.NewItemError(p.ProcessorID, p.ID, err)) })
				default:
					record(func() { report.Approved = append(report.Approved, p.ID) })
					e.publish(ctx, paymentEvent(events.BonusApproved, approved))
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(page) < sweepPageSize {
			break
		}
	}

	// Step 2: burn check.
	if e.cal.Hour(now) >= e.opts.BurnCheckHour {
		report.BurnCheckRan = true
		procs, err := e.store.ListProcessors(ctx, true)
		if err != nil {
			e.finishRun(ctx, run, len(seen), len(report.Approved), len(report.Errors), err)
			return report, err
		}
		report.AgentsChecked = len(procs)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.SweepConcurrency)
		for _, proc := range procs {
			g.Go(func() error {
				burned, conflicts, errs := e.burnCheck(gctx, proc.ID, now)
				record(func() {
					report.Burned = append(report.Burned, burned...)
					report.Conflicts += conflicts
					report.Errors = append(report.Errors, errs...)
				})
				return nil
			})
		}
		_ = g.Wait()
	}

	log.Info("sweep finished",
		zap.Int("approved", len(report.Approved)),
		zap.Int("burned", len(report.Burned)),
		zap.Bool("burn_check_ran", report.BurnCheckRan),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("errors", len(report.Errors)))

	e.finishRun(ctx, run, len(seen)+report.AgentsChecked, len(report.Approved)+len(report.Burned), len(report.Errors), nil)
	return report, nil
}

// approvePayment moves p to APPROVED and books its earning in one transaction.
func (e *Engine) approvePayment(ctx context.Context, p bonus.Payment, now time.Time) (bonus.Payment, error) {
	next, err := bonus.Approve(p, now)
	if err != nil {
		return p, err
	}
	err = e.store.WithTx(ctx, func(tx Store) error {
		if err := tx.TransitionPayment(ctx, next, bonus.StatusHeld); err != nil {
			return err
		}
		_, err := e.ledgerFor(tx).AppendOnce(ctx, generic.Earning{
			ID:             generic.EarningID(newID("earn")),
			ProcessorID:    p.ProcessorID,
			Type:           p.EarningType(),
			Amount:         generic.NewAmountFromDecimal(p.Amount, generic.Currency(e.converter.Base())),
			EffectiveAt:    now,
			ReferenceID:    p.ID,
			Reason:         string(p.Kind) + " bonus for " + p.Period + " approved",
			IdempotencyKey: "bonus:" + p.ID,
			Metadata:       map[string]string{"period": p.Period, "source_id": p.SourceID},
			CreatedBy:      "system",
			CreatedAt:      now,
		})
		return err
	})
	return next, err
}

// burnCheck applies the performance-drop rule to one agent.
func (e *Engine) burnCheck(ctx context.Context, pid generic.ProcessorID, now time.Time) (burned []string, conflicts int, errs []generic.ItemError) {
	today := e.cal.Day(now)
	yesterday := today.Previous()
	yesterdayKey := e.cal.DayKey(yesterday.Start)

	ySum, err := e.store.DepositTotals(ctx, pid, yesterday.Start, yesterday.End)
	if err != nil {
		return nil, 0, []generic.ItemError{generic.NewItemError(pid, "", err)}
	}
	tSum, err := e.store.DepositTotals(ctx, pid, today.Start, today.End)
	if err != nil {
		return nil, 0, []generic.ItemError{generic.NewItemError(pid, "", err)}
	}
	if !bonus.ShouldBurn(ySum.Volume, tSum.Volume) {
		return nil, 0, nil
	}

	held, err := e.store.ListPayments(ctx, bonus.PaymentFilter{
		ProcessorID: pid,
		Status:      bonus.StatusHeld,
		Kind:        bonus.KindDaily,
		Period:      yesterdayKey,
	})
	if err != nil {
		return nil, 0, []generic.ItemError{generic.NewItemError(pid, "", err)}
	}

	reason := bonus.BurnReason(ySum.Volume, tSum.Volume)
	for _, p := range held {
		if !bonus.BurnEligible(p, yesterdayKey) {
			continue
		}
		next, err := bonus.Burn(p, reason, now)
		if err == nil {
			err = e.store.TransitionPayment(ctx, next, bonus.StatusHeld)
		}
		switch {
		case errors.Is(err, generic.ErrConcurrentModification):
			conflicts++
		case err != nil:
			errs = append(errs, generic.NewItemError(pid, p.ID, err))
		default:
			burned = append(burned, p.ID)
			e.log.Info("bonus burned",
				zap.String("payment_id", p.ID),
				zap.String("processor_id", string(pid)),
				zap.String("yesterday_total", ySum.Volume.StringFixed(2)),
				zap.String("today_total", tSum.Volume.StringFixed(2)))
			e.publish(ctx, paymentEvent(events.BonusBurned, next))
		}
	}
	return burned, conflicts, errs
}

// MarkBonusPaid records the payout of an APPROVED payment.
func (e *Engine) MarkBonusPaid(ctx context.Context, id string) (bonus.Payment, error) {
	p, err := e.store.GetPayment(ctx, id)
	if err != nil {
		return bonus.Payment{}, err
	}
	next, err := bonus.MarkPaid(p, e.clock.Now())
	if err != nil {
		return p, err
	}
	if err := e.store.TransitionPayment(ctx, next, bonus.StatusApproved); err != nil {
		return p, err
	}
	e.publish(ctx, paymentEvent(events.BonusPaid, next))
	return next, nil
}

func (e *Engine) ListPayments(ctx context.Context, f bonus.PaymentFilter) ([]bonus.Payment, error) {
	return e.store.ListPayments(ctx, f)
}

// HeldTotal sums an agent's HELD payments. Used for display only.
func (e *Engine) HeldTotal(ctx context.Context, pid generic.ProcessorID) (decimal.Decimal, error) {
	held, err := e.store.ListPayments(ctx, bonus.PaymentFilter{ProcessorID: pid, Status: bonus.StatusHeld})
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, p := range held {
		sum = sum.Add(p.Amount)
	}
	return sum, nil
}
