package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/events"
	"github.com/umbra/earnings-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// DEPOSIT RECORDING - Daily grid bonus under a per-(agent, day) lock
// =============================================================================

type DepositInput struct {
	ProcessorID generic.ProcessorID
	Amount      decimal.Decimal
	Currency    string    // empty means the base currency
	Timestamp   time.Time // zero means now
}

type DepositResult struct {
	Deposit         bonus.Deposit
	BonusAmount     decimal.Decimal
	AppliedTierID   string
	CumulativeTotal decimal.Decimal
	Payment         *bonus.Payment // HELD daily payment, nil when the bonus is zero
}

// RecordDeposit stores a deposit and the bonus it earns on the daily grid.
//
// The cumulative read, tier evaluation and both inserts run in one Store
// transaction while holding the (agent, day) lock. A serialization conflict
// is retried up to Options.DepositRetryLimit times.
func (e *Engine) RecordDeposit(ctx context.Context, in DepositInput) (DepositResult, error) {
	if !in.Amount.IsPositive() {
		return DepositResult{}, fmt.Errorf("%w: deposit amount must be positive, got %s", generic.ErrInvalidAmount, in.Amount)
	}
	if _, err := e.store.GetProcessor(ctx, in.ProcessorID); err != nil {
		return DepositResult{}, err
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = e.clock.Now()
	}
	code := in.Currency
	if code == "" {
		code = e.converter.Base()
	}

	convCtx, cancel := context.WithTimeout(ctx, e.opts.ExternalCallTimeout)
	base, err := e.converter.ToBase(convCtx, in.Amount, code)
	cancel()
	if err != nil {
		return DepositResult{}, err
	}

	day := e.cal.Day(ts)
	unlock, err := e.locker.Lock(ctx, "deposit:"+string(in.ProcessorID)+":"+e.cal.DayKey(ts))
	if err != nil {
		return DepositResult{}, fmt.Errorf("acquire deposit lock: %w", err)
	}
	defer unlock()

	var res DepositResult
	err = e.withRetry(ctx, "record_deposit", func() error {
		var txErr error
		res, txErr = e.recordDeposit(ctx, in, code, base, ts, day)
		return txErr
	})
	if err != nil {
		return DepositResult{}, err
	}

	e.log.Info("deposit recorded",
		zap.String("deposit_id", res.Deposit.ID),
		zap.String("processor_id", string(in.ProcessorID)),
		zap.String("base_amount", base.StringFixed(2)),
		zap.String("cumulative_total", res.CumulativeTotal.StringFixed(2)),
		zap.String("bonus", res.BonusAmount.StringFixed(2)),
		zap.String("tier_id", res.AppliedTierID))

	e.publish(ctx, events.Event{
		Type:        events.DepositRecorded,
		ProcessorID: in.ProcessorID,
		ReferenceID: res.Deposit.ID,
		Payload: map[string]any{
			"amount":           in.Amount.String(),
			"currency":         code,
			"base_amount":      base.String(),
			"bonus_amount":     res.BonusAmount.String(),
			"applied_tier_id":  res.AppliedTierID,
			"cumulative_total": res.CumulativeTotal.String(),
		},
	})
	if res.Payment != nil {
		e.publish(ctx, paymentEvent(events.BonusHeld, *res.Payment))
	}
	return res, nil
}

func (e *Engine) recordDeposit(ctx context.Context, in DepositInput, code string, base decimal.Decimal, ts time.Time, day generic.Period) (DepositResult, error) {
	var res DepositResult
	err := e.store.WithTx(ctx, func(tx Store) error {
		prior, err := tx.DepositTotals(ctx, in.ProcessorID, day.Start, day.End)
		if err != nil {
			return err
		}
		tiers, err := tx.ActiveBonusGrid(ctx)
		if err != nil {
			return err
		}
		grid, err := bonus.NewGrid(tiers)
		if err != nil {
			return err
		}
		daily, err := bonus.EvaluateDaily(grid, bonus.DailyInput{
			Amount:     base,
			PriorTotal: prior.Volume,
			PriorBonus: prior.Bonus,
			Mode:       e.opts.DailyMode,
		})
		if err != nil {
			return err
		}

		now := e.clock.Now()
		dep := bonus.Deposit{
			ID:          newID("dep"),
			ProcessorID: in.ProcessorID,
			Amount:      in.Amount,
			Currency:    code,
			BaseAmount:  base,
			CreatedAt:   ts,
			BonusAmount: daily.BonusAmount,
			Status:      bonus.DepositRecorded,
		}
		if daily.Tier != nil {
			dep.AppliedTierID = daily.Tier.ID
		}
		if err := tx.InsertDeposit(ctx, dep); err != nil {
			return err
		}

		res = DepositResult{
			Deposit:         dep,
			BonusAmount:     daily.BonusAmount,
			AppliedTierID:   dep.AppliedTierID,
			CumulativeTotal: daily.CumulativeTotal,
		}
		if !daily.BonusAmount.IsPositive() {
			return nil
		}

		p := bonus.Payment{
			ID:             newID("bp"),
			ProcessorID:    in.ProcessorID,
			Kind:           bonus.KindDaily,
			Amount:         daily.BonusAmount,
			Status:         bonus.StatusHeld,
			HoldUntil:      e.dailyHoldUntil(ts),
			Period:         e.cal.DayKey(ts),
			SourceID:       dep.ID,
			IdempotencyKey: "deposit:" + dep.ID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		res.Payment = &p
		return nil
	})
	return res, err
}

// dailyHoldUntil is the end of the deposit's day plus the configured extra
// days. With one extra day the hold outlives the next day's burn check.
func (e *Engine) dailyHoldUntil(ts time.Time) time.Time {
	return e.cal.EndOfDay(ts).AddDate(0, 0, e.opts.DailyHoldExtraDays)
}

// =============================================================================
// VOID - Administrative correction
// =============================================================================

// VoidDeposit marks a deposit VOIDED and burns its daily payment if it is
// still HELD. Settled payments are left alone; corrections to them are
// ledger adjustments. Voided deposits no longer count toward any total.
func (e *Engine) VoidDeposit(ctx context.Context, id, reason string) (bonus.Deposit, error) {
	if reason == "" {
		reason = "no reason given"
	}
	now := e.clock.Now()

	var (
		dep    bonus.Deposit
		burned *bonus.Payment
	)
	err := e.store.WithTx(ctx, func(tx Store) error {
		var err error
		dep, err = tx.GetDeposit(ctx, id)
		if err != nil {
			return err
		}
		if dep.Status != bonus.DepositRecorded {
			return &generic.TransitionError{Kind: "deposit", ID: id, From: string(dep.Status), To: string(bonus.DepositVoided)}
		}
		if err := tx.VoidDeposit(ctx, id, reason, now); err != nil {
			return err
		}
		dep.Status = bonus.DepositVoided
		dep.VoidReason = reason

		p, err := tx.GetPaymentByKey(ctx, "deposit:"+id)
		if generic.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.Status != bonus.StatusHeld {
			return nil
		}
		next, err := bonus.Burn(p, "deposit voided: "+reason, now)
		if err != nil {
			return err
		}
		if err := tx.TransitionPayment(ctx, next, bonus.StatusHeld); err != nil {
			return err
		}
		burned = &next
		return nil
	})
	if err != nil {
		return bonus.Deposit{}, err
	}

	e.log.Info("deposit voided", zap.String("deposit_id", id), zap.String("reason", reason))
	e.publish(ctx, events.Event{
		Type:        events.DepositVoided,
		ProcessorID: dep.ProcessorID,
		ReferenceID: id,
		Payload:     map[string]any{"reason": reason},
	})
	if burned != nil {
		e.publish(ctx, paymentEvent(events.BonusBurned, *burned))
	}
	return dep, nil
}

func (e *Engine) ListDeposits(ctx context.Context, f bonus.DepositFilter) ([]bonus.Deposit, error) {
	return e.store.ListDeposits(ctx, f)
}

func paymentEvent(typ string, p bonus.Payment) events.Event {
	payload := map[string]any{
		"kind":       string(p.Kind),
		"amount":     p.Amount.String(),
		"status":     string(p.Status),
		"period":     p.Period,
		"hold_until": p.HoldUntil,
	}
	if p.BurnReason != "" {
		payload["burn_reason"] = p.BurnReason
	}
	return events.Event{
		Type:        typ,
		ProcessorID: p.ProcessorID,
		ReferenceID: p.ID,
		Payload:     payload,
		OccurredAt:  p.UpdatedAt,
	}
}
