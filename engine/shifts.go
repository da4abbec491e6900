package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/events"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// SHIFT LIFE CYCLE
// =============================================================================

// ScheduleShift validates and stores a new SCHEDULED shift.
func (e *Engine) ScheduleShift(ctx context.Context, s shifts.Shift) (shifts.Shift, error) {
	if _, err := e.store.GetProcessor(ctx, s.ProcessorID); err != nil {
		return shifts.Shift{}, err
	}
	if err := shifts.Validate(s); err != nil {
		return shifts.Shift{}, err
	}
	now := e.clock.Now()
	if s.ID == "" {
		s.ID = newID("shift")
	}
	s.Status = shifts.StatusScheduled
	s.ActualStart, s.ActualEnd = nil, nil
	s.CreatedAt, s.UpdatedAt = now, now
	if err := e.store.InsertShift(ctx, s); err != nil {
		return shifts.Shift{}, err
	}
	return s, nil
}

func (e *Engine) ClockIn(ctx context.Context, id string) (shifts.Shift, error) {
	s, err := e.store.GetShift(ctx, id)
	if err != nil {
		return shifts.Shift{}, err
	}
	next, err := shifts.ClockIn(s, e.clock.Now())
	if err != nil {
		return s, err
	}
	if err := e.store.UpdateShift(ctx, next, s.Status); err != nil {
		return s, err
	}
	return next, nil
}

// ClockOut closes an ACTIVE shift at now and books its hourly pay. A shift
// whose duration is corrupted still closes; it just earns nothing and the
// exclusion is logged.
func (e *Engine) ClockOut(ctx context.Context, id string) (shifts.Shift, *shifts.Accrual, error) {
	s, err := e.store.GetShift(ctx, id)
	if err != nil {
		return shifts.Shift{}, nil, err
	}
	next, err := shifts.ClockOut(s, e.clock.Now())
	if err != nil {
		return s, nil, err
	}
	accrual, err := e.closeShift(ctx, s, next)
	if err != nil {
		return s, nil, err
	}
	e.publish(ctx, shiftEvent(events.ShiftClosed, next, accrual))
	return next, accrual, nil
}

// closeShift persists prev -> next with compare-and-swap and, when the
// duration is sane, appends HOURLY_PAY in the same transaction.
func (e *Engine) closeShift(ctx context.Context, prev, next shifts.Shift) (*shifts.Accrual, error) {
	now := e.clock.Now()
	var booked *shifts.Accrual
	err := e.store.WithTx(ctx, func(tx Store) error {
		if err := tx.UpdateShift(ctx, next, prev.Status); err != nil {
			return err
		}
		rate, err := e.hourlyRate(ctx, tx)
		if err != nil {
			return err
		}
		a, err := shifts.ComputeAccrual(next, rate, now)
		if err != nil {
			e.logExclusion(next, err)
			return nil
		}
		if _, err := e.ledgerFor(tx).AppendOnce(ctx, hourlyEarning(a, rate, e.converter.Base(), now)); err != nil {
			return err
		}
		booked = &a
		return nil
	})
	return booked, err
}

func hourlyEarning(a shifts.Accrual, rate decimal.Decimal, base string, now time.Time) generic.Earning {
	return generic.Earning{
		ID:             generic.EarningID(newID("earn")),
		ProcessorID:    a.ProcessorID,
		Type:           generic.EarningHourlyPay,
		Amount:         generic.NewAmountFromDecimal(a.Pay, generic.Currency(base)),
		EffectiveAt:    a.End,
		ReferenceID:    a.ShiftID,
		Reason:         fmt.Sprintf("%s hours at %s/hour", a.Hours.StringFixed(2), rate.StringFixed(2)),
		IdempotencyKey: "shift:" + a.ShiftID,
		Metadata: map[string]string{
			"hours": a.Hours.String(),
			"rate":  rate.String(),
		},
		CreatedBy: "system",
		CreatedAt: now,
	}
}

func (e *Engine) logExclusion(s shifts.Shift, err error) {
	fields := []zap.Field{
		zap.String("shift_id", s.ID),
		zap.String("processor_id", string(s.ProcessorID)),
		zap.String("reason", generic.ErrCorruptedDuration.Error()),
		zap.Error(err),
	}
	var cerr *generic.CorruptedDurationError
	if errors.As(err, &cerr) {
		fields = append(fields, zap.String("hours", cerr.Hours.String()))
	}
	e.log.Warn("shift excluded from accrual", fields...)
}

// =============================================================================
// AUTO-CLOSER
// =============================================================================

// AutoCloseShifts closes ACTIVE shifts whose scheduled end is more than the
// grace period in the past, setting the actual end to ScheduledEnd plus the
// configured offset. SCHEDULED shifts past the same cutoff that never
// clocked in become MISSED. Re-running is a no-op for shifts already closed.
func (e *Engine) AutoCloseShifts(ctx context.Context) (AutoCloseReport, error) {
	now := e.clock.Now()
	cutoff := now.Add(-e.opts.ShiftGracePeriod)
	log := e.log.Named("autoclose")
	run := e.startRun(ctx, RunAutoClose)

	report := AutoCloseReport{At: now, Cutoff: cutoff}

	active, err := e.store.ListShifts(ctx, shifts.Filter{Status: shifts.StatusActive, EndBefore: cutoff})
	if err != nil {
		e.finishRun(ctx, run, 0, 0, 0, err)
		return report, err
	}
	unstarted, err := e.store.ListShifts(ctx, shifts.Filter{Status: shifts.StatusScheduled, EndBefore: cutoff})
	if err != nil {
		e.finishRun(ctx, run, 0, 0, 0, err)
		return report, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.SweepConcurrency)

	for _, s := range active {
		g.Go(func() error {
			next, err := shifts.AutoClose(s, e.opts.AutoCloseOffset, now)
			var accrual *shifts.Accrual
			if err == nil {
				accrual, err = e.closeShift(gctx, s, next)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, generic.ErrConcurrentModification):
				report.Conflicts++
			case err != nil:
				log.Error("auto-close failed", zap.String("shift_id", s.ID), zap.Error(err))
				report.Errors = append(report.Errors, generic.NewItemError(s.ProcessorID, s.ID, err))
			default:
				report.Closed = append(report.Closed, s.ID)
				if accrual != nil {
					report.Accrued = append(report.Accrued, s.ID)
				} else if _, aerr := shifts.ComputeAccrual(next, decimal.Zero, now); aerr != nil {
					report.Excluded = append(report.Excluded, exclusionFor(next, aerr))
				}
				e.publish(ctx, shiftEvent(events.ShiftAutoClosed, next, accrual))
			}
			return nil
		})
	}

	for _, s := range unstarted {
		g.Go(func() error {
			next, err := shifts.MarkMissed(s, now)
			if err == nil {
				err = e.store.UpdateShift(gctx, next, s.Status)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, generic.ErrConcurrentModification):
				report.Conflicts++
			case err != nil:
				report.Errors = append(report.Errors, generic.NewItemError(s.ProcessorID, s.ID, err))
			default:
				report.Missed = append(report.Missed, s.ID)
				e.publish(ctx, shiftEvent(events.ShiftMissed, next, nil))
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("auto-close finished",
		zap.Time("cutoff", cutoff),
		zap.Int("closed", len(report.Closed)),
		zap.Int("missed", len(report.Missed)),
		zap.Int("excluded", len(report.Excluded)),
		zap.Int("errors", len(report.Errors)))

	e.finishRun(ctx, run, len(active)+len(unstarted), len(report.Closed)+len(report.Missed), len(report.Errors), nil)
	return report, nil
}

func exclusionFor(s shifts.Shift, err error) shifts.Exclusion {
	ex := shifts.Exclusion{ShiftID: s.ID, ProcessorID: s.ProcessorID, Reason: err.Error(), Hours: decimal.Zero, Err: err}
	var cerr *generic.CorruptedDurationError
	if errors.As(err, &cerr) {
		ex.Reason = generic.ErrCorruptedDuration.Error()
		ex.Hours = cerr.Hours
	}
	return ex
}

// =============================================================================
// QUERIES
// =============================================================================

// ShiftAccrual returns hours and pay for one shift. An in-progress shift is
// accrued against now without being persisted. A corrupted duration is
// returned as *generic.CorruptedDurationError.
func (e *Engine) ShiftAccrual(ctx context.Context, id string) (shifts.Accrual, error) {
	s, err := e.store.GetShift(ctx, id)
	if err != nil {
		return shifts.Accrual{}, err
	}
	rate, err := e.hourlyRate(ctx, e.store)
	if err != nil {
		return shifts.Accrual{}, err
	}
	a, err := shifts.ComputeAccrual(s, rate, e.clock.Now())
	if errors.Is(err, generic.ErrCorruptedDuration) {
		e.logExclusion(s, err)
	}
	return a, err
}

func (e *Engine) GetShift(ctx context.Context, id string) (shifts.Shift, error) {
	return e.store.GetShift(ctx, id)
}

func (e *Engine) ListShifts(ctx context.Context, f shifts.Filter) ([]shifts.Shift, error) {
	return e.store.ListShifts(ctx, f)
}

func shiftEvent(typ string, s shifts.Shift, a *shifts.Accrual) events.Event {
	payload := map[string]any{
		"status":          string(s.Status),
		"scheduled_start": s.ScheduledStart,
		"scheduled_end":   s.ScheduledEnd,
	}
	if s.ActualEnd != nil {
		payload["actual_end"] = *s.ActualEnd
	}
	if a != nil {
		payload["hours"] = a.Hours.String()
		payload["pay"] = a.Pay.String()
	}
	return events.Event{
		Type:        typ,
		ProcessorID: s.ProcessorID,
		ReferenceID: s.ID,
		Payload:     payload,
		OccurredAt:  s.UpdatedAt,
	}
}
