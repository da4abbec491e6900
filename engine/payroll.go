package engine

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// PAYROLL - Monthly hours, hourly pay and bonuses per agent
// =============================================================================

// Payroll aggregates every active agent's month. Shifts are attributed to
// the month of their scheduled start. A closed shift counts the HOURLY_PAY
// booked for it at clock-out; only shifts still in progress are priced at
// the current rate. Corrupted shifts are excluded and listed; they never
// fail the report. Bonuses count when their period falls
// in the month: APPROVED and PAID are owed, HELD is shown separately.
func (e *Engine) Payroll(ctx context.Context, month string) (PayrollReport, error) {
	now := e.clock.Now()
	if month == "" {
		month = e.cal.MonthKey(now)
	}
	window, err := e.cal.ParseMonth(month)
	if err != nil {
		return PayrollReport{}, err
	}
	rate, err := e.hourlyRate(ctx, e.store)
	if err != nil {
		return PayrollReport{}, err
	}
	procs, err := e.store.ListProcessors(ctx, true)
	if err != nil {
		return PayrollReport{}, err
	}

	report := PayrollReport{Month: month, HourlyRate: rate, Total: decimal.Zero}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.SweepConcurrency)
	for _, p := range procs {
		g.Go(func() error {
			line, err := e.payrollFor(gctx, p.ID, month, window, rate)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.Error("payroll failed", zap.String("processor_id", string(p.ID)), zap.Error(err))
				report.Errors = append(report.Errors, generic.NewItemError(p.ID, month, err))
				return nil
			}
			report.Lines = append(report.Lines, line)
			report.Total = report.Total.Add(line.Total)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Lines, func(i, j int) bool { return report.Lines[i].ProcessorID < report.Lines[j].ProcessorID })
	return report, nil
}

func (e *Engine) payrollFor(ctx context.Context, pid generic.ProcessorID, month string, window generic.Period, rate decimal.Decimal) (PayrollLine, error) {
	list, err := e.store.ListShifts(ctx, shifts.Filter{ProcessorID: pid, From: window.Start, To: window.End})
	if err != nil {
		return PayrollLine{}, err
	}
	work := shifts.CalculateWorkHours(list, rate, e.clock.Now())
	for _, ex := range work.Excluded {
		e.log.Warn("shift excluded from payroll",
			zap.String("shift_id", ex.ShiftID),
			zap.String("processor_id", string(ex.ProcessorID)),
			zap.String("hours", ex.Hours.String()),
			zap.String("reason", ex.Reason))
	}
	pay, err := e.bookedShiftPay(ctx, pid, work)
	if err != nil {
		return PayrollLine{}, err
	}

	payments, err := e.store.ListPayments(ctx, bonus.PaymentFilter{ProcessorID: pid})
	if err != nil {
		return PayrollLine{}, err
	}
	approved, held := decimal.Zero, decimal.Zero
	for _, p := range payments {
		if !paymentInMonth(p, month) {
			continue
		}
		switch p.Status {
		case bonus.StatusApproved, bonus.StatusPaid:
			approved = approved.Add(p.Amount)
		case bonus.StatusHeld:
			held = held.Add(p.Amount)
		}
	}

	return PayrollLine{
		ProcessorID:    pid,
		Hours:          work.TotalHours,
		HourlyPay:      pay,
		ApprovedBonus:  approved,
		HeldBonus:      held,
		Total:          pay.Add(approved),
		ShiftsIncluded: len(work.Included),
		Excluded:       work.Excluded,
	}, nil
}

// bookedShiftPay sums the included shifts' pay, taking the ledger amount
// for every shift that has one so later rate changes do not reprice it.
func (e *Engine) bookedShiftPay(ctx context.Context, pid generic.ProcessorID, work shifts.WorkSummary) (decimal.Decimal, error) {
	if len(work.Included) == 0 {
		return decimal.Zero, nil
	}
	entries, err := e.store.Load(ctx, pid)
	if err != nil {
		return decimal.Zero, err
	}
	booked := make(map[string]decimal.Decimal, len(entries))
	for _, en := range entries {
		if en.Type == generic.EarningHourlyPay && en.ReferenceID != "" {
			booked[en.ReferenceID] = booked[en.ReferenceID].Add(en.Amount.Value)
		}
	}

	total := decimal.Zero
	for _, a := range work.Included {
		if v, ok := booked[a.ShiftID]; ok && !a.InProgress {
			total = total.Add(v)
			continue
		}
		total = total.Add(a.Pay)
	}
	return total, nil
}

// paymentInMonth matches a daily period ("2025-03-10") or monthly period
// ("2025-03") against a month key.
func paymentInMonth(p bonus.Payment, month string) bool {
	if p.Kind == bonus.KindMonthly {
		return p.Period == month
	}
	return strings.HasPrefix(p.Period, month+"-")
}

// =============================================================================
// CURRENT EARNINGS
// =============================================================================

// CurrentEarnings is the agent's month so far: settled ledger entries plus
// the derived pay of shifts still in progress. Held bonuses are reported
// but not included in Total.
func (e *Engine) CurrentEarnings(ctx context.Context, pid generic.ProcessorID) (Earnings, error) {
	if _, err := e.store.GetProcessor(ctx, pid); err != nil {
		return Earnings{}, err
	}
	now := e.clock.Now()
	month := e.cal.Month(now)

	entries, err := e.ledger.Earnings(ctx, pid, month)
	if err != nil {
		return Earnings{}, err
	}
	out := Earnings{
		ProcessorID: pid,
		Month:       e.cal.MonthKey(now),
		Settled:     decimal.Zero,
		InProgress:  decimal.Zero,
		ByType:      make(map[generic.EarningType]decimal.Decimal),
	}
	for _, en := range entries {
		out.Settled = out.Settled.Add(en.Amount.Value)
		out.ByType[en.Type] = out.ByType[en.Type].Add(en.Amount.Value)
	}

	active, err := e.store.ListShifts(ctx, shifts.Filter{ProcessorID: pid, Status: shifts.StatusActive})
	if err != nil {
		return Earnings{}, err
	}
	if len(active) > 0 {
		rate, err := e.hourlyRate(ctx, e.store)
		if err != nil {
			return Earnings{}, err
		}
		for _, s := range active {
			a, err := shifts.ComputeAccrual(s, rate, now)
			if err != nil {
				e.logExclusion(s, err)
				continue
			}
			out.InProgress = out.InProgress.Add(a.Pay)
			out.InProgressShifts = append(out.InProgressShifts, a)
		}
	}

	if out.Held, err = e.HeldTotal(ctx, pid); err != nil {
		return Earnings{}, err
	}
	out.Total = out.Settled.Add(out.InProgress)
	return out, nil
}
