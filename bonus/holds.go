package bonus

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/generic"
)

// =============================================================================
// HOLD / BURN STATE MACHINE
// =============================================================================

var transitions = map[Status][]Status{
	StatusHeld:     {StatusApproved, StatusBurned},
	StatusApproved: {StatusPaid},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a hold sweep may still act on the status.
func IsTerminal(s Status) bool { return s != StatusHeld }

func transitionErr(p Payment, to Status) error {
	return &generic.TransitionError{Kind: "bonus_payment", ID: p.ID, From: string(p.Status), To: string(to)}
}

// HoldExpired reports whether the cooldown is over at now.
func HoldExpired(p Payment, now time.Time) bool {
	return !now.Before(p.HoldUntil)
}

// Approve moves a HELD payment whose hold expired to APPROVED.
func Approve(p Payment, now time.Time) (Payment, error) {
	if !CanTransition(p.Status, StatusApproved) {
		return p, transitionErr(p, StatusApproved)
	}
	if !HoldExpired(p, now) {
		return p, fmt.Errorf("%w: hold on %s runs until %s", generic.ErrInvalidTransition, p.ID, p.HoldUntil.Format(time.RFC3339))
	}
	p.Status = StatusApproved
	p.UpdatedAt = now
	return p, nil
}

// Burn forfeits a HELD payment.
func Burn(p Payment, reason string, now time.Time) (Payment, error) {
	if !CanTransition(p.Status, StatusBurned) {
		return p, transitionErr(p, StatusBurned)
	}
	p.Status = StatusBurned
	p.BurnReason = reason
	p.UpdatedAt = now
	return p, nil
}

// MarkPaid records the payout of an APPROVED payment.
func MarkPaid(p Payment, now time.Time) (Payment, error) {
	if !CanTransition(p.Status, StatusPaid) {
		return p, transitionErr(p, StatusPaid)
	}
	p.Status = StatusPaid
	p.UpdatedAt = now
	return p, nil
}

// ShouldBurn is the anti-gaming rule: today's total below half of yesterday's.
// A day with nothing yesterday can never burn.
func ShouldBurn(yesterdaySum, todaySum decimal.Decimal) bool {
	if !yesterdaySum.IsPositive() {
		return false
	}
	return todaySum.LessThan(yesterdaySum.Div(decimal.NewFromInt(2)))
}

// BurnReason explains a burn with both sums.
func BurnReason(yesterdaySum, todaySum decimal.Decimal) string {
	return fmt.Sprintf("performance drop: today total %s < half of yesterday total %s",
		todaySum.StringFixed(2), yesterdaySum.StringFixed(2))
}

// BurnEligible reports whether p is a daily bonus still HELD for dayKey.
func BurnEligible(p Payment, dayKey string) bool {
	return p.Status == StatusHeld && p.Kind == KindDaily && p.Period == dayKey
}
