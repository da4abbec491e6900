package bonus

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/generic"
)

// =============================================================================
// DAILY BONUS GRID
// =============================================================================

// Mode selects how the tier rate found for the cumulative daily total is
// turned into a bonus for the current deposit.
type Mode string

const (
	// ModeIncremental applies the rate of the post-deposit cumulative total to
	// the deposit amount only. $1100 -> $1600 with a $500 deposit pays
	// rate(1600) * 500.
	ModeIncremental Mode = "incremental"

	// ModeCumulative trues up the whole day: rate(total) * total minus the
	// bonus already awarded today, floored at zero.
	ModeCumulative Mode = "cumulative"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeIncremental, ModeCumulative:
		return Mode(s), nil
	case "":
		return ModeIncremental, nil
	}
	return "", fmt.Errorf("%w: unknown daily bonus mode %q", generic.ErrInvalidReferenceData, s)
}

// Grid is a validated, ascending list of active tiers.
type Grid struct {
	tiers []GridTier
}

// NewGrid keeps active tiers, sorts them by MinAmount and validates them:
// non-negative bounds, max >= min, no overlaps, only the last tier unbounded.
// Gaps are allowed; a total that falls into one earns nothing.
func NewGrid(tiers []GridTier) (Grid, error) {
	active := make([]GridTier, 0, len(tiers))
	for _, t := range tiers {
		if t.IsActive {
			active = append(active, t)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].MinAmount.LessThan(active[j].MinAmount)
	})

	for i, t := range active {
		if t.MinAmount.IsNegative() || t.BonusPercentage.IsNegative() {
			return Grid{}, fmt.Errorf("%w: tier %s has negative values", generic.ErrInvalidReferenceData, t.ID)
		}
		if t.MaxAmount != nil && t.MaxAmount.LessThan(t.MinAmount) {
			return Grid{}, fmt.Errorf("%w: tier %s max %s below min %s",
				generic.ErrInvalidReferenceData, t.ID, t.MaxAmount, t.MinAmount)
		}
		if i == len(active)-1 {
			continue
		}
		if t.MaxAmount == nil {
			return Grid{}, fmt.Errorf("%w: only the highest tier may be unbounded (tier %s)",
				generic.ErrInvalidReferenceData, t.ID)
		}
		if !active[i+1].MinAmount.GreaterThan(*t.MaxAmount) {
			return Grid{}, fmt.Errorf("%w: tiers %s and %s overlap",
				generic.ErrInvalidReferenceData, t.ID, active[i+1].ID)
		}
	}
	return Grid{tiers: active}, nil
}

// Tiers returns a copy of the ordered tiers.
func (g Grid) Tiers() []GridTier {
	out := make([]GridTier, len(g.tiers))
	copy(out, g.tiers)
	return out
}

func (g Grid) Empty() bool { return len(g.tiers) == 0 }

// TierFor returns the first tier containing total, or false.
func (g Grid) TierFor(total decimal.Decimal) (GridTier, bool) {
	for _, t := range g.tiers {
		if t.Matches(total) {
			return t, true
		}
	}
	return GridTier{}, false
}

// DailyInput is everything the evaluator needs about one deposit.
type DailyInput struct {
	Amount     decimal.Decimal // current deposit, base currency
	PriorTotal decimal.Decimal // same agent, same reference day, before this deposit
	PriorBonus decimal.Decimal // bonus already awarded today (cumulative mode)
	Mode       Mode
}

type DailyResult struct {
	CumulativeTotal decimal.Decimal
	Tier            *GridTier // nil when no tier matched
	BonusAmount     decimal.Decimal
}

// EvaluateDaily picks the tier for the cumulative total after this deposit
// and computes the deposit's bonus. No proration across tier boundaries.
func EvaluateDaily(g Grid, in DailyInput) (DailyResult, error) {
	if !in.Amount.IsPositive() {
		return DailyResult{}, fmt.Errorf("%w: deposit amount must be positive, got %s", generic.ErrInvalidAmount, in.Amount)
	}
	if in.PriorTotal.IsNegative() {
		return DailyResult{}, fmt.Errorf("%w: negative prior total %s", generic.ErrInvalidAmount, in.PriorTotal)
	}

	total := in.PriorTotal.Add(in.Amount)
	res := DailyResult{CumulativeTotal: total, BonusAmount: decimal.Zero}

	tier, ok := g.TierFor(total)
	if !ok {
		return res, nil
	}
	res.Tier = &tier

	switch in.Mode {
	case ModeCumulative:
		owed := generic.RoundMoney(generic.Percent(total, tier.BonusPercentage)).Sub(in.PriorBonus)
		if owed.IsPositive() {
			res.BonusAmount = owed
		}
	default:
		res.BonusAmount = generic.RoundMoney(generic.Percent(in.Amount, tier.BonusPercentage))
	}
	return res, nil
}
