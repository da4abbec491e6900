package bonus

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/generic"
)

// =============================================================================
// MONTHLY BONUS TIERS
// =============================================================================

// MonthlyTiers holds active tiers ordered by MinAmount, highest first.
//
// Winner takes all: a $35k month at a 1% tier for $30k pays 1% of $35k,
// not 0.5% of the first $30k plus 1% of the rest.
type MonthlyTiers struct {
	tiers []MonthlyTier
}

func NewMonthlyTiers(tiers []MonthlyTier) (MonthlyTiers, error) {
	active := make([]MonthlyTier, 0, len(tiers))
	seen := make(map[string]bool)
	for _, t := range tiers {
		if !t.IsActive {
			continue
		}
		if t.MinAmount.IsNegative() || t.BonusPercent.IsNegative() {
			return MonthlyTiers{}, fmt.Errorf("%w: monthly tier %q has negative values", generic.ErrInvalidReferenceData, t.Name)
		}
		key := t.MinAmount.String()
		if seen[key] {
			return MonthlyTiers{}, fmt.Errorf("%w: two monthly tiers start at %s", generic.ErrInvalidReferenceData, key)
		}
		seen[key] = true
		active = append(active, t)
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].MinAmount.GreaterThan(active[j].MinAmount)
	})
	// Higher volume must never earn a lower rate.
	for i := 0; i+1 < len(active); i++ {
		if active[i].BonusPercent.LessThan(active[i+1].BonusPercent) {
			return MonthlyTiers{}, fmt.Errorf("%w: monthly tier %q pays less than lower tier %q",
				generic.ErrInvalidReferenceData, active[i].Name, active[i+1].Name)
		}
	}
	return MonthlyTiers{tiers: active}, nil
}

func (m MonthlyTiers) Tiers() []MonthlyTier {
	out := make([]MonthlyTier, len(m.tiers))
	copy(out, m.tiers)
	return out
}

// TierFor returns the highest tier whose MinAmount <= volume.
func (m MonthlyTiers) TierFor(volume decimal.Decimal) (MonthlyTier, bool) {
	for _, t := range m.tiers {
		if t.MinAmount.LessThanOrEqual(volume) {
			return t, true
		}
	}
	return MonthlyTier{}, false
}

type MonthlyResult struct {
	Volume      decimal.Decimal
	Tier        *MonthlyTier
	BonusAmount decimal.Decimal
}

// EvaluateMonthly is a pure function of the month's volume.
func EvaluateMonthly(m MonthlyTiers, volume decimal.Decimal) MonthlyResult {
	res := MonthlyResult{Volume: volume, BonusAmount: decimal.Zero}
	if !volume.IsPositive() {
		return res
	}
	tier, ok := m.TierFor(volume)
	if !ok {
		return res
	}
	res.Tier = &tier
	res.BonusAmount = generic.RoundMoney(generic.Percent(volume, tier.BonusPercent))
	return res
}
