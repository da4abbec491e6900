// Package currency converts deposit amounts into the base currency used by
// every bonus threshold.
package currency

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/generic"
)

// Static converts with a fixed table of rates, expressed as units of the
// foreign currency per one unit of base (EUR=0.92 means 1 USD buys 0.92 EUR).
type Static struct {
	base  string
	rates map[string]decimal.Decimal
}

func NewStatic(base string, rates map[string]decimal.Decimal) (*Static, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	if base == "" {
		return nil, fmt.Errorf("%w: base currency is required", generic.ErrUnsupportedCurrency)
	}
	s := &Static{base: base, rates: make(map[string]decimal.Decimal, len(rates))}
	for code, r := range rates {
		if !r.IsPositive() {
			return nil, fmt.Errorf("%w: rate for %s must be positive", generic.ErrInvalidAmount, code)
		}
		s.rates[strings.ToUpper(code)] = r
	}
	return s, nil
}

// ParseRates reads "EUR=0.92,GBP=0.79". An empty string is an empty table.
func ParseRates(s string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, value, ok := strings.Cut(pair, "=")
		code = strings.ToUpper(strings.TrimSpace(code))
		if !ok || len(code) != 3 {
			return nil, fmt.Errorf("malformed currency rate %q, want CODE=RATE", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("currency rate %s: %w", code, err)
		}
		out[code] = rate
	}
	return out, nil
}

func (s *Static) Base() string { return s.base }

// Codes lists every accepted currency, base first.
func (s *Static) Codes() []string {
	codes := make([]string, 0, len(s.rates))
	for c := range s.rates {
		if c != s.base {
			codes = append(codes, c)
		}
	}
	sort.Strings(codes)
	return append([]string{s.base}, codes...)
}

// ToBase converts amount in code to the base currency. Results keep full
// precision; rounding is the caller's concern.
func (s *Static) ToBase(_ context.Context, amount decimal.Decimal, code string) (decimal.Decimal, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || code == s.base {
		return amount, nil
	}
	rate, ok := s.rates[code]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", generic.ErrUnsupportedCurrency, code)
	}
	return amount.DivRound(rate, 8), nil
}
