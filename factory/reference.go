/*
Package factory converts reference-data documents into validated domain types.

PURPOSE:
  The bonus grid, the monthly tiers and the hourly rate are edited by
  operators, not developers. This package reads them from YAML or JSON and
  hands back bonus.Grid / bonus.MonthlyTiers that already passed the same
  validation the engine applies, so a bad file is rejected before anything
  is replaced.

DOCUMENT SCHEMA (YAML shown, JSON uses the same keys):
  bonus_grid:
    - {id: g1, min: 0,    max: 499.99, percent: 0}
    - {id: g2, min: 500,  max: 999.99, percent: 0.5}
    - {id: g6, min: 3000, max: null, percent: 3}   # unbounded
  monthly_tiers:
    - {id: m1, name: Silver, min: 20000, percent: 0.5}
  salary:
    hourly_rate: 2.00

  Percentages are percents (0.5 means 0.5%). Amounts are base currency.
  Numbers may be written bare or quoted; both keep full decimal precision.

SEE ALSO:
  - bonus/grid.go:    NewGrid validation rules
  - bonus/monthly.go: NewMonthlyTiers
*/
package factory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/generic"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// Number is a decimal that decodes from bare or quoted YAML/JSON numbers.
type Number struct {
	decimal.Decimal
}

func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	d, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: %q is not a number", node.Line, node.Value)
	}
	n.Decimal = d
	return nil
}

func (n *Number) UnmarshalJSON(b []byte) error {
	return n.Decimal.UnmarshalJSON(b)
}

func (n Number) MarshalYAML() (any, error) { return n.String(), nil }

type GridTierDoc struct {
	ID      string  `json:"id" yaml:"id"`
	Min     Number  `json:"min" yaml:"min"`
	Max     *Number `json:"max" yaml:"max"` // nil: unbounded
	Percent Number  `json:"percent" yaml:"percent"`
}

type MonthlyTierDoc struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Min     Number `json:"min" yaml:"min"`
	Percent Number `json:"percent" yaml:"percent"`
}

type SalaryDoc struct {
	HourlyRate Number `json:"hourly_rate" yaml:"hourly_rate"`
}

// ReferenceData is one reference-data document. Omitted sections are left
// untouched when applied.
type ReferenceData struct {
	BonusGrid      []GridTierDoc    `json:"bonus_grid,omitempty" yaml:"bonus_grid,omitempty"`
	MonthlyTiers   []MonthlyTierDoc `json:"monthly_tiers,omitempty" yaml:"monthly_tiers,omitempty"`
	SalarySettings *SalaryDoc       `json:"salary,omitempty" yaml:"salary,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseReferenceData decodes data as "yaml" or "json" and validates it.
func ParseReferenceData(data []byte, format string) (ReferenceData, error) {
	var doc ReferenceData
	switch strings.ToLower(format) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return ReferenceData{}, fmt.Errorf("%w: %v", generic.ErrInvalidReferenceData, err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return ReferenceData{}, fmt.Errorf("%w: %v", generic.ErrInvalidReferenceData, err)
		}
	default:
		return ReferenceData{}, fmt.Errorf("%w: unknown format %q", generic.ErrInvalidReferenceData, format)
	}
	if err := doc.Validate(); err != nil {
		return ReferenceData{}, err
	}
	return doc, nil
}

// LoadReferenceFile picks the format from the file extension.
func LoadReferenceFile(path string) (ReferenceData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ReferenceData{}, fmt.Errorf("read reference data: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return ParseReferenceData(data, format)
}

// Validate runs the same checks the engine applies on replacement.
func (r ReferenceData) Validate() error {
	if len(r.BonusGrid) > 0 {
		if _, err := bonus.NewGrid(r.GridTiers()); err != nil {
			return err
		}
	}
	if len(r.MonthlyTiers) > 0 {
		if _, err := bonus.NewMonthlyTiers(r.Tiers()); err != nil {
			return err
		}
	}
	if r.SalarySettings != nil && !r.SalarySettings.HourlyRate.IsPositive() {
		return fmt.Errorf("%w: hourly rate must be positive", generic.ErrInvalidReferenceData)
	}
	return nil
}

// GridTiers converts the grid section. Tiers without an ID get a stable one
// derived from their position.
func (r ReferenceData) GridTiers() []bonus.GridTier {
	out := make([]bonus.GridTier, 0, len(r.BonusGrid))
	for i, d := range r.BonusGrid {
		t := bonus.GridTier{
			ID:              d.ID,
			MinAmount:       d.Min.Decimal,
			BonusPercentage: d.Percent.Decimal,
			IsActive:        true,
		}
		if t.ID == "" {
			t.ID = fmt.Sprintf("grid-%d", i+1)
		}
		if d.Max != nil {
			m := d.Max.Decimal
			t.MaxAmount = &m
		}
		out = append(out, t)
	}
	return out
}

func (r ReferenceData) Tiers() []bonus.MonthlyTier {
	out := make([]bonus.MonthlyTier, 0, len(r.MonthlyTiers))
	for i, d := range r.MonthlyTiers {
		t := bonus.MonthlyTier{
			ID:           d.ID,
			Name:         d.Name,
			MinAmount:    d.Min.Decimal,
			BonusPercent: d.Percent.Decimal,
			IsActive:     true,
		}
		if t.ID == "" {
			t.ID = fmt.Sprintf("tier-%d", i+1)
		}
		out = append(out, t)
	}
	return out
}

// Apply replaces every section present in r. Each replacement is
// prospective: deposits and payments already recorded keep their amounts.
func (r ReferenceData) Apply(ctx context.Context, e *engine.Engine) error {
	if len(r.BonusGrid) > 0 {
		if _, err := e.ReplaceBonusGrid(ctx, r.GridTiers()); err != nil {
			return fmt.Errorf("replace bonus grid: %w", err)
		}
	}
	if len(r.MonthlyTiers) > 0 {
		if _, err := e.ReplaceMonthlyTiers(ctx, r.Tiers()); err != nil {
			return fmt.Errorf("replace monthly tiers: %w", err)
		}
	}
	if r.SalarySettings != nil {
		if _, err := e.SetHourlyRate(ctx, r.SalarySettings.HourlyRate.Decimal); err != nil {
			return fmt.Errorf("set hourly rate: %w", err)
		}
	}
	return nil
}

// =============================================================================
// PRESETS
// =============================================================================

func num(s string) Number { return Number{decimal.RequireFromString(s)} }

func bounded(s string) *Number {
	n := num(s)
	return &n
}

// DefaultReferenceData is the standard six-tier daily grid and two-tier
// monthly ladder. Each grid max is one cent below the next min so every
// cent amount lands in a tier. It carries no salary: the hourly rate must
// be configured.
func DefaultReferenceData() ReferenceData {
	return ReferenceData{
		BonusGrid: []GridTierDoc{
			{ID: "grid-1", Min: num("0"), Max: bounded("499.99"), Percent: num("0")},
			{ID: "grid-2", Min: num("500"), Max: bounded("999.99"), Percent: num("0.5")},
			{ID: "grid-3", Min: num("1000"), Max: bounded("1499.99"), Percent: num("1.5")},
			{ID: "grid-4", Min: num("1500"), Max: bounded("1999.99"), Percent: num("2")},
			{ID: "grid-5", Min: num("2000"), Max: bounded("2999.99"), Percent: num("2.5")},
			{ID: "grid-6", Min: num("3000"), Percent: num("3")},
		},
		MonthlyTiers: []MonthlyTierDoc{
			{ID: "monthly-1", Name: "Silver", Min: num("20000"), Percent: num("0.5")},
			{ID: "monthly-2", Name: "Gold", Min: num("30000"), Percent: num("1")},
		},
	}
}

func DefaultBonusGrid() []bonus.GridTier { return DefaultReferenceData().GridTiers() }

func DefaultMonthlyTiers() []bonus.MonthlyTier { return DefaultReferenceData().Tiers() }
