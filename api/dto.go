/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON bodies accepted by the API. Responses reuse the domain
  types directly (they carry json tags); only requests get their own types
  so the wire contract can be validated before anything reaches the engine.

NAMING CONVENTION:
  - *Request:  Request body types from clients
  - *DTO:      Small response shapes with no domain equivalent

VALIDATION:
  Struct tags are checked with go-playground/validator before a handler
  touches the engine. Money is sent as a decimal string ("100.50") so no
  float ever carries an amount; the "decimal" tag rejects anything
  shopspring/decimal cannot parse.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/reference.go: The same reference data as a YAML/JSON file
*/
package api

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/generic"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateProcessorRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
	Role     string `json:"role" validate:"omitempty,oneof=processor admin"`
	IsActive *bool  `json:"is_active"` // nil means active
}

type RecordDepositRequest struct {
	ProcessorID string     `json:"processor_id" validate:"required"`
	Amount      string     `json:"amount" validate:"required,decimal"`
	Currency    string     `json:"currency" validate:"omitempty,len=3,alpha"`
	Timestamp   *time.Time `json:"timestamp"`
}

type VoidDepositRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type ScheduleShiftRequest struct {
	ProcessorID    string    `json:"processor_id" validate:"required"`
	Type           string    `json:"type" validate:"required,oneof=MORNING DAY NIGHT"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	ScheduledEnd   time.Time `json:"scheduled_end" validate:"required,gtfield=ScheduledStart"`
}

type MonthlyBonusRequest struct {
	ProcessorID string `json:"processor_id"`
	Month       string `json:"month" validate:"omitempty,datetime=2006-01"`
	DryRun      bool   `json:"dry_run"`
}

type GridTierRequest struct {
	ID      string  `json:"id"`
	Min     string  `json:"min" validate:"required,decimal"`
	Max     *string `json:"max" validate:"omitempty,decimal"`
	Percent string  `json:"percent" validate:"required,decimal"`
}

type MonthlyTierRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name" validate:"required"`
	Min     string `json:"min" validate:"required,decimal"`
	Percent string `json:"percent" validate:"required,decimal"`
}

type SalaryRequest struct {
	HourlyRate string `json:"hourly_rate" validate:"required,decimal"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// DepositDTO is the outcome of recording a deposit.
type DepositDTO struct {
	Deposit         bonus.Deposit   `json:"deposit"`
	BonusAmount     decimal.Decimal `json:"bonus_amount"`
	AppliedTierID   string          `json:"applied_tier_id,omitempty"`
	CumulativeTotal decimal.Decimal `json:"cumulative_total"`
	Payment         *bonus.Payment  `json:"payment,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(fl.Field().String())
		return err == nil
	})
	return v
}

// validationDetails flattens validator errors into field -> rule.
func validationDetails(err error) any {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[fe.Field()] = rule
	}
	return out
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func (r GridTierRequest) toTier() (bonus.GridTier, error) {
	t := bonus.GridTier{ID: r.ID, IsActive: true}
	var err error
	if t.MinAmount, err = decimal.NewFromString(r.Min); err != nil {
		return t, fmt.Errorf("%w: min %q", generic.ErrInvalidReferenceData, r.Min)
	}
	if t.BonusPercentage, err = decimal.NewFromString(r.Percent); err != nil {
		return t, fmt.Errorf("%w: percent %q", generic.ErrInvalidReferenceData, r.Percent)
	}
	if r.Max != nil {
		upper, err := decimal.NewFromString(*r.Max)
		if err != nil {
			return t, fmt.Errorf("%w: max %q", generic.ErrInvalidReferenceData, *r.Max)
		}
		t.MaxAmount = &upper
	}
	return t, nil
}

func (r MonthlyTierRequest) toTier() (bonus.MonthlyTier, error) {
	t := bonus.MonthlyTier{ID: r.ID, Name: r.Name, IsActive: true}
	var err error
	if t.MinAmount, err = decimal.NewFromString(r.Min); err != nil {
		return t, fmt.Errorf("%w: min %q", generic.ErrInvalidReferenceData, r.Min)
	}
	if t.BonusPercent, err = decimal.NewFromString(r.Percent); err != nil {
		return t, fmt.Errorf("%w: percent %q", generic.ErrInvalidReferenceData, r.Percent)
	}
	return t, nil
}
