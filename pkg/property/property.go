// Package property is the portfolio side of the Booking Core: each
// property carries the base price, fee structure, and timezone that
// pkg/pricing needs to compute a deterministic total, plus the pricing
// rule set that overrides the base price per night (spec §4.6.4).
package property

import (
	"time"

	"github.com/google/uuid"
)

// CreateRequest is the JSON body for POST /api/v1/properties.
type CreateRequest struct {
	Name             string `json:"name" validate:"required,min=2"`
	Timezone         string `json:"timezone" validate:"required"`
	Currency         string `json:"currency" validate:"required,len=3"`
	BasePriceMinor   int64  `json:"base_price_minor" validate:"required,gte=0"`
	CleaningFeeMinor int64  `json:"cleaning_fee_minor" validate:"gte=0"`
	ServiceFeeBps    int64  `json:"service_fee_bps" validate:"gte=0"`
	TaxBps           int64  `json:"tax_bps" validate:"gte=0"`
	MaxGuests        int    `json:"max_guests" validate:"required,gte=1"`
}

// UpdateRequest is the JSON body for PUT /api/v1/properties/:id.
type UpdateRequest struct {
	Name             string `json:"name" validate:"required,min=2"`
	Timezone         string `json:"timezone" validate:"required"`
	Currency         string `json:"currency" validate:"required,len=3"`
	BasePriceMinor   int64  `json:"base_price_minor" validate:"required,gte=0"`
	CleaningFeeMinor int64  `json:"cleaning_fee_minor" validate:"gte=0"`
	ServiceFeeBps    int64  `json:"service_fee_bps" validate:"gte=0"`
	TaxBps           int64  `json:"tax_bps" validate:"gte=0"`
	MaxGuests        int    `json:"max_guests" validate:"required,gte=1"`
}

// Response is the JSON response for a single property.
type Response struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Timezone         string    `json:"timezone"`
	Currency         string    `json:"currency"`
	BasePriceMinor   int64     `json:"base_price_minor"`
	CleaningFeeMinor int64     `json:"cleaning_fee_minor"`
	ServiceFeeBps    int64     `json:"service_fee_bps"`
	TaxBps           int64     `json:"tax_bps"`
	MaxGuests        int       `json:"max_guests"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Property is the persisted entity.
type Property struct {
	ID               uuid.UUID
	Name             string
	Timezone         string
	Currency         string
	BasePriceMinor   int64
	CleaningFeeMinor int64
	ServiceFeeBps    int64
	TaxBps           int64
	MaxGuests        int
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ToResponse converts a Property to its JSON representation.
func (p Property) ToResponse() Response {
	return Response{
		ID:               p.ID,
		Name:             p.Name,
		Timezone:         p.Timezone,
		Currency:         p.Currency,
		BasePriceMinor:   p.BasePriceMinor,
		CleaningFeeMinor: p.CleaningFeeMinor,
		ServiceFeeBps:    p.ServiceFeeBps,
		TaxBps:           p.TaxBps,
		MaxGuests:        p.MaxGuests,
		IsActive:         p.IsActive,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// RuleKind mirrors pricing.RuleKind; kept as a distinct string type here
// so this package does not need to import pkg/pricing just to persist a
// row (the conversion happens once, in Service.PricingSnapshot).
type RuleKind string

const (
	RuleSeasonal     RuleKind = "seasonal"
	RuleWeekend      RuleKind = "weekend"
	RuleLengthOfStay RuleKind = "length_of_stay"
)

// AdjustmentType mirrors pricing.AdjustmentType.
type AdjustmentType string

const (
	AdjustmentPercentage AdjustmentType = "percentage"
	AdjustmentFixedMinor AdjustmentType = "fixed_minor"
)

// PricingRule is a persisted pricing override (spec §4.6.4). AdjustmentValue
// is always an integer: for AdjustmentPercentage it is basis points (1000 ==
// 10.00%); for AdjustmentFixedMinor it is a minor-unit delta. Storing it as
// an integer end to end (never a float) is what keeps pkg/pricing's
// half-up rounding byte-for-byte reproducible.
type PricingRule struct {
	ID               uuid.UUID
	PropertyID       uuid.UUID
	Kind             RuleKind
	StartDate        *time.Time
	EndDate          *time.Time
	MinNights        *int
	AdjustmentType   AdjustmentType
	AdjustmentValue  int64
}

// CreateRuleRequest is the JSON body for POST /api/v1/properties/:id/pricing-rules.
type CreateRuleRequest struct {
	Kind            RuleKind       `json:"kind" validate:"required,oneof=seasonal weekend length_of_stay"`
	StartDate       *time.Time     `json:"start_date"`
	EndDate         *time.Time     `json:"end_date"`
	MinNights       *int           `json:"min_nights"`
	AdjustmentType  AdjustmentType `json:"adjustment_type" validate:"required,oneof=percentage fixed_minor"`
	AdjustmentValue int64          `json:"adjustment_value"`
}

// RuleResponse is the JSON response for a single pricing rule.
type RuleResponse struct {
	ID              uuid.UUID      `json:"id"`
	PropertyID      uuid.UUID      `json:"property_id"`
	Kind            RuleKind       `json:"kind"`
	StartDate       *time.Time     `json:"start_date,omitempty"`
	EndDate         *time.Time     `json:"end_date,omitempty"`
	MinNights       *int           `json:"min_nights,omitempty"`
	AdjustmentType  AdjustmentType `json:"adjustment_type"`
	AdjustmentValue int64          `json:"adjustment_value"`
}

// ToResponse converts a PricingRule to its JSON representation.
func (r PricingRule) ToResponse() RuleResponse {
	return RuleResponse{
		ID:              r.ID,
		PropertyID:      r.PropertyID,
		Kind:            r.Kind,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		MinNights:       r.MinNights,
		AdjustmentType:  r.AdjustmentType,
		AdjustmentValue: r.AdjustmentValue,
	}
}
