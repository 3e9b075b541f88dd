package property

import (
	"testing"
	"time"

	"github.com/harborstay/channelcore/pkg/pricing"
)

func TestToPricingRulePercentage(t *testing.T) {
	minNights := 5
	start := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.August, 31, 0, 0, 0, 0, time.UTC)

	r := PricingRule{
		Kind:            RuleSeasonal,
		StartDate:       &start,
		EndDate:         &end,
		MinNights:       &minNights,
		AdjustmentType:  AdjustmentPercentage,
		AdjustmentValue: 1500,
	}

	got := toPricingRule(r)
	if got.Kind != pricing.RuleSeasonal {
		t.Errorf("Kind = %v, want %v", got.Kind, pricing.RuleSeasonal)
	}
	if !got.SeasonStart.Equal(start) || !got.SeasonEnd.Equal(end) {
		t.Errorf("season bounds not carried through: %v/%v", got.SeasonStart, got.SeasonEnd)
	}
	if got.MinNights != 5 {
		t.Errorf("MinNights = %d, want 5", got.MinNights)
	}
	if got.Adjustment.Type != pricing.AdjustmentPercentage || got.Adjustment.PercentBps != 1500 {
		t.Errorf("adjustment = %+v, want percentage 1500bps", got.Adjustment)
	}
}

func TestToPricingRuleFixedMinor(t *testing.T) {
	r := PricingRule{
		Kind:            RuleWeekend,
		AdjustmentType:  AdjustmentFixedMinor,
		AdjustmentValue: -2500,
	}

	got := toPricingRule(r)
	if got.Adjustment.Type != pricing.AdjustmentFixedMinor || got.Adjustment.FixedMinor != -2500 {
		t.Errorf("adjustment = %+v, want fixed_minor -2500", got.Adjustment)
	}
}

func TestToPricingRuleNilOptionalFields(t *testing.T) {
	r := PricingRule{
		Kind:            RuleLengthOfStay,
		AdjustmentType:  AdjustmentPercentage,
		AdjustmentValue: 500,
	}

	got := toPricingRule(r)
	if got.MinNights != 0 {
		t.Errorf("MinNights = %d, want 0 when unset", got.MinNights)
	}
	if !got.SeasonStart.IsZero() || !got.SeasonEnd.IsZero() {
		t.Errorf("season bounds should be zero when unset")
	}
}
