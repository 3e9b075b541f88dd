// Package pricing computes a booking's price deterministically on the
// server (spec §4.6.4): the same inputs and pricing rule set snapshot
// must produce byte-equal outputs, so the Booking Core never trusts a
// client-supplied total.
package pricing

import (
	"fmt"
	"time"
)

// AdjustmentType is how a pricing rule modifies a base amount.
type AdjustmentType string

const (
	AdjustmentPercentage AdjustmentType = "percentage"
	AdjustmentFixedMinor AdjustmentType = "fixed_minor"
)

// Adjustment is one rule's effect, expressed in integer units so the
// arithmetic never touches floating point: PercentBps is basis points
// (1/100 of a percent; 1000 == 10.00%), used when Type is percentage;
// FixedMinor is an integer minor-unit delta, used when Type is
// fixed_minor.
type Adjustment struct {
	Type       AdjustmentType
	PercentBps int64
	FixedMinor int64
}

// RuleKind is one of the three rule kinds spec §4.6.4 names, applied in
// this fixed order: seasonal, then weekend (both per-night), then
// length_of_stay (applied once to the summed subtotal).
type RuleKind string

const (
	RuleSeasonal     RuleKind = "seasonal"
	RuleWeekend      RuleKind = "weekend"
	RuleLengthOfStay RuleKind = "length_of_stay"
)

// Rule is one pricing rule from the property's rule set snapshot.
type Rule struct {
	Kind RuleKind

	// Seasonal predicate: the rule matches a night if its civil date
	// falls within [SeasonStart, SeasonEnd] inclusive.
	SeasonStart, SeasonEnd time.Time

	// LengthOfStay predicate: the rule matches if the stay is at least
	// MinNights nights.
	MinNights int

	Adjustment Adjustment
}

// Input is everything needed to reproduce a price deterministically:
// property snapshot, dates, guests, and the rule set snapshot (spec
// §4.6.4: "byte-for-byte reproducible ... for a given (property
// snapshot, dates, guests, rule set, tax table)").
type Input struct {
	BasePriceMinor int64
	Currency       string

	// CheckIn/CheckOut are civil dates at midnight in the property's
	// timezone; CheckOut is exclusive (spec §3 half-open range).
	CheckIn, CheckOut time.Time
	PropertyLocation   *time.Location

	Guests int

	Rules         []Rule
	// DateOverrides maps a civil date key ("2006-01-02") to an explicit
	// per-night total in minor units, taking precedence over every rule
	// (spec §4.6.4 precedence #1).
	DateOverrides map[string]int64

	CleaningFeeMinor int64
	ServiceFeeBps    int64 // percentage of subtotal
	TaxBps           int64 // percentage of (subtotal + cleaning + service)
}

// Breakdown is the full, reproducible price computation.
type Breakdown struct {
	NightlyMinor     []int64
	SubtotalMinor    int64
	CleaningFeeMinor int64
	ServiceFeeMinor  int64
	TaxMinor         int64
	TotalMinor       int64
	Currency         string
}

// Compute derives a Breakdown from in. It is a pure function: identical
// inputs always yield an identical Breakdown (spec §4.6.4, invariant 5).
func Compute(in Input) (Breakdown, error) {
	if !in.CheckIn.Before(in.CheckOut) {
		return Breakdown{}, fmt.Errorf("pricing: check_in must be before check_out")
	}
	if in.PropertyLocation == nil {
		return Breakdown{}, fmt.Errorf("pricing: property location is required")
	}

	var nightly []int64
	for d := in.CheckIn; d.Before(in.CheckOut); d = d.AddDate(0, 0, 1) {
		nightly = append(nightly, priceForNight(in, d))
	}

	subtotal := int64(0)
	for _, n := range nightly {
		subtotal += n
	}
	subtotal = applyLengthOfStay(subtotal, in.Rules, len(nightly))

	cleaning := in.CleaningFeeMinor
	service := roundHalfUp(subtotal*in.ServiceFeeBps, 10000)
	tax := roundHalfUp((subtotal+cleaning+service)*in.TaxBps, 10000)

	return Breakdown{
		NightlyMinor:     nightly,
		SubtotalMinor:    subtotal,
		CleaningFeeMinor: cleaning,
		ServiceFeeMinor:  service,
		TaxMinor:         tax,
		TotalMinor:       subtotal + cleaning + service + tax,
		Currency:         in.Currency,
	}, nil
}

// priceForNight resolves one night's price following spec §4.6.4's
// precedence: explicit date override wins outright; otherwise base_price
// with the first matching seasonal rule applied, then the first matching
// weekend rule applied on top.
func priceForNight(in Input, night time.Time) int64 {
	key := night.Format("2006-01-02")
	if override, ok := in.DateOverrides[key]; ok {
		return override
	}

	price := in.BasePriceMinor

	if r, ok := firstMatch(in.Rules, RuleSeasonal, func(r Rule) bool { return seasonalMatches(r, night) }); ok {
		price = applyAdjustment(price, r.Adjustment)
	}

	if isWeekend(night, in.PropertyLocation) {
		if r, ok := firstMatch(in.Rules, RuleWeekend, func(Rule) bool { return true }); ok {
			price = applyAdjustment(price, r.Adjustment)
		}
	}

	return price
}

func applyLengthOfStay(subtotal int64, rules []Rule, nights int) int64 {
	if r, ok := firstMatch(rules, RuleLengthOfStay, func(r Rule) bool { return nights >= r.MinNights }); ok {
		return applyAdjustment(subtotal, r.Adjustment)
	}
	return subtotal
}

func firstMatch(rules []Rule, kind RuleKind, pred func(Rule) bool) (Rule, bool) {
	for _, r := range rules {
		if r.Kind == kind && pred(r) {
			return r, true
		}
	}
	return Rule{}, false
}

func seasonalMatches(r Rule, night time.Time) bool {
	return !night.Before(r.SeasonStart) && !night.After(r.SeasonEnd)
}

func isWeekend(night time.Time, loc *time.Location) bool {
	wd := night.In(loc).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// applyAdjustment returns amount modified by adj, rounding percentage
// math half-up at this single step (spec §4.6.4: "half-up rounding at
// each step").
func applyAdjustment(amount int64, adj Adjustment) int64 {
	switch adj.Type {
	case AdjustmentFixedMinor:
		return amount + adj.FixedMinor
	case AdjustmentPercentage:
		return amount + roundHalfUp(amount*adj.PercentBps, 10000)
	default:
		return amount
	}
}

// roundHalfUp divides num by den rounding .5 away from zero. den must be
// positive; num may be negative for discount-style adjustments.
func roundHalfUp(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	neg := num < 0
	if neg {
		num = -num
	}
	q := num / den
	r := num % den
	if 2*r >= den {
		q++
	}
	if neg {
		q = -q
	}
	return q
}
