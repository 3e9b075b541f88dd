package pricing

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", name, err)
	}
	return loc
}

func date(loc *time.Location, y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func TestComputeBasePriceOnly(t *testing.T) {
	loc := mustLoc(t, "UTC")
	in := Input{
		BasePriceMinor: 10000,
		Currency:       "USD",
		CheckIn:        date(loc, 2026, time.March, 2), // Monday
		CheckOut:       date(loc, 2026, time.March, 5), // 3 nights
		PropertyLocation: loc,
	}
	got, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(got.NightlyMinor) != 3 {
		t.Fatalf("nights = %d, want 3", len(got.NightlyMinor))
	}
	for _, n := range got.NightlyMinor {
		if n != 10000 {
			t.Errorf("nightly = %d, want 10000", n)
		}
	}
	if got.SubtotalMinor != 30000 {
		t.Errorf("subtotal = %d, want 30000", got.SubtotalMinor)
	}
	if got.TotalMinor != 30000 {
		t.Errorf("total = %d, want 30000 (no fees)", got.TotalMinor)
	}
}

func TestExplicitDateOverrideBeatsEveryRule(t *testing.T) {
	loc := mustLoc(t, "UTC")
	checkIn := date(loc, 2026, time.March, 2)
	in := Input{
		BasePriceMinor: 10000,
		CheckIn:        checkIn,
		CheckOut:       date(loc, 2026, time.March, 3),
		PropertyLocation: loc,
		Rules: []Rule{
			{Kind: RuleSeasonal, SeasonStart: date(loc, 2026, time.January, 1), SeasonEnd: date(loc, 2026, time.December, 31),
				Adjustment: Adjustment{Type: AdjustmentPercentage, PercentBps: 10000}},
		},
		DateOverrides: map[string]int64{
			checkIn.Format("2006-01-02"): 5000,
		},
	}
	got, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got.NightlyMinor[0] != 5000 {
		t.Errorf("nightly = %d, want override 5000", got.NightlyMinor[0])
	}
}

func TestSeasonalThenWeekendStackInOrder(t *testing.T) {
	loc := mustLoc(t, "UTC")
	// 2026-03-07 is a Saturday.
	in := Input{
		BasePriceMinor: 10000,
		CheckIn:        date(loc, 2026, time.March, 7),
		CheckOut:       date(loc, 2026, time.March, 8),
		PropertyLocation: loc,
		Rules: []Rule{
			{Kind: RuleSeasonal, SeasonStart: date(loc, 2026, time.January, 1), SeasonEnd: date(loc, 2026, time.December, 31),
				Adjustment: Adjustment{Type: AdjustmentPercentage, PercentBps: 2000}}, // +20%
			{Kind: RuleWeekend, Adjustment: Adjustment{Type: AdjustmentFixedMinor, FixedMinor: 500}},
		},
	}
	got, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// 10000 + 20% = 12000, then +500 weekend flat = 12500.
	if got.NightlyMinor[0] != 12500 {
		t.Errorf("nightly = %d, want 12500", got.NightlyMinor[0])
	}
}

func TestWeekendRuleSkippedOnWeekday(t *testing.T) {
	loc := mustLoc(t, "UTC")
	// 2026-03-03 is a Tuesday.
	in := Input{
		BasePriceMinor: 10000,
		CheckIn:        date(loc, 2026, time.March, 3),
		CheckOut:       date(loc, 2026, time.March, 4),
		PropertyLocation: loc,
		Rules: []Rule{
			{Kind: RuleWeekend, Adjustment: Adjustment{Type: AdjustmentFixedMinor, FixedMinor: 500}},
		},
	}
	got, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got.NightlyMinor[0] != 10000 {
		t.Errorf("nightly = %d, want 10000 (weekend rule must not apply)", got.NightlyMinor[0])
	}
}

func TestLengthOfStayAppliedToSubtotalNotNightly(t *testing.T) {
	loc := mustLoc(t, "UTC")
	in := Input{
		BasePriceMinor: 10000,
		CheckIn:        date(loc, 2026, time.March, 2),
		CheckOut:       date(loc, 2026, time.March, 9), // 7 nights
		PropertyLocation: loc,
		Rules: []Rule{
			{Kind: RuleLengthOfStay, MinNights: 7, Adjustment: Adjustment{Type: AdjustmentPercentage, PercentBps: -1000}}, // -10%
		},
	}
	got, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for _, n := range got.NightlyMinor {
		if n != 10000 {
			t.Errorf("nightly = %d, want 10000 (LOS rule must not touch per-night price)", n)
		}
	}
	// 70000 - 10% = 63000.
	if got.SubtotalMinor != 63000 {
		t.Errorf("subtotal = %d, want 63000", got.SubtotalMinor)
	}
}

func TestLengthOfStayNotAppliedBelowThreshold(t *testing.T) {
	loc := mustLoc(t, "UTC")
	in := Input{
		BasePriceMinor: 10000,
		CheckIn:        date(loc, 2026, time.March, 2),
		CheckOut:       date(loc, 2026, time.March, 5), // 3 nights
		PropertyLocation: loc,
		Rules: []Rule{
			{Kind: RuleLengthOfStay, MinNights: 7, Adjustment: Adjustment{Type: AdjustmentPercentage, PercentBps: -1000}},
		},
	}
	got, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got.SubtotalMinor != 30000 {
		t.Errorf("subtotal = %d, want 30000 (rule must not apply below MinNights)", got.SubtotalMinor)
	}
}

func TestFeesComputedFromSubtotalWithHalfUpRounding(t *testing.T) {
	loc := mustLoc(t, "UTC")
	in := Input{
		BasePriceMinor:   3333,
		CheckIn:          date(loc, 2026, time.March, 2),
		CheckOut:         date(loc, 2026, time.March, 3), // 1 night, subtotal 3333
		PropertyLocation: loc,
		CleaningFeeMinor: 1000,
		ServiceFeeBps:    1250, // 12.5% of 3333 = 416.625 -> 417
		TaxBps:           500,  // 5% of (3333+1000+417=4750) = 237.5 -> 238
	}
	got, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got.ServiceFeeMinor != 417 {
		t.Errorf("service fee = %d, want 417", got.ServiceFeeMinor)
	}
	if got.TaxMinor != 238 {
		t.Errorf("tax = %d, want 238", got.TaxMinor)
	}
	wantTotal := got.SubtotalMinor + got.CleaningFeeMinor + got.ServiceFeeMinor + got.TaxMinor
	if got.TotalMinor != wantTotal {
		t.Errorf("total = %d, want %d", got.TotalMinor, wantTotal)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	in := Input{
		BasePriceMinor: 15000,
		CheckIn:        date(loc, 2026, time.June, 5),
		CheckOut:       date(loc, 2026, time.June, 12),
		PropertyLocation: loc,
		Rules: []Rule{
			{Kind: RuleSeasonal, SeasonStart: date(loc, 2026, time.June, 1), SeasonEnd: date(loc, 2026, time.August, 31),
				Adjustment: Adjustment{Type: AdjustmentPercentage, PercentBps: 1500}},
			{Kind: RuleWeekend, Adjustment: Adjustment{Type: AdjustmentPercentage, PercentBps: 1000}},
			{Kind: RuleLengthOfStay, MinNights: 5, Adjustment: Adjustment{Type: AdjustmentFixedMinor, FixedMinor: -2000}},
		},
		CleaningFeeMinor: 5000,
		ServiceFeeBps:    1000,
		TaxBps:           875,
	}
	first, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	second, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if first.TotalMinor != second.TotalMinor {
		t.Fatalf("non-deterministic total: %d != %d", first.TotalMinor, second.TotalMinor)
	}
	sum := int64(0)
	for _, n := range first.NightlyMinor {
		sum += n
	}
	losAdjusted := sum - 2000
	if first.SubtotalMinor != losAdjusted {
		t.Errorf("subtotal = %d, want %d", first.SubtotalMinor, losAdjusted)
	}
}

func TestCheckInMustPrecedeCheckOut(t *testing.T) {
	loc := mustLoc(t, "UTC")
	in := Input{
		BasePriceMinor:   10000,
		CheckIn:          date(loc, 2026, time.March, 5),
		CheckOut:         date(loc, 2026, time.March, 5),
		PropertyLocation: loc,
	}
	if _, err := Compute(in); err == nil {
		t.Fatal("expected error for empty date range")
	}
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		num, den, want int64
	}{
		{5, 2, 3},   // 2.5 -> 3
		{4, 2, 2},   // 2.0 -> 2
		{3, 2, 2},   // 1.5 -> 2
		{0, 100, 0},
		{1, 3, 0}, // 0.33 -> 0
	}
	for _, c := range cases {
		if got := roundHalfUp(c.num, c.den); got != c.want {
			t.Errorf("roundHalfUp(%d, %d) = %d, want %d", c.num, c.den, got, c.want)
		}
	}
}
