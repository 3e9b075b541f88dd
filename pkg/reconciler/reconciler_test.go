package reconciler

import (
	"testing"
	"time"

	"github.com/harborstay/channelcore/pkg/inventory"
)

func day(n int) time.Time {
	return time.Date(2026, 9, n, 0, 0, 0, 0, time.UTC)
}

func TestOverlapsDetectsIntersectingRanges(t *testing.T) {
	if !overlaps(day(1), day(5), day(3), day(8)) {
		t.Fatal("expected overlapping ranges to report true")
	}
}

func TestOverlapsRejectsAdjacentRanges(t *testing.T) {
	if overlaps(day(1), day(5), day(5), day(8)) {
		t.Fatal("expected a checkout-day handoff to not count as overlapping")
	}
}

func TestOverlapsRejectsDisjointRanges(t *testing.T) {
	if overlaps(day(1), day(3), day(10), day(12)) {
		t.Fatal("expected disjoint ranges to report false")
	}
}

func TestCoveredLocallyTrueWhenOccupiedBookingOverlaps(t *testing.T) {
	iv := inventory.Interval{From: day(1), To: day(5)}
	occupied := []inventory.Booking{{CheckIn: day(2), CheckOut: day(4)}}
	if !coveredLocally(iv, occupied, nil) {
		t.Fatal("expected interval covered by an occupied booking")
	}
}

func TestCoveredLocallyTrueWhenBlockOverlaps(t *testing.T) {
	iv := inventory.Interval{From: day(1), To: day(5)}
	blocks := []inventory.AvailabilityBlock{{StartDate: day(4), EndDate: day(6)}}
	if !coveredLocally(iv, nil, blocks) {
		t.Fatal("expected interval covered by an availability block")
	}
}

func TestCoveredLocallyFalseWhenNothingOverlaps(t *testing.T) {
	iv := inventory.Interval{From: day(1), To: day(5)}
	occupied := []inventory.Booking{{CheckIn: day(10), CheckOut: day(12)}}
	blocks := []inventory.AvailabilityBlock{{StartDate: day(20), EndDate: day(21)}}
	if coveredLocally(iv, occupied, blocks) {
		t.Fatal("expected no local coverage")
	}
}
