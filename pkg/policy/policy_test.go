package policy

import (
	"testing"
	"time"

	"github.com/harborstay/channelcore/pkg/inventory"
)

func TestResolveBookingStatusDirectSourceAlwaysLocal(t *testing.T) {
	local := BookingSide{Source: "direct", Status: inventory.StatusConfirmed, UpdatedAt: time.Now().Add(-time.Hour)}
	incoming := BookingSide{Source: "airbnb", Status: inventory.StatusCancelled, UpdatedAt: time.Now()}

	if got := ResolveBookingStatus("direct", local, incoming); got != WinnerLocal {
		t.Fatalf("expected local to win for a direct booking, got %v", got)
	}
}

func TestResolveBookingStatusOwnChannelWins(t *testing.T) {
	local := BookingSide{Source: "airbnb", Status: inventory.StatusConfirmed, UpdatedAt: time.Now().Add(-time.Hour)}
	incoming := BookingSide{Source: "airbnb", Status: inventory.StatusCheckedIn, UpdatedAt: time.Now()}

	if got := ResolveBookingStatus("airbnb", local, incoming); got != WinnerIncoming {
		t.Fatalf("expected the booking's own channel to win, got %v", got)
	}
}

func TestResolveBookingStatusThirdPartyMostRestrictiveWins(t *testing.T) {
	local := BookingSide{Source: "airbnb", Status: inventory.StatusConfirmed, UpdatedAt: time.Now()}
	incoming := BookingSide{Source: "expedia", Status: inventory.StatusCancelled, UpdatedAt: time.Now().Add(-time.Hour)}

	if got := ResolveBookingStatus("airbnb", local, incoming); got != WinnerIncoming {
		t.Fatalf("expected the more restrictive (cancelled) status to win even though it is older, got %v", got)
	}
}

func TestResolveBookingStatusTieBreaksByRecency(t *testing.T) {
	now := time.Now()
	local := BookingSide{Source: "airbnb", Status: inventory.StatusConfirmed, UpdatedAt: now.Add(-time.Minute)}
	incoming := BookingSide{Source: "expedia", Status: inventory.StatusConfirmed, UpdatedAt: now}

	if got := ResolveBookingStatus("airbnb", local, incoming); got != WinnerIncoming {
		t.Fatalf("expected the more recent side to win an equal-status tie, got %v", got)
	}
}

func TestResolveAvailabilityBlockedWins(t *testing.T) {
	cases := []struct {
		name           string
		local, remote  AvailabilitySide
		wantUnavailable bool
	}{
		{"both open", AvailabilitySide{false}, AvailabilitySide{false}, false},
		{"local blocked", AvailabilitySide{true}, AvailabilitySide{false}, true},
		{"remote blocked", AvailabilitySide{false}, AvailabilitySide{true}, true},
		{"both blocked", AvailabilitySide{true}, AvailabilitySide{true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveAvailability(tc.local, tc.remote); got != tc.wantUnavailable {
				t.Errorf("got %v, want %v", got, tc.wantUnavailable)
			}
		})
	}
}

func TestDecideNewInboundBookingNoConflict(t *testing.T) {
	if got := DecideNewInboundBooking(nil); got != DecisionAccept {
		t.Fatalf("expected accept with no conflicts, got %v", got)
	}
}

func TestDecideNewInboundBookingConflictsWithDirectBooking(t *testing.T) {
	conflicting := []inventory.Booking{{Source: "direct"}}
	if got := DecideNewInboundBooking(conflicting); got != DecisionRejectAndAlert {
		t.Fatalf("expected reject and alert for a direct-booking conflict, got %v", got)
	}
}

func TestDecideNewInboundBookingConflictsWithChannelBookingOnly(t *testing.T) {
	conflicting := []inventory.Booking{{Source: "expedia"}}
	if got := DecideNewInboundBooking(conflicting); got != DecisionRejectSilently {
		t.Fatalf("expected silent reject for a channel-only conflict, got %v", got)
	}
}
