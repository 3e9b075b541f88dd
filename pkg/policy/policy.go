// Package policy implements the Conflict Resolution Policy (spec §4.11,
// C12): the deterministic rules the webhook ingress and reconciler both
// apply when a channel's own view of a booking, availability window, or
// price disagrees with the locally stored one. Every function here is
// pure — no I/O, no clock reads beyond the timestamps callers pass in —
// so the ingress and reconciler can each drive it from their own
// transaction without this package knowing about either.
package policy

import (
	"time"

	"github.com/harborstay/channelcore/pkg/inventory"
)

// statusRank orders inventory.Status by how authoritative a claim in that
// status is, lowest first (spec §4.11: "cancelled < checked_out <
// checked_in < confirmed < reserved < inquiry, most restrictive wins").
// A terminal status is harder to walk back than a soft hold, so it wins a
// tie between two sources neither of which is the booking's own channel.
var statusRank = map[inventory.Status]int{
	inventory.StatusCancelled:  0,
	inventory.StatusCheckedOut: 1,
	inventory.StatusCheckedIn:  2,
	inventory.StatusConfirmed:  3,
	inventory.StatusReserved:   4,
	inventory.StatusInquiry:    5,
}

// moreRestrictive reports whether a outranks b (wins a tie).
func moreRestrictive(a, b inventory.Status) bool {
	return statusRank[a] < statusRank[b]
}

// BookingSide is one party's view of a booking's status going into
// resolution: the locally stored state, or the state a channel's webhook
// or reconciliation sweep just reported.
type BookingSide struct {
	Source    string // "direct" or a channel tag
	Status    inventory.Status
	UpdatedAt time.Time
}

// Winner identifies which side a resolution favors.
type Winner int

const (
	WinnerLocal Winner = iota
	WinnerIncoming
)

// ResolveBookingStatus decides which side's status should be applied,
// given the booking's own recorded source, its current local state, and
// an incoming report from incomingSource (spec §4.11 "Conflict Resolution
// Policy"):
//
//  1. The booking's source is "direct": the direct Booking Core is
//     authoritative for its own bookings, so local always wins and the
//     ingress should re-push to reassert it on the channel.
//  2. incomingSource matches the booking's own source: that channel is
//     reporting on its own booking, so the incoming report wins.
//  3. Otherwise (a third channel, or the reconciler comparing two
//     channels): most-restrictive-wins; ties broken by whichever side was
//     updated more recently, and a further tie keeps the local side.
func ResolveBookingStatus(bookingSource string, local, incoming BookingSide) Winner {
	if bookingSource == "direct" {
		return WinnerLocal
	}
	if incoming.Source == bookingSource {
		return WinnerIncoming
	}

	if local.Status != incoming.Status {
		if moreRestrictive(incoming.Status, local.Status) {
			return WinnerIncoming
		}
		if moreRestrictive(local.Status, incoming.Status) {
			return WinnerLocal
		}
	}

	if incoming.UpdatedAt.After(local.UpdatedAt) {
		return WinnerIncoming
	}
	return WinnerLocal
}

// AvailabilitySide is one party's claim about whether a date range is
// open, going into an availability-drift resolution.
type AvailabilitySide struct {
	Blocked bool
}

// ResolveAvailability implements spec §4.11's availability rule: "blocked
// wins" — if either side reports the range unavailable, the range is
// treated as unavailable everywhere until the drift is corrected at its
// source.
func ResolveAvailability(local, remote AvailabilitySide) bool {
	return local.Blocked || remote.Blocked
}

// InboundBookingDecision is the outcome of evaluating a brand-new inbound
// booking (one the ingress has never seen before) against local
// inventory (spec §4.11 "new inbound booking" rule).
type InboundBookingDecision int

const (
	// DecisionAccept: no local conflict, accept with status confirmed.
	DecisionAccept InboundBookingDecision = iota
	// DecisionRejectSilently: conflicts with a local booking whose source
	// is also a channel (not "direct") — reject at the platform, no
	// operator alert needed, channels are expected to occasionally race.
	DecisionRejectSilently
	// DecisionRejectAndAlert: conflicts with a direct booking — reject at
	// the platform and raise an operator alert, since a direct guest's
	// stay is never silently bumped for a channel booking.
	DecisionRejectAndAlert
)

// DecideNewInboundBooking evaluates a first-sighting inbound booking
// against the local bookings already occupying its interval.
func DecideNewInboundBooking(conflicting []inventory.Booking) InboundBookingDecision {
	if len(conflicting) == 0 {
		return DecisionAccept
	}
	for _, c := range conflicting {
		if c.Source == "direct" {
			return DecisionRejectAndAlert
		}
	}
	return DecisionRejectSilently
}
