// Package booking is the Booking Core (spec §4.6): it owns the booking
// life cycle for both direct and channel-originated bookings, orchestrating
// the Inventory Store, Event Log, and Lock Manager, and computes pricing
// deterministically on the server.
package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/harborstay/channelcore/pkg/inventory"
)

// PaymentProcessor is the external payment processor the Booking Core
// depends on for checkout (spec §4.6.3). Defined here, at the consumer,
// so pkg/payment's concrete Stripe client is swappable in tests.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string) (intentID string, err error)
	CancelIntent(ctx context.Context, intentID string) error
	VerifyProof(ctx context.Context, intentID, proof string) (bool, error)
	IsSucceeded(ctx context.Context, intentID string) (bool, error)
}

// StartCheckoutRequest is the input to StartCheckout.
type StartCheckoutRequest struct {
	PropertyID uuid.UUID
	CheckIn    time.Time
	CheckOut   time.Time
	Guests     int
}

// CheckoutSession is StartCheckout's result: the reserved booking and the
// deadline by which payment must be confirmed.
type CheckoutSession struct {
	BookingID       uuid.UUID
	PropertyID      uuid.UUID
	Status          inventory.Status
	CheckIn         time.Time
	CheckOut        time.Time
	Guests          int
	TotalMinor      int64
	Currency        string
	PaymentIntentID string
	Deadline        time.Time
}

// InboundUpsertRequest is the input to ApplyInboundUpsert: a channel's own
// view of a booking that the Conflict Resolution Policy has already
// decided should be applied locally (spec §4.11).
type InboundUpsertRequest struct {
	PropertyID uuid.UUID
	Source     string // channel tag, e.g. "airbnb"
	ExternalID string
	CheckIn    time.Time
	CheckOut   time.Time
	Guests     int
	Status     inventory.Status
	TotalMinor int64
	Currency   string
}

// CalendarEntry is one read-only row in a property's calendar, combining
// bookings and availability blocks into the single occupied-interval view
// external callers are allowed to see (spec §6 list_property_calendar).
type CalendarEntry struct {
	CheckIn  time.Time
	CheckOut time.Time
	Status   string
	Source   string
}

func toSession(b inventory.Booking, deadline time.Time) CheckoutSession {
	intentID := ""
	if b.PaymentIntentID != nil {
		intentID = *b.PaymentIntentID
	}
	return CheckoutSession{
		BookingID:       b.ID,
		PropertyID:      b.PropertyID,
		Status:          b.Status,
		CheckIn:         b.CheckIn,
		CheckOut:        b.CheckOut,
		Guests:          b.Guests,
		TotalMinor:      b.TotalMinor,
		Currency:        b.Currency,
		PaymentIntentID: intentID,
		Deadline:        deadline,
	}
}

// nonTerminalStatuses is every status cancel_booking may transition out of
// (spec §4.6.2: "Any state except the two terminal states may transition
// to cancelled").
var nonTerminalStatuses = []inventory.Status{
	inventory.StatusInquiry, inventory.StatusReserved, inventory.StatusConfirmed, inventory.StatusCheckedIn,
}
