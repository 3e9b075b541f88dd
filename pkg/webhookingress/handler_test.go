package webhookingress

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/inventory"
)

func TestInboundUpsertRequestCarriesParsedFields(t *testing.T) {
	propertyID := uuid.New()
	parsed := channel.ParsedInboundEvent{
		Kind:               channel.InboundBookingUpdated,
		ExternalMessageID:  "msg-1",
		ExternalPropertyID: "ext-prop-1",
		Booking: channel.ExternalBookingSnapshot{
			ExternalID: "ext-booking-1",
			CheckIn:    time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			CheckOut:   time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC),
			Guests:     3,
			Status:     inventory.StatusConfirmed,
			TotalMinor: 120000,
			Currency:   "USD",
		},
	}

	req := inboundUpsertRequest(propertyID, "airbnb", parsed, inventory.StatusCancelled)

	if req.PropertyID != propertyID {
		t.Fatalf("expected property id to carry through")
	}
	if req.Source != "airbnb" {
		t.Fatalf("expected source airbnb, got %q", req.Source)
	}
	if req.ExternalID != "ext-booking-1" {
		t.Fatalf("expected external id to carry through, got %q", req.ExternalID)
	}
	if req.Status != inventory.StatusCancelled {
		t.Fatalf("expected the caller-decided status to win over the parsed status, got %s", req.Status)
	}
	if req.Guests != 3 || req.TotalMinor != 120000 || req.Currency != "USD" {
		t.Fatalf("expected guest/price fields to carry through unchanged")
	}
	if !req.CheckIn.Equal(parsed.Booking.CheckIn) || !req.CheckOut.Equal(parsed.Booking.CheckOut) {
		t.Fatalf("expected dates to carry through unchanged")
	}
}
