package booking

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/harborstay/channelcore/pkg/inventory"
)

func TestToSessionCarriesPaymentIntentID(t *testing.T) {
	intentID := "pi_123"
	b := inventory.Booking{
		ID:              uuid.New(),
		PropertyID:      uuid.New(),
		Status:          inventory.StatusReserved,
		CheckIn:         time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		CheckOut:        time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC),
		Guests:          2,
		TotalMinor:      45000,
		Currency:        "USD",
		PaymentIntentID: &intentID,
	}
	deadline := time.Date(2026, 8, 1, 1, 0, 0, 0, time.UTC)

	session := toSession(b, deadline)

	if session.PaymentIntentID != intentID {
		t.Fatalf("expected payment intent id %q, got %q", intentID, session.PaymentIntentID)
	}
	if !session.Deadline.Equal(deadline) {
		t.Fatalf("expected deadline %v, got %v", deadline, session.Deadline)
	}
	if session.BookingID != b.ID || session.PropertyID != b.PropertyID {
		t.Fatal("expected booking/property ids to carry through")
	}
}

func TestToSessionEmptyPaymentIntentIDWhenNil(t *testing.T) {
	b := inventory.Booking{ID: uuid.New(), Status: inventory.StatusInquiry}
	session := toSession(b, time.Time{})
	if session.PaymentIntentID != "" {
		t.Fatalf("expected empty payment intent id, got %q", session.PaymentIntentID)
	}
}

func TestIsNonTerminalCoversEveryNonTerminalStatus(t *testing.T) {
	for _, st := range []inventory.Status{
		inventory.StatusInquiry, inventory.StatusReserved, inventory.StatusConfirmed, inventory.StatusCheckedIn,
	} {
		if !isNonTerminal(st) {
			t.Errorf("expected %s to be non-terminal", st)
		}
	}
}

func TestIsNonTerminalExcludesTerminalStatuses(t *testing.T) {
	for _, st := range []inventory.Status{inventory.StatusCheckedOut, inventory.StatusCancelled} {
		if isNonTerminal(st) {
			t.Errorf("expected %s to be terminal", st)
		}
	}
}
