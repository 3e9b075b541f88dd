// Package inventory is the Booking Core's relational backing store:
// bookings and availability blocks, with the range-overlap exclusion
// constraint as the final arbiter of "no double bookings" (spec §4.5).
// Every other check — locks, pre-flight availability reads, adapter-side
// conflict detection — is best-effort; this package's constraint
// violation is ground truth.
package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is a booking's position in the state machine (spec §4.6.2).
type Status string

const (
	StatusInquiry    Status = "inquiry"
	StatusReserved   Status = "reserved"
	StatusConfirmed  Status = "confirmed"
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
	StatusCancelled  Status = "cancelled"
)

// ActiveStatuses participate in the exclusion constraint (glossary
// "Active status").
var ActiveStatuses = []Status{StatusReserved, StatusConfirmed, StatusCheckedIn, StatusCheckedOut}

// IsActive reports whether s is one of the statuses that occupies
// inventory.
func (s Status) IsActive() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Booking is the central entity (spec §3).
type Booking struct {
	ID              uuid.UUID
	PropertyID      uuid.UUID
	Source          string
	ExternalID      *string
	CheckIn         time.Time
	CheckOut        time.Time
	Guests          int
	Status          Status
	TotalMinor      int64
	Currency        string
	PaymentIntentID *string
	LockKey         *string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BlockKind distinguishes the reason an interval is held off the market.
type BlockKind string

const (
	BlockKindManual      BlockKind = "blocked"
	BlockKindMaintenance BlockKind = "maintenance"
	BlockKindChannelHold BlockKind = "channel_hold"
)

// AvailabilityBlock is an explicit owner block (spec §3).
type AvailabilityBlock struct {
	ID         uuid.UUID
	PropertyID uuid.UUID
	StartDate  time.Time
	EndDate    time.Time
	Kind       BlockKind
	Source     string
}

// Interval is a half-open [From, To) civil date range, used both to
// report an occupied span and to report the conflicting span on an
// ErrInventoryConflict.
type Interval struct {
	From time.Time
	To   time.Time
}

// ErrInventoryConflict is returned when an insert or update would violate
// the exclusion constraint; the offending interval(s) are attached so the
// caller can surface a precise DATES_UNAVAILABLE error (spec §4.5).
type ErrInventoryConflict struct {
	PropertyID uuid.UUID
	Conflicts  []Interval
}

func (e *ErrInventoryConflict) Error() string {
	return "inventory: exclusion constraint violated"
}

// ErrVersionMismatch is returned by UpdateBookingStatus when expectedVersion
// no longer matches the stored version (optimistic concurrency, spec §4.5).
var ErrVersionMismatch = errors.New("inventory: version mismatch")

// ErrNotFound is returned when a booking or block id does not exist.
var ErrNotFound = errors.New("inventory: not found")
