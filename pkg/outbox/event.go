// Package outbox implements the durable, append-only event log that
// decouples the Booking Core from the channel sync dispatcher (spec
// §4.4). An event is appended in the same database transaction as the
// business write that produced it; the dispatcher later claims and fans
// out deliveries independently.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what changed. The dispatcher maps each kind to the
// channel adapter operation it drives (spec §3, §4.7).
type Kind string

const (
	KindBookingCreated     Kind = "booking.created"
	KindBookingUpdated     Kind = "booking.updated"
	KindBookingCancelled   Kind = "booking.cancelled"
	KindAvailabilityUpdated Kind = "availability.updated"
	KindPricingUpdated     Kind = "pricing.updated"
)

// Origin is either "direct" or a channel tag; fan-out excludes the origin
// channel to prevent echoes (spec §4.4, glossary "Origin").
const OriginDirect = "direct"

// Event is one durable, append-only record in a property's event log.
type Event struct {
	ID         uuid.UUID
	PropertyID uuid.UUID
	EntityID   uuid.UUID
	Kind       Kind
	Payload    json.RawMessage
	Origin     string
	Sequence   int64
	CreatedAt  time.Time
}

// DeliveryState is the lifecycle of one delivery attempt-stream (spec §3).
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryInFlight  DeliveryState = "in_flight"
	DeliverySucceeded DeliveryState = "succeeded"
	DeliveryDead      DeliveryState = "dead"
)

// Delivery is one (event, channel) delivery attempt-stream.
type Delivery struct {
	ID                uuid.UUID
	EventID           uuid.UUID
	PropertyID        uuid.UUID
	EntityID          uuid.UUID
	Channel           string
	State             DeliveryState
	AttemptCount      int
	NextAttemptAt     time.Time
	VisibilityDeadline *time.Time
	LastError         *string
}

// Outcome classifies the result of one delivery attempt, driving the
// dispatcher's state transition per spec §4.8 step 5.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeRateLimited
	OutcomeTransient
	OutcomeAuthFailed
	OutcomePermanentValidation
)
