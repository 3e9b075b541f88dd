// Package channel defines the uniform capability set every supported
// booking platform satisfies (spec §4.7): the Booking Core, dispatcher,
// and webhook ingress never reference a platform's specifics directly,
// only this interface and the registry that resolves a channel tag to
// its concrete adapter.
package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/harborstay/channelcore/pkg/inventory"
)

// Connection is one property's link to an external platform (spec §6
// persisted state layout: channel_connections).
type Connection struct {
	ID                 uuid.UUID
	PropertyID         uuid.UUID
	Channel            string
	ExternalPropertyID string
	Credentials        json.RawMessage
	SyncEnabled        bool
	LastSyncAt         *time.Time
	LastError          *string
}

// BookingSnapshot is the platform-agnostic view of a booking pushed
// outbound by upsert_booking (spec §4.7).
type BookingSnapshot struct {
	LocalID    uuid.UUID
	ExternalID string // empty on first upsert; set on update
	CheckIn    time.Time
	CheckOut   time.Time
	Guests     int
	Status     inventory.Status
	TotalMinor int64
	Currency   string
	GuestName  string
	GuestEmail string
}

// ExternalBookingSnapshot is what list_bookings returns: the platform's
// own view of a booking, normalized to civil dates and the internal
// status enum (spec §6 "Channel adapter contract (wire-level)").
type ExternalBookingSnapshot struct {
	ExternalID string
	CheckIn    time.Time
	CheckOut   time.Time
	Guests     int
	Status     inventory.Status
	TotalMinor int64
	Currency   string
}

// InboundEventKind classifies a parsed webhook notification.
type InboundEventKind string

const (
	InboundBookingCreated   InboundEventKind = "booking_created"
	InboundBookingUpdated   InboundEventKind = "booking_updated"
	InboundBookingCancelled InboundEventKind = "booking_cancelled"
)

// ParsedInboundEvent is parse_webhook's normalized result (spec §4.7): a
// deterministic external_message_id drives the idempotency dedupe layer,
// so retried deliveries of the same platform event never double-apply.
type ParsedInboundEvent struct {
	Kind                InboundEventKind
	ExternalMessageID   string
	ExternalPropertyID  string
	Booking             ExternalBookingSnapshot
}

// RetryAfter is attached to a RATE_LIMITED error so the dispatcher can
// requeue with the platform's own cooldown rather than a guess (spec §6
// "Attach platform-specific Retry-After handling to RATE_LIMITED").
type RetryAfter struct {
	Duration time.Duration
}

// Adapter is the capability set every platform variant implements (spec
// §4.7). Every method's error, when non-nil, is a *coreerr.Error
// classified per the taxonomy §4.7 names: CodeRateLimited,
// CodeAdapterTransient (TRANSIENT and UNAVAILABLE collapse to the same
// dispatcher handling per spec §4.8 step 5), CodeAdapterPermanent
// (PERMANENT_VALIDATION), CodeAuthFailed.
type Adapter interface {
	// Name returns the channel tag ("airbnb", "booking_com", "expedia",
	// "fewodirekt", "google_vr").
	Name() string

	UpsertBooking(ctx context.Context, conn Connection, snapshot BookingSnapshot) (externalID string, err error)
	CancelBooking(ctx context.Context, conn Connection, externalID string) error
	PushAvailability(ctx context.Context, conn Connection, blocks []inventory.AvailabilityBlock) error
	PushPricing(ctx context.Context, conn Connection, perDatePrices map[string]int64) error
	ListBookings(ctx context.Context, conn Connection, window inventory.Interval) ([]ExternalBookingSnapshot, error)
	ListAvailability(ctx context.Context, conn Connection, window inventory.Interval) ([]inventory.Interval, error)

	// ParseWebhook normalizes body into a ParsedInboundEvent, including
	// the platform's own external_property_id so the ingress can resolve
	// the local Connection. It does not authenticate the request: the
	// connection (and its webhook secret) isn't known until after this
	// call, so signature verification happens separately in
	// VerifySignature once the ingress has looked the connection up.
	ParseWebhook(headers http.Header, body []byte) (ParsedInboundEvent, error)

	// VerifySignature authenticates an inbound webhook against the
	// secret stored on conn, once the ingress has resolved which
	// connection the payload claims to be for (spec §4.9 step 1). A
	// failure is returned as *ErrInvalidSignature.
	VerifySignature(conn Connection, headers http.Header, body []byte) error

	// RefreshCredentials is called proactively before expiry and
	// reactively on a 401, returning the connection with updated
	// Credentials to persist.
	RefreshCredentials(ctx context.Context, conn Connection) (Connection, error)
}

// ErrInvalidSignature is returned by VerifySignature when the platform's
// signature does not verify; the webhook ingress responds 403 and logs a
// warning rather than processing the body (spec §4.9 step 1).
type ErrInvalidSignature struct {
	Channel string
	Cause   error
}

func (e *ErrInvalidSignature) Error() string {
	return "channel: invalid webhook signature for " + e.Channel
}

func (e *ErrInvalidSignature) Unwrap() error { return e.Cause }
