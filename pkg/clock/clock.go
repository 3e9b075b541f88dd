// Package clock provides injectable time and opaque-id generation so
// tests can control both without touching the wall clock.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock and monotonic time so booking/lock/dispatcher
// logic can be exercised deterministically in tests.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// Monotonic returns a monotonically increasing nanosecond counter,
	// independent of wall-clock adjustments.
	Monotonic() int64
}

// Real is the production Clock backed by the runtime clock.
type Real struct{}

// processStart anchors Real.Monotonic; time.Since reads the runtime's
// monotonic clock, so the counter ignores wall-clock adjustments.
var processStart = time.Now()

func (Real) Now() time.Time    { return time.Now() }
func (Real) Monotonic() int64  { return int64(time.Since(processStart)) }

// Fixed is a Clock that never advances unless explicitly moved. Useful for
// deterministic unit tests of TTL expiry, backoff scheduling, etc.
type Fixed struct {
	t    time.Time
	mono int64
}

// NewFixed creates a Fixed clock starting at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

func (f *Fixed) Now() time.Time { return f.t }
func (f *Fixed) Monotonic() int64 {
	f.mono++
	return f.mono
}

// Advance moves the fixed clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.t = f.t.Add(d)
}

// NewID generates a new opaque 128-bit entity identifier.
func NewID() uuid.UUID {
	return uuid.New()
}

// NewIdempotencyKey builds a stable composite idempotency key from parts,
// e.g. NewIdempotencyKey("airbnb", externalMessageID) or
// NewIdempotencyKey(deliveryID.String()).
func NewIdempotencyKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}
