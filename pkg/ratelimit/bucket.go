// Package ratelimit implements the per-channel token buckets shared across
// worker processes that gate every outbound adapter call (spec §4.2).
package ratelimit

import "time"

// Params are the static token-bucket parameters for one channel: capacity
// and continuous refill rate. Designed operating points per spec §4.2:
// Airbnb 10/s, Booking.com 5/s, Expedia 50/s, FeWo-direkt 10/s, Google VR
// 100/s. internal/app's ratelimitParams fixes the first four in code;
// FeWo-direkt takes the configured default bucket.
type Params struct {
	Capacity       float64
	RefillPerSecond float64
}

// Bucket is the pure-math token bucket state: tokens available and the
// wall-clock instant they were last refilled. Kept free of any I/O so the
// refill/debit arithmetic is unit-testable without Redis.
type Bucket struct {
	Tokens        float64
	LastRefillAt  time.Time
	// NextEligibleAt is advanced past now by Penalize on a 429
	// Retry-After; TryDebit refuses every debit before it.
	NextEligibleAt time.Time
}

// Refill advances b to now, adding tokens for the elapsed wall-clock delta
// clamped to ≥0 (never negative on clock skew) and capped at capacity.
func (b *Bucket) Refill(params Params, now time.Time) {
	if b.LastRefillAt.IsZero() {
		b.LastRefillAt = now
		return
	}
	elapsed := now.Sub(b.LastRefillAt).Seconds()
	if elapsed <= 0 {
		return
	}
	b.Tokens = min(params.Capacity, b.Tokens+elapsed*params.RefillPerSecond)
	b.LastRefillAt = now
}

// TryDebit refills to now then attempts to subtract n tokens. It reports
// whether the debit succeeded and, if not, the minimum wait before n
// tokens would be available (honoring any active NextEligibleAt penalty).
func (b *Bucket) TryDebit(params Params, now time.Time, n float64) (ok bool, wait time.Duration) {
	if now.Before(b.NextEligibleAt) {
		return false, b.NextEligibleAt.Sub(now)
	}

	b.Refill(params, now)
	if b.Tokens >= n {
		b.Tokens -= n
		return true, 0
	}

	deficit := n - b.Tokens
	if params.RefillPerSecond <= 0 {
		return false, time.Duration(1<<63 - 1)
	}
	waitSeconds := deficit / params.RefillPerSecond
	return false, time.Duration(waitSeconds * float64(time.Second))
}

// Penalize drains the bucket entirely and pushes the next eligible instant
// out to retryAfter, modeling an external platform's 429 Retry-After
// response (spec §4.2).
func (b *Bucket) Penalize(now time.Time, retryAfter time.Duration) {
	b.Tokens = 0
	eligible := now.Add(retryAfter)
	if eligible.After(b.NextEligibleAt) {
		b.NextEligibleAt = eligible
	}
}
