package ratelimit

import (
	"testing"
	"time"
)

func TestBucketRefillClampedToCapacity(t *testing.T) {
	params := Params{Capacity: 10, RefillPerSecond: 5}
	start := time.Now()
	b := Bucket{Tokens: 8, LastRefillAt: start}

	b.Refill(params, start.Add(10*time.Second))

	if b.Tokens != 10 {
		t.Fatalf("expected tokens clamped to capacity 10, got %v", b.Tokens)
	}
}

func TestBucketRefillClampedToZeroOnClockSkew(t *testing.T) {
	params := Params{Capacity: 10, RefillPerSecond: 5}
	start := time.Now()
	b := Bucket{Tokens: 2, LastRefillAt: start}

	// Simulate clock moving backwards.
	b.Refill(params, start.Add(-5*time.Second))

	if b.Tokens != 2 {
		t.Fatalf("expected no refill on negative elapsed time, got %v", b.Tokens)
	}
}

func TestTryDebitSucceeds(t *testing.T) {
	params := Params{Capacity: 10, RefillPerSecond: 1}
	b := Bucket{Tokens: 5, LastRefillAt: time.Now()}

	ok, wait := b.TryDebit(params, time.Now(), 3)
	if !ok {
		t.Fatalf("expected debit to succeed, wait=%v", wait)
	}
	if b.Tokens != 2 {
		t.Fatalf("expected 2 tokens remaining, got %v", b.Tokens)
	}
}

func TestTryDebitInsufficientReturnsWait(t *testing.T) {
	params := Params{Capacity: 10, RefillPerSecond: 2}
	b := Bucket{Tokens: 1, LastRefillAt: time.Now()}

	ok, wait := b.TryDebit(params, time.Now(), 5)
	if ok {
		t.Fatal("expected debit to fail")
	}
	if wait <= 0 {
		t.Fatalf("expected positive wait duration, got %v", wait)
	}
}

func TestPenalizeDrainsAndSetsEligibility(t *testing.T) {
	b := Bucket{Tokens: 7}
	now := time.Now()

	b.Penalize(now, 10*time.Second)

	if b.Tokens != 0 {
		t.Fatalf("expected tokens drained to 0, got %v", b.Tokens)
	}
	if !b.NextEligibleAt.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("expected next eligible at now+10s, got %v", b.NextEligibleAt)
	}
}

func TestPenalizeNeverMovesEligibilityBackward(t *testing.T) {
	now := time.Now()
	b := Bucket{NextEligibleAt: now.Add(time.Minute)}

	b.Penalize(now, 5*time.Second)

	if !b.NextEligibleAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected eligibility to stay at the later instant, got %v", b.NextEligibleAt)
	}
}
