package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupLimiter(t *testing.T, params map[string]Params) (*miniredis.Miniredis, *Limiter) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewLimiter(client, params, nil)
}

func TestTryAcquireWithinCapacity(t *testing.T) {
	_, l := setupLimiter(t, map[string]Params{"airbnb": {Capacity: 10, RefillPerSecond: 10}})
	ctx := context.Background()

	ok, wait, err := l.TryAcquire(ctx, "airbnb", 1)
	if err != nil {
		t.Fatalf("try acquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected acquire to succeed, wait=%v", wait)
	}
}

func TestTryAcquireExhaustsBucket(t *testing.T) {
	_, l := setupLimiter(t, map[string]Params{"airbnb": {Capacity: 2, RefillPerSecond: 0.001}})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.TryAcquire(ctx, "airbnb", 1)
		if err != nil || !ok {
			t.Fatalf("expected acquire %d to succeed: ok=%v err=%v", i, ok, err)
		}
	}

	ok, wait, err := l.TryAcquire(ctx, "airbnb", 1)
	if err != nil {
		t.Fatalf("try acquire: %v", err)
	}
	if ok {
		t.Fatal("expected bucket exhausted")
	}
	if wait <= 0 {
		t.Fatalf("expected positive wait, got %v", wait)
	}
}

func TestUnknownChannelErrors(t *testing.T) {
	_, l := setupLimiter(t, map[string]Params{"airbnb": {Capacity: 10, RefillPerSecond: 10}})

	_, _, err := l.TryAcquire(context.Background(), "unknown", 1)
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestPenalizeBlocksFurtherAcquisition(t *testing.T) {
	_, l := setupLimiter(t, map[string]Params{"expedia": {Capacity: 10, RefillPerSecond: 50}})
	ctx := context.Background()

	if err := l.Penalize(ctx, "expedia", 10*time.Second); err != nil {
		t.Fatalf("penalize: %v", err)
	}

	ok, wait, err := l.TryAcquire(ctx, "expedia", 1)
	if err != nil {
		t.Fatalf("try acquire: %v", err)
	}
	if ok {
		t.Fatal("expected acquisition blocked during penalty window")
	}
	if wait < 9*time.Second {
		t.Fatalf("expected wait close to 10s, got %v", wait)
	}
}

func TestAcquireTimesOut(t *testing.T) {
	_, l := setupLimiter(t, map[string]Params{"airbnb": {Capacity: 1, RefillPerSecond: 0.001}})
	ctx := context.Background()

	if _, _, err := l.TryAcquire(ctx, "airbnb", 1); err != nil {
		t.Fatalf("priming acquire: %v", err)
	}

	err := l.Acquire(ctx, "airbnb", 1, 50*time.Millisecond)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
