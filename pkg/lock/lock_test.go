package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupManager(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewManager(client, nil)
}

func TestAcquireRelease(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	token, _, err := m.Acquire(ctx, "booking:property:1", time.Second, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty owner token")
	}

	if _, _, err := m.Acquire(ctx, "booking:property:1", time.Second, 0); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if err := m.Release(ctx, "booking:property:1", token); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, _, err := m.Acquire(ctx, "booking:property:1", time.Second, 0); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestReleaseNotOwnedIsNoop(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	token, _, err := m.Acquire(ctx, "booking:property:1", time.Second, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := m.Release(ctx, "booking:property:1", "not-the-owner"); err != nil {
		t.Fatalf("release by wrong owner should be a no-op, got error: %v", err)
	}

	// Lock should still be held by the true owner.
	if _, _, err := m.Acquire(ctx, "booking:property:1", time.Second, 0); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected lock to still be held, got %v", err)
	}
	_ = token
}

func TestRenewLostAfterExpiry(t *testing.T) {
	mr, m := setupManager(t)
	ctx := context.Background()

	token, _, err := m.Acquire(ctx, "booking:property:1", 50*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	mr.FastForward(100 * time.Millisecond)

	if err := m.Renew(ctx, "booking:property:1", token, time.Second); !errors.Is(err, ErrLost) {
		t.Fatalf("expected ErrLost after TTL expiry, got %v", err)
	}
}

func TestTwoContendersOnlyOneWins(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := m.Acquire(ctx, "booking:property:1", time.Second, 0); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.WithLock(ctx, "booking:property:1", time.Second, 0, func(ctx context.Context, token string) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, _, err := m.Acquire(ctx, "booking:property:1", time.Second, 0); err != nil {
		t.Fatalf("expected lock released after WithLock error, got %v", err)
	}
}

func TestWithLockReleasesOnCancellation(t *testing.T) {
	_, m := setupManager(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := m.WithLock(ctx, "booking:property:1", time.Second, 0, func(ctx context.Context, token string) error {
		cancel()
		return ctx.Err()
	})
	if err == nil {
		t.Fatal("expected context cancellation error")
	}

	if _, _, err := m.Acquire(context.Background(), "booking:property:1", time.Second, 0); err != nil {
		t.Fatalf("expected lock released after cancellation, got %v", err)
	}
}
