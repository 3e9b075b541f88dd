// Package lock implements the named, fenced, TTL-bounded distributed locks
// the booking core and webhook ingress serialize on: a single property's
// calendar is locked as a whole ("booking:property:{id}") for the duration
// of a checkout or an inbound upsert, never per-date-range, so partial
// interval races are impossible by construction (spec §4.1).
//
// Redis is the lock store. Acquisition, renewal, and release are each a
// single Lua script so the check-and-mutate pair is atomic against
// concurrent callers without a separate round trip.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned by Acquire when the lock is held by another owner
// and wait_for elapses before it becomes free.
var ErrBusy = errors.New("lock: busy")

// ErrLost is returned by Renew and Release when the caller's owner token
// no longer matches the current holder (TTL expired and someone else took
// it, or it was never held).
var ErrLost = errors.New("lock: lost")

var acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// Manager acquires, renews, and releases locks against a Redis backend.
type Manager struct {
	rdb   *redis.Client
	store *Store
}

// NewManager creates a Manager. store may be nil to skip denormalized
// operator-visibility bookkeeping (tests typically pass nil).
func NewManager(rdb *redis.Client, store *Store) *Manager {
	return &Manager{rdb: rdb, store: store}
}

// PropertyKey canonicalizes the lock key used to serialize a single
// property's calendar across direct checkout and webhook ingress. Dates
// are deliberately not part of the key (spec §4.1).
func PropertyKey(propertyID fmt.Stringer) string {
	return fmt.Sprintf("booking:property:%s", propertyID.String())
}

// Acquire attempts to take key within waitFor, polling with a backoff
// that doubles from 20ms up to 200ms. It returns an unpredictable owner token and the expiry deadline
// on success, or ErrBusy if the wait elapses first. If the backing store
// is unreachable the acquisition fails immediately (never silently assumes
// success) — callers must translate that into a retryable error.
func (m *Manager) Acquire(ctx context.Context, key string, ttl, waitFor time.Duration) (token string, deadline time.Time, err error) {
	token, err = newOwnerToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generating owner token: %w", err)
	}

	deadlineCtx := ctx
	var cancel context.CancelFunc
	if waitFor > 0 {
		deadlineCtx, cancel = context.WithTimeout(ctx, waitFor)
		defer cancel()
	}

	backoff := 20 * time.Millisecond
	const maxBackoff = 200 * time.Millisecond

	for {
		ok, err := acquireScript.Run(deadlineCtx, m.rdb, []string{key}, token, ttl.Milliseconds()).Bool()
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", time.Time{}, fmt.Errorf("lock: acquiring %q: %w", key, err)
		}
		if ok {
			deadline = time.Now().Add(ttl)
			if m.store != nil {
				_ = m.store.Upsert(ctx, key, token, deadline)
			}
			return token, deadline, nil
		}

		if waitFor <= 0 {
			return "", time.Time{}, ErrBusy
		}

		select {
		case <-deadlineCtx.Done():
			return "", time.Time{}, ErrBusy
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Renew extends key's TTL to newTTL, but only if token is still the
// current holder. Returns ErrLost if the lock expired or was reassigned.
func (m *Manager) Renew(ctx context.Context, key, token string, newTTL time.Duration) error {
	ok, err := renewScript.Run(ctx, m.rdb, []string{key}, token, newTTL.Milliseconds()).Bool()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock: renewing %q: %w", key, err)
	}
	if !ok {
		return ErrLost
	}
	if m.store != nil {
		_ = m.store.Upsert(ctx, key, token, time.Now().Add(newTTL))
	}
	return nil
}

// Release best-effort releases key. Releasing a lock the caller does not
// (or no longer) own is a no-op, never an error — a stale holder racing
// against expiry must not be able to evict the new holder.
func (m *Manager) Release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, m.rdb, []string{key}, token).Bool()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock: releasing %q: %w", key, err)
	}
	if m.store != nil {
		_ = m.store.Delete(ctx, key)
	}
	return nil
}

// WithLock acquires key for the duration of fn and guarantees release on
// every exit path: success, error return, panic, or context cancellation.
// fn receives the owner token so it can stamp mutations for crash
// forensics (spec §4.1: "any mutation the core performs under a lock must
// include the token").
func (m *Manager) WithLock(ctx context.Context, key string, ttl, waitFor time.Duration, fn func(ctx context.Context, token string) error) error {
	token, _, err := m.Acquire(ctx, key, ttl, waitFor)
	if err != nil {
		return err
	}
	defer func() {
		// Use a detached context for release: ctx may already be
		// cancelled (the reason we're unwinding) and release must
		// still reach Redis.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = m.Release(releaseCtx, key, token)
	}()

	return fn(ctx, token)
}

func newOwnerToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
