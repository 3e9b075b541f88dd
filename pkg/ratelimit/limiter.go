package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned by Acquire when maxWait elapses before n
// tokens become available.
var ErrRateLimited = errors.New("ratelimit: rate limited")

// debitScript performs refill-then-debit atomically against a Redis hash
// keyed per channel, so concurrent workers never oversubscribe the
// bucket. KEYS[1] is the bucket hash key. ARGV: capacity, refill_per_sec,
// now (unix seconds, float), n (tokens requested).
var debitScript = redis.NewScript(`
local tokens = tonumber(redis.call("HGET", KEYS[1], "tokens"))
local last = tonumber(redis.call("HGET", KEYS[1], "last_refill_at"))
local next_eligible = tonumber(redis.call("HGET", KEYS[1], "next_eligible_at")) or 0

local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local n = tonumber(ARGV[4])

if tokens == nil then
	tokens = capacity
	last = now
end

if now < next_eligible then
	return {0, tostring(next_eligible - now)}
end

local elapsed = now - last
if elapsed < 0 then
	elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed * refill_rate)

if tokens >= n then
	tokens = tokens - n
	redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "last_refill_at", tostring(now))
	redis.call("EXPIRE", KEYS[1], 3600)
	return {1, "0"}
end

local deficit = n - tokens
local wait = 999999
if refill_rate > 0 then
	wait = deficit / refill_rate
end
redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "last_refill_at", tostring(now))
redis.call("EXPIRE", KEYS[1], 3600)
return {0, tostring(wait)}
`)

var penalizeScript = redis.NewScript(`
local next_eligible = tonumber(redis.call("HGET", KEYS[1], "next_eligible_at")) or 0
local candidate = tonumber(ARGV[1])
if candidate > next_eligible then
	next_eligible = candidate
end
redis.call("HSET", KEYS[1], "tokens", "0", "next_eligible_at", tostring(next_eligible))
redis.call("EXPIRE", KEYS[1], 3600)
return 1
`)

// Limiter is a Redis-backed token bucket shared across worker processes,
// one bucket per channel (spec §4.2).
type Limiter struct {
	rdb    *redis.Client
	params map[string]Params
	store  *Store
}

// NewLimiter creates a Limiter. params maps channel tag to its static
// bucket parameters (seeded from config). store may be nil to skip
// denormalized persistence of bucket state.
func NewLimiter(rdb *redis.Client, params map[string]Params, store *Store) *Limiter {
	return &Limiter{rdb: rdb, params: params, store: store}
}

func bucketKey(channel string) string {
	return fmt.Sprintf("ratelimit:%s", channel)
}

// TryAcquire attempts to debit n tokens from channel's bucket without
// blocking. On refusal it returns the minimum wait before retrying.
func (l *Limiter) TryAcquire(ctx context.Context, channel string, n float64) (ok bool, wait time.Duration, err error) {
	p, found := l.params[channel]
	if !found {
		return false, 0, fmt.Errorf("ratelimit: unknown channel %q", channel)
	}

	now := time.Now()
	res, err := debitScript.Run(ctx, l.rdb, []string{bucketKey(channel)},
		p.Capacity, p.RefillPerSecond, float64(now.UnixNano())/1e9, n,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: debiting %q: %w", channel, err)
	}

	granted := res[0].(int64) == 1
	waitSecondsStr := res[1].(string)
	var waitSeconds float64
	_, _ = fmt.Sscanf(waitSecondsStr, "%g", &waitSeconds)

	if l.store != nil {
		_ = l.store.Record(ctx, channel, now)
	}

	if granted {
		return true, 0, nil
	}
	return false, time.Duration(waitSeconds * float64(time.Second)), nil
}

// Acquire blocks cooperatively, retrying TryAcquire until it succeeds or
// maxWait elapses, whichever comes first. Honors ctx cancellation.
func (l *Limiter) Acquire(ctx context.Context, channel string, n float64, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for {
		ok, wait, err := l.TryAcquire(ctx, channel, n)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrRateLimited
		}
		sleep := wait
		if sleep > remaining {
			sleep = remaining
		}
		if sleep <= 0 {
			return ErrRateLimited
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Penalize drains channel's bucket and pushes its next eligible instant to
// now+retryAfter, applied when an adapter call returns 429 Retry-After.
func (l *Limiter) Penalize(ctx context.Context, channel string, retryAfter time.Duration) error {
	eligible := float64(time.Now().Add(retryAfter).UnixNano()) / 1e9
	if err := penalizeScript.Run(ctx, l.rdb, []string{bucketKey(channel)}, eligible).Err(); err != nil {
		return fmt.Errorf("ratelimit: penalizing %q: %w", channel, err)
	}
	return nil
}
