package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/circuitbreaker"
	"github.com/harborstay/channelcore/pkg/idempotency"
	"github.com/harborstay/channelcore/pkg/ratelimit"
	"github.com/harborstay/channelcore/pkg/tenant"
)

// RunTick claims and processes one batch of due deliveries for every
// tenant. The circuit breaker and rate limiter are shared, process-wide
// singletons (in-memory and Redis-backed respectively); only the
// per-tenant stores are rebuilt each pass (mirrors booking.SweepExpiredCheckouts).
func RunTick(ctx context.Context, pool *pgxpool.Pool, registry *channel.Registry, cipher *channel.CredentialCipher,
	breaker *circuitbreaker.Breaker, limiter *ratelimit.Limiter, logger *slog.Logger, cfg Config) error {
	slugs, err := tenant.ListSlugs(ctx, pool)
	if err != nil {
		return fmt.Errorf("dispatcher: listing tenants: %w", err)
	}

	for _, slug := range slugs {
		if err := tickTenant(ctx, pool, registry, cipher, breaker, limiter, logger, slug, cfg); err != nil {
			logger.Error("dispatcher: tick failed for tenant", "tenant", slug, "error", err)
		}
	}
	return nil
}

func tickTenant(ctx context.Context, pool *pgxpool.Pool, registry *channel.Registry, cipher *channel.CredentialCipher,
	breaker *circuitbreaker.Breaker, limiter *ratelimit.Limiter, logger *slog.Logger, slug string, cfg Config) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", tenant.SchemaName(slug))); err != nil {
		return fmt.Errorf("setting search_path: %w", err)
	}

	idemStore := idempotency.NewStore(conn)
	d := New(conn, registry, cipher, breaker, limiter, idemStore, logger.With("tenant", slug), cfg)
	return d.Tick(ctx)
}

// RunDispatchLoop runs RunTick periodically until ctx is cancelled.
func RunDispatchLoop(ctx context.Context, pool *pgxpool.Pool, registry *channel.Registry, cipher *channel.CredentialCipher,
	breaker *circuitbreaker.Breaker, limiter *ratelimit.Limiter, logger *slog.Logger, cfg Config, interval time.Duration) {
	logger.Info("dispatcher loop started", "interval", interval, "batch_size", cfg.BatchSize)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := RunTick(ctx, pool, registry, cipher, breaker, limiter, logger, cfg); err != nil {
		logger.Error("initial dispatch tick", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatcher loop stopped")
			return
		case <-ticker.C:
			if err := RunTick(ctx, pool, registry, cipher, breaker, limiter, logger, cfg); err != nil {
				logger.Error("dispatch tick", "error", err)
			}
		}
	}
}
