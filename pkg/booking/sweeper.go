package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/harborstay/channelcore/pkg/inventory"
	"github.com/harborstay/channelcore/pkg/lock"
	"github.com/harborstay/channelcore/pkg/tenant"
)

// SweepExpiredCheckouts cancels every reserved booking, across every
// tenant, whose checkout deadline has elapsed (spec §4.6.3: "a background
// sweeper cancels reservations that have been in reserved past their
// checkout deadline"). A reservation whose payment intent has in fact
// succeeded is left alone and logged, never auto-confirmed — the sweeper's
// mandate is to cancel abandoned checkouts, not to make confirmation
// decisions a client never made.
func SweepExpiredCheckouts(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client, payments PaymentProcessor, logger *slog.Logger, ttl time.Duration) error {
	slugs, err := tenant.ListSlugs(ctx, pool)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}

	for _, slug := range slugs {
		if err := sweepTenant(ctx, pool, rdb, payments, logger, slug, ttl); err != nil {
			logger.Error("checkout sweep failed for tenant", "tenant", slug, "error", err)
		}
	}
	return nil
}

func sweepTenant(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client, payments PaymentProcessor, logger *slog.Logger, slug string, ttl time.Duration) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", tenant.SchemaName(slug))); err != nil {
		return fmt.Errorf("setting search_path: %w", err)
	}

	invStore := inventory.NewStore(conn)
	locks := lock.NewManager(rdb, nil)

	cutoff := time.Now().Add(-ttl)
	expired, err := invStore.ListExpiredReserved(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("listing expired reservations: %w", err)
	}

	for _, b := range expired {
		if b.PaymentIntentID != nil {
			succeeded, err := payments.IsSucceeded(ctx, *b.PaymentIntentID)
			if err != nil {
				logger.Error("checkout sweep: verifying payment intent", "tenant", slug, "booking_id", b.ID, "error", err)
				continue
			}
			if succeeded {
				logger.Warn("checkout sweep: reservation past deadline but payment succeeded, leaving for manual confirm",
					"tenant", slug, "booking_id", b.ID, "payment_intent_id", *b.PaymentIntentID)
				continue
			}
		}

		if _, err := invStore.UpdateBookingStatus(ctx, b.ID,
			[]inventory.Status{inventory.StatusReserved}, inventory.StatusCancelled, b.Version); err != nil {
			logger.Error("checkout sweep: cancelling reservation", "tenant", slug, "booking_id", b.ID, "error", err)
			continue
		}

		if b.PaymentIntentID != nil {
			if err := payments.CancelIntent(ctx, *b.PaymentIntentID); err != nil {
				logger.Error("checkout sweep: cancelling payment intent", "tenant", slug, "booking_id", b.ID, "error", err)
			}
		}
		if b.LockKey != nil {
			if err := locks.Release(ctx, lock.PropertyKey(b.PropertyID), *b.LockKey); err != nil {
				logger.Error("checkout sweep: releasing lock", "tenant", slug, "booking_id", b.ID, "error", err)
			}
		}

		logger.Info("checkout sweep: cancelled expired reservation", "tenant", slug, "booking_id", b.ID)
	}
	return nil
}

// RunSweepLoop runs SweepExpiredCheckouts periodically until ctx is
// cancelled, mirroring the teacher's schedule-top-up worker loop shape.
func RunSweepLoop(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client, payments PaymentProcessor, logger *slog.Logger, ttl, interval time.Duration) {
	logger.Info("checkout sweep loop started", "interval", interval, "ttl", ttl)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := SweepExpiredCheckouts(ctx, pool, rdb, payments, logger, ttl); err != nil {
		logger.Error("initial checkout sweep", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("checkout sweep loop stopped")
			return
		case <-ticker.C:
			if err := SweepExpiredCheckouts(ctx, pool, rdb, payments, logger, ttl); err != nil {
				logger.Error("checkout sweep", "error", err)
			}
		}
	}
}
