package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/harborstay/channelcore/pkg/alerting"
	"github.com/harborstay/channelcore/pkg/booking"
	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/idempotency"
	"github.com/harborstay/channelcore/pkg/lock"
	"github.com/harborstay/channelcore/pkg/tenant"
)

// RunNow reconciles every tenant once, using runID as the shared
// idempotency namespace for every corrective action in the run.
func RunNow(ctx context.Context, pool *pgxpool.Pool, registry *channel.Registry, cipher *channel.CredentialCipher,
	locks *lock.Manager, payments booking.PaymentProcessor, alerts *alerting.Notifier, throttle *alerting.Throttle,
	logger *slog.Logger, cfg Config, runID string) error {
	slugs, err := tenant.ListSlugs(ctx, pool)
	if err != nil {
		return fmt.Errorf("reconciler: listing tenants: %w", err)
	}

	for _, slug := range slugs {
		if err := runTenant(ctx, pool, registry, cipher, locks, payments, alerts, throttle, logger, cfg, slug, runID); err != nil {
			logger.Error("reconciler: run failed for tenant", "tenant", slug, "error", err)
		}
	}
	return nil
}

func runTenant(ctx context.Context, pool *pgxpool.Pool, registry *channel.Registry, cipher *channel.CredentialCipher,
	locks *lock.Manager, payments booking.PaymentProcessor, alerts *alerting.Notifier, throttle *alerting.Throttle,
	logger *slog.Logger, cfg Config, slug, runID string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", tenant.SchemaName(slug))); err != nil {
		return fmt.Errorf("setting search_path: %w", err)
	}

	idemStore := idempotency.NewStore(conn)
	r := New(conn, registry, cipher, locks, payments, idemStore, alerts, throttle, logger.With("tenant", slug), cfg)
	return r.Run(ctx, runID)
}

// RunSchedule starts a robfig/cron scheduler that runs RunNow once a day
// (spec §4.10: "runs daily per (property, channel)"), returning the
// cron.Cron so the caller can Stop it on shutdown. spec defaults to
// "07:00 UTC"; callers in other deployments may pass their own schedule.
func RunSchedule(ctx context.Context, pool *pgxpool.Pool, registry *channel.Registry, cipher *channel.CredentialCipher,
	locks *lock.Manager, payments booking.PaymentProcessor, alerts *alerting.Notifier, throttle *alerting.Throttle,
	logger *slog.Logger, cfg Config, schedule string) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	_, err := c.AddFunc(schedule, func() {
		runID := time.Now().UTC().Format("2006-01-02")
		logger.Info("reconciler: starting scheduled run", "run_id", runID)
		if err := RunNow(ctx, pool, registry, cipher, locks, payments, alerts, throttle, logger, cfg, runID); err != nil {
			logger.Error("reconciler: scheduled run failed", "run_id", runID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("reconciler: scheduling cron job: %w", err)
	}

	c.Start()
	logger.Info("reconciler schedule started", "spec", schedule)
	return c, nil
}
