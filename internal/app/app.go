// Package app wires every component into the three runtime modes this
// binary supports: "api" (HTTP control plane + webhook ingress), "worker"
// (outbound dispatcher + daily reconciler + checkout sweeper), and the
// one-shot "seed"/"seed-demo" fixture loaders.
package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/harborstay/channelcore/internal/audit"
	"github.com/harborstay/channelcore/internal/config"
	"github.com/harborstay/channelcore/internal/httpserver"
	"github.com/harborstay/channelcore/internal/platform"
	"github.com/harborstay/channelcore/internal/seed"
	"github.com/harborstay/channelcore/internal/telemetry"
	"github.com/harborstay/channelcore/pkg/alerting"
	"github.com/harborstay/channelcore/pkg/booking"
	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/channel/airbnb"
	"github.com/harborstay/channelcore/pkg/channel/bookingcom"
	"github.com/harborstay/channelcore/pkg/channel/expedia"
	"github.com/harborstay/channelcore/pkg/channel/fewodirekt"
	"github.com/harborstay/channelcore/pkg/channel/googlevr"
	"github.com/harborstay/channelcore/pkg/circuitbreaker"
	"github.com/harborstay/channelcore/pkg/dispatcher"
	"github.com/harborstay/channelcore/pkg/lock"
	"github.com/harborstay/channelcore/pkg/payment"
	"github.com/harborstay/channelcore/pkg/property"
	"github.com/harborstay/channelcore/pkg/ratelimit"
	"github.com/harborstay/channelcore/pkg/reconciler"
	"github.com/harborstay/channelcore/pkg/tenant"
	"github.com/harborstay/channelcore/pkg/tenantconfig"
	"github.com/harborstay/channelcore/pkg/webhookingress"
)

// ratelimitParams are the designed per-channel operating points named in
// spec §4.2. Airbnb, Booking.com, Expedia and Google VR are fixed here;
// FeWo-direkt takes the configured default bucket (10 tokens refilled at
// 10/s unless RATE_LIMIT_DEFAULT_* override it).
func ratelimitParams(cfg *config.Config) map[string]ratelimit.Params {
	fallback := ratelimit.Params{
		Capacity:        float64(cfg.RateLimitDefaultCapacity),
		RefillPerSecond: cfg.RateLimitDefaultRefillHz,
	}
	return map[string]ratelimit.Params{
		"airbnb":      {Capacity: 10, RefillPerSecond: 10},
		"booking_com": {Capacity: 5, RefillPerSecond: 5},
		"expedia":     {Capacity: 50, RefillPerSecond: 50},
		"fewodirekt":  fallback,
		"google_vr":   {Capacity: 100, RefillPerSecond: 100},
	}
}

func buildRegistry() *channel.Registry {
	r := channel.NewRegistry()
	r.Register(airbnb.New())
	r.Register(bookingcom.New())
	r.Register(expedia.New())
	r.Register(fewodirekt.New())
	r.Register(googlevr.New())
	return r
}

func credentialKey(cfg *config.Config) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(cfg.CredentialEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decoding CREDENTIAL_ENCRYPTION_KEY (expected base64): %w", err)
	}
	return key, nil
}

func buildCipher(cfg *config.Config) (*channel.CredentialCipher, error) {
	key, err := credentialKey(cfg)
	if err != nil {
		return nil, err
	}
	return channel.NewCredentialCipher(key)
}

// Run dispatches to the runtime mode named in cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting channelcore", "mode", cfg.Mode)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "channelcore",
		Environment:  cfg.Mode,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRatio:  cfg.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("starting tracer provider: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error("shutting down tracer provider", "error", err)
		}
	}()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, pool, rdb)
	case "worker":
		return runWorker(ctx, cfg, logger, pool, rdb)
	case "seed":
		key, err := credentialKey(cfg)
		if err != nil {
			return err
		}
		return seed.Run(ctx, pool, cfg.DatabaseURL, cfg.MigrationsTenantDir, key, logger)
	case "seed-demo":
		key, err := credentialKey(cfg)
		if err != nil {
			return err
		}
		return seed.RunDemo(ctx, pool, cfg.DatabaseURL, cfg.MigrationsTenantDir, key, logger)
	default:
		return fmt.Errorf("unknown mode %q (want api, worker, seed, or seed-demo)", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) error {
	cipher, err := buildCipher(cfg)
	if err != nil {
		return err
	}
	registry := buildRegistry()

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	auditor := audit.NewWriter(pool, logger)
	auditor.Start(ctx)
	defer auditor.Close()

	locks := lock.NewManager(rdb, lock.NewStore(pool))
	stripe := payment.NewStripeProcessor(cfg.StripeSecretKey)
	alerts := alerting.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	throttle := alerting.NewThrottle(alerting.DefaultDailyLimit)

	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg, tenant.HeaderResolver{})

	srv.APIRouter.Mount("/properties", property.NewHandler(logger, auditor).Routes())
	srv.APIRouter.Mount("/bookings", booking.NewHandler(logger, auditor, locks, stripe).Routes())
	srv.APIRouter.Mount("/tenant-config", tenantconfig.NewHandler(logger, auditor, pool).Routes())
	srv.APIRouter.Mount("/audit-log", audit.NewHandler(logger).Routes())

	var payments booking.PaymentProcessor = stripe
	srv.WebhookRouter.Mount("/", webhookingress.NewHandler(registry, cipher, locks, payments, alerts, throttle, logger).Routes())

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("api server shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) error {
	cipher, err := buildCipher(cfg)
	if err != nil {
		return err
	}
	registry := buildRegistry()

	locks := lock.NewManager(rdb, lock.NewStore(pool))
	stripe := payment.NewStripeProcessor(cfg.StripeSecretKey)
	var payments booking.PaymentProcessor = stripe
	alerts := alerting.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	throttle := alerting.NewThrottle(alerting.DefaultDailyLimit)

	limiter := ratelimit.NewLimiter(rdb, ratelimitParams(cfg), ratelimit.NewStore(pool))

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = cfg.BreakerFailureThreshold
	breakerCfg.HalfOpenMaxCalls = cfg.BreakerHalfOpenMaxCalls
	if openTimeout, err := time.ParseDuration(cfg.BreakerOpenTimeout); err == nil {
		breakerCfg.OpenTimeout = openTimeout
	}
	breakerStore := circuitbreaker.NewStore(pool)
	breaker := circuitbreaker.New(breakerCfg, breakerStore, logger, func(t circuitbreaker.Transition) {
		logger.Warn("circuit breaker transition", "channel", t.Channel, "from", t.From, "to", t.To, "reason", t.Reason)
		if t.To == circuitbreaker.StateOpen && alerts.IsEnabled() {
			if !throttle.Allow("breaker:"+t.Channel, time.Now()) {
				return
			}
			if err := alerts.Post(ctx, alerting.Alert{
				Channel: t.Channel,
				Kind:    "circuit_breaker_open",
				Title:   fmt.Sprintf("circuit breaker opened for %s", t.Channel),
				Detail:  t.Reason,
			}); err != nil {
				logger.Error("posting circuit breaker alert", "error", err)
			}
		}
	})

	dispatchCfg := dispatcher.DefaultConfig()
	dispatchCfg.MaxAttempts = cfg.DispatchMaxAttempts
	if claimVisibility, err := time.ParseDuration(cfg.DispatchClaimVisibility); err == nil {
		dispatchCfg.VisibilityTimeout = claimVisibility
	}
	if baseBackoff, err := time.ParseDuration(cfg.DispatchBaseBackoff); err == nil {
		dispatchCfg.BaseDelay = baseBackoff
	}
	if maxBackoff, err := time.ParseDuration(cfg.DispatchMaxBackoff); err == nil {
		dispatchCfg.MaxDelay = maxBackoff
	}

	reconcileCfg := reconciler.DefaultConfig()

	dispatchInterval := 5 * time.Second
	go dispatcher.RunDispatchLoop(ctx, pool, registry, cipher, breaker, limiter, logger.With("component", "dispatcher"), dispatchCfg, dispatchInterval)

	sweepTTL := 600 * time.Second
	go booking.RunSweepLoop(ctx, pool, rdb, payments, logger.With("component", "checkout_sweeper"), sweepTTL, time.Minute)

	cronJob, err := reconciler.RunSchedule(ctx, pool, registry, cipher, locks, payments, alerts, throttle,
		logger.With("component", "reconciler"), reconcileCfg, cfg.ReconcileCronSchedule)
	if err != nil {
		return fmt.Errorf("starting reconciler schedule: %w", err)
	}
	defer func() {
		stopCtx := cronJob.Stop()
		<-stopCtx.Done()
	}()

	<-ctx.Done()
	logger.Info("worker shutting down")
	return nil
}
