package tenantconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service encapsulates business logic for tenant configuration.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a tenant config Service backed by the global pool.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// Get returns the current tenant configuration.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (*ConfigResponse, error) {
	var rawConfig []byte
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT config, updated_at FROM public.tenants WHERE id = $1`, tenantID,
	).Scan(&rawConfig, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("fetching tenant: %w", err)
	}

	var cfg TenantConfig
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshalling config: %w", err)
		}
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}

	return &ConfigResponse{
		DefaultCurrency:      cfg.DefaultCurrency,
		DefaultTimezone:      cfg.DefaultTimezone,
		DefaultCancelWindowH: cfg.DefaultCancelWindowH,
		SlackAlertChannel:    cfg.SlackAlertChannel,
		UpdatedAt:            updatedAt.Format(time.RFC3339),
	}, nil
}

// Update replaces the tenant configuration with the given values.
func (s *Service) Update(ctx context.Context, tenantID uuid.UUID, req UpdateRequest) (*ConfigResponse, error) {
	cfg := TenantConfig{
		DefaultCurrency:      req.DefaultCurrency,
		DefaultTimezone:      req.DefaultTimezone,
		DefaultCancelWindowH: req.DefaultCancelWindowH,
		SlackAlertChannel:    req.SlackAlertChannel,
	}

	configBytes, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshalling config: %w", err)
	}

	var updatedAt time.Time
	err = s.pool.QueryRow(ctx,
		`UPDATE public.tenants SET config = $1, updated_at = now() WHERE id = $2 RETURNING updated_at`,
		configBytes, tenantID,
	).Scan(&updatedAt)
	if err != nil {
		return nil, fmt.Errorf("updating tenant: %w", err)
	}

	return &ConfigResponse{
		DefaultCurrency:      cfg.DefaultCurrency,
		DefaultTimezone:      cfg.DefaultTimezone,
		DefaultCancelWindowH: cfg.DefaultCancelWindowH,
		SlackAlertChannel:    cfg.SlackAlertChannel,
		UpdatedAt:            updatedAt.Format(time.RFC3339),
	}, nil
}
