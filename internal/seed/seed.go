// Package seed populates a development database with a minimal "acme"
// tenant: one property, one pricing rule, and one channel connection.
// Run is idempotent — re-running against an already-seeded database is a
// no-op.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/channel/airbnb"
	"github.com/harborstay/channelcore/pkg/property"
	"github.com/harborstay/channelcore/pkg/tenant"
)

// Run provisions the "acme" development tenant and populates it with one
// sample property, pricing rule, and Airbnb channel connection.
// credentialKey must be the same key the running app server uses to seal
// channel credentials, so connections created here stay decryptable.
func Run(ctx context.Context, pool *pgxpool.Pool, databaseURL, migrationsDir string, credentialKey []byte, logger *slog.Logger) error {
	var existingID string
	err := pool.QueryRow(ctx, `SELECT id FROM public.tenants WHERE slug = $1`, "acme").Scan(&existingID)
	if err == nil {
		logger.Info("seed: tenant 'acme' already exists, skipping")
		return nil
	}

	prov := &tenant.Provisioner{
		DB:            pool,
		DatabaseURL:   databaseURL,
		MigrationsDir: migrationsDir,
		Logger:        logger,
	}

	info, err := prov.Provision(ctx, "Acme Hospitality", "acme", json.RawMessage(`{"timezone":"Europe/Berlin"}`))
	if err != nil {
		return fmt.Errorf("provisioning seed tenant: %w", err)
	}
	logger.Info("seed: provisioned tenant", "tenant_id", info.ID, "slug", info.Slug)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", info.Schema)); err != nil {
		return fmt.Errorf("setting search_path: %w", err)
	}

	propStore := property.NewStore(conn)
	prop, err := propStore.Create(ctx, property.Property{
		Name:             "Seaside Loft",
		Timezone:         "Europe/Berlin",
		Currency:         "EUR",
		BasePriceMinor:   12000,
		CleaningFeeMinor: 3500,
		ServiceFeeBps:    1000,
		TaxBps:           700,
		MaxGuests:        4,
	})
	if err != nil {
		return fmt.Errorf("creating seed property: %w", err)
	}
	logger.Info("seed: created property", "property", prop.Name, "id", prop.ID)

	minNights := 3
	if _, err := propStore.CreateRule(ctx, property.PricingRule{
		PropertyID:      prop.ID,
		Kind:            property.RuleLengthOfStay,
		MinNights:       &minNights,
		AdjustmentType:  property.AdjustmentPercentage,
		AdjustmentValue: -1000, // -10% for stays of 3+ nights
	}); err != nil {
		return fmt.Errorf("creating seed pricing rule: %w", err)
	}
	logger.Info("seed: created pricing rule", "property", prop.ID)

	cipher, err := channel.NewCredentialCipher(credentialKey)
	if err != nil {
		return fmt.Errorf("building credential cipher: %w", err)
	}
	creds, err := json.Marshal(airbnb.Credentials{
		APIKey:        "seed-airbnb-key",
		BaseURL:       "https://api.airbnb.com",
		WebhookSecret: "seed-airbnb-webhook-secret",
	})
	if err != nil {
		return fmt.Errorf("marshaling seed airbnb credentials: %w", err)
	}
	sealed, err := cipher.Seal(creds)
	if err != nil {
		return fmt.Errorf("sealing seed airbnb credentials: %w", err)
	}
	if _, err := conn.Exec(ctx,
		`INSERT INTO channel_connections (property_id, channel, external_property_id, credentials_encrypted, sync_enabled)
		 VALUES ($1, $2, $3, $4, true)`,
		prop.ID, "airbnb", "airbnb-ext-seed-1", sealed,
	); err != nil {
		return fmt.Errorf("creating seed channel connection: %w", err)
	}
	logger.Info("seed: created channel connection", "property", prop.ID, "channel", "airbnb")

	logger.Info("seed: completed successfully", "tenant", info.Slug, "properties", 1, "channel_connections", 1)
	return nil
}
