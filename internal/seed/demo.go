package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/channel/airbnb"
	"github.com/harborstay/channelcore/pkg/channel/bookingcom"
	"github.com/harborstay/channelcore/pkg/channel/expedia"
	"github.com/harborstay/channelcore/pkg/channel/fewodirekt"
	"github.com/harborstay/channelcore/pkg/channel/googlevr"
	"github.com/harborstay/channelcore/pkg/inventory"
	"github.com/harborstay/channelcore/pkg/property"
	"github.com/harborstay/channelcore/pkg/tenant"
)

// RunDemo provisions the "acme" tenant with comprehensive demo data: a
// small portfolio of properties, pricing rules, one channel connection
// per supported platform, and a mix of direct and channel-sourced
// bookings. It is destructive: it drops and recreates the tenant if it
// already exists. credentialKey must match the running server's
// CREDENTIAL_ENCRYPTION_KEY so the seeded connections stay decryptable.
func RunDemo(ctx context.Context, pool *pgxpool.Pool, databaseURL, migrationsDir string, credentialKey []byte, logger *slog.Logger) error {
	var existingID, existingSlug string
	err := pool.QueryRow(ctx, `SELECT id, slug FROM public.tenants WHERE slug = $1`, "acme").Scan(&existingID, &existingSlug)
	if err == nil {
		logger.Info("seed-demo: dropping existing tenant 'acme'")
		if _, err := pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", tenant.SchemaName(existingSlug))); err != nil {
			return fmt.Errorf("dropping tenant schema: %w", err)
		}
		if _, err := pool.Exec(ctx, `DELETE FROM public.tenants WHERE id = $1`, existingID); err != nil {
			return fmt.Errorf("deleting tenant row: %w", err)
		}
	}

	prov := &tenant.Provisioner{
		DB:            pool,
		DatabaseURL:   databaseURL,
		MigrationsDir: migrationsDir,
		Logger:        logger,
	}

	info, err := prov.Provision(ctx, "Acme Hospitality", "acme",
		json.RawMessage(`{"timezone":"Europe/Berlin","slack_channel":"#channel-sync-alerts"}`))
	if err != nil {
		return fmt.Errorf("provisioning tenant: %w", err)
	}
	logger.Info("seed-demo: provisioned tenant", "id", info.ID, "slug", info.Slug)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", info.Schema)); err != nil {
		return fmt.Errorf("setting search_path: %w", err)
	}

	cipher, err := channel.NewCredentialCipher(credentialKey)
	if err != nil {
		return fmt.Errorf("building credential cipher: %w", err)
	}

	propStore := property.NewStore(conn)
	invStore := inventory.NewStore(conn)

	// ── Properties ──────────────────────────────────────────────────────
	type propertySpec struct {
		name             string
		timezone         string
		currency         string
		basePriceMinor   int64
		cleaningFeeMinor int64
		serviceFeeBps    int64
		taxBps           int64
		maxGuests        int
	}
	propertySpecs := []propertySpec{
		{"Seaside Loft", "Europe/Berlin", "EUR", 12000, 3500, 1000, 700, 4},
		{"Mountain Chalet", "Europe/Zurich", "CHF", 24000, 6000, 1200, 800, 8},
		{"Downtown Studio", "America/New_York", "USD", 9500, 2500, 1500, 900, 2},
		{"Harbor View Apartment", "Pacific/Auckland", "NZD", 15000, 4000, 1000, 1500, 5},
	}

	properties := make([]property.Property, len(propertySpecs))
	for i, spec := range propertySpecs {
		p, err := propStore.Create(ctx, property.Property{
			Name:             spec.name,
			Timezone:         spec.timezone,
			Currency:         spec.currency,
			BasePriceMinor:   spec.basePriceMinor,
			CleaningFeeMinor: spec.cleaningFeeMinor,
			ServiceFeeBps:    spec.serviceFeeBps,
			TaxBps:           spec.taxBps,
			MaxGuests:        spec.maxGuests,
		})
		if err != nil {
			return fmt.Errorf("creating demo property %q: %w", spec.name, err)
		}
		properties[i] = p
		logger.Info("seed-demo: created property", "property", p.Name, "id", p.ID)
	}

	// ── Pricing rules ───────────────────────────────────────────────────
	weekendRule := property.PricingRule{
		PropertyID:      properties[0].ID,
		Kind:            property.RuleWeekend,
		AdjustmentType:  property.AdjustmentPercentage,
		AdjustmentValue: 1500, // +15% Saturday/Sunday nights
	}
	minNights := 5
	lengthOfStayRule := property.PricingRule{
		PropertyID:      properties[1].ID,
		Kind:            property.RuleLengthOfStay,
		MinNights:       &minNights,
		AdjustmentType:  property.AdjustmentPercentage,
		AdjustmentValue: -1200, // -12% for stays of 5 nights or more
	}
	seasonStart := time.Date(2026, time.December, 15, 0, 0, 0, 0, time.UTC)
	seasonEnd := time.Date(2027, time.January, 10, 0, 0, 0, 0, time.UTC)
	seasonalRule := property.PricingRule{
		PropertyID:      properties[1].ID,
		Kind:            property.RuleSeasonal,
		StartDate:       &seasonStart,
		EndDate:         &seasonEnd,
		AdjustmentType:  property.AdjustmentFixedMinor,
		AdjustmentValue: 8000, // +80 CHF/night over the holiday season
	}
	for _, rule := range []property.PricingRule{weekendRule, lengthOfStayRule, seasonalRule} {
		if _, err := propStore.CreateRule(ctx, rule); err != nil {
			return fmt.Errorf("creating demo pricing rule for property %s: %w", rule.PropertyID, err)
		}
	}
	logger.Info("seed-demo: created pricing rules", "count", 3)

	// ── Channel connections ─────────────────────────────────────────────
	type connectionSpec struct {
		propertyID         uuid.UUID
		channel            string
		externalPropertyID string
		credentials        any
	}
	connSpecs := []connectionSpec{
		{properties[0].ID, "airbnb", "airbnb-seaside-1", airbnb.Credentials{
			APIKey: "demo-airbnb-key", BaseURL: "https://api.airbnb.com", WebhookSecret: "demo-airbnb-webhook-secret",
		}},
		{properties[0].ID, "expedia", "expedia-seaside-1", expedia.Credentials{
			APIKey: "demo-expedia-key", APISecret: "demo-expedia-secret", BaseURL: "https://services.expediapartnercentral.com",
			WebhookSecret: "demo-expedia-webhook-secret",
		}},
		{properties[1].ID, "booking_com", "bookingcom-chalet-1", bookingcom.Credentials{
			Username: "demo-bookingcom-user", Password: "demo-bookingcom-pass", BaseURL: "https://supply-xml.booking.com",
		}},
		{properties[2].ID, "fewodirekt", "fewodirekt-studio-1", fewodirekt.Credentials{
			APIToken: "demo-fewodirekt-token", BaseURL: "https://api.fewodirekt.com",
			WebhookSecret: "demo-fewodirekt-webhook-secret",
		}},
		{properties[3].ID, "google_vr", "googlevr-harborview-1", googlevr.Credentials{
			ClientID: "demo-googlevr-client", ClientSecret: "demo-googlevr-secret",
			RefreshToken: "demo-googlevr-refresh", BaseURL: "https://travelpartner.googleapis.com",
			TokenURL: "https://oauth2.googleapis.com/token", Expiry: time.Now().Add(24 * time.Hour),
			WebhookSecret: "demo-googlevr-webhook-secret",
		}},
	}
	for _, spec := range connSpecs {
		raw, err := json.Marshal(spec.credentials)
		if err != nil {
			return fmt.Errorf("marshaling demo credentials for %s: %w", spec.channel, err)
		}
		sealed, err := cipher.Seal(raw)
		if err != nil {
			return fmt.Errorf("sealing demo credentials for %s: %w", spec.channel, err)
		}
		if _, err := conn.Exec(ctx,
			`INSERT INTO channel_connections (property_id, channel, external_property_id, credentials_encrypted, sync_enabled)
			 VALUES ($1, $2, $3, $4, true)`,
			spec.propertyID, spec.channel, spec.externalPropertyID, sealed,
		); err != nil {
			return fmt.Errorf("creating demo channel connection %s/%s: %w", spec.propertyID, spec.channel, err)
		}
	}
	logger.Info("seed-demo: created channel connections", "count", len(connSpecs))

	// ── Bookings ────────────────────────────────────────────────────────
	today := time.Now().UTC().Truncate(24 * time.Hour)
	bookingSpecs := []struct {
		propertyID uuid.UUID
		source     string
		externalID *string
		checkIn    time.Time
		checkOut   time.Time
		guests     int
		status     inventory.Status
		totalMinor int64
		currency   string
	}{
		{properties[0].ID, "direct", nil, today.AddDate(0, 0, 3), today.AddDate(0, 0, 6), 2, inventory.StatusConfirmed, 40320, "EUR"},
		{properties[0].ID, "airbnb", strPtr("airbnb-booking-seed-1"), today.AddDate(0, 0, 10), today.AddDate(0, 0, 14), 3, inventory.StatusConfirmed, 55200, "EUR"},
		{properties[1].ID, "booking_com", strPtr("bookingcom-booking-seed-1"), today.AddDate(0, 0, 20), today.AddDate(0, 0, 27), 6, inventory.StatusReserved, 176400, "CHF"},
		{properties[2].ID, "direct", nil, today.AddDate(0, 0, 1), today.AddDate(0, 0, 4), 1, inventory.StatusCheckedIn, 32870, "USD"},
		{properties[3].ID, "expedia", strPtr("expedia-booking-seed-1"), today.AddDate(0, 0, -5), today.AddDate(0, 0, -2), 4, inventory.StatusCheckedOut, 51750, "NZD"},
	}
	for _, spec := range bookingSpecs {
		b, err := invStore.InsertBooking(ctx, inventory.Booking{
			PropertyID: spec.propertyID,
			Source:     spec.source,
			ExternalID: spec.externalID,
			CheckIn:    spec.checkIn,
			CheckOut:   spec.checkOut,
			Guests:     spec.guests,
			Status:     spec.status,
			TotalMinor: spec.totalMinor,
			Currency:   spec.currency,
		})
		if err != nil {
			return fmt.Errorf("creating demo booking on property %s: %w", spec.propertyID, err)
		}
		logger.Info("seed-demo: created booking", "property", spec.propertyID, "source", spec.source, "id", b.ID)
	}

	// ── Availability blocks ─────────────────────────────────────────────
	if _, err := invStore.InsertBlock(ctx, inventory.AvailabilityBlock{
		PropertyID: properties[1].ID,
		StartDate:  today.AddDate(0, 1, 0),
		EndDate:    today.AddDate(0, 1, 7),
		Kind:       inventory.BlockKindMaintenance,
		Source:     "operator",
	}); err != nil {
		return fmt.Errorf("creating demo availability block: %w", err)
	}
	logger.Info("seed-demo: created availability blocks", "count", 1)

	logger.Info("seed-demo: completed successfully",
		"tenant", info.Slug,
		"properties", len(properties),
		"channel_connections", len(connSpecs),
		"bookings", len(bookingSpecs),
	)
	return nil
}

func strPtr(s string) *string { return &s }
