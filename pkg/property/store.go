package property

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/harborstay/channelcore/internal/dbx"
)

// ErrNotFound is returned when a property or pricing rule id does not exist.
var ErrNotFound = errors.New("property: not found")

const propertyColumns = `id, name, timezone, currency, base_price_minor, cleaning_fee_minor,
	service_fee_bps, tax_bps, max_guests, is_active, created_at, updated_at`

// Store provides raw-SQL CRUD for properties and their pricing rules.
type Store struct {
	dbtx dbx.DBTX
}

// NewStore creates a property Store backed by the given connection or
// transaction.
func NewStore(dbtx dbx.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// Create inserts a new property.
func (s *Store) Create(ctx context.Context, p Property) (Property, error) {
	row := s.dbtx.QueryRow(ctx,
		`INSERT INTO properties (name, timezone, currency, base_price_minor, cleaning_fee_minor,
		                          service_fee_bps, tax_bps, max_guests)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+propertyColumns,
		p.Name, p.Timezone, p.Currency, p.BasePriceMinor, p.CleaningFeeMinor,
		p.ServiceFeeBps, p.TaxBps, p.MaxGuests,
	)
	out, err := scanProperty(row)
	if err != nil {
		return Property{}, fmt.Errorf("creating property: %w", err)
	}
	return out, nil
}

// Get returns a property by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Property, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id)
	out, err := scanProperty(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, ErrNotFound
		}
		return Property{}, fmt.Errorf("getting property: %w", err)
	}
	return out, nil
}

// List returns every active property.
func (s *Store) List(ctx context.Context) ([]Property, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+propertyColumns+` FROM properties WHERE is_active ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing properties: %w", err)
	}
	defer rows.Close()

	var out []Property
	for rows.Next() {
		p, err := scanPropertyRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update overwrites a property's mutable fields.
func (s *Store) Update(ctx context.Context, id uuid.UUID, p Property) (Property, error) {
	row := s.dbtx.QueryRow(ctx,
		`UPDATE properties
		    SET name = $2, timezone = $3, currency = $4, base_price_minor = $5,
		        cleaning_fee_minor = $6, service_fee_bps = $7, tax_bps = $8,
		        max_guests = $9, updated_at = now()
		  WHERE id = $1
		 RETURNING `+propertyColumns,
		id, p.Name, p.Timezone, p.Currency, p.BasePriceMinor,
		p.CleaningFeeMinor, p.ServiceFeeBps, p.TaxBps, p.MaxGuests,
	)
	out, err := scanProperty(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, ErrNotFound
		}
		return Property{}, fmt.Errorf("updating property: %w", err)
	}
	return out, nil
}

// Deactivate marks a property inactive (soft-delete); existing bookings
// are untouched.
func (s *Store) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.dbtx.Exec(ctx, `UPDATE properties SET is_active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivating property: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRule inserts a pricing rule for a property.
func (s *Store) CreateRule(ctx context.Context, r PricingRule) (PricingRule, error) {
	row := s.dbtx.QueryRow(ctx,
		`INSERT INTO pricing_rules (property_id, kind, start_date, end_date, min_nights,
		                             adjustment_type, adjustment_value)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, property_id, kind, start_date, end_date, min_nights, adjustment_type, adjustment_value`,
		r.PropertyID, r.Kind, r.StartDate, r.EndDate, r.MinNights, r.AdjustmentType, r.AdjustmentValue,
	)
	var out PricingRule
	var adjValue float64
	err := row.Scan(&out.ID, &out.PropertyID, &out.Kind, &out.StartDate, &out.EndDate,
		&out.MinNights, &out.AdjustmentType, &adjValue)
	if err != nil {
		return PricingRule{}, fmt.Errorf("creating pricing rule: %w", err)
	}
	out.AdjustmentValue = int64(adjValue)
	return out, nil
}

// ListRules returns every pricing rule on propertyID.
func (s *Store) ListRules(ctx context.Context, propertyID uuid.UUID) ([]PricingRule, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT id, property_id, kind, start_date, end_date, min_nights, adjustment_type, adjustment_value
		   FROM pricing_rules WHERE property_id = $1 ORDER BY created_at ASC`,
		propertyID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pricing rules: %w", err)
	}
	defer rows.Close()

	var out []PricingRule
	for rows.Next() {
		var r PricingRule
		var adjValue float64
		if err := rows.Scan(&r.ID, &r.PropertyID, &r.Kind, &r.StartDate, &r.EndDate,
			&r.MinNights, &r.AdjustmentType, &adjValue); err != nil {
			return nil, fmt.Errorf("scanning pricing rule: %w", err)
		}
		r.AdjustmentValue = int64(adjValue)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRule removes a pricing rule by id.
func (s *Store) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM pricing_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting pricing rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProperty(row pgx.Row) (Property, error) {
	var p Property
	err := row.Scan(&p.ID, &p.Name, &p.Timezone, &p.Currency, &p.BasePriceMinor,
		&p.CleaningFeeMinor, &p.ServiceFeeBps, &p.TaxBps, &p.MaxGuests,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanPropertyRows(rows pgx.Rows) (Property, error) {
	var p Property
	err := rows.Scan(&p.ID, &p.Name, &p.Timezone, &p.Currency, &p.BasePriceMinor,
		&p.CleaningFeeMinor, &p.ServiceFeeBps, &p.TaxBps, &p.MaxGuests,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
