package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/harborstay/channelcore/internal/dbx"
)

// exclusionViolationCode is the Postgres SQLSTATE for an EXCLUDE
// constraint violation (migrations/tenant/0002_inventory.up.sql).
const exclusionViolationCode = "23P01"

// uniqueViolationCode is raised on the (source, external_id) unique
// index when external_id is set.
const uniqueViolationCode = "23505"

const bookingColumns = `id, property_id, source, external_id, check_in, check_out, guests,
	status, total_minor, currency, payment_intent_id, lock_key, version, created_at, updated_at`

// Store provides the raw-SQL operations the Booking Core composes on top
// of (spec §4.5). dbtx is typically a *pgx.Tx the caller opened via
// dbx.WithTx so the insert/update and the outbox append that accompanies
// it commit together.
type Store struct {
	dbtx dbx.DBTX
}

// NewStore creates an inventory Store backed by the given connection or
// transaction.
func NewStore(dbtx dbx.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// InsertBooking inserts record. On an exclusion-constraint violation it
// returns *ErrInventoryConflict with the offending overlapping
// interval(s) attached (spec §4.5); on a (source, external_id) collision
// it returns the underlying unique-violation error unwrapped so callers
// can distinguish "already processed this external booking" idempotent
// upserts from a genuine conflict.
func (s *Store) InsertBooking(ctx context.Context, b Booking) (Booking, error) {
	row := s.dbtx.QueryRow(ctx,
		`INSERT INTO bookings (property_id, source, external_id, check_in, check_out, guests,
		                        status, total_minor, currency, payment_intent_id, lock_key, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		 RETURNING `+bookingColumns,
		b.PropertyID, b.Source, b.ExternalID, b.CheckIn, b.CheckOut, b.Guests,
		b.Status, b.TotalMinor, b.Currency, b.PaymentIntentID, b.LockKey,
	)

	out, err := scanBooking(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case exclusionViolationCode:
				conflicts, convErr := s.conflictingIntervals(ctx, b.PropertyID, b.CheckIn, b.CheckOut)
				if convErr != nil {
					return Booking{}, fmt.Errorf("inventory: loading conflicts after exclusion violation: %w", convErr)
				}
				return Booking{}, &ErrInventoryConflict{PropertyID: b.PropertyID, Conflicts: conflicts}
			case uniqueViolationCode:
				return Booking{}, fmt.Errorf("inventory: duplicate (source, external_id): %w", err)
			}
		}
		return Booking{}, fmt.Errorf("inserting booking: %w", err)
	}
	return out, nil
}

// UpdateBookingStatus transitions id to newStatus only if its current
// status is in fromSet and its version equals expectedVersion (optimistic
// concurrency, spec §4.5/§4.6.3). Returns ErrVersionMismatch if the row's
// version has since moved.
func (s *Store) UpdateBookingStatus(ctx context.Context, id uuid.UUID, fromSet []Status, newStatus Status, expectedVersion int64) (Booking, error) {
	row := s.dbtx.QueryRow(ctx,
		`UPDATE bookings
		    SET status = $2, version = version + 1, updated_at = now()
		  WHERE id = $1 AND status = ANY($3) AND version = $4
		 RETURNING `+bookingColumns,
		id, newStatus, statusesToStrings(fromSet), expectedVersion,
	)

	out, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrVersionMismatch
		}
		return Booking{}, fmt.Errorf("updating booking status: %w", err)
	}
	return out, nil
}

// SetPaymentIntent attaches an external payment processor intent id to a
// booking, called after the processor call succeeds (spec §4.6.3 "Creates
// a payment intent ... persists payment_intent_id on the booking"). It is
// deliberately not part of InsertBooking's transaction: the locking
// discipline (spec §5) forbids calling an external platform from inside a
// database transaction.
func (s *Store) SetPaymentIntent(ctx context.Context, id uuid.UUID, paymentIntentID string) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE bookings SET payment_intent_id = $2, updated_at = now() WHERE id = $1`,
		id, paymentIntentID,
	)
	if err != nil {
		return fmt.Errorf("attaching payment intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateGuestCount changes a reserved booking's guest count. Only valid
// while the booking is still reserved (spec §4.6.3 update_guest_details).
func (s *Store) UpdateGuestCount(ctx context.Context, id uuid.UUID, guests int) (Booking, error) {
	row := s.dbtx.QueryRow(ctx,
		`UPDATE bookings SET guests = $2, updated_at = now()
		  WHERE id = $1 AND status = $3
		 RETURNING `+bookingColumns,
		id, guests, StatusReserved,
	)
	out, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrVersionMismatch
		}
		return Booking{}, fmt.Errorf("updating guest count: %w", err)
	}
	return out, nil
}

// UpdateInboundBooking overwrites every mutable field of a channel-sourced
// booking (dates, guests, status, price) in one statement, used when an
// inbound webhook's conflict resolution decides the remote side should
// win (spec §4.11). expectedVersion enforces the same optimistic
// concurrency discipline as UpdateBookingStatus.
func (s *Store) UpdateInboundBooking(ctx context.Context, id, propertyID uuid.UUID, checkIn, checkOut time.Time, guests int, status Status, totalMinor int64, currency string, expectedVersion int64) (Booking, error) {
	row := s.dbtx.QueryRow(ctx,
		`UPDATE bookings
		    SET check_in = $2, check_out = $3, guests = $4, status = $5,
		        total_minor = $6, currency = $7, version = version + 1, updated_at = now()
		  WHERE id = $1 AND version = $8
		 RETURNING `+bookingColumns,
		id, checkIn, checkOut, guests, status, totalMinor, currency, expectedVersion,
	)
	out, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrVersionMismatch
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolationCode {
			conflicts, convErr := s.conflictingIntervals(ctx, propertyID, checkIn, checkOut)
			if convErr != nil {
				return Booking{}, fmt.Errorf("inventory: loading conflicts after exclusion violation: %w", convErr)
			}
			return Booking{}, &ErrInventoryConflict{PropertyID: propertyID, Conflicts: conflicts}
		}
		return Booking{}, fmt.Errorf("updating inbound booking: %w", err)
	}
	return out, nil
}

// ListExpiredReserved returns every booking still reserved whose checkout
// budget (created_at + the caller's TTL, expressed here as cutoff) has
// elapsed, for the checkout timeout sweeper (spec §4.6.3).
func (s *Store) ListExpiredReserved(ctx context.Context, cutoff time.Time) ([]Booking, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC`,
		StatusReserved, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("listing expired reservations: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBookingRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning expired reservation: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBooking returns a booking by id.
func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (Booking, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	out, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, fmt.Errorf("getting booking: %w", err)
	}
	return out, nil
}

// GetBookingByExternalID looks up a booking by (source, external_id),
// used by inbound webhook ingress to find the local counterpart of an
// external booking.
func (s *Store) GetBookingByExternalID(ctx context.Context, source, externalID string) (Booking, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE source = $1 AND external_id = $2`,
		source, externalID,
	)
	out, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, fmt.Errorf("getting booking by external id: %w", err)
	}
	return out, nil
}

// ListOccupied returns every active-status booking interval overlapping
// window on propertyID, used by the Reconciler and availability queries.
func (s *Store) ListOccupied(ctx context.Context, propertyID uuid.UUID, window Interval) ([]Booking, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		  WHERE property_id = $1
		    AND status = ANY($2)
		    AND check_in < $4 AND check_out > $3
		  ORDER BY check_in ASC`,
		propertyID, statusesToStrings(ActiveStatuses), window.From, window.To,
	)
	if err != nil {
		return nil, fmt.Errorf("listing occupied bookings: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBookingRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertBlock inserts an availability block. An overlap with another block
// on the same property surfaces *ErrInventoryConflict; an overlap with an
// active booking is not checked, and such an insert succeeds.
func (s *Store) InsertBlock(ctx context.Context, b AvailabilityBlock) (AvailabilityBlock, error) {
	row := s.dbtx.QueryRow(ctx,
		`INSERT INTO availability_blocks (property_id, start_date, end_date, kind, source)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, property_id, start_date, end_date, kind, source`,
		b.PropertyID, b.StartDate, b.EndDate, b.Kind, b.Source,
	)

	var out AvailabilityBlock
	err := row.Scan(&out.ID, &out.PropertyID, &out.StartDate, &out.EndDate, &out.Kind, &out.Source)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolationCode {
			conflicts, convErr := s.conflictingIntervals(ctx, b.PropertyID, b.StartDate, b.EndDate)
			if convErr != nil {
				return AvailabilityBlock{}, fmt.Errorf("inventory: loading conflicts after exclusion violation: %w", convErr)
			}
			return AvailabilityBlock{}, &ErrInventoryConflict{PropertyID: b.PropertyID, Conflicts: conflicts}
		}
		return AvailabilityBlock{}, fmt.Errorf("inserting availability block: %w", err)
	}
	return out, nil
}

// ListBlocksInWindow returns every availability block on propertyID
// overlapping window, used alongside ListOccupied to build the full
// property calendar (spec §6 list_property_calendar).
func (s *Store) ListBlocksInWindow(ctx context.Context, propertyID uuid.UUID, window Interval) ([]AvailabilityBlock, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT id, property_id, start_date, end_date, kind, source FROM availability_blocks
		  WHERE property_id = $1 AND start_date < $3 AND end_date > $2
		  ORDER BY start_date ASC`,
		propertyID, window.From, window.To,
	)
	if err != nil {
		return nil, fmt.Errorf("listing availability blocks: %w", err)
	}
	defer rows.Close()

	var out []AvailabilityBlock
	for rows.Next() {
		var b AvailabilityBlock
		if err := rows.Scan(&b.ID, &b.PropertyID, &b.StartDate, &b.EndDate, &b.Kind, &b.Source); err != nil {
			return nil, fmt.Errorf("scanning availability block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RemoveBlock deletes an availability block by id.
func (s *Store) RemoveBlock(ctx context.Context, id uuid.UUID) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM availability_blocks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("removing availability block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// conflictingIntervals returns every active booking/block interval on
// propertyID overlapping [from, to), for attaching to ErrInventoryConflict
// after the database has already rejected the write.
func (s *Store) conflictingIntervals(ctx context.Context, propertyID uuid.UUID, from, to time.Time) ([]Interval, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT check_in, check_out FROM bookings
		  WHERE property_id = $1 AND status = ANY($2) AND check_in < $4 AND check_out > $3
		 UNION ALL
		 SELECT start_date, end_date FROM availability_blocks
		  WHERE property_id = $1 AND start_date < $4 AND end_date > $3`,
		propertyID, statusesToStrings(ActiveStatuses), from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Interval
	for rows.Next() {
		var iv Interval
		if err := rows.Scan(&iv.From, &iv.To); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID, &b.PropertyID, &b.Source, &b.ExternalID, &b.CheckIn, &b.CheckOut, &b.Guests,
		&b.Status, &b.TotalMinor, &b.Currency, &b.PaymentIntentID, &b.LockKey, &b.Version,
		&b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

func scanBookingRows(rows pgx.Rows) (Booking, error) {
	var b Booking
	err := rows.Scan(
		&b.ID, &b.PropertyID, &b.Source, &b.ExternalID, &b.CheckIn, &b.CheckOut, &b.Guests,
		&b.Status, &b.TotalMinor, &b.Currency, &b.PaymentIntentID, &b.LockKey, &b.Version,
		&b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

func statusesToStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
