package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/harborstay/channelcore/internal/dbx"
)

// Store persists a denormalized view of outstanding locks for operator
// visibility and crash forensics. It mirrors the teacher's personal-access-
// token store shape (key/owner-token/expiry columns) — Redis, not this
// table, is the source of truth; rows here may lag or go stale after a
// crash and are advisory only.
type Store struct {
	dbtx dbx.DBTX
}

// NewStore creates a lock Store backed by the given connection.
func NewStore(dbtx dbx.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// Upsert records that key is held by token until expiresAt.
func (s *Store) Upsert(ctx context.Context, key, token string, expiresAt time.Time) error {
	_, err := s.dbtx.Exec(ctx,
		`INSERT INTO locks (key, owner_token, expires_at, renewed_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key) DO UPDATE
		   SET owner_token = EXCLUDED.owner_token,
		       expires_at  = EXCLUDED.expires_at,
		       renewed_at  = now()`,
		key, token, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("upserting lock record: %w", err)
	}
	return nil
}

// Delete removes the denormalized row for key, typically called on
// release. Leaving a stale row behind (worker crash) is harmless: it just
// shows an operator a lock whose Redis TTL has already elapsed.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM locks WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("deleting lock record: %w", err)
	}
	return nil
}

// Row is a single denormalized lock record for operator listing.
type Row struct {
	Key        string
	OwnerToken string
	ExpiresAt  time.Time
	RenewedAt  time.Time
}

// ListActive returns every lock record not yet past its expiry, ordered
// by soonest-to-expire first.
func (s *Store) ListActive(ctx context.Context, now time.Time) ([]Row, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT key, owner_token, expires_at, renewed_at
		   FROM locks
		  WHERE expires_at > $1
		  ORDER BY expires_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active locks: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Key, &r.OwnerToken, &r.ExpiresAt, &r.RenewedAt); err != nil {
			return nil, fmt.Errorf("scanning lock record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
