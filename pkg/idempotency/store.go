package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/harborstay/channelcore/internal/dbx"
)

// Store provides database operations for idempotency records, grounded on
// the teacher's apikey store shape (a single table, no tenant-schema
// indirection needed since idempotency keys are already namespaced by
// caller: "{channel}:{external_message_id}" or a delivery id).
type Store struct {
	dbtx dbx.DBTX
}

// NewStore creates an idempotency Store backed by the given connection.
func NewStore(dbtx dbx.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// Get returns the record for key if present and not yet expired.
func (s *Store) Get(ctx context.Context, key string) (Record, bool, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT key, result_snapshot, expires_at
		   FROM idempotency_records
		  WHERE key = $1 AND expires_at > now()`,
		key,
	)

	var r Record
	if err := row.Scan(&r.Key, &r.ResultSnapshot, &r.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("getting idempotency record: %w", err)
	}
	return r, true, nil
}

// Put inserts a new idempotency record. A unique-violation error (caller
// lost a race with a concurrent writer for the same key) is returned
// unwrapped so Service.Execute can detect and handle it distinctly.
func (s *Store) Put(ctx context.Context, key string, result json.RawMessage, expiresAt time.Time) error {
	_, err := s.dbtx.Exec(ctx,
		`INSERT INTO idempotency_records (key, result_snapshot, expires_at)
		 VALUES ($1, $2, $3)`,
		key, result, expiresAt,
	)
	return err
}

// Prune deletes every record expired as of now, reclaiming space. No
// scheduled job in this module calls it.
func (s *Store) Prune(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("pruning idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}
