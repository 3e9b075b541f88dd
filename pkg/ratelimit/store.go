package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/harborstay/channelcore/internal/dbx"
)

// Store persists a denormalized snapshot of each channel's bucket state
// to the rate_state table (spec §6) for operator dashboards. Redis is the
// actual source of truth for debit decisions; this table only records
// that activity against a channel's bucket is occurring and when it was
// last touched.
type Store struct {
	dbtx dbx.DBTX
}

// NewStore creates a rate limiter Store backed by the given connection.
func NewStore(dbtx dbx.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// Record upserts the last-touched timestamp for channel's bucket.
func (s *Store) Record(ctx context.Context, channel string, at time.Time) error {
	_, err := s.dbtx.Exec(ctx,
		`INSERT INTO rate_state (channel, tokens, last_refill_at)
		 VALUES ($1, 0, $2)
		 ON CONFLICT (channel) DO UPDATE SET last_refill_at = EXCLUDED.last_refill_at`,
		channel, at,
	)
	if err != nil {
		return fmt.Errorf("recording rate state: %w", err)
	}
	return nil
}
