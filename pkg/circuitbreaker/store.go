package circuitbreaker

import (
	"context"
	"fmt"
	"time"

	"github.com/harborstay/channelcore/internal/dbx"
)

// Store persists the denormalized circuit_state snapshot (spec §6) for
// operator dashboards. It is written on every breaker transition; neither
// the breaker nor the dispatcher reads it back, so in-process breaker
// state starts closed again after a restart.
type Store struct {
	dbtx dbx.DBTX
}

// NewStore creates a circuit breaker Store.
func NewStore(dbtx dbx.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// Record upserts the latest observed state for channel.
func (s *Store) Record(ctx context.Context, channel, state string) error {
	_, err := s.dbtx.Exec(ctx,
		`INSERT INTO circuit_state (channel, state, failure_count, opened_at)
		 VALUES ($1, $2, 0, CASE WHEN $2 = 'open' THEN now() ELSE NULL END)
		 ON CONFLICT (channel) DO UPDATE
		   SET state = EXCLUDED.state,
		       opened_at = CASE WHEN EXCLUDED.state = 'open' THEN now() ELSE circuit_state.opened_at END`,
		channel, state,
	)
	if err != nil {
		return fmt.Errorf("recording circuit state: %w", err)
	}
	return nil
}

// Snapshot is the last-known circuit state for one channel.
type Snapshot struct {
	Channel  string
	State    string
	OpenedAt *time.Time
}

// Get returns the last-recorded snapshot for channel, or ok=false if none
// exists (fresh deployment, never tripped).
func (s *Store) Get(ctx context.Context, channel string) (snap Snapshot, ok bool, err error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT channel, state, opened_at FROM circuit_state WHERE channel = $1`, channel)
	snap.Channel = channel
	if err := row.Scan(&snap.Channel, &snap.State, &snap.OpenedAt); err != nil {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}
