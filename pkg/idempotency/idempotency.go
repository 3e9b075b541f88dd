// Package idempotency implements the idempotency record store shared by
// inbound webhook handlers (keyed by channel + external message id) and
// outbound delivery attempts (keyed by delivery id), so retries racing
// against a successful acknowledgment never double-apply a side effect
// (spec §3 "Idempotency Record", invariant 3/4).
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Record is one stored idempotency outcome.
type Record struct {
	Key            string
	ResultSnapshot json.RawMessage
	ExpiresAt      time.Time
}

// Service guards a side effect behind an idempotency key: the first
// caller for a given key executes fn and persists its result; every
// subsequent caller for the same key (still within its TTL) replays the
// stored result without re-invoking fn.
type Service struct {
	store *Store
}

// NewService creates an idempotency Service backed by store.
func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Execute runs fn at most once per key. It returns the result (freshly
// computed or replayed) and whether it was a replay of a prior outcome.
func (s *Service) Execute(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) (json.RawMessage, error)) (result json.RawMessage, replayed bool, err error) {
	existing, found, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: checking key %q: %w", key, err)
	}
	if found {
		return existing.ResultSnapshot, true, nil
	}

	result, err = fn(ctx)
	if err != nil {
		return nil, false, err
	}

	if putErr := s.store.Put(ctx, key, result, time.Now().Add(ttl)); putErr != nil {
		if isUniqueViolation(putErr) {
			// Lost a race with a concurrent caller for the same key;
			// replay whatever they committed rather than surface a
			// spurious error or double-apply the side effect locally.
			existing, found, getErr := s.store.Get(ctx, key)
			if getErr == nil && found {
				return existing.ResultSnapshot, true, nil
			}
		}
		return nil, false, fmt.Errorf("idempotency: persisting outcome for key %q: %w", key, putErr)
	}

	return result, false, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
