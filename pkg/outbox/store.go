package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/harborstay/channelcore/internal/dbx"
)

// Store provides the append, fan-out, claim, and settle operations for the
// event log and its per-channel deliveries (spec §4.4). Raw SQL against
// dbx.DBTX, grounded on pkg/incident/store.go's column-list/scan-row shape
// for Append, and on the teacher's internal/audit.Writer async-flush
// shape for the non-transactional claim/settle read side used by the
// dispatcher.
type Store struct {
	dbtx dbx.DBTX
}

// NewStore creates an outbox Store backed by the given connection or
// transaction.
func NewStore(dbtx dbx.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// Append inserts event with the next per-property monotonic sequence. It
// must be called within the same transaction as the business write that
// produced the event (spec §4.4 invariant: "no event is ever lost: append
// is transactional with the originating business write").
func (s *Store) Append(ctx context.Context, propertyID, entityID uuid.UUID, kind Kind, origin string, payload []byte) (Event, error) {
	row := s.dbtx.QueryRow(ctx,
		`INSERT INTO outbound_events (property_id, entity_id, kind, payload, origin, sequence)
		 VALUES ($1, $2, $3, $4, $5,
		   COALESCE((SELECT MAX(sequence) FROM outbound_events WHERE property_id = $1), 0) + 1)
		 RETURNING id, property_id, entity_id, kind, payload, origin, sequence, created_at`,
		propertyID, entityID, kind, payload, origin,
	)

	var e Event
	err := row.Scan(&e.ID, &e.PropertyID, &e.EntityID, &e.Kind, &e.Payload, &e.Origin, &e.Sequence, &e.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("appending outbound event: %w", err)
	}
	return e, nil
}

// GetEvent loads the event a delivery references, giving the dispatcher
// the kind and payload it needs to build a channel.BookingSnapshot.
func (s *Store) GetEvent(ctx context.Context, eventID uuid.UUID) (Event, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT id, property_id, entity_id, kind, payload, origin, sequence, created_at
		   FROM outbound_events WHERE id = $1`, eventID)

	var e Event
	if err := row.Scan(&e.ID, &e.PropertyID, &e.EntityID, &e.Kind, &e.Payload, &e.Origin, &e.Sequence, &e.CreatedAt); err != nil {
		return Event{}, fmt.Errorf("loading event %s: %w", eventID, err)
	}
	return e, nil
}

// FanOut creates a pending delivery for every active, sync-enabled
// channel connection on event's property, excluding the event's origin
// channel so the originating platform never receives an echo of its own
// update (spec §4.4, §4.8 "Fan-out policy").
func (s *Store) FanOut(ctx context.Context, event Event) ([]Delivery, error) {
	rows, err := s.dbtx.Query(ctx,
		`INSERT INTO outbound_deliveries (event_id, property_id, entity_id, channel, state, attempt_count, next_attempt_at)
		 SELECT $1, $2, $3, cc.channel, 'pending', 0, now()
		   FROM channel_connections cc
		  WHERE cc.property_id = $2
		    AND cc.sync_enabled
		    AND cc.channel <> $4
		 RETURNING id, event_id, property_id, entity_id, channel, state, attempt_count, next_attempt_at, visibility_deadline, last_error`,
		event.ID, event.PropertyID, event.EntityID, event.Origin,
	)
	if err != nil {
		return nil, fmt.Errorf("fanning out event %s: %w", event.ID, err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// ClaimDue atomically advances up to limit due deliveries to in_flight and
// returns them: pending deliveries whose next_attempt_at has arrived, plus
// in_flight deliveries whose prior claim's visibility timeout has lapsed
// (worker crash recovery). visibilityTimeout must exceed the external
// call's budget (spec §4.4 invariant).
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int, visibilityTimeout time.Duration) ([]Delivery, error) {
	deadline := now.Add(visibilityTimeout)
	rows, err := s.dbtx.Query(ctx,
		`WITH claimed AS (
		   SELECT id FROM outbound_deliveries
		    WHERE (state = 'pending' AND next_attempt_at <= $1)
		       OR (state = 'in_flight' AND visibility_deadline < $1)
		    ORDER BY next_attempt_at ASC
		    FOR UPDATE SKIP LOCKED
		    LIMIT $2
		 )
		 UPDATE outbound_deliveries d
		    SET state = 'in_flight', visibility_deadline = $3
		   FROM claimed
		  WHERE d.id = claimed.id
		 RETURNING d.id, d.event_id, d.property_id, d.entity_id, d.channel, d.state,
		           d.attempt_count, d.next_attempt_at, d.visibility_deadline, d.last_error`,
		now, limit, deadline,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming due deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claimed delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// Settle transitions delivery to its terminal or retry state per spec
// §4.4/§4.8: succeeded, pending (with nextAttemptAt set for the next
// retry), or dead (exhausted or permanent failure).
func (s *Store) Settle(ctx context.Context, deliveryID uuid.UUID, state DeliveryState, nextAttemptAt *time.Time, lastErr *string) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE outbound_deliveries
		    SET state = $2,
		        attempt_count = attempt_count + 1,
		        next_attempt_at = COALESCE($3, next_attempt_at),
		        last_error = $4,
		        visibility_deadline = NULL
		  WHERE id = $1`,
		deliveryID, state, nextAttemptAt, lastErr,
	)
	if err != nil {
		return fmt.Errorf("settling delivery %s: %w", deliveryID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settling delivery %s: not found", deliveryID)
	}
	return nil
}

// CancelForConnection moves every pending/in-flight delivery targeting
// channel on propertyID to dead, used when a channel connection is
// disconnected so the dispatcher stops polling orphaned work (spec §4.4).
func (s *Store) CancelForConnection(ctx context.Context, propertyID uuid.UUID, channel, reason string) (int64, error) {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE outbound_deliveries
		    SET state = 'dead', last_error = $3
		  WHERE property_id = $1 AND channel = $2 AND state IN ('pending', 'in_flight')`,
		propertyID, channel, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("cancelling deliveries for %s/%s: %w", propertyID, channel, err)
	}
	return tag.RowsAffected(), nil
}

// DepthByChannel returns the count of non-terminal deliveries per channel,
// feeding the outbox_depth gauge.
func (s *Store) DepthByChannel(ctx context.Context) (map[string]int64, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT channel, count(*) FROM outbound_deliveries
		  WHERE state IN ('pending', 'in_flight')
		  GROUP BY channel`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying outbox depth: %w", err)
	}
	defer rows.Close()

	depths := make(map[string]int64)
	for rows.Next() {
		var channel string
		var count int64
		if err := rows.Scan(&channel, &count); err != nil {
			return nil, fmt.Errorf("scanning outbox depth row: %w", err)
		}
		depths[channel] = count
	}
	return depths, rows.Err()
}

func scanDelivery(rows pgx.Rows) (Delivery, error) {
	var d Delivery
	err := rows.Scan(
		&d.ID, &d.EventID, &d.PropertyID, &d.EntityID, &d.Channel, &d.State,
		&d.AttemptCount, &d.NextAttemptAt, &d.VisibilityDeadline, &d.LastError,
	)
	return d, err
}
