// Package dispatcher implements the Outbound Sync Dispatcher (spec §4.8,
// C9): it claims due deliveries from the event log, pushes each through
// its channel adapter behind the circuit breaker and rate limiter, and
// reschedules or kills the delivery based on the classified outcome.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harborstay/channelcore/internal/dbx"
	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/circuitbreaker"
	"github.com/harborstay/channelcore/pkg/coreerr"
	"github.com/harborstay/channelcore/pkg/idempotency"
	"github.com/harborstay/channelcore/pkg/inventory"
	"github.com/harborstay/channelcore/pkg/outbox"
	"github.com/harborstay/channelcore/pkg/ratelimit"
)

// Dispatcher processes one tenant's delivery queue.
type Dispatcher struct {
	outboxStore *outbox.Store
	invStore    *inventory.Store
	connStore   *channel.Store
	registry    *channel.Registry
	breaker     *circuitbreaker.Breaker
	limiter     *ratelimit.Limiter
	idem        *idempotency.Service
	logger      *slog.Logger
	cfg         Config
}

// New builds a Dispatcher bound to a single tenant schema's connection.
func New(db dbx.DBTX, registry *channel.Registry, cipher *channel.CredentialCipher,
	breaker *circuitbreaker.Breaker, limiter *ratelimit.Limiter, idemStore *idempotency.Store,
	logger *slog.Logger, cfg Config) *Dispatcher {
	return &Dispatcher{
		outboxStore: outbox.NewStore(db),
		invStore:    inventory.NewStore(db),
		connStore:   channel.NewStore(db, cipher),
		registry:    registry,
		breaker:     breaker,
		limiter:     limiter,
		idem:        idempotency.NewService(idemStore),
		logger:      logger,
		cfg:         cfg,
	}
}

// Tick claims one batch of due deliveries and processes them, running
// distinct (property_id, entity_id) partitions concurrently while
// preserving order within each partition (spec §4.8 "ordering guarantee").
func (d *Dispatcher) Tick(ctx context.Context) error {
	claimed, err := d.outboxStore.ClaimDue(ctx, time.Now(), d.cfg.BatchSize, d.cfg.VisibilityTimeout)
	if err != nil {
		return fmt.Errorf("dispatcher: claiming deliveries: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}

	partitions := make(map[string][]outbox.Delivery)
	var order []string
	for _, del := range claimed {
		key := del.PropertyID.String() + "/" + del.EntityID.String()
		if _, ok := partitions[key]; !ok {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], del)
	}

	var wg sync.WaitGroup
	for _, key := range order {
		deliveries := partitions[key]
		wg.Add(1)
		go func(ds []outbox.Delivery) {
			defer wg.Done()
			for _, del := range ds {
				d.processOne(ctx, del)
			}
		}(deliveries)
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) processOne(ctx context.Context, delivery outbox.Delivery) {
	adapter, err := d.registry.Get(delivery.Channel)
	if err != nil {
		d.settleDead(ctx, delivery, coreerr.Wrap(coreerr.CodeUnknownChannel, "no adapter registered", err))
		return
	}

	conn, err := d.connStore.Get(ctx, delivery.PropertyID, delivery.Channel)
	if err != nil {
		d.settleTransient(ctx, delivery, coreerr.Wrap(coreerr.CodeAdapterTransient, "loading channel connection", err))
		return
	}
	if !conn.SyncEnabled {
		d.settleDead(ctx, delivery, coreerr.New(coreerr.CodeInvalidState, "channel connection disabled"))
		return
	}

	event, err := d.outboxStore.GetEvent(ctx, delivery.EventID)
	if err != nil {
		d.logger.Error("dispatcher: loading event", "delivery_id", delivery.ID, "error", err)
		return
	}

	done, allowErr := d.breaker.Allow(delivery.Channel)
	if allowErr != nil {
		d.settleTransient(ctx, delivery, allowErr)
		return
	}

	if err := d.limiter.Acquire(ctx, delivery.Channel, 1, d.cfg.RateLimitWait); err != nil {
		done(false)
		if errors.Is(err, ratelimit.ErrRateLimited) {
			d.settleRateLimited(ctx, delivery, coreerr.Wrap(coreerr.CodeRateLimited, "rate limit wait exceeded", err))
		} else {
			d.settleTransient(ctx, delivery, coreerr.Wrap(coreerr.CodeAdapterTransient, "acquiring rate limit token", err))
		}
		return
	}

	idemKey := fmt.Sprintf("delivery:%s:attempt:%d", delivery.ID, delivery.AttemptCount)
	_, _, err = d.idem.Execute(ctx, idemKey, 24*time.Hour, func(ctx context.Context) (json.RawMessage, error) {
		return d.invoke(ctx, adapter, conn, event)
	})

	done(err == nil)
	_ = d.connStore.RecordSyncResult(ctx, conn.ID, err)

	if err != nil && coreerr.CodeOf(err) == coreerr.CodeAuthFailed {
		d.settleAuthFailed(ctx, delivery, adapter, conn, event, err)
		return
	}

	d.settle(ctx, delivery, err)
}

// settleAuthFailed implements spec §4.7/§4.8 step 5's AUTH_FAILED handling:
// attempt one credential refresh and retry; if the retry still fails,
// disable the connection and kill the delivery rather than retrying
// forever against credentials that will never work.
func (d *Dispatcher) settleAuthFailed(ctx context.Context, delivery outbox.Delivery, adapter channel.Adapter, conn channel.Connection, event outbox.Event, firstErr error) {
	d.breaker.TripAuthFailure(delivery.Channel, 5*time.Minute)

	refreshed, refreshErr := adapter.RefreshCredentials(ctx, conn)
	if refreshErr != nil {
		d.disableAfterAuthFailure(ctx, delivery, conn, firstErr, refreshErr)
		return
	}
	if err := d.connStore.UpdateCredentials(ctx, conn.ID, refreshed.Credentials); err != nil {
		d.logger.Error("dispatcher: persisting refreshed credentials", "connection_id", conn.ID, "error", err)
	}

	idemKey := fmt.Sprintf("delivery:%s:attempt:%d:refresh", delivery.ID, delivery.AttemptCount)
	_, _, retryErr := d.idem.Execute(ctx, idemKey, 24*time.Hour, func(ctx context.Context) (json.RawMessage, error) {
		return d.invoke(ctx, adapter, refreshed, event)
	})
	_ = d.connStore.RecordSyncResult(ctx, conn.ID, retryErr)

	if retryErr != nil && coreerr.CodeOf(retryErr) == coreerr.CodeAuthFailed {
		d.disableAfterAuthFailure(ctx, delivery, conn, firstErr, retryErr)
		return
	}
	d.settle(ctx, delivery, retryErr)
}

func (d *Dispatcher) disableAfterAuthFailure(ctx context.Context, delivery outbox.Delivery, conn channel.Connection, firstErr, secondErr error) {
	if err := d.connStore.SetSyncEnabled(ctx, conn.ID, false); err != nil {
		d.logger.Error("dispatcher: disabling connection after repeated auth failure", "connection_id", conn.ID, "error", err)
	}
	d.logger.Warn("dispatcher: disabling channel connection, credential refresh did not resolve auth failure",
		"connection_id", conn.ID, "channel", delivery.Channel, "first_error", firstErr, "refresh_error", secondErr)
	d.settleDead(ctx, delivery, fmt.Errorf("auth failed, credential refresh unsuccessful: %w", secondErr))
}

// invoke dispatches event to the adapter operation matching its kind,
// reloading canonical current state from the inventory store rather than
// trusting the outbox payload, which may be stale by the time this
// delivery is claimed.
func (d *Dispatcher) invoke(ctx context.Context, adapter channel.Adapter, conn channel.Connection, event outbox.Event) (json.RawMessage, error) {
	switch event.Kind {
	case outbox.KindBookingCreated, outbox.KindBookingUpdated, outbox.KindBookingCancelled:
		return d.invokeBooking(ctx, adapter, conn, event)
	case outbox.KindAvailabilityUpdated:
		return d.invokeAvailability(ctx, adapter, conn)
	case outbox.KindPricingUpdated:
		return d.invokePricing(ctx, adapter, conn, event)
	default:
		return nil, coreerr.New(coreerr.CodeAdapterPermanent, "unknown event kind "+string(event.Kind))
	}
}

func (d *Dispatcher) invokeBooking(ctx context.Context, adapter channel.Adapter, conn channel.Connection, event outbox.Event) (json.RawMessage, error) {
	booking, err := d.invStore.GetBooking(ctx, event.EntityID)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return nil, coreerr.Wrap(coreerr.CodeAdapterPermanent, "booking no longer exists", err)
		}
		return nil, coreerr.Wrap(coreerr.CodeStoreUnavailable, "loading booking", err)
	}

	existingExternalID, _, err := d.connStore.GetExternalID(ctx, booking.ID, conn.Channel)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeStoreUnavailable, "loading external booking ref", err)
	}

	if booking.Status == inventory.StatusCancelled {
		if existingExternalID == "" {
			return json.Marshal(map[string]any{"skipped": true})
		}
		if err := adapter.CancelBooking(ctx, conn, existingExternalID); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"external_id": existingExternalID, "cancelled": true})
	}

	snapshot := channel.BookingSnapshot{
		LocalID:    booking.ID,
		ExternalID: existingExternalID,
		CheckIn:    booking.CheckIn,
		CheckOut:   booking.CheckOut,
		Guests:     booking.Guests,
		Status:     booking.Status,
		TotalMinor: booking.TotalMinor,
		Currency:   booking.Currency,
	}

	externalID, err := adapter.UpsertBooking(ctx, conn, snapshot)
	if err != nil {
		return nil, err
	}
	if externalID != "" && externalID != existingExternalID {
		if err := d.connStore.PutExternalID(ctx, booking.ID, conn.Channel, externalID); err != nil {
			d.logger.Error("dispatcher: storing external booking ref", "booking_id", booking.ID, "channel", conn.Channel, "error", err)
		}
	}
	return json.Marshal(map[string]any{"external_id": externalID})
}

func (d *Dispatcher) invokeAvailability(ctx context.Context, adapter channel.Adapter, conn channel.Connection) (json.RawMessage, error) {
	window := inventory.Interval{From: time.Now().AddDate(0, 0, -1), To: time.Now().AddDate(1, 0, 0)}
	occupied, err := d.invStore.ListOccupied(ctx, conn.PropertyID, window)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeStoreUnavailable, "listing occupied bookings", err)
	}
	blocks, err := d.invStore.ListBlocksInWindow(ctx, conn.PropertyID, window)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeStoreUnavailable, "listing availability blocks", err)
	}

	combined := make([]inventory.AvailabilityBlock, 0, len(occupied)+len(blocks))
	combined = append(combined, blocks...)
	for _, b := range occupied {
		combined = append(combined, inventory.AvailabilityBlock{
			PropertyID: conn.PropertyID, StartDate: b.CheckIn, EndDate: b.CheckOut, Kind: inventory.BlockKindChannelHold,
		})
	}

	if err := adapter.PushAvailability(ctx, conn, combined); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"pushed": len(combined)})
}

func (d *Dispatcher) invokePricing(ctx context.Context, adapter channel.Adapter, conn channel.Connection, event outbox.Event) (json.RawMessage, error) {
	var prices map[string]int64
	if err := json.Unmarshal(event.Payload, &prices); err != nil {
		return nil, coreerr.Wrap(coreerr.CodeAdapterPermanent, "malformed pricing payload", err)
	}
	if err := adapter.PushPricing(ctx, conn, prices); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"pushed": len(prices)})
}

func (d *Dispatcher) settle(ctx context.Context, delivery outbox.Delivery, err error) {
	if err == nil {
		if e := d.outboxStore.Settle(ctx, delivery.ID, outbox.DeliverySucceeded, nil, nil); e != nil {
			d.logger.Error("dispatcher: settling success", "delivery_id", delivery.ID, "error", e)
		}
		return
	}

	switch {
	case coreerr.CodeOf(err) == coreerr.CodeAdapterPermanent:
		d.settleDead(ctx, delivery, err)
	case coreerr.CodeOf(err) == coreerr.CodeRateLimited:
		d.settleRateLimited(ctx, delivery, err)
	default:
		d.settleTransient(ctx, delivery, err)
	}
}

func (d *Dispatcher) settleDead(ctx context.Context, delivery outbox.Delivery, err error) {
	msg := err.Error()
	if e := d.outboxStore.Settle(ctx, delivery.ID, outbox.DeliveryDead, nil, &msg); e != nil {
		d.logger.Error("dispatcher: settling dead delivery", "delivery_id", delivery.ID, "error", e)
	}
	d.logger.Warn("dispatcher: delivery dead", "delivery_id", delivery.ID, "channel", delivery.Channel, "error", err)
}

func (d *Dispatcher) settleTransient(ctx context.Context, delivery outbox.Delivery, err error) {
	nextAttempt := delivery.AttemptCount + 1
	if nextAttempt >= d.cfg.MaxAttempts {
		d.settleDead(ctx, delivery, fmt.Errorf("exhausted %d attempts: %w", d.cfg.MaxAttempts, err))
		return
	}
	delay := computeBackoff(nextAttempt, d.cfg)
	next := time.Now().Add(delay)
	msg := err.Error()
	if e := d.outboxStore.Settle(ctx, delivery.ID, outbox.DeliveryPending, &next, &msg); e != nil {
		d.logger.Error("dispatcher: rescheduling delivery", "delivery_id", delivery.ID, "error", e)
	}
}

func (d *Dispatcher) settleRateLimited(ctx context.Context, delivery outbox.Delivery, err error) {
	wait := retryAfterOf(err)
	if wait <= 0 {
		wait = computeBackoff(delivery.AttemptCount+1, d.cfg)
	}
	next := time.Now().Add(wait)
	msg := err.Error()
	if e := d.outboxStore.Settle(ctx, delivery.ID, outbox.DeliveryPending, &next, &msg); e != nil {
		d.logger.Error("dispatcher: rescheduling rate-limited delivery", "delivery_id", delivery.ID, "error", e)
	}
	if perr := d.limiter.Penalize(ctx, delivery.Channel, wait); perr != nil {
		d.logger.Error("dispatcher: penalizing rate limiter", "channel", delivery.Channel, "error", perr)
	}
}

func retryAfterOf(err error) time.Duration {
	var ce *coreerr.Error
	if !errors.As(err, &ce) {
		return 0
	}
	v, ok := ce.Fields["retry_after_seconds"]
	if !ok {
		return 0
	}
	secs, ok := v.(float64)
	if !ok {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
