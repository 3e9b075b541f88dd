// Package reconciler implements the daily per-(property, channel)
// Reconciler (spec §4.10, C11): an authoritative diff between the Core's
// bookings/availability and each channel's own view, resolved through
// the Conflict Resolution Policy and applied back through the Booking
// Core, with a daily threshold past which further automatic corrections
// are held back for an operator to look at.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/harborstay/channelcore/internal/dbx"
	"github.com/harborstay/channelcore/pkg/alerting"
	"github.com/harborstay/channelcore/pkg/booking"
	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/coreerr"
	"github.com/harborstay/channelcore/pkg/idempotency"
	"github.com/harborstay/channelcore/pkg/inventory"
	"github.com/harborstay/channelcore/pkg/lock"
	"github.com/harborstay/channelcore/pkg/outbox"
	"github.com/harborstay/channelcore/pkg/policy"
)

// reconcilerOrigin marks outbox events this package re-emits to nudge a
// channel back in sync; it never matches a real channel tag, so FanOut
// delivers to every enabled channel including the one that drifted.
const reconcilerOrigin = "reconciler"

// db is what Reconciler needs from its backing connection: plain query
// execution plus the ability to open a transaction, so it can build a
// booking.Service the same way the Booking Core's own handler does.
type db interface {
	dbx.DBTX
	dbx.Beginner
}

const (
	lockTTL  = 10 * time.Second
	lockWait = 5 * time.Second
)

// DriftKind classifies one discrepancy found between the two sides
// (spec §4.10 step 3).
type DriftKind string

const (
	DriftMissingLocally  DriftKind = "missing_locally"
	DriftMissingRemotely DriftKind = "missing_remotely"
	DriftStatusMismatch  DriftKind = "status_mismatch"
	DriftAvailability    DriftKind = "availability_drift"
)

// Drift is one discrepancy record, kept regardless of whether a
// correction for it was actually applied (so the report always shows
// the full picture even past the threshold).
type Drift struct {
	Kind       DriftKind
	ExternalID string
	Detail     string
}

// Report summarizes one property/channel reconciliation pass.
type Report struct {
	PropertyID string
	Channel    string
	Drifts     []Drift
	Applied    int
	Throttled  bool
}

type correction struct {
	drift Drift
	apply func(ctx context.Context) error
}

// Reconciler runs reconciliation passes for one tenant schema's
// connection.
type Reconciler struct {
	invStore    *inventory.Store
	connStore   *channel.Store
	outboxStore *outbox.Store
	registry    *channel.Registry
	svc         *booking.Service
	locks       *lock.Manager
	idem        *idempotency.Service
	alerts      *alerting.Notifier
	throttle    *alerting.Throttle
	logger      *slog.Logger
	cfg         Config
}

// New builds a Reconciler bound to a single tenant schema's connection.
func New(conn db, registry *channel.Registry, cipher *channel.CredentialCipher, locks *lock.Manager,
	payments booking.PaymentProcessor, idemStore *idempotency.Store, alerts *alerting.Notifier,
	throttle *alerting.Throttle, logger *slog.Logger, cfg Config) *Reconciler {
	return &Reconciler{
		invStore:    inventory.NewStore(conn),
		connStore:   channel.NewStore(conn, cipher),
		outboxStore: outbox.NewStore(conn),
		registry:    registry,
		svc:         booking.NewService(conn, locks, payments, logger),
		locks:       locks,
		idem:        idempotency.NewService(idemStore),
		alerts:      alerts,
		throttle:    throttle,
		logger:      logger,
		cfg:         cfg,
	}
}

// Run reconciles every sync-enabled connection under runID, a caller-
// chosen namespace (typically today's date) that every corrective
// action's idempotency key is scoped under, so a crash mid-run resumes
// without double-applying anything already committed (spec §4.10
// "idempotent and resumable").
func (r *Reconciler) Run(ctx context.Context, runID string) error {
	conns, err := r.connStore.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: listing connections: %w", err)
	}
	for _, conn := range conns {
		if _, err := r.ReconcileConnection(ctx, runID, conn); err != nil {
			r.logger.Error("reconciler: reconciliation failed", "property_id", conn.PropertyID, "channel", conn.Channel, "error", err)
		}
	}
	return nil
}

// ReconcileConnection runs one property/channel pass: fetch both sides,
// diff by external_id, resolve via the Conflict Resolution Policy, and
// apply up to the configured daily threshold (spec §4.10 steps 1-5).
func (r *Reconciler) ReconcileConnection(ctx context.Context, runID string, conn channel.Connection) (Report, error) {
	adapter, err := r.registry.Get(conn.Channel)
	if err != nil {
		return Report{}, coreerr.Wrap(coreerr.CodeUnknownChannel, "no adapter registered", err)
	}

	window := inventory.Interval{
		From: time.Now().Add(-r.cfg.Lookback),
		To:   time.Now().Add(r.cfg.Lookahead),
	}

	corrections, err := r.diffBookings(ctx, adapter, conn, window)
	if err != nil {
		return Report{}, err
	}

	availCorrections, err := r.diffAvailability(ctx, adapter, conn, window)
	if err != nil {
		r.logger.Error("reconciler: availability diff failed", "property_id", conn.PropertyID, "channel", conn.Channel, "error", err)
	} else {
		corrections = append(corrections, availCorrections...)
	}

	report := Report{PropertyID: conn.PropertyID.String(), Channel: conn.Channel}
	for _, c := range corrections {
		report.Drifts = append(report.Drifts, c.drift)

		if report.Applied >= r.cfg.DriftThreshold {
			report.Throttled = true
			continue
		}

		key := fmt.Sprintf("reconcile:%s:%s:%s:%s:%s", runID, conn.PropertyID, conn.Channel, c.drift.Kind, c.drift.ExternalID)
		if _, _, execErr := r.idem.Execute(ctx, key, r.cfg.IdempotencyTTL, func(ctx context.Context) (json.RawMessage, error) {
			return json.Marshal(map[string]any{"applied": true}), c.apply(ctx)
		}); execErr != nil {
			r.logger.Error("reconciler: applying correction", "kind", c.drift.Kind, "external_id", c.drift.ExternalID, "error", execErr)
			continue
		}
		report.Applied++
	}

	if report.Throttled {
		r.raiseThresholdAlert(ctx, conn, len(corrections))
	}

	return report, nil
}

// diffBookings builds a mapping by external_id for both sides and emits
// a correction for every MISSING_LOCALLY, MISSING_REMOTELY, and
// STATUS_MISMATCH case (spec §4.10 steps 2-4, §4.11 status precedence).
func (r *Reconciler) diffBookings(ctx context.Context, adapter channel.Adapter, conn channel.Connection, window inventory.Interval) ([]correction, error) {
	remoteBookings, err := adapter.ListBookings(ctx, conn, window)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeAdapterTransient, "listing remote bookings", err)
	}
	localBookings, err := r.invStore.ListOccupied(ctx, conn.PropertyID, window)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeStoreUnavailable, "listing local bookings", err)
	}

	localByExternal := make(map[string]inventory.Booking, len(localBookings))
	for _, b := range localBookings {
		if b.Source == conn.Channel && b.ExternalID != nil && *b.ExternalID != "" {
			localByExternal[*b.ExternalID] = b
		}
	}
	remoteByExternal := make(map[string]channel.ExternalBookingSnapshot, len(remoteBookings))
	for _, b := range remoteBookings {
		remoteByExternal[b.ExternalID] = b
	}

	var corrections []correction

	for externalID, remote := range remoteByExternal {
		remote := remote
		local, ok := localByExternal[externalID]
		if !ok {
			corrections = append(corrections, correction{
				drift: Drift{Kind: DriftMissingLocally, ExternalID: externalID},
				apply: func(ctx context.Context) error {
					return r.adoptRemoteBooking(ctx, conn, remote)
				},
			})
			continue
		}
		if local.Status == remote.Status {
			continue
		}

		detail := fmt.Sprintf("local=%s remote=%s", local.Status, remote.Status)
		winner := policy.ResolveBookingStatus(local.Source,
			policy.BookingSide{Source: local.Source, Status: local.Status, UpdatedAt: local.UpdatedAt},
			policy.BookingSide{Source: conn.Channel, Status: remote.Status, UpdatedAt: time.Now()})

		local := local
		if winner == policy.WinnerIncoming {
			corrections = append(corrections, correction{
				drift: Drift{Kind: DriftStatusMismatch, ExternalID: externalID, Detail: detail},
				apply: func(ctx context.Context) error {
					return r.adoptRemoteBooking(ctx, conn, remote)
				},
			})
		} else {
			corrections = append(corrections, correction{
				drift: Drift{Kind: DriftStatusMismatch, ExternalID: externalID, Detail: detail},
				apply: func(ctx context.Context) error {
					return r.syncLocalToChannel(ctx, local)
				},
			})
		}
	}

	for externalID, local := range localByExternal {
		if _, ok := remoteByExternal[externalID]; ok {
			continue
		}
		local := local
		corrections = append(corrections, correction{
			drift: Drift{Kind: DriftMissingRemotely, ExternalID: externalID},
			apply: func(ctx context.Context) error {
				return r.syncLocalToChannel(ctx, local)
			},
		})
	}

	return corrections, nil
}

// diffAvailability treats the channel's reported blocked intervals that
// aren't reflected locally as drift: the most restrictive interpretation
// wins (spec §4.10 step 4, §4.11 "blocked wins"), so the Core adopts the
// block rather than the other way around. The reverse direction — a
// local block the channel doesn't know about yet — is pushed by the
// availability.updated delivery the Booking Core emits when the block is
// written, so it is not treated as drift here.
func (r *Reconciler) diffAvailability(ctx context.Context, adapter channel.Adapter, conn channel.Connection, window inventory.Interval) ([]correction, error) {
	remoteBlocked, err := adapter.ListAvailability(ctx, conn, window)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeAdapterTransient, "listing remote availability", err)
	}
	localOccupied, err := r.invStore.ListOccupied(ctx, conn.PropertyID, window)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeStoreUnavailable, "listing local occupied bookings", err)
	}
	localBlocks, err := r.invStore.ListBlocksInWindow(ctx, conn.PropertyID, window)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeStoreUnavailable, "listing local availability blocks", err)
	}

	var corrections []correction
	for _, iv := range remoteBlocked {
		if coveredLocally(iv, localOccupied, localBlocks) {
			continue
		}
		iv := iv
		corrections = append(corrections, correction{
			drift: Drift{
				Kind:   DriftAvailability,
				Detail: fmt.Sprintf("%s blocks %s..%s, not reflected locally", conn.Channel, iv.From.Format("2006-01-02"), iv.To.Format("2006-01-02")),
			},
			apply: func(ctx context.Context) error {
				_, err := r.invStore.InsertBlock(ctx, inventory.AvailabilityBlock{
					PropertyID: conn.PropertyID,
					StartDate:  iv.From,
					EndDate:    iv.To,
					Kind:       inventory.BlockKindChannelHold,
				})
				return err
			},
		})
	}
	return corrections, nil
}

func coveredLocally(iv inventory.Interval, occupied []inventory.Booking, blocks []inventory.AvailabilityBlock) bool {
	for _, b := range occupied {
		if overlaps(iv.From, iv.To, b.CheckIn, b.CheckOut) {
			return true
		}
	}
	for _, b := range blocks {
		if overlaps(iv.From, iv.To, b.StartDate, b.EndDate) {
			return true
		}
	}
	return false
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// adoptRemoteBooking writes the channel's reported state into the Core,
// the same path a webhook notification of the same booking would take
// (spec §4.9 step 4, §4.11).
func (r *Reconciler) adoptRemoteBooking(ctx context.Context, conn channel.Connection, remote channel.ExternalBookingSnapshot) error {
	return r.locks.WithLock(ctx, lock.PropertyKey(conn.PropertyID), lockTTL, lockWait, func(ctx context.Context, _ string) error {
		if remote.Status == inventory.StatusCancelled {
			_, _, err := r.svc.ApplyInboundCancellation(ctx, conn.Channel, remote.ExternalID)
			return err
		}
		_, err := r.svc.ApplyInboundUpsert(ctx, booking.InboundUpsertRequest{
			PropertyID: conn.PropertyID,
			Source:     conn.Channel,
			ExternalID: remote.ExternalID,
			CheckIn:    remote.CheckIn,
			CheckOut:   remote.CheckOut,
			Guests:     remote.Guests,
			Status:     remote.Status,
			TotalMinor: remote.TotalMinor,
			Currency:   remote.Currency,
		})
		return err
	})
}

// syncLocalToChannel re-emits a booking.updated event so the dispatcher
// re-pushes the Core's current state to every connected channel,
// including the one whose report just lost the conflict (spec §4.11
// "incoming channel status is re-pushed back to the origin channel").
func (r *Reconciler) syncLocalToChannel(ctx context.Context, b inventory.Booking) error {
	payload, err := json.Marshal(map[string]any{
		"booking_id": b.ID, "property_id": b.PropertyID, "reason": "reconciliation",
	})
	if err != nil {
		return err
	}
	event, err := r.outboxStore.Append(ctx, b.PropertyID, b.ID, outbox.KindBookingUpdated, reconcilerOrigin, payload)
	if err != nil {
		return err
	}
	_, err = r.outboxStore.FanOut(ctx, event)
	return err
}

func (r *Reconciler) raiseThresholdAlert(ctx context.Context, conn channel.Connection, driftCount int) {
	key := conn.PropertyID.String() + ":" + conn.Channel + ":reconcile-threshold"
	if !r.throttle.Allow(key, time.Now()) {
		return
	}
	_ = r.alerts.Post(ctx, alerting.Alert{
		PropertyID: conn.PropertyID,
		Channel:    conn.Channel,
		Kind:       "reconciliation_drift_threshold",
		Title:      "Reconciliation drift exceeded the daily threshold",
		Detail: fmt.Sprintf("%d drift(s) found; corrections beyond the first %d were held back pending acknowledgment",
			driftCount, r.cfg.DriftThreshold),
	})
}
