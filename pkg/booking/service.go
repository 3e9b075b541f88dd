package booking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/harborstay/channelcore/internal/dbx"
	"github.com/harborstay/channelcore/pkg/coreerr"
	"github.com/harborstay/channelcore/pkg/inventory"
	"github.com/harborstay/channelcore/pkg/lock"
	"github.com/harborstay/channelcore/pkg/outbox"
	"github.com/harborstay/channelcore/pkg/pricing"
	"github.com/harborstay/channelcore/pkg/property"
)

// db is what Service needs from its backing connection: plain query
// execution plus the ability to open a transaction, satisfied by
// *pgxpool.Pool, *pgxpool.Conn, or an already-open pgx.Tx.
type db interface {
	dbx.DBTX
	dbx.Beginner
}

const (
	defaultCheckoutTTL      = 600 * time.Second
	defaultCheckoutLockWait = 5 * time.Second
)

// Service is the Booking Core (spec §4.6): the only surface outside the
// core allowed to mutate booking/availability state (spec §6).
type Service struct {
	db               db
	locks            *lock.Manager
	payments         PaymentProcessor
	logger           *slog.Logger
	checkoutTTL      time.Duration
	checkoutLockWait time.Duration
}

// NewService creates a Booking Core Service.
func NewService(db db, locks *lock.Manager, payments PaymentProcessor, logger *slog.Logger) *Service {
	return &Service{
		db:               db,
		locks:            locks,
		payments:         payments,
		logger:           logger,
		checkoutTTL:      defaultCheckoutTTL,
		checkoutLockWait: defaultCheckoutLockWait,
	}
}

// StartCheckout opens a direct checkout: locks the property's calendar,
// prices the stay, reserves it, and opens a payment intent (spec §4.6.3
// step 1). The lock is held past this call's return — ConfirmPayment,
// CancelBooking, or the checkout timeout sweeper release it.
func (s *Service) StartCheckout(ctx context.Context, req StartCheckoutRequest) (CheckoutSession, error) {
	if !req.CheckIn.Before(req.CheckOut) {
		return CheckoutSession{}, coreerr.New(coreerr.CodeInvalidInput, "check_in must precede check_out")
	}
	if req.Guests <= 0 {
		return CheckoutSession{}, coreerr.New(coreerr.CodeInvalidInput, "guests must be positive")
	}

	key := lock.PropertyKey(req.PropertyID)
	token, deadline, err := s.locks.Acquire(ctx, key, s.checkoutTTL, s.checkoutLockWait)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return CheckoutSession{}, coreerr.Wrap(coreerr.CodeConcurrentBooking, "property calendar is locked", err)
		}
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeLockStoreUnavailable, "acquiring checkout lock", err)
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = s.locks.Release(releaseCtx, key, token)
	}

	invStore := inventory.NewStore(s.db)

	// Pre-flight read: fail fast, but the exclusion constraint inside the
	// insert below is the actual arbiter (spec §4.6.1).
	occupied, err := invStore.ListOccupied(ctx, req.PropertyID, inventory.Interval{From: req.CheckIn, To: req.CheckOut})
	if err != nil {
		release()
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeStoreUnavailable, "checking availability", err)
	}
	if len(occupied) > 0 {
		release()
		return CheckoutSession{}, coreerr.New(coreerr.CodeDatesUnavailable, "selected dates are unavailable")
	}

	propSvc := property.NewService(s.db)
	snap, err := propSvc.PricingSnapshot(ctx, req.PropertyID)
	if err != nil {
		release()
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeInvalidInput, "loading property", err)
	}
	if req.Guests > snap.Property.MaxGuests {
		release()
		return CheckoutSession{}, coreerr.New(coreerr.CodeInvalidInput, "guests exceed property capacity")
	}

	priced, err := pricing.Compute(pricing.Input{
		BasePriceMinor:   snap.Property.BasePriceMinor,
		Currency:         snap.Property.Currency,
		CheckIn:          req.CheckIn,
		CheckOut:         req.CheckOut,
		PropertyLocation: snap.Location,
		Guests:           req.Guests,
		Rules:            snap.Rules,
		CleaningFeeMinor: snap.Property.CleaningFeeMinor,
		ServiceFeeBps:    snap.Property.ServiceFeeBps,
		TaxBps:           snap.Property.TaxBps,
	})
	if err != nil {
		release()
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeInvalidInput, "computing price", err)
	}

	var inserted inventory.Booking
	err = dbx.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		b, txErr := inventory.NewStore(tx).InsertBooking(ctx, inventory.Booking{
			PropertyID: req.PropertyID,
			Source:     outbox.OriginDirect,
			CheckIn:    req.CheckIn,
			CheckOut:   req.CheckOut,
			Guests:     req.Guests,
			Status:     inventory.StatusReserved,
			TotalMinor: priced.TotalMinor,
			Currency:   priced.Currency,
			LockKey:    &token,
		})
		if txErr != nil {
			return txErr
		}
		inserted = b
		return nil
	})
	if err != nil {
		release()
		var conflict *inventory.ErrInventoryConflict
		if errors.As(err, &conflict) {
			return CheckoutSession{}, coreerr.New(coreerr.CodeDatesUnavailable, "selected dates are unavailable")
		}
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeStoreUnavailable, "inserting booking", err)
	}

	// The transaction has committed; only now may we call an external
	// platform (spec §5 locking discipline).
	intentID, err := s.payments.CreateIntent(ctx, inserted.TotalMinor, inserted.Currency)
	if err != nil {
		_, _ = invStore.UpdateBookingStatus(ctx, inserted.ID,
			[]inventory.Status{inventory.StatusReserved}, inventory.StatusCancelled, inserted.Version)
		release()
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeAdapterTransient, "opening payment intent", err)
	}

	if err := invStore.SetPaymentIntent(ctx, inserted.ID, intentID); err != nil {
		release()
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeStoreUnavailable, "persisting payment intent", err)
	}
	inserted.PaymentIntentID = &intentID

	return toSession(inserted, deadline), nil
}

// UpdateGuestDetails updates the guest count on a reservation still awaiting
// payment (spec §4.6.3 step 2): idempotent, and only while `reserved`.
func (s *Service) UpdateGuestDetails(ctx context.Context, bookingID uuid.UUID, guests int) (CheckoutSession, error) {
	if guests <= 0 {
		return CheckoutSession{}, coreerr.New(coreerr.CodeInvalidInput, "guests must be positive")
	}

	b, err := inventory.NewStore(s.db).UpdateGuestCount(ctx, bookingID, guests)
	if err != nil {
		if errors.Is(err, inventory.ErrVersionMismatch) {
			return CheckoutSession{}, coreerr.New(coreerr.CodeInvalidState, "booking is not awaiting payment")
		}
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeStoreUnavailable, "updating guest details", err)
	}
	return s.sessionFor(b), nil
}

// ConfirmPayment transitions a reservation to confirmed (spec §4.6.3 step
// 3). It is idempotent: a payment webhook and a client-initiated confirm
// racing each other both succeed, the loser observing the winner's result.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID uuid.UUID, paymentProof string) (CheckoutSession, error) {
	invStore := inventory.NewStore(s.db)

	b, err := invStore.GetBooking(ctx, bookingID)
	if err != nil {
		return CheckoutSession{}, mapNotFound(err, "loading booking")
	}

	if b.Status == inventory.StatusConfirmed {
		return s.sessionFor(b), nil
	}
	if b.Status != inventory.StatusReserved {
		return CheckoutSession{}, coreerr.New(coreerr.CodeInvalidState, "booking is not awaiting payment")
	}
	if b.PaymentIntentID == nil {
		return CheckoutSession{}, coreerr.New(coreerr.CodeInvalidState, "booking has no payment intent")
	}

	verified, err := s.payments.VerifyProof(ctx, *b.PaymentIntentID, paymentProof)
	if err != nil {
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeAdapterTransient, "verifying payment", err)
	}
	if !verified {
		return CheckoutSession{}, coreerr.New(coreerr.CodePaymentNotVerified, "payment could not be verified")
	}

	var confirmed inventory.Booking
	txErr := dbx.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		updated, err := inventory.NewStore(tx).UpdateBookingStatus(ctx, b.ID,
			[]inventory.Status{inventory.StatusReserved}, inventory.StatusConfirmed, b.Version)
		if err != nil {
			return err
		}
		confirmed = updated

		payload, _ := json.Marshal(map[string]any{
			"booking_id": updated.ID, "property_id": updated.PropertyID,
			"check_in": updated.CheckIn, "check_out": updated.CheckOut,
			"guests": updated.Guests, "total_minor": updated.TotalMinor, "currency": updated.Currency,
		})
		evStore := outbox.NewStore(tx)
		event, err := evStore.Append(ctx, updated.PropertyID, updated.ID, outbox.KindBookingCreated, outbox.OriginDirect, payload)
		if err != nil {
			return err
		}
		_, err = evStore.FanOut(ctx, event)
		return err
	})
	if txErr != nil {
		if errors.Is(txErr, inventory.ErrVersionMismatch) {
			// Lost the race to a concurrent confirm. If it landed the
			// same outcome, this call still succeeds (spec §4.6.3
			// idempotency resolution).
			current, gerr := invStore.GetBooking(ctx, bookingID)
			if gerr != nil {
				return CheckoutSession{}, coreerr.Wrap(coreerr.CodeStoreUnavailable, "reloading booking", gerr)
			}
			if current.Status == inventory.StatusConfirmed {
				return s.sessionFor(current), nil
			}
			return CheckoutSession{}, coreerr.New(coreerr.CodeInvalidState, "booking state changed concurrently")
		}
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeStoreUnavailable, "confirming booking", txErr)
	}

	if confirmed.LockKey != nil {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		_ = s.locks.Release(releaseCtx, lock.PropertyKey(confirmed.PropertyID), *confirmed.LockKey)
		cancel()
	}

	return s.sessionFor(confirmed), nil
}

// CancelBooking transitions any non-terminal booking to cancelled,
// cancelling its payment intent and releasing its lock if held.
func (s *Service) CancelBooking(ctx context.Context, bookingID uuid.UUID, reason string) (CheckoutSession, error) {
	invStore := inventory.NewStore(s.db)

	b, err := invStore.GetBooking(ctx, bookingID)
	if err != nil {
		return CheckoutSession{}, mapNotFound(err, "loading booking")
	}

	if b.Status == inventory.StatusCancelled {
		return s.sessionFor(b), nil
	}
	if !isNonTerminal(b.Status) {
		return CheckoutSession{}, coreerr.New(coreerr.CodeInvalidState, "booking is already in a terminal state")
	}

	var cancelled inventory.Booking
	txErr := dbx.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		updated, err := inventory.NewStore(tx).UpdateBookingStatus(ctx, b.ID, nonTerminalStatuses, inventory.StatusCancelled, b.Version)
		if err != nil {
			return err
		}
		cancelled = updated

		payload, _ := json.Marshal(map[string]any{"booking_id": updated.ID, "reason": reason})
		evStore := outbox.NewStore(tx)
		event, err := evStore.Append(ctx, updated.PropertyID, updated.ID, outbox.KindBookingCancelled, outbox.OriginDirect, payload)
		if err != nil {
			return err
		}
		_, err = evStore.FanOut(ctx, event)
		return err
	})
	if txErr != nil {
		if errors.Is(txErr, inventory.ErrVersionMismatch) {
			return CheckoutSession{}, coreerr.New(coreerr.CodeConcurrentBooking, "booking changed concurrently, retry")
		}
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeStoreUnavailable, "cancelling booking", txErr)
	}

	if cancelled.PaymentIntentID != nil {
		_ = s.payments.CancelIntent(ctx, *cancelled.PaymentIntentID)
	}
	if cancelled.LockKey != nil {
		releaseCtx, cancelFn := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		_ = s.locks.Release(releaseCtx, lock.PropertyKey(cancelled.PropertyID), *cancelled.LockKey)
		cancelFn()
	}

	return s.sessionFor(cancelled), nil
}

// ApplyInboundUpsert creates or updates a channel-originated booking (spec
// §4.9 step 4, §4.11): the caller — the webhook ingress, after running the
// Conflict Resolution Policy — has already decided this write should be
// applied locally, so this method does no further conflict arbitration
// beyond the exclusion constraint itself. Matched by (source, external_id);
// a first sighting inserts, a repeat upserts in place.
func (s *Service) ApplyInboundUpsert(ctx context.Context, req InboundUpsertRequest) (CheckoutSession, error) {
	invStore := inventory.NewStore(s.db)

	existing, err := invStore.GetBookingByExternalID(ctx, req.Source, req.ExternalID)
	if err != nil && !errors.Is(err, inventory.ErrNotFound) {
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeStoreUnavailable, "loading inbound booking", err)
	}

	var applied inventory.Booking
	txErr := dbx.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		txStore := inventory.NewStore(tx)
		kind := outbox.KindBookingCreated

		if errors.Is(err, inventory.ErrNotFound) {
			externalID := req.ExternalID
			b, insErr := txStore.InsertBooking(ctx, inventory.Booking{
				PropertyID: req.PropertyID,
				Source:     req.Source,
				ExternalID: &externalID,
				CheckIn:    req.CheckIn,
				CheckOut:   req.CheckOut,
				Guests:     req.Guests,
				Status:     req.Status,
				TotalMinor: req.TotalMinor,
				Currency:   req.Currency,
			})
			if insErr != nil {
				return insErr
			}
			applied = b
		} else {
			kind = outbox.KindBookingUpdated
			b, updErr := txStore.UpdateInboundBooking(ctx, existing.ID, req.PropertyID,
				req.CheckIn, req.CheckOut, req.Guests, req.Status, req.TotalMinor, req.Currency, existing.Version)
			if updErr != nil {
				return updErr
			}
			applied = b
		}

		payload, _ := json.Marshal(map[string]any{
			"booking_id": applied.ID, "property_id": applied.PropertyID, "source": applied.Source,
			"check_in": applied.CheckIn, "check_out": applied.CheckOut,
			"guests": applied.Guests, "status": applied.Status,
			"total_minor": applied.TotalMinor, "currency": applied.Currency,
		})
		evStore := outbox.NewStore(tx)
		event, evErr := evStore.Append(ctx, applied.PropertyID, applied.ID, kind, req.Source, payload)
		if evErr != nil {
			return evErr
		}
		_, evErr = evStore.FanOut(ctx, event)
		return evErr
	})
	if txErr != nil {
		var conflict *inventory.ErrInventoryConflict
		if errors.As(txErr, &conflict) {
			return CheckoutSession{}, coreerr.New(coreerr.CodeDatesUnavailable, "inbound booking overlaps an active local booking")
		}
		if errors.Is(txErr, inventory.ErrVersionMismatch) {
			return CheckoutSession{}, coreerr.New(coreerr.CodeConcurrentBooking, "inbound booking changed concurrently, retry")
		}
		return CheckoutSession{}, coreerr.Wrap(coreerr.CodeStoreUnavailable, "applying inbound booking", txErr)
	}

	return s.sessionFor(applied), nil
}

// ApplyInboundCancellation cancels the local counterpart of a channel's own
// cancellation notice (spec §4.9 step 4). A booking the ingress has never
// seen before is a no-op, not an error: there is nothing locally to cancel.
func (s *Service) ApplyInboundCancellation(ctx context.Context, source, externalID string) (CheckoutSession, bool, error) {
	invStore := inventory.NewStore(s.db)

	existing, err := invStore.GetBookingByExternalID(ctx, source, externalID)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return CheckoutSession{}, false, nil
		}
		return CheckoutSession{}, false, coreerr.Wrap(coreerr.CodeStoreUnavailable, "loading inbound booking", err)
	}
	if existing.Status == inventory.StatusCancelled {
		return s.sessionFor(existing), true, nil
	}

	var cancelled inventory.Booking
	txErr := dbx.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		updated, err := inventory.NewStore(tx).UpdateBookingStatus(ctx, existing.ID, nonTerminalStatuses, inventory.StatusCancelled, existing.Version)
		if err != nil {
			return err
		}
		cancelled = updated

		payload, _ := json.Marshal(map[string]any{"booking_id": updated.ID, "source": source})
		evStore := outbox.NewStore(tx)
		event, err := evStore.Append(ctx, updated.PropertyID, updated.ID, outbox.KindBookingCancelled, source, payload)
		if err != nil {
			return err
		}
		_, err = evStore.FanOut(ctx, event)
		return err
	})
	if txErr != nil {
		if errors.Is(txErr, inventory.ErrVersionMismatch) {
			return CheckoutSession{}, false, coreerr.New(coreerr.CodeConcurrentBooking, "booking changed concurrently, retry")
		}
		return CheckoutSession{}, false, coreerr.Wrap(coreerr.CodeStoreUnavailable, "cancelling inbound booking", txErr)
	}

	if cancelled.PaymentIntentID != nil {
		_ = s.payments.CancelIntent(ctx, *cancelled.PaymentIntentID)
	}
	if cancelled.LockKey != nil {
		releaseCtx, cancelFn := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		_ = s.locks.Release(releaseCtx, lock.PropertyKey(cancelled.PropertyID), *cancelled.LockKey)
		cancelFn()
	}

	return s.sessionFor(cancelled), true, nil
}

// ListPropertyCalendar is the one read-only Booking Core surface external
// callers may use (spec §6): occupied bookings and owner blocks merged
// into a single chronological view.
func (s *Service) ListPropertyCalendar(ctx context.Context, propertyID uuid.UUID, window inventory.Interval) ([]CalendarEntry, error) {
	invStore := inventory.NewStore(s.db)

	bookings, err := invStore.ListOccupied(ctx, propertyID, window)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeStoreUnavailable, "listing bookings", err)
	}
	blocks, err := invStore.ListBlocksInWindow(ctx, propertyID, window)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeStoreUnavailable, "listing availability blocks", err)
	}

	entries := make([]CalendarEntry, 0, len(bookings)+len(blocks))
	for _, b := range bookings {
		entries = append(entries, CalendarEntry{CheckIn: b.CheckIn, CheckOut: b.CheckOut, Status: string(b.Status), Source: b.Source})
	}
	for _, blk := range blocks {
		entries = append(entries, CalendarEntry{CheckIn: blk.StartDate, CheckOut: blk.EndDate, Status: string(blk.Kind), Source: blk.Source})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CheckIn.Before(entries[j].CheckIn) })
	return entries, nil
}

// UpsertAvailabilityBlock adds an owner block. An overlap with another
// block is rejected; an overlap with an active booking is not checked
// (see inventory.Store.InsertBlock).
func (s *Service) UpsertAvailabilityBlock(ctx context.Context, block inventory.AvailabilityBlock) (inventory.AvailabilityBlock, error) {
	var inserted inventory.AvailabilityBlock
	txErr := dbx.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		b, err := inventory.NewStore(tx).InsertBlock(ctx, block)
		if err != nil {
			return err
		}
		inserted = b

		payload, _ := json.Marshal(map[string]any{
			"block_id": b.ID, "start_date": b.StartDate, "end_date": b.EndDate, "kind": b.Kind,
		})
		evStore := outbox.NewStore(tx)
		event, err := evStore.Append(ctx, b.PropertyID, b.ID, outbox.KindAvailabilityUpdated, outbox.OriginDirect, payload)
		if err != nil {
			return err
		}
		_, err = evStore.FanOut(ctx, event)
		return err
	})
	if txErr != nil {
		var conflict *inventory.ErrInventoryConflict
		if errors.As(txErr, &conflict) {
			return inventory.AvailabilityBlock{}, coreerr.New(coreerr.CodeDatesUnavailable, "block overlaps an existing block")
		}
		return inventory.AvailabilityBlock{}, coreerr.Wrap(coreerr.CodeStoreUnavailable, "inserting availability block", txErr)
	}
	return inserted, nil
}

// RemoveAvailabilityBlock removes an owner block by id.
func (s *Service) RemoveAvailabilityBlock(ctx context.Context, propertyID, blockID uuid.UUID) error {
	txErr := dbx.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := inventory.NewStore(tx).RemoveBlock(ctx, blockID); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]any{"block_id": blockID})
		evStore := outbox.NewStore(tx)
		event, err := evStore.Append(ctx, propertyID, blockID, outbox.KindAvailabilityUpdated, outbox.OriginDirect, payload)
		if err != nil {
			return err
		}
		_, err = evStore.FanOut(ctx, event)
		return err
	})
	if txErr != nil {
		if errors.Is(txErr, inventory.ErrNotFound) {
			return coreerr.New(coreerr.CodeNotFound, "availability block not found")
		}
		return coreerr.Wrap(coreerr.CodeStoreUnavailable, "removing availability block", txErr)
	}
	return nil
}

func (s *Service) sessionFor(b inventory.Booking) CheckoutSession {
	deadline := time.Time{}
	if b.Status == inventory.StatusReserved {
		deadline = b.CreatedAt.Add(s.checkoutTTL)
	}
	return toSession(b, deadline)
}

func isNonTerminal(status inventory.Status) bool {
	for _, st := range nonTerminalStatuses {
		if st == status {
			return true
		}
	}
	return false
}

func mapNotFound(err error, action string) error {
	if errors.Is(err, inventory.ErrNotFound) {
		return coreerr.New(coreerr.CodeNotFound, "booking not found")
	}
	return coreerr.Wrap(coreerr.CodeStoreUnavailable, action, err)
}
