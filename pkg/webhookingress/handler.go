// Package webhookingress is the Inbound Webhook Ingress (spec §4.9, C10):
// the one HTTP surface an external platform calls into. It verifies the
// platform's signature, deduplicates by the platform's own message id,
// runs the Conflict Resolution Policy, and applies the result through
// the same Booking Core that pkg/booking.Handler fronts for direct
// guests.
package webhookingress

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborstay/channelcore/internal/httpserver"
	"github.com/harborstay/channelcore/pkg/alerting"
	"github.com/harborstay/channelcore/pkg/booking"
	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/coreerr"
	"github.com/harborstay/channelcore/pkg/idempotency"
	"github.com/harborstay/channelcore/pkg/inventory"
	"github.com/harborstay/channelcore/pkg/lock"
	"github.com/harborstay/channelcore/pkg/policy"
	"github.com/harborstay/channelcore/pkg/tenant"
)

const (
	maxWebhookBody = 1 << 20 // 1 MiB
	lockTTL        = 10 * time.Second
	lockWait       = 5 * time.Second
	idempotencyTTL = 7 * 24 * time.Hour
)

// Handler provides the HTTP surface every platform's webhooks call.
type Handler struct {
	registry *channel.Registry
	cipher   *channel.CredentialCipher
	locks    *lock.Manager
	payments booking.PaymentProcessor
	alerts   *alerting.Notifier
	throttle *alerting.Throttle
	logger   *slog.Logger
}

// NewHandler creates a webhook ingress Handler.
func NewHandler(registry *channel.Registry, cipher *channel.CredentialCipher, locks *lock.Manager,
	payments booking.PaymentProcessor, alerts *alerting.Notifier, throttle *alerting.Throttle, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		cipher:   cipher,
		locks:    locks,
		payments: payments,
		alerts:   alerts,
		throttle: throttle,
		logger:   logger,
	}
}

// Routes returns a chi.Router with one POST route keyed by channel tag.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{channel}", h.handleWebhook)
	return r
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	channelTag := chi.URLParam(r, "channel")

	adapter, err := h.registry.Get(channelTag)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "unknown_channel", "unrecognized channel")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "reading request body")
		return
	}

	parsed, err := adapter.ParseWebhook(r.Header, body)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}

	conn := tenant.ConnFromContext(r.Context())
	connStore := channel.NewStore(conn, h.cipher)

	connection, err := connStore.GetByExternalPropertyID(r.Context(), channelTag, parsed.ExternalPropertyID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "no connection for this property")
		return
	}

	if err := adapter.VerifySignature(connection, r.Header, body); err != nil {
		h.logger.Warn("webhook signature rejected", "channel", channelTag, "error", err)
		httpserver.RespondError(w, http.StatusForbidden, "invalid_signature", "webhook signature could not be verified")
		return
	}

	idem := idempotency.NewService(idempotency.NewStore(conn))
	idemKey := channelTag + ":" + parsed.ExternalMessageID

	result, replayed, err := idem.Execute(r.Context(), idemKey, idempotencyTTL, func(ctx context.Context) (json.RawMessage, error) {
		return h.apply(ctx, conn, adapter, connection, channelTag, parsed)
	})
	if err != nil {
		h.respondErr(w, r, channelTag, err)
		return
	}

	if replayed {
		h.logger.Info("webhook replay, returning prior result", "channel", channelTag, "key", idemKey)
	}
	httpserver.Respond(w, http.StatusOK, json.RawMessage(result))
}

// apply holds the property lock and runs the Conflict Resolution Policy
// before writing through the Booking Core (spec §4.9 steps 2-4).
func (h *Handler) apply(ctx context.Context, conn *pgxpool.Conn, adapter channel.Adapter, connection channel.Connection, channelTag string, parsed channel.ParsedInboundEvent) (json.RawMessage, error) {
	svc := booking.NewService(conn, h.locks, h.payments, h.logger)
	invStore := inventory.NewStore(conn)

	var result booking.CheckoutSession
	lockKey := lock.PropertyKey(connection.PropertyID)

	lockErr := h.locks.WithLock(ctx, lockKey, lockTTL, lockWait, func(ctx context.Context, _ string) error {
		switch parsed.Kind {
		case channel.InboundBookingCancelled:
			session, applied, err := svc.ApplyInboundCancellation(ctx, channelTag, parsed.Booking.ExternalID)
			if err != nil {
				return err
			}
			if applied {
				result = session
			}
			return nil

		case channel.InboundBookingCreated:
			_, err := invStore.GetBookingByExternalID(ctx, channelTag, parsed.Booking.ExternalID)
			if err != nil && !errors.Is(err, inventory.ErrNotFound) {
				return coreerr.Wrap(coreerr.CodeStoreUnavailable, "loading existing booking", err)
			}
			if errors.Is(err, inventory.ErrNotFound) {
				conflicting, cerr := invStore.ListOccupied(ctx, connection.PropertyID,
					inventory.Interval{From: parsed.Booking.CheckIn, To: parsed.Booking.CheckOut})
				if cerr != nil {
					return coreerr.Wrap(coreerr.CodeStoreUnavailable, "checking local availability", cerr)
				}
				switch policy.DecideNewInboundBooking(conflicting) {
				case policy.DecisionRejectAndAlert:
					h.raiseConflictAlert(ctx, channelTag, parsed)
					h.cancelOnPlatform(ctx, adapter, connection, channelTag, parsed)
					return coreerr.New(coreerr.CodeDatesUnavailable, "conflicts with a direct booking")
				case policy.DecisionRejectSilently:
					h.cancelOnPlatform(ctx, adapter, connection, channelTag, parsed)
					return coreerr.New(coreerr.CodeDatesUnavailable, "conflicts with an existing booking")
				}
			}
			session, err := svc.ApplyInboundUpsert(ctx, inboundUpsertRequest(connection.PropertyID, channelTag, parsed, parsed.Booking.Status))
			if err != nil {
				return err
			}
			result = session
			return nil

		case channel.InboundBookingUpdated:
			existing, err := invStore.GetBookingByExternalID(ctx, channelTag, parsed.Booking.ExternalID)
			targetStatus := parsed.Booking.Status
			switch {
			case err == nil:
				winner := policy.ResolveBookingStatus(existing.Source,
					policy.BookingSide{Source: existing.Source, Status: existing.Status, UpdatedAt: existing.UpdatedAt},
					policy.BookingSide{Source: channelTag, Status: parsed.Booking.Status, UpdatedAt: time.Now()})
				if winner == policy.WinnerLocal {
					targetStatus = existing.Status
				}
			case errors.Is(err, inventory.ErrNotFound):
				// first sighting of this booking via an update notification; accept as reported.
			default:
				return coreerr.Wrap(coreerr.CodeStoreUnavailable, "loading existing booking", err)
			}
			session, err := svc.ApplyInboundUpsert(ctx, inboundUpsertRequest(connection.PropertyID, channelTag, parsed, targetStatus))
			if err != nil {
				return err
			}
			result = session
			return nil

		default:
			return coreerr.New(coreerr.CodeAdapterPermanent, "unrecognized inbound event kind")
		}
	})
	if lockErr != nil {
		if errors.Is(lockErr, lock.ErrBusy) {
			return nil, coreerr.Wrap(coreerr.CodeConcurrentBooking, "property calendar is locked", lockErr)
		}
		return nil, lockErr
	}

	return json.Marshal(result)
}

func inboundUpsertRequest(propertyID uuid.UUID, channelTag string, parsed channel.ParsedInboundEvent, status inventory.Status) booking.InboundUpsertRequest {
	return booking.InboundUpsertRequest{
		PropertyID: propertyID,
		Source:     channelTag,
		ExternalID: parsed.Booking.ExternalID,
		CheckIn:    parsed.Booking.CheckIn,
		CheckOut:   parsed.Booking.CheckOut,
		Guests:     parsed.Booking.Guests,
		Status:     status,
		TotalMinor: parsed.Booking.TotalMinor,
		Currency:   parsed.Booking.Currency,
	}
}

// cancelOnPlatform rejects a conflicting inbound reservation on the
// platform itself (spec §4.9 step 5: "Reject: call adapter's cancel path
// to reject on the platform; do not write"). Best-effort: the local write
// is already refused via the returned error, so a cancel failure here
// only gets logged, not retried.
func (h *Handler) cancelOnPlatform(ctx context.Context, adapter channel.Adapter, connection channel.Connection, channelTag string, parsed channel.ParsedInboundEvent) {
	if parsed.Booking.ExternalID == "" {
		return
	}
	if err := adapter.CancelBooking(ctx, connection, parsed.Booking.ExternalID); err != nil {
		h.logger.Error("webhook ingress: rejecting conflicting booking on platform", "channel", channelTag, "external_id", parsed.Booking.ExternalID, "error", err)
	}
}

func (h *Handler) raiseConflictAlert(ctx context.Context, channelTag string, parsed channel.ParsedInboundEvent) {
	key := channelTag + ":" + parsed.ExternalPropertyID
	if !h.throttle.Allow(key, time.Now()) {
		return
	}
	_ = h.alerts.Post(ctx, alerting.Alert{
		Channel: channelTag,
		Kind:    "direct_booking_conflict",
		Title:   "Inbound booking rejected: conflicts with a direct booking",
		Detail:  "external_message_id=" + parsed.ExternalMessageID,
	})
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, channelTag string, err error) {
	code := coreerr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case coreerr.CodeInvalidInput, coreerr.CodeAdapterPermanent:
		status = http.StatusUnprocessableEntity
	case coreerr.CodeNotFound:
		status = http.StatusNotFound
	case coreerr.CodeConcurrentBooking, coreerr.CodeDatesUnavailable:
		status = http.StatusConflict
	case coreerr.CodeInvalidState:
		status = http.StatusUnprocessableEntity
	case coreerr.CodeStoreUnavailable, coreerr.CodeLockStoreUnavailable, coreerr.CodeAdapterTransient:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError || coreerr.IsInfrastructure(err) {
		h.logger.Error("processing inbound webhook", "channel", channelTag, "error", err, "code", code)
	}

	httpserver.RespondClassifiedError(w, status, string(code), httpserver.RequestIDFromContext(r.Context()), err.Error())
}
