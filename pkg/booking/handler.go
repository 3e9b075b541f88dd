package booking

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harborstay/channelcore/internal/audit"
	"github.com/harborstay/channelcore/internal/httpserver"
	"github.com/harborstay/channelcore/pkg/coreerr"
	"github.com/harborstay/channelcore/pkg/inventory"
	"github.com/harborstay/channelcore/pkg/lock"
	"github.com/harborstay/channelcore/pkg/payment"
	"github.com/harborstay/channelcore/pkg/tenant"
)

// Handler provides the HTTP surface of the Booking Core (spec §6). The
// webhook ingress and the reconciler build their own Service on a tenant
// connection and call it directly.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
	locks  *lock.Manager
	stripe *payment.StripeProcessor
}

// NewHandler creates a booking Handler.
func NewHandler(logger *slog.Logger, auditor *audit.Writer, locks *lock.Manager, stripe *payment.StripeProcessor) *Handler {
	return &Handler{logger: logger, audit: auditor, locks: locks, stripe: stripe}
}

// Routes returns a chi.Router with all booking routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/checkout", h.handleStartCheckout)
	r.Route("/{id}", func(r chi.Router) {
		r.Put("/guests", h.handleUpdateGuestDetails)
		r.Post("/confirm", h.handleConfirmPayment)
		r.Post("/cancel", h.handleCancelBooking)
	})
	r.Get("/calendar", h.handleListPropertyCalendar)
	r.Post("/blocks", h.handleUpsertBlock)
	r.Delete("/blocks/{blockID}", h.handleRemoveBlock)
	return r
}

func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	return NewService(conn, h.locks, h.stripe, h.logger)
}

type startCheckoutRequest struct {
	PropertyID uuid.UUID `json:"property_id" validate:"required"`
	CheckIn    time.Time `json:"check_in" validate:"required"`
	CheckOut   time.Time `json:"check_out" validate:"required,gtfield=CheckIn"`
	Guests     int       `json:"guests" validate:"required,gte=1"`
}

func (h *Handler) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	var req startCheckoutRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.service(r).StartCheckout(r.Context(), StartCheckoutRequest{
		PropertyID: req.PropertyID,
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
		Guests:     req.Guests,
	})
	if err != nil {
		h.respondErr(w, r, "starting checkout", err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]any{"property_id": session.PropertyID, "total_minor": session.TotalMinor})
		h.audit.LogFromRequest(r, "create", "booking", session.BookingID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, session)
}

type updateGuestDetailsRequest struct {
	Guests int `json:"guests" validate:"required,gte=1"`
}

func (h *Handler) handleUpdateGuestDetails(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid booking ID")
		return
	}

	var req updateGuestDetailsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.service(r).UpdateGuestDetails(r.Context(), id, req.Guests)
	if err != nil {
		h.respondErr(w, r, "updating guest details", err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "update", "booking", id, nil)
	}

	httpserver.Respond(w, http.StatusOK, session)
}

type confirmPaymentRequest struct {
	PaymentProof string `json:"payment_proof" validate:"required"`
}

func (h *Handler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid booking ID")
		return
	}

	var req confirmPaymentRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.service(r).ConfirmPayment(r.Context(), id, req.PaymentProof)
	if err != nil {
		h.respondErr(w, r, "confirming payment", err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "confirm", "booking", id, nil)
	}

	httpserver.Respond(w, http.StatusOK, session)
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid booking ID")
		return
	}

	var req cancelBookingRequest
	_ = httpserver.Decode(r, &req) // reason is optional; ignore a missing/empty body

	session, err := h.service(r).CancelBooking(r.Context(), id, req.Reason)
	if err != nil {
		h.respondErr(w, r, "cancelling booking", err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "cancel", "booking", id, nil)
	}

	httpserver.Respond(w, http.StatusOK, session)
}

func (h *Handler) handleListPropertyCalendar(w http.ResponseWriter, r *http.Request) {
	propertyID, err := uuid.Parse(r.URL.Query().Get("property_id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid or missing property_id")
		return
	}

	window, err := parseWindow(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	entries, err := h.service(r).ListPropertyCalendar(r.Context(), propertyID, window)
	if err != nil {
		h.respondErr(w, r, "listing property calendar", err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

type upsertBlockRequest struct {
	PropertyID uuid.UUID           `json:"property_id" validate:"required"`
	StartDate  time.Time           `json:"start_date" validate:"required"`
	EndDate    time.Time           `json:"end_date" validate:"required,gtfield=StartDate"`
	Kind       inventory.BlockKind `json:"kind" validate:"required"`
}

func (h *Handler) handleUpsertBlock(w http.ResponseWriter, r *http.Request) {
	var req upsertBlockRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	block, err := h.service(r).UpsertAvailabilityBlock(r.Context(), inventory.AvailabilityBlock{
		PropertyID: req.PropertyID,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Kind:       req.Kind,
		Source:     "direct",
	})
	if err != nil {
		h.respondErr(w, r, "creating availability block", err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "create", "availability_block", block.ID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, block)
}

func (h *Handler) handleRemoveBlock(w http.ResponseWriter, r *http.Request) {
	blockID, err := uuid.Parse(chi.URLParam(r, "blockID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid block ID")
		return
	}
	propertyID, err := uuid.Parse(r.URL.Query().Get("property_id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid or missing property_id")
		return
	}

	if err := h.service(r).RemoveAvailabilityBlock(r.Context(), propertyID, blockID); err != nil {
		h.respondErr(w, r, "removing availability block", err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "availability_block", blockID, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func parseWindow(r *http.Request) (inventory.Interval, error) {
	const layout = "2006-01-02"
	from, err := time.Parse(layout, r.URL.Query().Get("from"))
	if err != nil {
		return inventory.Interval{}, err
	}
	to, err := time.Parse(layout, r.URL.Query().Get("to"))
	if err != nil {
		return inventory.Interval{}, err
	}
	return inventory.Interval{From: from, To: to}, nil
}

// respondErr translates a coreerr-classified error into the matching HTTP
// status (spec §7 "Error propagation policy").
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, action string, err error) {
	code := coreerr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case coreerr.CodeInvalidInput:
		status = http.StatusBadRequest
	case coreerr.CodeNotFound:
		status = http.StatusNotFound
	case coreerr.CodeConcurrentBooking, coreerr.CodeDatesUnavailable:
		status = http.StatusConflict
	case coreerr.CodeInvalidState, coreerr.CodePaymentNotVerified:
		status = http.StatusUnprocessableEntity
	case coreerr.CodeRateLimited:
		status = http.StatusTooManyRequests
	case coreerr.CodeAdapterTransient, coreerr.CodeStoreUnavailable, coreerr.CodeLockStoreUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError || coreerr.IsInfrastructure(err) {
		h.logger.Error(action, "error", err, "code", code)
	}

	httpserver.RespondClassifiedError(w, status, string(code), httpserver.RequestIDFromContext(r.Context()), err.Error())
}
