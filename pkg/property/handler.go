package property

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harborstay/channelcore/internal/audit"
	"github.com/harborstay/channelcore/internal/httpserver"
	"github.com/harborstay/channelcore/pkg/tenant"
)

// Handler provides HTTP handlers for the properties API.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates a property Handler.
func NewHandler(logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{logger: logger, audit: audit}
}

// Routes returns a chi.Router with all property routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDeactivate)
		r.Post("/pricing-rules", h.handleCreateRule)
		r.Get("/pricing-rules", h.handleListRules)
		r.Delete("/pricing-rules/{ruleID}", h.handleDeleteRule)
	})
	return r
}

func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	return NewService(conn)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service(r).Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating property", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create property")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"name": resp.Name})
		h.audit.LogFromRequest(r, "create", "property", resp.ID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.service(r).List(r.Context())
	if err != nil {
		h.logger.Error("listing properties", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list properties")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"properties": items, "count": len(items)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid property ID")
		return
	}

	resp, err := h.service(r).Get(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, "getting property", id, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid property ID")
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service(r).Update(r.Context(), id, req)
	if err != nil {
		h.respondStoreError(w, "updating property", id, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"name": resp.Name})
		h.audit.LogFromRequest(r, "update", "property", resp.ID, detail)
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid property ID")
		return
	}

	if err := h.service(r).Deactivate(r.Context(), id); err != nil {
		h.respondStoreError(w, "deactivating property", id, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "deactivate", "property", id, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	propertyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid property ID")
		return
	}

	var req CreateRuleRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service(r).CreateRule(r.Context(), propertyID, req)
	if err != nil {
		h.logger.Error("creating pricing rule", "error", err, "property_id", propertyID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create pricing rule")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "create", "pricing_rule", resp.ID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	propertyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid property ID")
		return
	}

	items, err := h.service(r).ListRules(r.Context(), propertyID)
	if err != nil {
		h.logger.Error("listing pricing rules", "error", err, "property_id", propertyID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list pricing rules")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"pricing_rules": items, "count": len(items)})
}

func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid pricing rule ID")
		return
	}

	if err := h.service(r).DeleteRule(r.Context(), ruleID); err != nil {
		h.respondStoreError(w, "deleting pricing rule", ruleID, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "pricing_rule", ruleID, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, action string, id uuid.UUID, err error) {
	if errors.Is(err, ErrNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "property not found")
		return
	}
	h.logger.Error(action, "error", err, "id", id)
	httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
}
