package tenantconfig

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goslack "github.com/slack-go/slack"

	"github.com/harborstay/channelcore/internal/audit"
	"github.com/harborstay/channelcore/internal/httpserver"
	"github.com/harborstay/channelcore/pkg/tenant"
)

// Handler provides HTTP handlers for the tenant configuration API.
type Handler struct {
	logger  *slog.Logger
	audit   *audit.Writer
	service *Service
}

// NewHandler creates a tenant config Handler backed by the given global pool.
func NewHandler(logger *slog.Logger, audit *audit.Writer, pool *pgxpool.Pool) *Handler {
	return &Handler{
		logger:  logger,
		audit:   audit,
		service: NewService(pool, logger),
	}
}

// Routes returns a chi.Router with tenant config routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleGet)
	r.Put("/", h.handleUpdate)
	r.Post("/slack/test", h.handleTestSlack)
	return r
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())
	if ti == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing tenant context")
		return
	}

	resp, err := h.service.Get(r.Context(), ti.ID)
	if err != nil {
		h.logger.Error("getting tenant config", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get configuration")
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())
	if ti == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing tenant context")
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Update(r.Context(), ti.ID, req)
	if err != nil {
		h.logger.Error("updating tenant config", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update configuration")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"default_timezone": req.DefaultTimezone})
		h.audit.LogFromRequest(r, "update", "tenant_config", ti.ID, detail)
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

// TestSlackRequest is the JSON body for POST /api/v1/tenant-config/slack/test.
type TestSlackRequest struct {
	BotToken string `json:"bot_token" validate:"required"`
}

// TestSlackResponse is the JSON response for the Slack connection test.
type TestSlackResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	BotName   string `json:"bot_name,omitempty"`
	Workspace string `json:"workspace,omitempty"`
}

// handleTestSlack verifies an operator-supplied Slack bot token before it is
// wired into pkg/alerting, the same auth.test call operators use to confirm
// a workspace integration before saving it.
func (h *Handler) handleTestSlack(w http.ResponseWriter, r *http.Request) {
	var req TestSlackRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	client := goslack.New(req.BotToken)
	resp, err := client.AuthTestContext(r.Context())
	if err != nil {
		httpserver.Respond(w, http.StatusOK, TestSlackResponse{OK: false, Error: err.Error()})
		return
	}

	httpserver.Respond(w, http.StatusOK, TestSlackResponse{
		OK:        true,
		BotName:   resp.User,
		Workspace: resp.Team,
	})
}
