package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harborstay/channelcore/internal/httpserver"
	"github.com/harborstay/channelcore/pkg/tenant"
)

// Handler provides HTTP handlers for the audit log API.
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates an audit log Handler.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Routes returns a chi.Router with audit log routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

type listEntry struct {
	ID         uuid.UUID `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID uuid.UUID `json:"resource_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	conn := tenant.ConnFromContext(r.Context())
	rows, err := conn.Query(r.Context(),
		`SELECT id, actor, action, resource, resource_id, created_at
		   FROM audit_log
		  ORDER BY created_at DESC
		  LIMIT $1 OFFSET $2`,
		params.PageSize, params.Offset,
	)
	if err != nil {
		h.logger.Error("listing audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}
	defer rows.Close()

	entries := make([]listEntry, 0, params.PageSize)
	for rows.Next() {
		var e listEntry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Resource, &e.ResourceID, &e.CreatedAt); err != nil {
			h.logger.Error("scanning audit log row", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
			return
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("iterating audit log rows", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}

	httpserver.Respond(w, http.StatusOK, entries)
}
