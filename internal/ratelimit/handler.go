package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/platform/httpx"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

// Handler exposes the rate-limit panel.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the panel routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/status", h.status)
	r.Get("/aggregate", h.aggregate)
	r.Put("/global", h.setGlobal)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, shared.ErrUnauthorized)
		return
	}
	st, err := h.service.Status(r.Context(), actor)
	if err != nil {
		h.logger.Error("rate limit status", slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, shared.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	all, _ := strconv.ParseBool(q.Get("all"))
	window := 24
	if raw := q.Get("windowHours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, r, shared.Invalid("windowHours must be an integer"))
			return
		}
		window = n
	}
	rows, err := h.service.Aggregate(r.Context(), actor, window, all)
	if err != nil {
		if shared.UserSafeMessage(err) == "" && !permissions.IsDenial(err) {
			h.logger.Error("rate limit aggregate", slog.Any("error", err))
		}
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"windowHours": window, "all": all, "rows": rows})
}

type globalRequest struct {
	GlobalLimit *int `json:"globalLimit"`
}

func (h *Handler) setGlobal(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, shared.ErrUnauthorized)
		return
	}
	var req globalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if req.GlobalLimit == nil {
		httpx.RespondError(w, r, shared.Invalid("globalLimit is required"))
		return
	}
	if err := h.service.SetGlobal(r.Context(), actor, *req.GlobalLimit); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}
