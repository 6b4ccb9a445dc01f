package settings

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/platform/httpx"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

const maxBody = 64 << 10

// Handler exposes integration settings. Routes expect principal middleware.
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

// MountRoutes registers the settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{name}", h.get)
	r.Put("/{name}", h.put)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, shared.ErrUnauthorized)
		return
	}
	list, err := h.service.List(r.Context(), actor)
	if err != nil {
		h.fail(w, r, "list settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, shared.ErrUnauthorized)
		return
	}
	e, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, "load setting", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, shared.ErrUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		httpx.RespondError(w, r, shared.Invalid("unreadable body"))
		return
	}
	if len(body) == 0 {
		httpx.RespondError(w, r, shared.Invalid("request body required"))
		return
	}
	e, err := h.service.Put(r.Context(), actor, chi.URLParam(r, "name"), json.RawMessage(body))
	if err != nil {
		h.fail(w, r, "save setting", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if shared.UserSafeMessage(err) == "" && !permissions.IsDenial(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, r, err)
}
