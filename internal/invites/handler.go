package invites

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/danmu-hub/console/internal/locale"
	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/platform/httpx"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

// Handler exposes invite endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: shared.NewValidator()}
}

// MountRoutes registers the management routes. They expect principal middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Delete("/{id}", h.delete)
}

// MountValidate registers the public code check.
func (h *Handler) MountValidate(r chi.Router) {
	r.Get("/validate", h.validate)
}

// MountRegister registers the public invited registration.
func (h *Handler) MountRegister(r chi.Router) {
	r.Post("/register", h.register)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, shared.ErrUnauthorized)
		return
	}
	list, err := h.service.List(r.Context(), actor, r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, "list invites", err)
		return
	}
	if list == nil {
		list = []Invite{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, shared.ErrUnauthorized)
		return
	}
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := httpx.Validate(h.validator, in); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	created, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		h.fail(w, r, "create invite", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, shared.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, r, shared.Invalid("invalid invite id"))
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, r, "delete invite", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Validate(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.fail(w, r, "validate invite", err)
		return
	}
	if v.Valid {
		v.Message = "ok"
	} else {
		v.Message = locale.InviteReason(locale.Match(r.Header.Get("Accept-Language")), v.Reason)
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := httpx.Validate(h.validator, in); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	created, err := h.service.Register(r.Context(), in)
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"id": created.ID})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var rejected *RejectionError
	if errors.As(err, &rejected) {
		httpx.Problem(w, http.StatusBadRequest, "Invite Rejected",
			locale.InviteReason(locale.Match(r.Header.Get("Accept-Language")), rejected.Reason))
		return
	}
	if shared.UserSafeMessage(err) == "" && !permissions.IsDenial(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, r, err)
}
