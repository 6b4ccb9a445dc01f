package accounts

import (
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

// Handler exposes account endpoints. Routes expect principal middleware.
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

// MountProfile registers the user-management routes exposed by p.
func (h *Handler) MountProfile(r chi.Router, p Profile) {
	r.Get("/", h.list(p))
	r.Get("/{id}/permissions", h.permissions)
	if p.Allows(ActionCreate) {
		r.Post("/", h.create)
	}
	if p.Allows(ActionEditPermissions) {
		r.Put("/{id}/permissions", h.updatePermissions)
	}
	if p.Allows(ActionPassword) {
		r.Put("/{id}/password", h.setPassword)
	}
	if p.Allows(ActionQuota) {
		r.Put("/{id}/quota", h.setQuota)
	}
	if p.Allows(ActionRemark) {
		r.Put("/{id}/remark", h.setRemark)
	}
	if p.Allows(ActionDelete) {
		r.Delete("/{id}", h.delete)
	}
}

// MountMe registers the current-user routes.
func (h *Handler) MountMe(r chi.Router) {
	r.Get("/", h.me)
	r.Post("/password", h.changeOwnPassword)
}

func actorFrom(w http.ResponseWriter, r *http.Request) (principal.Principal, bool) {
	actor, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, shared.ErrUnauthorized)
	}
	return actor, ok
}

func userID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid("invalid user id")
	}
	return id, nil
}

type listResponse struct {
	Profile    string            `json:"profile"`
	Actions    []Action          `json:"actions"`
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) list(p Profile) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		page, perPage := shared.PageFromRequest(r)
		users, pagination, err := h.service.List(r.Context(), actor, ListFilter{
			Query:   r.URL.Query().Get("q"),
			Page:    page,
			PerPage: perPage,
		})
		if err != nil {
			h.fail(w, r, "list users", err)
			return
		}
		httpx.JSON(w, http.StatusOK, listResponse{Profile: p.Name, Actions: p.Actions(), Users: users, Pagination: pagination})
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
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
		h.fail(w, r, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := userID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	view, err := h.service.Permissions(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, "load permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

type permissionsRequest struct {
	PermStates map[string]any `json:"permStates"`
}

func (h *Handler) updatePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := userID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	var req permissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	update, err := h.service.UpdatePermissions(r.Context(), actor, id, permissions.ParseStates(req.PermStates))
	if err != nil {
		h.fail(w, r, "update permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, update)
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) setPassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := userID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	var req passwordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := h.service.SetPassword(r.Context(), actor, id, req.Password); err != nil {
		h.fail(w, r, "set password", err)
		return
	}
	httpx.NoContent(w)
}

type quotaRequest struct {
	PerHourLimit *int `json:"perHourLimit"`
}

func (h *Handler) setQuota(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := userID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	var req quotaRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := h.service.SetQuota(r.Context(), actor, id, req.PerHourLimit); err != nil {
		h.fail(w, r, "set quota", err)
		return
	}
	httpx.JSON(w, http.StatusOK, quotaRequest{PerHourLimit: req.PerHourLimit})
}

type remarkRequest struct {
	Remark string `json:"remark" validate:"max=500"`
}

func (h *Handler) setRemark(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := userID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	var req remarkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	clean, err := h.service.SetRemark(r.Context(), actor, id, req.Remark)
	if err != nil {
		h.fail(w, r, "set remark", err)
		return
	}
	httpx.JSON(w, http.StatusOK, remarkRequest{Remark: clean})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := userID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, r, "delete user", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.Me(actor))
}

type ownPasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type ownPasswordResponse struct {
	Message string `json:"message"`
}

func (h *Handler) changeOwnPassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req ownPasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		req = ownPasswordRequest{}
	}
	if err := h.service.ChangeOwnPassword(r.Context(), actor, req.OldPassword, req.NewPassword); err != nil {
		h.fail(w, r, "change own password", err)
		return
	}
	tag := locale.Match(r.Header.Get("Accept-Language"))
	httpx.JSON(w, http.StatusOK, ownPasswordResponse{Message: locale.Translate(tag, locale.MsgPasswordChanged)})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if shared.UserSafeMessage(err) == "" && !permissions.IsDenial(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, r, err)
}
