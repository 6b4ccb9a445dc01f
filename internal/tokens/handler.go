package tokens

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/platform/httpx"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

// Handler exposes token management. Routes expect principal middleware.
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

// MountRoutes registers the token management routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/usage", h.usage)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/toggle", h.action("toggle token", h.service.Toggle))
	r.Post("/{id}/lock", h.action("lock token", h.service.Lock))
	r.Post("/{id}/unlock", h.action("unlock token", h.service.Unlock))
	r.Post("/{id}/reset-counter", h.resetCounter)
	r.Get("/{id}/logs", h.logs)
}

func actorFrom(w http.ResponseWriter, r *http.Request) (principal.Principal, bool) {
	actor, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, r, shared.ErrUnauthorized)
	}
	return actor, ok
}

func tokenID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid("invalid token id")
	}
	return id, nil
}

type listResponse struct {
	Tokens     []Token `json:"tokens"`
	CanEditAll bool    `json:"canEditAll"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	list, err := h.service.List(r.Context(), actor)
	if err != nil {
		h.fail(w, r, "list tokens", err)
		return
	}
	if list == nil {
		list = []Token{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Tokens: list, CanEditAll: CanEditAll(actor)})
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
		h.fail(w, r, "create token", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := tokenID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	var in UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := httpx.Validate(h.validator, in); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	updated, err := h.service.Update(r.Context(), actor, id, in)
	if err != nil {
		h.fail(w, r, "update token", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) action(op string, fn func(context.Context, principal.Principal, int64) (Token, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		id, err := tokenID(r)
		if err != nil {
			httpx.RespondError(w, r, err)
			return
		}
		t, err := fn(r.Context(), actor, id)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		httpx.JSON(w, http.StatusOK, t)
	}
}

func (h *Handler) resetCounter(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := tokenID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := h.service.ResetCounter(r.Context(), actor, id); err != nil {
		h.fail(w, r, "reset token counter", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := tokenID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, r, "delete token", err)
		return
	}
	httpx.NoContent(w)
}

type logsResponse struct {
	Logs       []AccessLog       `json:"logs"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := tokenID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	page, perPage := shared.PageFromRequest(r)
	logs, pagination, err := h.service.Logs(r.Context(), actor, id, LogFilter{
		Status:  r.URL.Query().Get("status"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		h.fail(w, r, "token logs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, logsResponse{Logs: logs, Pagination: pagination})
}

func (h *Handler) usage(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			httpx.RespondError(w, r, shared.Invalid("days must be a positive integer"))
			return
		}
		days = v
	}
	rows, err := h.service.Usage(r.Context(), actor, days)
	if err != nil {
		h.fail(w, r, "token usage", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"days": days, "usage": rows})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if shared.UserSafeMessage(err) == "" && !permissions.IsDenial(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, r, err)
}

// GateHandler serves the public token endpoint.
type GateHandler struct {
	logger *slog.Logger
	gate   *Gate
}

// NewGateHandler constructs the handler.
func NewGateHandler(logger *slog.Logger, gate *Gate) *GateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GateHandler{logger: logger, gate: gate}
}

// MountRoutes registers the gate routes.
func (h *GateHandler) MountRoutes(r chi.Router) {
	r.Get("/{token}/status", h.status)
}

type statusResponse struct {
	Status string     `json:"status"`
	Token  GateResult `json:"token"`
}

func (h *GateHandler) status(w http.ResponseWriter, r *http.Request) {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	result, err := h.gate.Check(r.Context(), chi.URLParam(r, "token"), CallInfo{
		IP:        ip,
		UserAgent: r.UserAgent(),
		Path:      routePattern(r),
	})
	if err != nil {
		if shared.UserSafeMessage(err) == "" {
			h.logger.Error("token gate", slog.Any("error", err))
		}
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse{Status: StatusOK, Token: result})
}

// routePattern keeps the token value out of the access log.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
