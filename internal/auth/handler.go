package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/danmu-hub/console/internal/platform/httpx"
	"github.com/danmu-hub/console/internal/shared"
)

// LoginObserver receives login outcomes for metrics.
type LoginObserver interface {
	ObserveLogin(result string)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	observer  LoginObserver
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, observer LoginObserver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		observer:  observer,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on provided router. Logout requires the
// Authenticate middleware to run first.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/token", h.handleLogin)
	r.With(h.Authenticate).Post("/logout", h.handleLogout)
}

type loginForm struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=256"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := httpx.DecodeJSON(r, &form); err != nil {
			httpx.RespondError(w, r, err)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			httpx.RespondError(w, r, shared.Invalid("malformed form body"))
			return
		}
		form = loginForm{Username: r.PostFormValue("username"), Password: r.PostFormValue("password")}
	}
	if err := httpx.Validate(h.validator, form); err != nil {
		httpx.RespondError(w, r, err)
		return
	}

	token, err := h.service.Login(r.Context(), form.Username, form.Password, r.RemoteAddr, r.UserAgent())
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			h.observe("invalid")
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Incorrect username or password")
			return
		}
		h.observe("error")
		h.logger.Error("login", slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	h.observe("success")
	h.logger.Info("login", slog.Int64("user_id", token.UserID))
	httpx.JSON(w, http.StatusOK, token)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := shared.SessionFromContext(r.Context())
	if ok {
		if err := h.service.Logout(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
			httpx.RespondError(w, r, err)
			return
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) observe(result string) {
	if h.observer != nil {
		h.observer.ObserveLogin(result)
	}
}
