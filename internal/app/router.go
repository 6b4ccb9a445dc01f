package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/danmu-hub/console/internal/accounts"
	"github.com/danmu-hub/console/internal/auth"
	"github.com/danmu-hub/console/internal/invites"
	"github.com/danmu-hub/console/internal/observability"
	"github.com/danmu-hub/console/internal/ratelimit"
	"github.com/danmu-hub/console/internal/settings"
	"github.com/danmu-hub/console/internal/tokens"
	"github.com/danmu-hub/console/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config
	Health map[string]HealthCheck

	AuthHandler      *auth.Handler
	Principals       func(http.Handler) http.Handler
	AccountsHandler  *accounts.Handler
	InvitesHandler   *invites.Handler
	TokensHandler    *tokens.Handler
	GateHandler      *tokens.GateHandler
	RateLimitHandler *ratelimit.Handler
	SettingsHandler  *settings.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with console defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", healthHandler(params.Health, params.Logger))

	perMinute := 0
	if params.Config != nil {
		perMinute = params.Config.PublicRatePerMin
	}
	public := PublicRateLimit(perMinute)

	authenticated := func(r chi.Router) {
		r.Use(params.AuthHandler.Authenticate)
		if params.Principals != nil {
			r.Use(params.Principals)
		}
	}

	r.Route("/api/ui", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(public)
			params.AuthHandler.MountRoutes(r)
			if params.InvitesHandler != nil {
				params.InvitesHandler.MountRegister(r)
			}
		})

		if params.InvitesHandler != nil {
			r.Route("/invites", func(r chi.Router) {
				r.With(public).Group(params.InvitesHandler.MountValidate)
				r.Group(func(r chi.Router) {
					authenticated(r)
					params.InvitesHandler.MountRoutes(r)
				})
			})
		}

		r.Group(func(r chi.Router) {
			authenticated(r)
			if params.AccountsHandler != nil {
				r.Route("/me", params.AccountsHandler.MountMe)
				for _, p := range accounts.Profiles() {
					profile := p
					r.Route("/"+profile.Name+"/users", func(r chi.Router) {
						params.AccountsHandler.MountProfile(r, profile)
					})
				}
			}
			if params.TokensHandler != nil {
				r.Route("/tokens", params.TokensHandler.MountRoutes)
			}
			if params.RateLimitHandler != nil {
				r.Route("/rate-limit", params.RateLimitHandler.MountRoutes)
			}
			if params.SettingsHandler != nil {
				r.Route("/settings", params.SettingsHandler.MountRoutes)
			}
		})
	})

	if params.GateHandler != nil {
		r.Route("/api/v1", params.GateHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
