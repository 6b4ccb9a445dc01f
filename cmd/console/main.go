package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/danmu-hub/console/internal/accounts"
	"github.com/danmu-hub/console/internal/app"
	"github.com/danmu-hub/console/internal/auth"
	"github.com/danmu-hub/console/internal/invites"
	"github.com/danmu-hub/console/internal/observability"
	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/platform/cache"
	"github.com/danmu-hub/console/internal/platform/db"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/ratelimit"
	"github.com/danmu-hub/console/internal/settings"
	"github.com/danmu-hub/console/internal/shared"
	"github.com/danmu-hub/console/internal/tokens"
	"github.com/danmu-hub/console/jobs"
	"github.com/danmu-hub/console/migrations"
)

// quotaDirectory adapts the accounts repository to the rate-limit panel.
type quotaDirectory struct {
	repo *accounts.Repository
}

func (d quotaDirectory) ListQuotas(ctx context.Context) ([]ratelimit.UserQuota, error) {
	rows, err := d.repo.ListQuotas(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ratelimit.UserQuota, 0, len(rows))
	for _, q := range rows {
		out = append(out, ratelimit.UserQuota{ID: q.ID, Username: q.Username, PerHourLimit: q.PerHourLimit})
	}
	return out, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	if cfg.MigrateOnStart {
		version, err := db.Migrate(cfg.PGDSN, migrations.FS)
		if err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("schema migrated", slog.Uint64("version", uint64(version)))
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	audit := shared.NewAuditLogger(pool)
	sessions := shared.NewSessionStore(redisClient, cfg.SessionTTL)

	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		logger.Error("init jwt issuer", slog.Any("error", err))
		os.Exit(1)
	}
	authService := auth.NewService(auth.NewRepository(pool), sessions, issuer)
	authHandler := auth.NewHandler(logger, authService, metrics)

	accountsRepo := accounts.NewRepository(pool)
	if cfg.SuperPassword != "" {
		hash, err := auth.HashPassword(cfg.SuperPassword)
		if err != nil {
			logger.Error("hash super password", slog.Any("error", err))
			os.Exit(1)
		}
		created, err := accountsRepo.EnsureSuper(ctx, permissions.SuperUsername, hash)
		if err != nil {
			logger.Error("ensure super account", slog.Any("error", err))
			os.Exit(1)
		}
		if created {
			logger.Info("super account created", slog.String("username", permissions.SuperUsername))
		}
	}

	principals := principal.NewStore(accountsRepo, redisClient, cfg.PrincipalCacheTTL, logger)
	accountsService := accounts.NewService(accountsRepo, principals, sessions, audit, logger)

	limiter := ratelimit.NewLimiter(redisClient, cfg.DefaultGlobalLimit)
	rateService := ratelimit.NewService(limiter, quotaDirectory{repo: accountsRepo})

	invitesService := invites.NewService(invites.NewRepository(pool), audit, logger)

	tokensRepo := tokens.NewRepository(pool)
	tokensService := tokens.NewService(tokensRepo, audit, logger)
	gate := tokens.NewGate(tokensRepo, principals, limiter, metrics, logger, tokens.DefaultGateConfig())
	go gate.Run(ctx)

	settingsService := settings.NewService(settings.NewRepository(pool), audit, logger)

	inspector := asynq.NewInspector(cfg.AsynqOptions())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	health := map[string]app.HealthCheck{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Health:           health,
		AuthHandler:      authHandler,
		Principals:       principals.Middleware,
		AccountsHandler:  accounts.NewHandler(logger, accountsService),
		InvitesHandler:   invites.NewHandler(logger, invitesService),
		TokensHandler:    tokens.NewHandler(logger, tokensService),
		GateHandler:      tokens.NewGateHandler(logger, gate),
		RateLimitHandler: ratelimit.NewHandler(logger, rateService),
		SettingsHandler:  settings.NewHandler(logger, settingsService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
