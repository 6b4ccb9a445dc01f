package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/danmu-hub/console/internal/app"
	"github.com/danmu-hub/console/internal/invites"
	jobmetrics "github.com/danmu-hub/console/internal/jobs"
	"github.com/danmu-hub/console/internal/platform/cache"
	"github.com/danmu-hub/console/internal/platform/db"
	"github.com/danmu-hub/console/internal/ratelimit"
	"github.com/danmu-hub/console/internal/tokens"
	"github.com/danmu-hub/console/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	maintenance := &jobs.MaintenanceJobs{
		Invites:   invites.NewService(invites.NewRepository(pool), nil, logger),
		Tokens:    tokens.NewRepository(pool),
		RateLimit: ratelimit.NewLimiter(redisClient, cfg.DefaultGlobalLimit),
		Logger:    logger,
		Metrics:   jobmetrics.NewMetrics(nil),
	}

	purgeTask, err := jobs.NewInvitesPurgeTask(jobs.DefaultInviteRetention)
	if err != nil {
		logger.Error("build invites purge task", slog.Any("error", err))
		os.Exit(1)
	}
	resetTask, err := jobs.NewTokensResetTask(time.Now().UTC())
	if err != nil {
		logger.Error("build token reset task", slog.Any("error", err))
		os.Exit(1)
	}
	compactTask, err := jobs.NewRateLimitCompactTask(jobs.DefaultHourlyRetention)
	if err != nil {
		logger.Error("build compact task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqOptions(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    maintenance.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: "5 * * * *", Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 0 * * *", Task: resetTask, Options: []asynq.Option{asynq.MaxRetry(5)}},
			{Spec: "20 * * * *", Task: compactTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
