package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/danmu-hub/console/internal/jobs"
)

// InvitePurger deletes expired invites.
type InvitePurger interface {
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// CounterResetter zeroes token call counters.
type CounterResetter interface {
	ResetAllCounters(ctx context.Context) (int64, error)
}

// BucketCompactor folds hourly usage buckets.
type BucketCompactor interface {
	Compact(ctx context.Context, retain time.Duration) (int, error)
}

// MaintenanceJobs groups the periodic housekeeping handlers.
type MaintenanceJobs struct {
	Invites   InvitePurger
	Tokens    CounterResetter
	RateLimit BucketCompactor
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handlers returns the task handlers for every configured dependency.
func (j *MaintenanceJobs) Handlers() []TaskHandler {
	var out []TaskHandler
	if j.Invites != nil {
		out = append(out, TaskHandler{Type: TaskInvitesPurge, Handler: j.HandleInvitesPurge})
	}
	if j.Tokens != nil {
		out = append(out, TaskHandler{Type: TaskTokensResetCounters, Handler: j.HandleTokensReset})
	}
	if j.RateLimit != nil {
		out = append(out, TaskHandler{Type: TaskRateLimitCompact, Handler: j.HandleRateLimitCompact})
	}
	return out
}

// HandleInvitesPurge processes TaskInvitesPurge tasks.
func (j *MaintenanceJobs) HandleInvitesPurge(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Invites == nil {
		return errors.New("invites purge: handler not configured")
	}
	var payload InvitesPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := DefaultInviteRetention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}

	tracker := j.Metrics.Track(TaskInvitesPurge)
	defer func() { resultErr = tracker.End(resultErr) }()

	n, err := j.Invites.PurgeExpired(ctx, retention)
	if err != nil {
		j.logger().Error("purge invites", slog.Any("error", err))
		return err
	}
	j.Metrics.AddAffected(TaskInvitesPurge, n)
	j.logger().Info("purged expired invites", slog.Int64("deleted", n), slog.Duration("retention", retention))
	return nil
}

// HandleTokensReset processes TaskTokensResetCounters tasks.
func (j *MaintenanceJobs) HandleTokensReset(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Tokens == nil {
		return errors.New("tokens reset: handler not configured")
	}
	var payload TokensResetPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskTokensResetCounters)
	defer func() { resultErr = tracker.End(resultErr) }()

	n, err := j.Tokens.ResetAllCounters(ctx)
	if err != nil {
		j.logger().Error("reset token counters", slog.Any("error", err))
		return err
	}
	j.Metrics.AddAffected(TaskTokensResetCounters, n)
	j.logger().Info("reset token counters", slog.Int64("tokens", n), slog.Time("scheduled_for", payload.ScheduledFor))
	return nil
}

// HandleRateLimitCompact processes TaskRateLimitCompact tasks.
func (j *MaintenanceJobs) HandleRateLimitCompact(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.RateLimit == nil {
		return errors.New("ratelimit compact: handler not configured")
	}
	var payload RateLimitCompactPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retain := DefaultHourlyRetention
	if payload.RetainHours > 0 {
		retain = time.Duration(payload.RetainHours) * time.Hour
	}

	tracker := j.Metrics.Track(TaskRateLimitCompact)
	defer func() { resultErr = tracker.End(resultErr) }()

	n, err := j.RateLimit.Compact(ctx, retain)
	if err != nil {
		j.logger().Error("compact rate limit buckets", slog.Any("error", err))
		return err
	}
	j.Metrics.AddAffected(TaskRateLimitCompact, int64(n))
	j.logger().Info("compacted rate limit buckets", slog.Int("buckets", n), slog.Duration("retain", retain))
	return nil
}

func (j *MaintenanceJobs) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
