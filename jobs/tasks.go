package jobs

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskInvitesPurge deletes invites that expired beyond the retention window.
	TaskInvitesPurge = "invites:purge"
	// TaskTokensResetCounters zeroes the daily call counters of every token.
	TaskTokensResetCounters = "tokens:reset_counters"
	// TaskRateLimitCompact folds old hourly usage buckets into day buckets.
	TaskRateLimitCompact = "ratelimit:compact"
)

// Default windows used by the cron registrations.
const (
	DefaultInviteRetention = 7 * 24 * time.Hour
	DefaultHourlyRetention = 48 * time.Hour
)

// InvitesPurgePayload carries the retention window in hours.
type InvitesPurgePayload struct {
	RetentionHours int `json:"retention_hours"`
}

// TokensResetPayload records when the reset was scheduled.
type TokensResetPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// RateLimitCompactPayload carries how many hours of hourly buckets to keep.
type RateLimitCompactPayload struct {
	RetainHours int `json:"retain_hours"`
}

// NewInvitesPurgeTask constructs an Asynq task for the invite sweep.
func NewInvitesPurgeTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(InvitesPurgePayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvitesPurge, body, asynq.Queue(QueueDefault)), nil
}

// NewTokensResetTask constructs an Asynq task for the daily counter reset.
func NewTokensResetTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(TokensResetPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTokensResetCounters, body, asynq.Queue(QueueDefault)), nil
}

// NewRateLimitCompactTask constructs an Asynq task for bucket compaction.
func NewRateLimitCompactTask(retain time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(RateLimitCompactPayload{RetainHours: int(retain.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRateLimitCompact, body, asynq.Queue(QueueDefault)), nil
}

var builders = map[string]func() (*asynq.Task, error){
	TaskInvitesPurge:        func() (*asynq.Task, error) { return NewInvitesPurgeTask(DefaultInviteRetention) },
	TaskTokensResetCounters: func() (*asynq.Task, error) { return NewTokensResetTask(time.Now().UTC()) },
	TaskRateLimitCompact:    func() (*asynq.Task, error) { return NewRateLimitCompactTask(DefaultHourlyRetention) },
}

// TaskTypes lists every task the worker handles.
func TaskTypes() []string {
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BuildTask builds a task of the given type with its default payload.
func BuildTask(taskType string) (*asynq.Task, error) {
	build, ok := builders[taskType]
	if !ok {
		return nil, fmt.Errorf("jobs: unknown task type %q", taskType)
	}
	return build()
}
