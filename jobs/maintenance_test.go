package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/danmu-hub/console/internal/jobs"
)

type fakePurger struct {
	retention time.Duration
	deleted   int64
	err       error
}

func (f *fakePurger) PurgeExpired(_ context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return f.deleted, f.err
}

type fakeResetter struct {
	calls int
	reset int64
}

func (f *fakeResetter) ResetAllCounters(context.Context) (int64, error) {
	f.calls++
	return f.reset, nil
}

type fakeCompactor struct {
	retain time.Duration
	n      int
}

func (f *fakeCompactor) Compact(_ context.Context, retain time.Duration) (int, error) {
	f.retain = retain
	return f.n, nil
}

func TestTaskTypesSorted(t *testing.T) {
	assert.Equal(t, []string{TaskInvitesPurge, TaskRateLimitCompact, TaskTokensResetCounters}, TaskTypes())
}

func TestBuildTask(t *testing.T) {
	for _, name := range TaskTypes() {
		task, err := BuildTask(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, task.Type())
		assert.True(t, json.Valid(task.Payload()))
	}

	_, err := BuildTask("accounting:close")
	require.Error(t, err)
}

func TestHandlersSkipMissingDependencies(t *testing.T) {
	j := &MaintenanceJobs{Tokens: &fakeResetter{}}
	handlers := j.Handlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, TaskTokensResetCounters, handlers[0].Type)
}

func TestHandleInvitesPurgeUsesPayloadRetention(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	purger := &fakePurger{deleted: 4}
	j := &MaintenanceJobs{Invites: purger, Metrics: metrics}

	task, err := NewInvitesPurgeTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, j.HandleInvitesPurge(context.Background(), task))

	assert.Equal(t, 24*time.Hour, purger.retention)
	n, err := testutil.GatherAndCount(reg, "danmu_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleInvitesPurgeDefaultsRetention(t *testing.T) {
	purger := &fakePurger{}
	j := &MaintenanceJobs{Invites: purger}

	task := asynq.NewTask(TaskInvitesPurge, []byte(`{}`))
	require.NoError(t, j.HandleInvitesPurge(context.Background(), task))
	assert.Equal(t, DefaultInviteRetention, purger.retention)
}

func TestHandleInvitesPurgePropagatesError(t *testing.T) {
	boom := errors.New("db down")
	j := &MaintenanceJobs{Invites: &fakePurger{err: boom}}

	task, err := NewInvitesPurgeTask(time.Hour)
	require.NoError(t, err)
	assert.ErrorIs(t, j.HandleInvitesPurge(context.Background(), task), boom)
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	j := &MaintenanceJobs{Invites: &fakePurger{}, Tokens: &fakeResetter{}, RateLimit: &fakeCompactor{}}
	bad := []byte(`{`)

	assert.ErrorIs(t, j.HandleInvitesPurge(context.Background(), asynq.NewTask(TaskInvitesPurge, bad)), asynq.SkipRetry)
	assert.ErrorIs(t, j.HandleTokensReset(context.Background(), asynq.NewTask(TaskTokensResetCounters, bad)), asynq.SkipRetry)
	assert.ErrorIs(t, j.HandleRateLimitCompact(context.Background(), asynq.NewTask(TaskRateLimitCompact, bad)), asynq.SkipRetry)
}

func TestHandleTokensReset(t *testing.T) {
	reg := prometheus.NewRegistry()
	resetter := &fakeResetter{reset: 12}
	j := &MaintenanceJobs{Tokens: resetter, Metrics: jobmetrics.NewMetrics(reg)}

	task, err := NewTokensResetTask(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, j.HandleTokensReset(context.Background(), task))
	assert.Equal(t, 1, resetter.calls)
}

func TestHandleRateLimitCompact(t *testing.T) {
	compactor := &fakeCompactor{n: 3}
	j := &MaintenanceJobs{RateLimit: compactor}

	task, err := NewRateLimitCompactTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, j.HandleRateLimitCompact(context.Background(), task))
	assert.Equal(t, 72*time.Hour, compactor.retain)
}

func TestHandlerNotConfigured(t *testing.T) {
	j := &MaintenanceJobs{}
	task, err := NewRateLimitCompactTask(time.Hour)
	require.NoError(t, err)
	assert.Error(t, j.HandleRateLimitCompact(context.Background(), task))
}
