package tasks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/data/repos/testutil"
	"github.com/yungbote/lms-insights/internal/domain/audit"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
)

func newTestRunner(t *testing.T, tasks ...Task) (*Runner, repos.Set) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	set := repos.NewSet(db, log)
	reg := NewRegistry()
	for _, task := range tasks {
		require.NoError(t, reg.Register(task))
	}
	return NewRunner(log, reg, set.FailedJob), set
}

func TestRunReturnsSummary(t *testing.T) {
	r, set := newTestRunner(t, NewFunc("ok", func(context.Context) (Summary, error) {
		return Summary{"n": 3}, nil
	}))
	sum, err := r.Run(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, 3, sum["n"])

	rows, err := set.FailedJob.ListByTask(dbctx.Background(), "ok", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunAuditsErrors(t *testing.T) {
	boom := errors.New("datastore unavailable")
	r, set := newTestRunner(t, NewFunc("flaky", func(context.Context) (Summary, error) {
		return nil, boom
	}))
	ctx := WithAttempt(context.Background(), 3)
	_, err := r.Run(ctx, "flaky")
	assert.ErrorIs(t, err, boom)

	rows, err := set.FailedJob.ListByTask(dbctx.Background(), "flaky", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "datastore unavailable", rows[0].Error)
	assert.Equal(t, 2, rows[0].RetryCount)
	assert.NotNil(t, rows[0].LastRetryAt)
}

func TestRunRecoversPanics(t *testing.T) {
	r, set := newTestRunner(t, NewFunc("explodes", func(context.Context) (Summary, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	}))
	_, err := r.Run(context.Background(), "explodes")
	var pe *PanicError
	require.ErrorAs(t, err, &pe)

	rows, err := set.FailedJob.ListByTask(dbctx.Background(), "explodes", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, strings.Contains(rows[0].Stack, "runtime/debug"), "stack not captured: %q", rows[0].Stack)
	assert.Equal(t, 0, rows[0].RetryCount)
}

func TestRunUnknownTask(t *testing.T) {
	r, _ := newTestRunner(t)
	_, err := r.Run(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	task := NewFunc("a", func(context.Context) (Summary, error) { return nil, nil })
	require.NoError(t, reg.Register(task))
	assert.Error(t, reg.Register(task))
	assert.Equal(t, []string{"a"}, reg.Names())
}

func TestCronTriggerValidatesSpecs(t *testing.T) {
	r, _ := newTestRunner(t,
		NewFunc("a", func(context.Context) (Summary, error) { return nil, nil }),
		NewFunc("b", func(context.Context) (Summary, error) { return nil, nil }),
	)
	cfg := Config{PassTimeout: time.Minute, Schedules: map[string]string{"a": "*/5 * * * *", "b": "off"}}
	trig, err := NewCronTrigger(testutil.Logger(t), r, cfg)
	require.NoError(t, err)
	assert.Len(t, trig.cron.Entries(), 1)

	cfg.Schedules["b"] = "not a schedule"
	_, err = NewCronTrigger(testutil.Logger(t), r, cfg)
	assert.Error(t, err)
}

func TestAuditCleanupDeletesOldRows(t *testing.T) {
	db := testutil.DB(t)
	set := repos.NewSet(db, testutil.Logger(t))
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	dbc := dbctx.Background()
	for _, age := range []time.Duration{100 * 24 * time.Hour, time.Hour} {
		row := &audit.FailedJob{TaskName: "cache_rebuild", Error: "boom", FailedAt: now.Add(-age)}
		require.NoError(t, set.FailedJob.Create(dbc, row))
	}

	sum, err := auditCleanup(context.Background(), Deps{
		ReminderJobs:   set.ReminderJob,
		FailedJobs:     set.FailedJob,
		AuditRetention: 90 * 24 * time.Hour,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sum["failed_jobs"])
	assert.Equal(t, 0, sum["reminder_jobs"])

	rows, _ := set.FailedJob.ListByTask(dbc, "cache_rebuild", 10)
	assert.Len(t, rows, 1)
}
