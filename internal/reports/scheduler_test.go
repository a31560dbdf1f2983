package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/data/repos/testutil"
	"github.com/yungbote/lms-insights/internal/dispatch"
	"github.com/yungbote/lms-insights/internal/domain/reporting"
	"github.com/yungbote/lms-insights/internal/mail"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []mail.Message
	fail map[string]bool
}

func (c *captureSender) Send(_ context.Context, m mail.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail[m.To] {
		return "", errors.New("rejected")
	}
	c.msgs = append(c.msgs, m)
	return "", nil
}

type memStore struct {
	objects map[string][]byte
	err     error
}

func (m *memStore) Put(_ context.Context, key, _ string, body []byte) error {
	if m.err != nil {
		return m.err
	}
	m.objects[key] = body
	return nil
}

func (m *memStore) PublicURL(key string) string { return "https://files.example.com/" + key }

type recordingSubmitter struct {
	ok    bool
	types []string
}

func (r *recordingSubmitter) Submit(_ context.Context, _, jobType string, _ dispatch.Payload) (string, bool) {
	r.types = append(r.types, jobType)
	return "job-1", r.ok
}

type schedFixture struct {
	db     *gorm.DB
	set    repos.Set
	sched  *Scheduler
	sender *captureSender
	now    time.Time
}

func testReportConfig() Config {
	return Config{
		BatchSize:       10,
		BaseBackoff:     5 * time.Minute,
		MaxBackoff:      6 * time.Hour,
		StaleRunTimeout: time.Hour,
		SendTimeout:     5 * time.Second,
		FanOut:          2,
		ArchivePrefix:   "reports",
	}
}

func newSchedFixture(t *testing.T, archiver Archiver, cloud Submitter) *schedFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	set := repos.NewSet(db, log)
	exec := NewExecutor(log, Sources{
		Directory:    set.Directory,
		DailySummary: set.DailySummary,
		ScormSummary: set.ScormSummary,
		ReminderJob:  set.ReminderJob,
	}, set.CustomReport, set.ReportCache, time.Minute)
	sender := &captureSender{fail: map[string]bool{}}
	s := NewScheduler(log, testReportConfig(), SchedulerRepos{
		Schedules:  set.ReportSchedule,
		Runs:       set.ReportRun,
		Recipients: set.ReportRecipient,
	}, exec, sender, archiver, cloud)
	now := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	exec.now = s.now
	return &schedFixture{db: db, set: set, sched: s, sender: sender, now: now}
}

func TestRunDueCompletesAndAdvances(t *testing.T) {
	f := newSchedFixture(t, nil, nil)
	ctx := context.Background()
	course := testutil.SeedCourse(t, ctx, f.db, "Onboarding")
	for _, email := range []string{"a@example.com", "b@example.com"} {
		u := testutil.SeedUser(t, ctx, f.db, email)
		testutil.SeedEnrollment(t, ctx, f.db, u.ID, course.ID, f.now.AddDate(0, 0, -3), nil)
	}
	s := testutil.SeedSchedule(t, ctx, f.db, KindCourseCompletion, f.now.Add(-time.Minute), nil)
	testutil.SeedRecipient(t, ctx, f.db, s.ID, "ops@example.com")
	testutil.SeedRecipient(t, ctx, f.db, s.ID, "bounce@example.com")
	f.sender.fail["bounce@example.com"] = true

	sum, err := f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 1, Completed: 1}, sum)

	runs, err := f.set.ReportRun.ListForSchedule(dbctx.From(ctx), s.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, reporting.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].RecordCount)
	assert.NotNil(t, runs[0].EndedAt)

	require.Len(t, f.sender.msgs, 1)
	msg := f.sender.msgs[0]
	assert.Equal(t, "ops@example.com", msg.To)
	require.Len(t, msg.Attachments, 1)
	rows, err := csv.NewReader(bytes.NewReader(msg.Attachments[0].Content)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{course.ID.String(), "Onboarding", "2", "0", "0"}, rows[1])

	got, err := f.set.ReportSchedule.Get(dbctx.From(ctx), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.NextRunAt.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)), "next run %s", got.NextRunAt)

	sum, err = f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Due)
}

func TestRunDueFailureBacksOff(t *testing.T) {
	f := newSchedFixture(t, nil, nil)
	ctx := context.Background()
	s := testutil.SeedSchedule(t, ctx, f.db, "no_such_report", f.now.Add(-time.Minute), func(s *reporting.Schedule) {
		s.Recurrence = "@every 1m"
	})

	sum, err := f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	runs, err := f.set.ReportRun.ListForSchedule(dbctx.From(ctx), s.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, reporting.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "unknown report kind")

	got, err := f.set.ReportSchedule.Get(dbctx.From(ctx), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConsecutiveFailures)
	assert.True(t, got.NextRunAt.Equal(f.now.Add(5*time.Minute)), "next run %s", got.NextRunAt)
	assert.Nil(t, got.LastRunAt)

	// The second failure doubles the backoff.
	f.sched.now = func() time.Time { return f.now.Add(6 * time.Minute) }
	_, err = f.sched.RunDue(ctx)
	require.NoError(t, err)
	got, _ = f.set.ReportSchedule.Get(dbctx.From(ctx), s.ID)
	assert.Equal(t, 2, got.ConsecutiveFailures)
	assert.True(t, got.NextRunAt.Equal(f.now.Add(16*time.Minute)), "next run %s", got.NextRunAt)
}

func TestRunDueBadRecurrenceDoesNotSpin(t *testing.T) {
	f := newSchedFixture(t, nil, nil)
	ctx := context.Background()
	s := testutil.SeedSchedule(t, ctx, f.db, KindScormProgress, f.now.Add(-time.Minute), func(s *reporting.Schedule) {
		s.Recurrence = "every tuesday-ish"
	})

	sum, err := f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	got, _ := f.set.ReportSchedule.Get(dbctx.From(ctx), s.ID)
	assert.True(t, got.NextRunAt.After(f.now))
	assert.Contains(t, got.LastError, "invalid recurrence")
}

func TestRunDueArchivesAndUsesCloud(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	cloud := &recordingSubmitter{ok: true}
	f := newSchedFixture(t, NewBucketArchiver(store), cloud)
	ctx := context.Background()
	s := testutil.SeedSchedule(t, ctx, f.db, KindScormProgress, f.now.Add(-time.Minute), func(s *reporting.Schedule) {
		s.Channel = reporting.ChannelCloud
		s.Format = FormatJSON
	})
	testutil.SeedRecipient(t, ctx, f.db, s.ID, "ops@example.com")

	_, err := f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Len(t, store.objects, 1)
	assert.Equal(t, []string{dispatch.JobTypeReport}, cloud.types)
	assert.Empty(t, f.sender.msgs)

	dbc := dbctx.From(ctx)
	runs, err := f.set.ReportRun.ListForSchedule(dbc, s.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "job-1", runs[0].DispatchJobID)
	assert.Equal(t, reporting.DeliverySubmitted, runs[0].DeliveryStatus)

	cb := dispatch.Callback{JobID: "job-1", Type: dispatch.JobTypeReport, Status: dispatch.StatusCompleted, EmailsSent: 1, Errors: []string{}}
	require.NoError(t, f.sched.ReconcileCallback(ctx, cb))
	got, err := f.set.ReportRun.Get(dbc, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, reporting.DeliveryDelivered, got.DeliveryStatus)

	// A replayed callback leaves the settled delivery alone.
	cb.Status = dispatch.StatusFailed
	require.NoError(t, f.sched.ReconcileCallback(ctx, cb))
	got, _ = f.set.ReportRun.Get(dbc, runs[0].ID)
	assert.Equal(t, reporting.DeliveryDelivered, got.DeliveryStatus)

	err = f.sched.ReconcileCallback(ctx, dispatch.Callback{JobID: "job-404", Status: dispatch.StatusCompleted})
	assert.ErrorIs(t, err, dispatch.ErrUnknownJob)
}

func TestRunDueLocalChannelAttachesArchivedExport(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	f := newSchedFixture(t, NewBucketArchiver(store), nil)
	ctx := context.Background()
	s := testutil.SeedSchedule(t, ctx, f.db, KindScormProgress, f.now.Add(-time.Minute), nil)
	testutil.SeedRecipient(t, ctx, f.db, s.ID, "ops@example.com")

	_, err := f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Len(t, store.objects, 1)
	require.Len(t, f.sender.msgs, 1)
	require.Len(t, f.sender.msgs[0].Attachments, 1)
	assert.Contains(t, f.sender.msgs[0].Text, "is attached")
	assert.Contains(t, f.sender.msgs[0].Text, "https://files.example.com/reports/")
}

type failingRuns struct {
	repos.ReportRunRepo
}

func (failingRuns) Start(dbctx.Context, uuid.UUID, time.Time) (*reporting.Run, error) {
	return nil, errors.New("connection reset")
}

func TestRunDueStartFailureStillAdvances(t *testing.T) {
	f := newSchedFixture(t, nil, nil)
	ctx := context.Background()
	s := testutil.SeedSchedule(t, ctx, f.db, KindScormProgress, f.now.Add(-time.Minute), nil)
	f.sched.repos.Runs = failingRuns{ReportRunRepo: f.set.ReportRun}

	sum, err := f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	got, err := f.set.ReportSchedule.Get(dbctx.From(ctx), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConsecutiveFailures)
	assert.True(t, got.NextRunAt.After(f.now), "next run %s", got.NextRunAt)
	assert.Contains(t, got.LastError, "connection reset")

	sum, err = f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Due)
}

func TestRunDuePNGCountsRenderedRows(t *testing.T) {
	f := newSchedFixture(t, nil, nil)
	ctx := context.Background()
	u := testutil.SeedUser(t, ctx, f.db, "a@example.com")
	for i := 0; i < pngMaxRows+5; i++ {
		c := testutil.SeedCourse(t, ctx, f.db, fmt.Sprintf("Course %02d", i))
		testutil.SeedEnrollment(t, ctx, f.db, u.ID, c.ID, f.now.AddDate(0, 0, -1), nil)
	}
	s := testutil.SeedSchedule(t, ctx, f.db, KindCourseCompletion, f.now.Add(-time.Minute), func(s *reporting.Schedule) {
		s.Format = FormatPNG
	})
	testutil.SeedRecipient(t, ctx, f.db, s.ID, "ops@example.com")

	_, err := f.sched.RunDue(ctx)
	require.NoError(t, err)
	runs, err := f.set.ReportRun.ListForSchedule(dbctx.From(ctx), s.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, reporting.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, pngMaxRows, runs[0].RecordCount)
}

func TestRunDueCloudFailureSendsLocally(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	cloud := &recordingSubmitter{ok: false}
	f := newSchedFixture(t, NewBucketArchiver(store), cloud)
	ctx := context.Background()
	s := testutil.SeedSchedule(t, ctx, f.db, KindScormProgress, f.now.Add(-time.Minute), func(s *reporting.Schedule) {
		s.Channel = reporting.ChannelCloud
	})
	testutil.SeedRecipient(t, ctx, f.db, s.ID, "ops@example.com")

	_, err := f.sched.RunDue(ctx)
	require.NoError(t, err)
	require.Len(t, f.sender.msgs, 1)
	require.Len(t, f.sender.msgs[0].Attachments, 1)
	assert.Contains(t, f.sender.msgs[0].Text, "https://files.example.com/reports/")
}

func TestReapStaleRuns(t *testing.T) {
	f := newSchedFixture(t, nil, nil)
	ctx := context.Background()
	dbc := dbctx.From(ctx)
	scheduleID := uuid.New()
	old, err := f.set.ReportRun.Start(dbc, scheduleID, f.now.Add(-3*time.Hour))
	require.NoError(t, err)
	fresh, err := f.set.ReportRun.Start(dbc, scheduleID, f.now.Add(-10*time.Minute))
	require.NoError(t, err)

	n, err := f.sched.ReapStaleRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := f.set.ReportRun.Get(dbc, old.ID)
	assert.Equal(t, reporting.RunStatusFailed, got.Status)
	assert.Equal(t, staleRunReason, got.Error)
	got, _ = f.set.ReportRun.Get(dbc, fresh.ID)
	assert.Equal(t, reporting.RunStatusRunning, got.Status)

	// A reaped run can no longer be finished by its original owner.
	ok, err := f.set.ReportRun.Finish(dbc, old.ID, reporting.RunStatusCompleted, f.now, 5, "")
	require.NoError(t, err)
	assert.False(t, ok)
}
