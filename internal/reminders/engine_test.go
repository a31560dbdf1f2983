package reminders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/data/repos/testutil"
	"github.com/yungbote/lms-insights/internal/dispatch"
	domain "github.com/yungbote/lms-insights/internal/domain/reminders"
	"github.com/yungbote/lms-insights/internal/mail"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
	fail map[string]bool
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[msg.To] {
		return "", errors.New("mailbox unavailable")
	}
	s.sent = append(s.sent, msg)
	return "provider-" + msg.To, nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type stubSubmitter struct {
	ok       bool
	calls    int
	payloads []dispatch.Payload
}

func (s *stubSubmitter) Submit(_ context.Context, _, _ string, p dispatch.Payload) (string, bool) {
	s.calls++
	if !s.ok {
		return "", false
	}
	s.payloads = append(s.payloads, p)
	return "job-" + uuid.NewString(), true
}

type fixture struct {
	db     *gorm.DB
	set    repos.Set
	engine *Engine
	sender *recordingSender
	now    time.Time
}

func newFixture(t *testing.T, cloud Submitter) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	set := repos.NewSet(db, log)
	sender := &recordingSender{fail: map[string]bool{}}
	cfg := Config{BatchSize: 50, LockWindow: 5 * time.Minute, RetryInterval: time.Hour, SendTimeout: 5 * time.Second, CompanyID: "acme"}
	e := NewEngine(log, cfg, Repos{
		Rules:     set.ReminderRule,
		Instances: set.ReminderInstance,
		Jobs:      set.ReminderJob,
		Templates: set.ReminderTemplate,
		Directory: set.Directory,
	}, sender, cloud)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return &fixture{db: db, set: set, engine: e, sender: sender, now: now}
}

// seedLearner enrols one learner ten days ago and returns the rule.
func (f *fixture) seedLearner(t *testing.T, email string, mutate func(*domain.Rule)) (*domain.Rule, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	user := testutil.SeedUser(t, ctx, f.db, email)
	course := testutil.SeedCourse(t, ctx, f.db, "Safety 101")
	testutil.SeedEnrollment(t, ctx, f.db, user.ID, course.ID, f.now.AddDate(0, 0, -10), nil)
	tpl := testutil.SeedTemplate(t, ctx, f.db)
	rule := testutil.SeedRule(t, ctx, f.db, &course.ID, tpl.ID, mutate)
	return rule, user.ID, course.ID
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
	now := f.now
	f.engine.now = func() time.Time { return now }
}

func TestCreateInstancesIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedLearner(t, "ada@example.com", nil)

	n, err := f.engine.CreateInstances(ctx)
	if err != nil {
		t.Fatalf("CreateInstances: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 instance, got %d", n)
	}
	n, err = f.engine.CreateInstances(ctx)
	if err != nil {
		t.Fatalf("CreateInstances again: %v", err)
	}
	if n != 0 {
		t.Fatalf("second pass should create nothing, got %d", n)
	}
}

func TestCreateInstancesRespectsTriggerDays(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedLearner(t, "late@example.com", func(r *domain.Rule) {
		r.Trigger = domain.TriggerIncompleteAfter
		r.TriggerDays = 14
	})

	n, err := f.engine.CreateInstances(ctx)
	if err != nil {
		t.Fatalf("CreateInstances: %v", err)
	}
	if n != 0 {
		t.Fatalf("enrolment is only 10 days old, got %d instances", n)
	}
	f.advance(5 * 24 * time.Hour)
	if n, _ = f.engine.CreateInstances(ctx); n != 1 {
		t.Fatalf("expected 1 instance after 15 days, got %d", n)
	}
}

func TestProcessDueStopsAfterReminderCount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedLearner(t, "ada@example.com", nil)
	if _, err := f.engine.CreateInstances(ctx); err != nil {
		t.Fatalf("CreateInstances: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := f.engine.ProcessDue(ctx); err != nil {
			t.Fatalf("ProcessDue #%d: %v", i, err)
		}
		f.advance(25 * time.Hour)
	}
	if got := f.sender.count(); got != 3 {
		t.Fatalf("expected 3 reminders, got %d", got)
	}
	if !strings.Contains(f.sender.sent[0].Subject, "Safety 101") {
		t.Fatalf("subject not rendered: %q", f.sender.sent[0].Subject)
	}
}

func TestProcessDueHonoursEmailDelay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedLearner(t, "ada@example.com", nil)
	_, _ = f.engine.CreateInstances(ctx)

	if res, _ := f.engine.ProcessDue(ctx); res.Sent != 1 {
		t.Fatalf("first pass should send, got %+v", res)
	}
	f.advance(time.Hour)
	if res, _ := f.engine.ProcessDue(ctx); res.Due != 0 {
		t.Fatalf("instance should not be due within the delay, got %+v", res)
	}
}

func TestProcessDueConcurrentWorkersSendOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedLearner(t, "ada@example.com", nil)
	_, _ = f.engine.CreateInstances(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.ProcessDue(ctx); err != nil {
				t.Errorf("ProcessDue: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := f.sender.count(); got != 1 {
		t.Fatalf("expected exactly one send, got %d", got)
	}
}

func TestProcessDueCompletesFinishedLearner(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, userID, courseID := f.seedLearner(t, "done@example.com", nil)
	_, _ = f.engine.CreateInstances(ctx)

	done := f.now.Add(-time.Hour)
	if err := f.db.Table("lms_enrollment").
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Update("completed_at", done).Error; err != nil {
		t.Fatalf("complete enrolment: %v", err)
	}

	res, err := f.engine.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if res.Completed != 1 || f.sender.count() != 0 {
		t.Fatalf("expected completion without send, got %+v sends=%d", res, f.sender.count())
	}
	f.advance(48 * time.Hour)
	if res, _ := f.engine.ProcessDue(ctx); res.Due != 0 {
		t.Fatalf("completed instance is still due: %+v", res)
	}
}

func TestProcessDueNotifiesManagersAndThirdParties(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, userID, _ := f.seedLearner(t, "ada@example.com", func(r *domain.Rule) {
		r.NotifyManagers = true
		r.ThirdPartyEmails = datatypes.JSON([]byte(`["hr@example.com","ADA@example.com"]`))
	})
	mgr := testutil.SeedUser(t, ctx, f.db, "boss@example.com")
	testutil.SeedManager(t, ctx, f.db, userID, mgr.ID)
	_, _ = f.engine.CreateInstances(ctx)

	if _, err := f.engine.ProcessDue(ctx); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	got := map[string]bool{}
	for _, m := range f.sender.sent {
		got[m.To] = true
	}
	if len(f.sender.sent) != 3 || !got["ada@example.com"] || !got["boss@example.com"] || !got["hr@example.com"] {
		t.Fatalf("unexpected recipients: %v", got)
	}
}

func TestProcessDueDefersWhenEveryRecipientFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedLearner(t, "bounce@example.com", nil)
	f.sender.fail["bounce@example.com"] = true
	_, _ = f.engine.CreateInstances(ctx)

	res, err := f.engine.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected failure, got %+v", res)
	}
	jobs, err := f.set.ReminderJob.ListSince(dbctx.From(ctx), f.now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != domain.JobStatusFailed || jobs[0].Attempt != 1 {
		t.Fatalf("unexpected audit rows: %+v", jobs)
	}

	delete(f.sender.fail, "bounce@example.com")
	f.advance(2 * time.Hour)
	if res, _ := f.engine.ProcessDue(ctx); res.Sent != 1 {
		t.Fatalf("retry should send, got %+v", res)
	}
	jobs, _ = f.set.ReminderJob.ListSince(dbctx.From(ctx), f.now.Add(-time.Minute))
	if len(jobs) != 1 || jobs[0].Attempt != 2 {
		t.Fatalf("retry should be attempt 2, got %+v", jobs)
	}
}

func TestProcessDueCloudFallsBackToLocal(t *testing.T) {
	cloud := &stubSubmitter{ok: false}
	f := newFixture(t, cloud)
	ctx := context.Background()
	f.seedLearner(t, "ada@example.com", func(r *domain.Rule) { r.Channel = domain.ChannelCloud })
	_, _ = f.engine.CreateInstances(ctx)

	if _, err := f.engine.ProcessDue(ctx); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if cloud.calls != 1 || f.sender.count() != 1 {
		t.Fatalf("expected one cloud attempt then local send, calls=%d sends=%d", cloud.calls, f.sender.count())
	}
}

func TestReconcileCallbackPartialFailure(t *testing.T) {
	cloud := &stubSubmitter{ok: true}
	f := newFixture(t, cloud)
	ctx := context.Background()
	f.seedLearner(t, "ada@example.com", func(r *domain.Rule) {
		r.Channel = domain.ChannelCloud
		r.ThirdPartyEmails = datatypes.JSON([]byte(`["hr@example.com"]`))
	})
	_, _ = f.engine.CreateInstances(ctx)
	if _, err := f.engine.ProcessDue(ctx); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if f.sender.count() != 0 || len(cloud.payloads) != 1 {
		t.Fatalf("expected cloud submission only")
	}

	jobs, _ := f.set.ReminderJob.ListSince(dbctx.From(ctx), f.now.Add(-time.Minute))
	if len(jobs) != 2 {
		t.Fatalf("expected 2 submitted rows, got %d", len(jobs))
	}
	msgID := jobs[0].MessageID
	cb := dispatch.Callback{
		JobID:        msgID,
		Status:       dispatch.StatusPartialFailure,
		EmailsSent:   1,
		EmailsFailed: 1,
		Errors:       []string{"hr@example.com: mailbox full"},
	}
	if err := f.engine.ReconcileCallback(ctx, cb); err != nil {
		t.Fatalf("ReconcileCallback: %v", err)
	}
	rows, _ := f.set.ReminderJob.ListByMessage(dbctx.From(ctx), msgID)
	for _, r := range rows {
		want := domain.JobStatusDelivered
		if r.RecipientEmail == "hr@example.com" {
			want = domain.JobStatusFailed
		}
		if r.Status != want {
			t.Fatalf("%s: expected %s, got %s", r.RecipientEmail, want, r.Status)
		}
	}

	// A replayed callback must not flip settled rows.
	cb.Status = dispatch.StatusFailed
	if err := f.engine.ReconcileCallback(ctx, cb); err != nil {
		t.Fatalf("replay: %v", err)
	}
	rows, _ = f.set.ReminderJob.ListByMessage(dbctx.From(ctx), msgID)
	for _, r := range rows {
		if r.RecipientEmail == "ada@example.com" && r.Status != domain.JobStatusDelivered {
			t.Fatalf("replay changed a settled row: %+v", r)
		}
	}
}

func TestReconcileCallbackUnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	err := f.engine.ReconcileCallback(context.Background(), dispatch.Callback{JobID: "nope", Status: dispatch.StatusCompleted})
	if !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestReconcileCallbackMatchesRecipientsExactly(t *testing.T) {
	cases := map[string]dispatch.Callback{
		"failed recipients": {
			Status:           dispatch.StatusPartialFailure,
			Errors:           []string{"da@example.com: mailbox full"},
			FailedRecipients: []string{"da@example.com"},
		},
		"errors only": {
			Status: dispatch.StatusPartialFailure,
			Errors: []string{"da@example.com: mailbox full"},
		},
	}
	for name, cb := range cases {
		t.Run(name, func(t *testing.T) {
			cloud := &stubSubmitter{ok: true}
			f := newFixture(t, cloud)
			ctx := context.Background()
			f.seedLearner(t, "a@example.com", func(r *domain.Rule) {
				r.Channel = domain.ChannelCloud
				r.ThirdPartyEmails = datatypes.JSON([]byte(`["da@example.com"]`))
			})
			_, _ = f.engine.CreateInstances(ctx)
			if _, err := f.engine.ProcessDue(ctx); err != nil {
				t.Fatalf("ProcessDue: %v", err)
			}
			jobs, _ := f.set.ReminderJob.ListSince(dbctx.From(ctx), f.now.Add(-time.Minute))
			if len(jobs) != 2 {
				t.Fatalf("expected 2 submitted rows, got %d", len(jobs))
			}

			cb.JobID = jobs[0].MessageID
			if err := f.engine.ReconcileCallback(ctx, cb); err != nil {
				t.Fatalf("ReconcileCallback: %v", err)
			}
			rows, _ := f.set.ReminderJob.ListByMessage(dbctx.From(ctx), cb.JobID)
			for _, r := range rows {
				want := domain.JobStatusDelivered
				if r.RecipientEmail == "da@example.com" {
					want = domain.JobStatusFailed
				}
				if r.Status != want {
					t.Fatalf("%s: expected %s, got %s", r.RecipientEmail, want, r.Status)
				}
			}
		})
	}
}

// clockSender takes step of fake time per send.
type clockSender struct {
	f    *fixture
	step time.Duration
	sent []string
}

func (s *clockSender) Send(_ context.Context, msg mail.Message) (string, error) {
	s.sent = append(s.sent, msg.To)
	s.f.advance(s.step)
	return "provider-" + msg.To, nil
}

func TestProcessDueStopsSendingBeforeLockExpires(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedLearner(t, "ada@example.com", func(r *domain.Rule) {
		r.ThirdPartyEmails = datatypes.JSON([]byte(`["hr@example.com","ops@example.com"]`))
	})
	_, _ = f.engine.CreateInstances(ctx)

	start := f.now
	slow := &clockSender{f: f, step: 2 * time.Minute}
	f.engine.sender = slow
	f.engine.cfg.SendTimeout = 2 * time.Minute

	res, err := f.engine.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if res.Sent != 1 || len(slow.sent) != 2 {
		t.Fatalf("expected two sends in one pass, got %+v sends=%v", res, slow.sent)
	}
	if f.now.After(start.Add(f.engine.cfg.LockWindow)) {
		t.Fatalf("sending ran past the lock window: %s", f.now.Sub(start))
	}

	jobs, _ := f.set.ReminderJob.ListSince(dbctx.From(ctx), start.Add(-time.Minute))
	var skipped []*domain.Job
	for _, j := range jobs {
		if j.Status == domain.JobStatusFailed {
			skipped = append(skipped, j)
		}
	}
	if len(skipped) != 1 || skipped[0].Error != ErrLockWindowExhausted.Error() {
		t.Fatalf("expected one recipient held back by the lock window, got %+v", skipped)
	}

	insts, _ := f.set.ReminderInstance.ListDue(dbctx.From(ctx), f.now.Add(48*time.Hour), 10)
	if len(insts) != 1 || insts[0].EmailsSent != 1 || insts[0].LockToken != nil {
		t.Fatalf("instance should be advanced and released: %+v", insts)
	}
}

func TestProcessDueAuditsMissingTemplate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rule, _, _ := f.seedLearner(t, "ada@example.com", nil)
	if err := f.db.Model(&domain.Rule{}).Where("id = ?", rule.ID).Update("template_id", uuid.New()).Error; err != nil {
		t.Fatalf("repoint template: %v", err)
	}
	_, _ = f.engine.CreateInstances(ctx)

	res, err := f.engine.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if res.Failed != 1 || f.sender.count() != 0 {
		t.Fatalf("expected a failed, unsent instance, got %+v", res)
	}
	jobs, _ := f.set.ReminderJob.ListSince(dbctx.From(ctx), f.now.Add(-time.Minute))
	if len(jobs) != 1 || jobs[0].Status != domain.JobStatusFailed || !strings.Contains(jobs[0].Error, "template") {
		t.Fatalf("expected a failed audit row naming the template, got %+v", jobs)
	}
	if jobs[0].RecipientEmail != "ada@example.com" {
		t.Fatalf("audit row should name the learner, got %q", jobs[0].RecipientEmail)
	}
}
