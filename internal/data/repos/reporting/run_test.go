package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/lms-insights/internal/data/repos/testutil"
	domain "github.com/yungbote/lms-insights/internal/domain/reporting"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
)

func TestRunRepoFinishOnce(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewRunRepo(db, testutil.Logger(t))

	now := testutil.Now()
	sched := testutil.SeedSchedule(t, ctx, db, "course_completion", now, nil)

	run, err := repo.Start(dbc, sched.ID, now)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ok, err := repo.Finish(dbc, run.ID, domain.RunStatusCompleted, now.Add(1500*time.Millisecond), 7, "")
	if err != nil || !ok {
		t.Fatalf("Finish: ok=%v err=%v", ok, err)
	}
	ok, err = repo.Finish(dbc, run.ID, domain.RunStatusFailed, now.Add(2*time.Second), 0, "late")
	if err != nil {
		t.Fatalf("second Finish: %v", err)
	}
	if ok {
		t.Fatalf("a finished run must not be finalized twice")
	}

	got, err := repo.Get(dbc, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.RunStatusCompleted || got.RecordCount != 7 {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.DurationMS != 1500 {
		t.Fatalf("expected duration 1500ms, got %d", got.DurationMS)
	}
}

func TestRunRepoReapStale(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewRunRepo(db, testutil.Logger(t))

	now := testutil.Now()
	sched := testutil.SeedSchedule(t, ctx, db, "time_spent", now, nil)
	old, err := repo.Start(dbc, sched.ID, now.Add(-3*time.Hour))
	if err != nil {
		t.Fatalf("Start old: %v", err)
	}
	fresh, err := repo.Start(dbc, sched.ID, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Start fresh: %v", err)
	}

	n, err := repo.ReapStale(dbc, now.Add(-time.Hour), now, "stale run reaped")
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	gotOld, _ := repo.Get(dbc, old.ID)
	gotFresh, _ := repo.Get(dbc, fresh.ID)
	if gotOld.Status != domain.RunStatusFailed || gotOld.Error != "stale run reaped" {
		t.Fatalf("old run not reaped: %+v", gotOld)
	}
	if gotFresh.Status != domain.RunStatusRunning {
		t.Fatalf("fresh run should still be running, got %s", gotFresh.Status)
	}
}

func TestRunRepoDeliverySettlesOnce(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewRunRepo(db, testutil.Logger(t))

	now := testutil.Now()
	sched := testutil.SeedSchedule(t, ctx, db, "course_completion", now, nil)
	run, err := repo.Start(dbc, sched.ID, now)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got, err := repo.GetByDispatchJob(dbc, "job-7"); err != nil || got != nil {
		t.Fatalf("expected no run for an unsubmitted job, got %+v (err %v)", got, err)
	}
	if ok, err := repo.SetDelivery(dbc, run.ID, domain.DeliveryDelivered, ""); err != nil || ok {
		t.Fatalf("delivery before submission: ok=%v err=%v", ok, err)
	}

	if err := repo.SetDispatch(dbc, run.ID, "job-7"); err != nil {
		t.Fatalf("SetDispatch: %v", err)
	}
	got, err := repo.GetByDispatchJob(dbc, "job-7")
	if err != nil || got == nil || got.ID != run.ID {
		t.Fatalf("GetByDispatchJob: %+v (err %v)", got, err)
	}
	if got.DeliveryStatus != domain.DeliverySubmitted {
		t.Fatalf("delivery status = %q", got.DeliveryStatus)
	}

	ok, err := repo.SetDelivery(dbc, run.ID, domain.DeliveryPartialFailure, "b@example.com: bounce")
	if err != nil || !ok {
		t.Fatalf("SetDelivery: ok=%v err=%v", ok, err)
	}
	ok, err = repo.SetDelivery(dbc, run.ID, domain.DeliveryDelivered, "")
	if err != nil {
		t.Fatalf("replayed SetDelivery: %v", err)
	}
	if ok {
		t.Fatalf("a settled delivery must not change on replay")
	}
	got, _ = repo.Get(dbc, run.ID)
	if got.DeliveryStatus != domain.DeliveryPartialFailure || got.DeliveryError != "b@example.com: bounce" {
		t.Fatalf("unexpected delivery: %q %q", got.DeliveryStatus, got.DeliveryError)
	}
}
