package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/data/repos/testutil"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
)

type fakeAccess struct {
	allowed bool
}

func (f fakeAccess) IsEnrolled(dbctx.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return f.allowed, nil
}

func newTestTracker(t *testing.T, cfg Config, access EnrollmentChecker) (*Tracker, repos.Set) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	set := repos.NewSet(db, log)
	return NewTracker(db, log, cfg, set.Session, set.DailySummary, access), set
}

func testConfig() Config {
	return Config{Enabled: true, SessionTimeout: 30 * time.Minute, CloseBatchSize: 100}
}

func TestRecordHeartbeatAccumulatesWithinTimeout(t *testing.T) {
	tr, set := newTestTracker(t, testConfig(), fakeAccess{allowed: true})
	ctx := context.Background()
	userID, courseID := uuid.New(), uuid.New()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for _, off := range []time.Duration{0, 60 * time.Second, 120 * time.Second} {
		if err := tr.RecordHeartbeat(ctx, userID, courseID, start.Add(off)); err != nil {
			t.Fatalf("heartbeat +%s: %v", off, err)
		}
	}
	// Replayed and out-of-order pings contribute nothing.
	if err := tr.RecordHeartbeat(ctx, userID, courseID, start.Add(60*time.Second)); err != nil {
		t.Fatalf("replayed heartbeat: %v", err)
	}

	sess, err := set.Session.GetOpen(dbctx.From(ctx), userID, courseID)
	if err != nil || sess == nil {
		t.Fatalf("GetOpen: sess=%v err=%v", sess, err)
	}
	if sess.DurationSeconds != 120 {
		t.Fatalf("expected 120s, got %d", sess.DurationSeconds)
	}

	tr.now = func() time.Time { return start.Add(2*time.Minute + 31*time.Minute) }
	closed, err := tr.CloseIdleSessions(ctx)
	if err != nil {
		t.Fatalf("CloseIdleSessions: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected 1 closed, got %d", closed)
	}
	rows, err := set.DailySummary.ListForUser(dbctx.From(ctx), userID, start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(rows) != 1 || rows[0].TotalSeconds != 120 || rows[0].SessionCount != 1 {
		t.Fatalf("unexpected summaries: %+v", rows)
	}
	if sess, _ := set.Session.GetOpen(dbctx.From(ctx), userID, courseID); sess != nil {
		t.Fatalf("closed session should be deleted")
	}
}

func TestRecordHeartbeatGapStartsNewSession(t *testing.T) {
	tr, set := newTestTracker(t, testConfig(), fakeAccess{allowed: true})
	ctx := context.Background()
	userID, courseID := uuid.New(), uuid.New()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	if err := tr.RecordHeartbeat(ctx, userID, courseID, start); err != nil {
		t.Fatalf("first heartbeat: %v", err)
	}
	later := start.Add(2 * time.Hour)
	if err := tr.RecordHeartbeat(ctx, userID, courseID, later); err != nil {
		t.Fatalf("second heartbeat: %v", err)
	}

	rows, err := set.DailySummary.ListForUser(dbctx.From(ctx), userID, start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected the first session folded into one summary, got %d", len(rows))
	}
	if rows[0].TotalSeconds != 0 || rows[0].SessionCount != 1 {
		t.Fatalf("expected 0s/1 session, got %ds/%d", rows[0].TotalSeconds, rows[0].SessionCount)
	}

	sess, err := set.Session.GetOpen(dbctx.From(ctx), userID, courseID)
	if err != nil || sess == nil {
		t.Fatalf("new session missing: %v", err)
	}
	if !sess.StartedAt.Equal(later) || sess.DurationSeconds != 0 {
		t.Fatalf("new session should start at %v with 0s, got %v/%d", later, sess.StartedAt, sess.DurationSeconds)
	}
}

func TestRecordHeartbeatGuards(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Enabled = false
	tr, _ := newTestTracker(t, cfg, fakeAccess{allowed: true})
	if err := tr.RecordHeartbeat(ctx, uuid.New(), uuid.New(), time.Now()); !errors.Is(err, ErrTrackingDisabled) {
		t.Fatalf("expected ErrTrackingDisabled, got %v", err)
	}

	tr, _ = newTestTracker(t, testConfig(), fakeAccess{allowed: false})
	if err := tr.RecordHeartbeat(ctx, uuid.New(), uuid.New(), time.Now()); !errors.Is(err, ErrNoCourseAccess) {
		t.Fatalf("expected ErrNoCourseAccess, got %v", err)
	}
}

func TestCloseIdleSessionsLeavesActiveSessions(t *testing.T) {
	tr, _ := newTestTracker(t, testConfig(), fakeAccess{allowed: true})
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := tr.RecordHeartbeat(ctx, uuid.New(), uuid.New(), now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	tr.now = func() time.Time { return now }
	closed, err := tr.CloseIdleSessions(ctx)
	if err != nil {
		t.Fatalf("CloseIdleSessions: %v", err)
	}
	if closed != 0 {
		t.Fatalf("active session should stay open, closed %d", closed)
	}
}
