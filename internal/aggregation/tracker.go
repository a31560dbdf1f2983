package aggregation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/domain/tracking"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

var (
	ErrTrackingDisabled = errors.New("time tracking disabled")
	ErrNoCourseAccess   = errors.New("no access to course")
)

// EnrollmentChecker answers whether a learner may record time on a course.
type EnrollmentChecker interface {
	IsEnrolled(dbc dbctx.Context, userID, courseID uuid.UUID) (bool, error)
}

type Tracker struct {
	db        *gorm.DB
	log       *logger.Logger
	cfg       Config
	sessions  repos.SessionRepo
	summaries repos.DailySummaryRepo
	access    EnrollmentChecker
	now       func() time.Time
}

func NewTracker(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg Config,
	sessions repos.SessionRepo,
	summaries repos.DailySummaryRepo,
	access EnrollmentChecker,
) *Tracker {
	return &Tracker{
		db:        db,
		log:       baseLog.With("component", "Tracker"),
		cfg:       cfg,
		sessions:  sessions,
		summaries: summaries,
		access:    access,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordHeartbeat folds one activity ping into the learner's open session.
// Out-of-order and duplicate pings are ignored. A gap longer than the
// session timeout closes the old session into its daily summary and starts
// a new one at ts.
func (t *Tracker) RecordHeartbeat(ctx context.Context, userID, courseID uuid.UUID, ts time.Time) error {
	if !t.cfg.Enabled {
		return ErrTrackingDisabled
	}
	if ts.IsZero() {
		ts = t.now()
	}
	ts = ts.UTC()

	ok, err := t.access.IsEnrolled(dbctx.From(ctx), userID, courseID)
	if err != nil {
		return fmt.Errorf("check enrolment: %w", err)
	}
	if !ok {
		return ErrNoCourseAccess
	}

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		sess, err := t.sessions.GetOpen(dbc, userID, courseID)
		if err != nil {
			return err
		}
		if sess == nil {
			created, err := t.sessions.CreateIfAbsent(dbc, newSession(userID, courseID, ts))
			if err != nil || created {
				return err
			}
			// Lost an insert race; continue with the winner's row.
			if sess, err = t.sessions.GetOpen(dbc, userID, courseID); err != nil {
				return err
			}
			if sess == nil {
				return fmt.Errorf("session for user %s course %s vanished", userID, courseID)
			}
		}

		delta := ts.Sub(sess.LastHeartbeatAt)
		switch {
		case delta <= 0:
			return nil
		case delta <= t.cfg.SessionTimeout:
			_, err := t.sessions.Extend(dbc, sess.ID, ts, int64(ts.Sub(sess.StartedAt)/time.Second))
			return err
		default:
			if err := t.closeSession(dbc, sess); err != nil {
				return err
			}
			_, err := t.sessions.CreateIfAbsent(dbc, newSession(userID, courseID, ts))
			return err
		}
	})
}

// CloseIdleSessions folds every session idle past the timeout into its
// daily summary and deletes it. It returns the number closed.
func (t *Tracker) CloseIdleSessions(ctx context.Context) (int, error) {
	cutoff := t.now().Add(-t.cfg.SessionTimeout)
	idle, err := t.sessions.ListIdle(dbctx.From(ctx), cutoff, t.cfg.CloseBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list idle sessions: %w", err)
	}

	closed := 0
	for _, sess := range idle {
		var done bool
		err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			dbc := dbctx.Context{Ctx: ctx, Tx: tx}
			deleted, err := t.sessions.DeleteIfLastBefore(dbc, sess.ID, sess.LastHeartbeatAt)
			if err != nil || !deleted {
				return err
			}
			if err := t.summaries.AddSession(dbc, sess.UserID, sess.CourseID, sess.StartedAt, sess.DurationSeconds); err != nil {
				return err
			}
			done = true
			return nil
		})
		if err != nil {
			t.log.Warn("Close session failed", "session_id", sess.ID, "error", err)
			continue
		}
		if done {
			closed++
		}
	}
	if closed > 0 {
		t.log.Info("Closed idle sessions", "closed", closed, "candidates", len(idle))
	}
	return closed, nil
}

func (t *Tracker) closeSession(dbc dbctx.Context, sess *tracking.Session) error {
	deleted, err := t.sessions.DeleteIfLastBefore(dbc, sess.ID, sess.LastHeartbeatAt)
	if err != nil || !deleted {
		return err
	}
	return t.summaries.AddSession(dbc, sess.UserID, sess.CourseID, sess.StartedAt, sess.DurationSeconds)
}

func newSession(userID, courseID uuid.UUID, ts time.Time) *tracking.Session {
	return &tracking.Session{
		UserID:          userID,
		CourseID:        courseID,
		StartedAt:       ts,
		LastHeartbeatAt: ts,
	}
}
