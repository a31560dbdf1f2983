package tracking

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/lms-insights/internal/domain/tracking"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type SessionRepo interface {
	GetOpen(dbc dbctx.Context, userID, courseID uuid.UUID) (*tracking.Session, error)
	// CreateIfAbsent inserts a session unless one already exists for the
	// (user, course) pair. It reports whether the row was inserted.
	CreateIfAbsent(dbc dbctx.Context, s *tracking.Session) (bool, error)
	// Extend moves the heartbeat to ts and sets the session duration. It only
	// applies when the stored heartbeat is still older than ts.
	Extend(dbc dbctx.Context, id uuid.UUID, ts time.Time, durationSeconds int64) (bool, error)
	ListIdle(dbc dbctx.Context, cutoff time.Time, limit int) ([]*tracking.Session, error)
	// DeleteIfLastBefore removes the session only if its heartbeat is still
	// at or before last, so a concurrent heartbeat wins over a close.
	DeleteIfLastBefore(dbc dbctx.Context, id uuid.UUID, last time.Time) (bool, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (r *sessionRepo) GetOpen(dbc dbctx.Context, userID, courseID uuid.UUID) (*tracking.Session, error) {
	var out tracking.Session
	err := dbc.DB(r.db).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *sessionRepo) CreateIfAbsent(dbc dbctx.Context, s *tracking.Session) (bool, error) {
	if s == nil {
		return false, errors.New("session required")
	}
	res := dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
			DoNothing: true,
		}).
		Create(s)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *sessionRepo) Extend(dbc dbctx.Context, id uuid.UUID, ts time.Time, durationSeconds int64) (bool, error) {
	res := dbc.DB(r.db).
		Model(&tracking.Session{}).
		Where("id = ? AND last_heartbeat_at < ?", id, ts.UTC()).
		Updates(map[string]interface{}{
			"last_heartbeat_at": ts.UTC(),
			"duration_seconds":  durationSeconds,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *sessionRepo) ListIdle(dbc dbctx.Context, cutoff time.Time, limit int) ([]*tracking.Session, error) {
	var out []*tracking.Session
	q := dbc.DB(r.db).
		Where("last_heartbeat_at < ?", cutoff.UTC()).
		Order("last_heartbeat_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepo) DeleteIfLastBefore(dbc dbctx.Context, id uuid.UUID, last time.Time) (bool, error) {
	res := dbc.DB(r.db).
		Where("id = ? AND last_heartbeat_at <= ?", id, last.UTC()).
		Delete(&tracking.Session{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
