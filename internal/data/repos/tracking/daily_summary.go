package tracking

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/lms-insights/internal/domain/tracking"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type DailySummaryRepo interface {
	// AddSession folds one closed session into the (user, course, day) row,
	// inserting it on first use.
	AddSession(dbc dbctx.Context, userID, courseID uuid.UUID, day time.Time, seconds int64) error
	ListForUser(dbc dbctx.Context, userID uuid.UUID, from, to time.Time) ([]*tracking.DailySummary, error)
	ListSince(dbc dbctx.Context, from time.Time, courseID *uuid.UUID) ([]*tracking.DailySummary, error)
}

type dailySummaryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDailySummaryRepo(db *gorm.DB, baseLog *logger.Logger) DailySummaryRepo {
	return &dailySummaryRepo{db: db, log: baseLog.With("repo", "DailySummaryRepo")}
}

func (r *dailySummaryRepo) AddSession(dbc dbctx.Context, userID, courseID uuid.UUID, day time.Time, seconds int64) error {
	if seconds < 0 {
		seconds = 0
	}
	row := &tracking.DailySummary{
		UserID:       userID,
		CourseID:     courseID,
		Day:          tracking.DayOf(day),
		TotalSeconds: seconds,
		SessionCount: 1,
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "course_id"}, {Name: "day"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_seconds": gorm.Expr("tracking_daily_summary.total_seconds + excluded.total_seconds"),
				"session_count": gorm.Expr("tracking_daily_summary.session_count + 1"),
				"updated_at":    time.Now().UTC(),
			}),
		}).
		Create(row).Error
}

func (r *dailySummaryRepo) ListForUser(dbc dbctx.Context, userID uuid.UUID, from, to time.Time) ([]*tracking.DailySummary, error) {
	var out []*tracking.DailySummary
	err := dbc.DB(r.db).
		Where("user_id = ? AND day >= ? AND day < ?", userID, tracking.DayOf(from), to.UTC()).
		Order("day ASC").
		Find(&out).Error
	return out, err
}

func (r *dailySummaryRepo) ListSince(dbc dbctx.Context, from time.Time, courseID *uuid.UUID) ([]*tracking.DailySummary, error) {
	var out []*tracking.DailySummary
	q := dbc.DB(r.db).Where("day >= ?", tracking.DayOf(from))
	if courseID != nil {
		q = q.Where("course_id = ?", *courseID)
	}
	err := q.Order("day ASC").Find(&out).Error
	return out, err
}
