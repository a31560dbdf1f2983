package reporting

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/domain/reporting"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type ScheduleRepo interface {
	Create(dbc dbctx.Context, s *reporting.Schedule) error
	Get(dbc dbctx.Context, id uuid.UUID) (*reporting.Schedule, error)
	// ListDue returns enabled schedules with next_run_at <= now, oldest first.
	ListDue(dbc dbctx.Context, now time.Time, limit int) ([]*reporting.Schedule, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type scheduleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScheduleRepo(db *gorm.DB, baseLog *logger.Logger) ScheduleRepo {
	return &scheduleRepo{db: db, log: baseLog.With("repo", "ReportScheduleRepo")}
}

func (r *scheduleRepo) Create(dbc dbctx.Context, s *reporting.Schedule) error {
	return dbc.DB(r.db).Create(s).Error
}

func (r *scheduleRepo) Get(dbc dbctx.Context, id uuid.UUID) (*reporting.Schedule, error) {
	var out reporting.Schedule
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *scheduleRepo) ListDue(dbc dbctx.Context, now time.Time, limit int) ([]*reporting.Schedule, error) {
	var out []*reporting.Schedule
	q := dbc.DB(r.db).
		Where("enabled = ? AND next_run_at <= ?", true, now.UTC()).
		Order("next_run_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *scheduleRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).
		Model(&reporting.Schedule{}).
		Where("id = ?", id).
		Updates(updates).Error
}
