package audit

import (
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/domain/audit"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type FailedJobRepo interface {
	Create(dbc dbctx.Context, row *audit.FailedJob) error
	ListByTask(dbc dbctx.Context, taskName string, limit int) ([]*audit.FailedJob, error)
	DeleteOlderThan(dbc dbctx.Context, cutoff time.Time) (int, error)
}

type failedJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFailedJobRepo(db *gorm.DB, baseLog *logger.Logger) FailedJobRepo {
	return &failedJobRepo{db: db, log: baseLog.With("repo", "FailedJobRepo")}
}

func (r *failedJobRepo) Create(dbc dbctx.Context, row *audit.FailedJob) error {
	if row.FailedAt.IsZero() {
		row.FailedAt = time.Now().UTC()
	}
	return dbc.DB(r.db).Create(row).Error
}

func (r *failedJobRepo) ListByTask(dbc dbctx.Context, taskName string, limit int) ([]*audit.FailedJob, error) {
	var out []*audit.FailedJob
	q := dbc.DB(r.db).Where("task_name = ?", taskName).Order("failed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *failedJobRepo) DeleteOlderThan(dbc dbctx.Context, cutoff time.Time) (int, error) {
	res := dbc.DB(r.db).Where("failed_at < ?", cutoff.UTC()).Delete(&audit.FailedJob{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
