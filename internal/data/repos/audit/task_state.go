package audit

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/lms-insights/internal/domain/audit"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type TaskStateRepo interface {
	// Watermark returns the stored watermark, or the zero time when unset.
	Watermark(dbc dbctx.Context, taskName string) (time.Time, error)
	SetWatermark(dbc dbctx.Context, taskName string, at time.Time) error
}

type taskStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskStateRepo(db *gorm.DB, baseLog *logger.Logger) TaskStateRepo {
	return &taskStateRepo{db: db, log: baseLog.With("repo", "TaskStateRepo")}
}

func (r *taskStateRepo) Watermark(dbc dbctx.Context, taskName string) (time.Time, error) {
	var rows []*audit.TaskState
	if err := dbc.DB(r.db).Where("task_name = ?", taskName).Limit(1).Find(&rows).Error; err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	return rows[0].Watermark.UTC(), nil
}

func (r *taskStateRepo) SetWatermark(dbc dbctx.Context, taskName string, at time.Time) error {
	row := &audit.TaskState{TaskName: taskName, Watermark: at.UTC(), UpdatedAt: time.Now().UTC()}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"watermark", "updated_at"}),
		}).
		Create(row).Error
}
