package reminders

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/domain/reminders"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type JobRepo interface {
	Create(dbc dbctx.Context, rows []*reminders.Job) error
	ListByInstance(dbc dbctx.Context, instanceID uuid.UUID) ([]*reminders.Job, error)
	ListByMessage(dbc dbctx.Context, messageID string) ([]*reminders.Job, error)
	ListSince(dbc dbctx.Context, since time.Time) ([]*reminders.Job, error)
	// SetStatus moves the given rows to status, skipping any that already
	// left submitted.
	SetStatus(dbc dbctx.Context, ids []uuid.UUID, status, errText string, at time.Time) (int, error)
	DeleteOlderThan(dbc dbctx.Context, cutoff time.Time) (int, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "ReminderJobRepo")}
}

func (r *jobRepo) Create(dbc dbctx.Context, rows []*reminders.Job) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&rows).Error
}

func (r *jobRepo) ListByInstance(dbc dbctx.Context, instanceID uuid.UUID) ([]*reminders.Job, error) {
	var out []*reminders.Job
	err := dbc.DB(r.db).
		Where("instance_id = ?", instanceID).
		Order("last_attempt_at ASC").
		Find(&out).Error
	return out, err
}

func (r *jobRepo) ListByMessage(dbc dbctx.Context, messageID string) ([]*reminders.Job, error) {
	var out []*reminders.Job
	err := dbc.DB(r.db).Where("message_id = ?", messageID).Find(&out).Error
	return out, err
}

func (r *jobRepo) ListSince(dbc dbctx.Context, since time.Time) ([]*reminders.Job, error) {
	var out []*reminders.Job
	err := dbc.DB(r.db).
		Where("last_attempt_at >= ?", since.UTC()).
		Order("last_attempt_at ASC").
		Find(&out).Error
	return out, err
}

func (r *jobRepo) SetStatus(dbc dbctx.Context, ids []uuid.UUID, status, errText string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).
		Model(&reminders.Job{}).
		Where("id IN ? AND status = ?", ids, reminders.JobStatusSubmitted).
		Updates(map[string]interface{}{
			"status":          status,
			"error":           errText,
			"last_attempt_at": at.UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *jobRepo) DeleteOlderThan(dbc dbctx.Context, cutoff time.Time) (int, error) {
	res := dbc.DB(r.db).Where("last_attempt_at < ?", cutoff.UTC()).Delete(&reminders.Job{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
