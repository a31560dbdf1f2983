package reporting

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/domain/reporting"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type RunRepo interface {
	Start(dbc dbctx.Context, scheduleID uuid.UUID, at time.Time) (*reporting.Run, error)
	// Finish moves a running row to its terminal status. It reports false
	// when the row had already left running.
	Finish(dbc dbctx.Context, id uuid.UUID, status string, endedAt time.Time, records int, errText string) (bool, error)
	// ReapStale fails every run still running that started before cutoff.
	ReapStale(dbc dbctx.Context, cutoff, now time.Time, reason string) (int, error)
	// SetDispatch records the cloud job that carries the run's delivery.
	SetDispatch(dbc dbctx.Context, id uuid.UUID, jobID string) error
	// GetByDispatchJob returns nil when no run carries jobID.
	GetByDispatchJob(dbc dbctx.Context, jobID string) (*reporting.Run, error)
	// SetDelivery settles a submitted delivery. It reports false when the
	// delivery was already settled.
	SetDelivery(dbc dbctx.Context, id uuid.UUID, status, errText string) (bool, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*reporting.Run, error)
	ListForSchedule(dbc dbctx.Context, scheduleID uuid.UUID, limit int) ([]*reporting.Run, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{db: db, log: baseLog.With("repo", "ReportRunRepo")}
}

func (r *runRepo) Start(dbc dbctx.Context, scheduleID uuid.UUID, at time.Time) (*reporting.Run, error) {
	run := &reporting.Run{
		ScheduleID: scheduleID,
		Status:     reporting.RunStatusRunning,
		StartedAt:  at.UTC(),
	}
	if err := dbc.DB(r.db).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *runRepo) Finish(dbc dbctx.Context, id uuid.UUID, status string, endedAt time.Time, records int, errText string) (bool, error) {
	var run reporting.Run
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&run).Error; err != nil {
		return false, err
	}
	if run.ID == uuid.Nil {
		return false, gorm.ErrRecordNotFound
	}
	ended := endedAt.UTC()
	res := dbc.DB(r.db).
		Model(&reporting.Run{}).
		Where("id = ? AND status = ?", id, reporting.RunStatusRunning).
		Updates(map[string]interface{}{
			"status":       status,
			"ended_at":     ended,
			"duration_ms":  ended.Sub(run.StartedAt).Milliseconds(),
			"record_count": records,
			"error":        errText,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *runRepo) ReapStale(dbc dbctx.Context, cutoff, now time.Time, reason string) (int, error) {
	res := dbc.DB(r.db).
		Model(&reporting.Run{}).
		Where("status = ? AND started_at < ?", reporting.RunStatusRunning, cutoff.UTC()).
		Updates(map[string]interface{}{
			"status":   reporting.RunStatusFailed,
			"ended_at": now.UTC(),
			"error":    reason,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *runRepo) SetDispatch(dbc dbctx.Context, id uuid.UUID, jobID string) error {
	return dbc.DB(r.db).
		Model(&reporting.Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"dispatch_job_id": jobID,
			"delivery_status": reporting.DeliverySubmitted,
		}).Error
}

func (r *runRepo) GetByDispatchJob(dbc dbctx.Context, jobID string) (*reporting.Run, error) {
	var out reporting.Run
	if err := dbc.DB(r.db).Where("dispatch_job_id = ?", jobID).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *runRepo) SetDelivery(dbc dbctx.Context, id uuid.UUID, status, errText string) (bool, error) {
	res := dbc.DB(r.db).
		Model(&reporting.Run{}).
		Where("id = ? AND delivery_status = ?", id, reporting.DeliverySubmitted).
		Updates(map[string]interface{}{
			"delivery_status": status,
			"delivery_error":  errText,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *runRepo) Get(dbc dbctx.Context, id uuid.UUID) (*reporting.Run, error) {
	var out reporting.Run
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *runRepo) ListForSchedule(dbc dbctx.Context, scheduleID uuid.UUID, limit int) ([]*reporting.Run, error) {
	var out []*reporting.Run
	q := dbc.DB(r.db).Where("schedule_id = ?", scheduleID).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
