package reporting

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/domain/reporting"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type RecipientRepo interface {
	Create(dbc dbctx.Context, rows []*reporting.Recipient) error
	ListBySchedule(dbc dbctx.Context, scheduleID uuid.UUID) ([]*reporting.Recipient, error)
}

type recipientRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecipientRepo(db *gorm.DB, baseLog *logger.Logger) RecipientRepo {
	return &recipientRepo{db: db, log: baseLog.With("repo", "ReportRecipientRepo")}
}

func (r *recipientRepo) Create(dbc dbctx.Context, rows []*reporting.Recipient) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&rows).Error
}

func (r *recipientRepo) ListBySchedule(dbc dbctx.Context, scheduleID uuid.UUID) ([]*reporting.Recipient, error) {
	var out []*reporting.Recipient
	err := dbc.DB(r.db).Where("schedule_id = ?", scheduleID).Order("email ASC").Find(&out).Error
	return out, err
}
