package reminders

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/domain/reminders"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type TemplateRepo interface {
	Create(dbc dbctx.Context, t *reminders.Template) error
	Get(dbc dbctx.Context, id uuid.UUID) (*reminders.Template, error)
}

type templateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTemplateRepo(db *gorm.DB, baseLog *logger.Logger) TemplateRepo {
	return &templateRepo{db: db, log: baseLog.With("repo", "ReminderTemplateRepo")}
}

func (r *templateRepo) Create(dbc dbctx.Context, t *reminders.Template) error {
	return dbc.DB(r.db).Create(t).Error
}

func (r *templateRepo) Get(dbc dbctx.Context, id uuid.UUID) (*reminders.Template, error) {
	var out reminders.Template
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}
