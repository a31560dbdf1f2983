package reminders

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/domain/reminders"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type RuleRepo interface {
	Create(dbc dbctx.Context, rule *reminders.Rule) error
	Get(dbc dbctx.Context, id uuid.UUID) (*reminders.Rule, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*reminders.Rule, error)
	ListEnabled(dbc dbctx.Context) ([]*reminders.Rule, error)
}

type ruleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRuleRepo(db *gorm.DB, baseLog *logger.Logger) RuleRepo {
	return &ruleRepo{db: db, log: baseLog.With("repo", "ReminderRuleRepo")}
}

func (r *ruleRepo) Create(dbc dbctx.Context, rule *reminders.Rule) error {
	return dbc.DB(r.db).Create(rule).Error
}

func (r *ruleRepo) Get(dbc dbctx.Context, id uuid.UUID) (*reminders.Rule, error) {
	var out reminders.Rule
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *ruleRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*reminders.Rule, error) {
	var out []*reminders.Rule
	if len(ids) == 0 {
		return out, nil
	}
	err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

func (r *ruleRepo) ListEnabled(dbc dbctx.Context) ([]*reminders.Rule, error) {
	var out []*reminders.Rule
	err := dbc.DB(r.db).Where("enabled = ?", true).Order("created_at ASC").Find(&out).Error
	return out, err
}
