package reporting

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/domain/reporting"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type CustomReportRepo interface {
	Create(dbc dbctx.Context, c *reporting.CustomReport) error
	Get(dbc dbctx.Context, id uuid.UUID) (*reporting.CustomReport, error)
}

type customReportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCustomReportRepo(db *gorm.DB, baseLog *logger.Logger) CustomReportRepo {
	return &customReportRepo{db: db, log: baseLog.With("repo", "CustomReportRepo")}
}

func (r *customReportRepo) Create(dbc dbctx.Context, c *reporting.CustomReport) error {
	return dbc.DB(r.db).Create(c).Error
}

func (r *customReportRepo) Get(dbc dbctx.Context, id uuid.UUID) (*reporting.CustomReport, error) {
	var out reporting.CustomReport
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}
