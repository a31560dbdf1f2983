package scorm

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/lms-insights/internal/domain/scorm"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type SummaryRepo interface {
	// Replace writes s over any existing (scorm, user) row.
	Replace(dbc dbctx.Context, s *scorm.Summary) error
	Get(dbc dbctx.Context, scormID, userID uuid.UUID) (*scorm.Summary, error)
	List(dbc dbctx.Context, scormID *uuid.UUID) ([]*scorm.Summary, error)
}

type summaryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSummaryRepo(db *gorm.DB, baseLog *logger.Logger) SummaryRepo {
	return &summaryRepo{db: db, log: baseLog.With("repo", "ScormSummaryRepo")}
}

func (r *summaryRepo) Replace(dbc dbctx.Context, s *scorm.Summary) error {
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "scorm_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"attempts",
				"completed",
				"total_seconds",
				"average_score",
				"last_access",
				"updated_at",
			}),
		}).
		Create(s).Error
}

func (r *summaryRepo) Get(dbc dbctx.Context, scormID, userID uuid.UUID) (*scorm.Summary, error) {
	var out scorm.Summary
	err := dbc.DB(r.db).
		Where("scorm_id = ? AND user_id = ?", scormID, userID).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *summaryRepo) List(dbc dbctx.Context, scormID *uuid.UUID) ([]*scorm.Summary, error) {
	var out []*scorm.Summary
	q := dbc.DB(r.db)
	if scormID != nil {
		q = q.Where("scorm_id = ?", *scormID)
	}
	err := q.Order("scorm_id, user_id").Find(&out).Error
	return out, err
}
