package scorm

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/domain/scorm"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

// Learner identifies one (activity, user) pair with track data.
type Learner struct {
	ScormID uuid.UUID
	UserID  uuid.UUID
}

type TrackRepo interface {
	Create(dbc dbctx.Context, rows []*scorm.Track) error
	// ListTouchedSince returns the distinct learners with any track modified
	// strictly after since. scormID nil means every activity.
	ListTouchedSince(dbc dbctx.Context, scormID *uuid.UUID, since time.Time) ([]Learner, error)
	ListForLearner(dbc dbctx.Context, scormID, userID uuid.UUID) ([]*scorm.Track, error)
	// Latest returns the most recently modified track after since, or nil.
	Latest(dbc dbctx.Context, scormID *uuid.UUID, since time.Time) (*scorm.Track, error)
}

type trackRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTrackRepo(db *gorm.DB, baseLog *logger.Logger) TrackRepo {
	return &trackRepo{db: db, log: baseLog.With("repo", "ScormTrackRepo")}
}

func (r *trackRepo) Create(dbc dbctx.Context, rows []*scorm.Track) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&rows).Error
}

func (r *trackRepo) ListTouchedSince(dbc dbctx.Context, scormID *uuid.UUID, since time.Time) ([]Learner, error) {
	var out []Learner
	q := dbc.DB(r.db).
		Model(&scorm.Track{}).
		Distinct("scorm_id", "user_id").
		Where("time_modified > ?", since.UTC())
	if scormID != nil {
		q = q.Where("scorm_id = ?", *scormID)
	}
	if err := q.Order("scorm_id, user_id").Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *trackRepo) ListForLearner(dbc dbctx.Context, scormID, userID uuid.UUID) ([]*scorm.Track, error) {
	var out []*scorm.Track
	err := dbc.DB(r.db).
		Where("scorm_id = ? AND user_id = ?", scormID, userID).
		Order("attempt ASC, time_modified ASC").
		Find(&out).Error
	return out, err
}

func (r *trackRepo) Latest(dbc dbctx.Context, scormID *uuid.UUID, since time.Time) (*scorm.Track, error) {
	var out scorm.Track
	q := dbc.DB(r.db).Where("time_modified > ?", since.UTC())
	if scormID != nil {
		q = q.Where("scorm_id = ?", *scormID)
	}
	if err := q.Order("time_modified DESC").Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}
