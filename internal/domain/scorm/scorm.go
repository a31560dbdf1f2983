package scorm

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Track is one raw CMI element value written by the host player.
type Track struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ScormID      uuid.UUID `gorm:"type:uuid;not null;index:idx_scorm_track_scorm_modified,priority:1" json:"scorm_id"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Attempt      int       `gorm:"column:attempt;not null;default:1" json:"attempt"`
	Element      string    `gorm:"column:element;not null" json:"element"`
	Value        string    `gorm:"column:value" json:"value"`
	TimeModified time.Time `gorm:"column:time_modified;not null;index:idx_scorm_track_scorm_modified,priority:2" json:"time_modified"`
}

func (Track) TableName() string { return "scorm_track" }

func (t *Track) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Summary is the recomputed per-learner rollup of a SCORM activity.
// Rows are always replaced wholesale, never incremented.
type Summary struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ScormID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:ux_scorm_summary_scorm_user,priority:1" json:"scorm_id"`
	UserID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:ux_scorm_summary_scorm_user,priority:2" json:"user_id"`
	Attempts     int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Completed    bool       `gorm:"column:completed;not null;default:false" json:"completed"`
	TotalSeconds int64      `gorm:"column:total_seconds;not null;default:0" json:"total_seconds"`
	AverageScore *float64   `gorm:"column:average_score" json:"average_score,omitempty"`
	LastAccess   *time.Time `gorm:"column:last_access" json:"last_access,omitempty"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Summary) TableName() string { return "scorm_summary" }

func (s *Summary) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// CMI element names across SCORM 1.2 and 2004.
const (
	ElementLessonStatus     = "cmi.core.lesson_status"
	ElementCompletionStatus = "cmi.completion_status"
	ElementSuccessStatus    = "cmi.success_status"
	ElementScoreRaw12       = "cmi.core.score.raw"
	ElementScoreRaw2004     = "cmi.score.raw"
	ElementTotalTime12      = "cmi.core.total_time"
	ElementTotalTime2004    = "cmi.total_time"
)
