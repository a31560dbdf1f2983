package tracking

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is the open time-tracking block for one learner on one course.
// At most one exists per (user, course).
type Session struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_tracking_session_user_course,priority:1" json:"user_id"`
	CourseID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_tracking_session_user_course,priority:2" json:"course_id"`
	StartedAt       time.Time `gorm:"column:started_at;not null" json:"started_at"`
	LastHeartbeatAt time.Time `gorm:"column:last_heartbeat_at;not null;index" json:"last_heartbeat_at"`
	DurationSeconds int64     `gorm:"column:duration_seconds;not null;default:0" json:"duration_seconds"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Session) TableName() string { return "tracking_session" }

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// DailySummary is the per-day rollup of closed sessions. Day is midnight UTC.
type DailySummary struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_tracking_daily_user_course_day,priority:1" json:"user_id"`
	CourseID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_tracking_daily_user_course_day,priority:2;index" json:"course_id"`
	Day          time.Time `gorm:"column:day;not null;uniqueIndex:ux_tracking_daily_user_course_day,priority:3" json:"day"`
	TotalSeconds int64     `gorm:"column:total_seconds;not null;default:0" json:"total_seconds"`
	SessionCount int       `gorm:"column:session_count;not null;default:0" json:"session_count"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DailySummary) TableName() string { return "tracking_daily_summary" }

func (d *DailySummary) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
