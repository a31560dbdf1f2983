package reporting

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

const (
	ChannelLocal = "local"
	ChannelCloud = "cloud"
)

// Delivery states of a run handed to cloud dispatch. Local runs leave the
// delivery fields empty.
const (
	DeliverySubmitted      = "submitted"
	DeliveryDelivered      = "delivered"
	DeliveryPartialFailure = "partial_failure"
	DeliveryFailed         = "failed"
)

// Schedule is a recurring delivery of one report to a fixed recipient list.
// Exactly one of ReportKind (prebuilt) or CustomReportID identifies the report.
type Schedule struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name                string     `gorm:"column:name;not null" json:"name"`
	ReportKind          string     `gorm:"column:report_kind;not null;index" json:"report_kind"`
	CustomReportID      *uuid.UUID `gorm:"type:uuid;column:custom_report_id;index" json:"custom_report_id,omitempty"`
	CourseID            *uuid.UUID `gorm:"type:uuid;column:course_id" json:"course_id,omitempty"`
	Recurrence          string     `gorm:"column:recurrence;not null" json:"recurrence"`
	Format              string     `gorm:"column:format;not null;default:'csv'" json:"format"`
	Channel             string     `gorm:"column:channel;not null;default:'local'" json:"channel"`
	Enabled             bool       `gorm:"column:enabled;not null;index:idx_report_schedule_due,priority:1" json:"enabled"`
	LastRunAt           *time.Time `gorm:"column:last_run_at" json:"last_run_at,omitempty"`
	NextRunAt           time.Time  `gorm:"column:next_run_at;not null;index:idx_report_schedule_due,priority:2" json:"next_run_at"`
	ConsecutiveFailures int        `gorm:"column:consecutive_failures;not null;default:0" json:"consecutive_failures"`
	LastError           string     `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Schedule) TableName() string { return "report_schedule" }

func (s *Schedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Run audits one execution attempt of a Schedule.
type Run struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ScheduleID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"schedule_id"`
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	StartedAt   time.Time  `gorm:"column:started_at;not null;index" json:"started_at"`
	EndedAt     *time.Time `gorm:"column:ended_at" json:"ended_at,omitempty"`
	DurationMS  int64      `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	RecordCount int        `gorm:"column:record_count;not null;default:0" json:"record_count"`
	Error       string     `gorm:"column:error" json:"error,omitempty"`

	DispatchJobID  string `gorm:"column:dispatch_job_id;index" json:"dispatch_job_id,omitempty"`
	DeliveryStatus string `gorm:"column:delivery_status" json:"delivery_status,omitempty"`
	DeliveryError  string `gorm:"column:delivery_error" json:"delivery_error,omitempty"`
}

func (Run) TableName() string { return "report_run" }

func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

type Recipient struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ScheduleID uuid.UUID `gorm:"type:uuid;not null;index" json:"schedule_id"`
	Email      string    `gorm:"column:email;not null" json:"email"`
}

func (Recipient) TableName() string { return "report_recipient" }

func (r *Recipient) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// CustomReport is a user-built report definition. Definition holds a
// CustomDefinition as JSON.
type CustomReport struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string         `gorm:"column:name;not null" json:"name"`
	Definition datatypes.JSON `gorm:"column:definition;type:jsonb;not null" json:"definition"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CustomReport) TableName() string { return "custom_report" }

func (c *CustomReport) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

type CustomDefinition struct {
	Source   string     `json:"source"`
	Columns  []string   `json:"columns,omitempty"`
	CourseID *uuid.UUID `json:"course_id,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}

// CacheEntry is a keyed, TTL-bound pre-aggregated payload.
type CacheEntry struct {
	Key             string         `gorm:"column:cache_key;primaryKey" json:"key"`
	Payload         datatypes.JSON `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	LastGeneratedAt time.Time      `gorm:"column:last_generated_at;not null;index" json:"last_generated_at"`
	TTLSeconds      int64          `gorm:"column:ttl_seconds;not null" json:"ttl_seconds"`
}

func (CacheEntry) TableName() string { return "report_cache" }

// Valid reports whether the entry is still fresh at now.
func (e CacheEntry) Valid(now time.Time) bool {
	return now.Sub(e.LastGeneratedAt) <= time.Duration(e.TTLSeconds)*time.Second
}
