package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FailedJob is written whenever a periodic task pass fails before or outside
// its per-item loop.
type FailedJob struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TaskName    string     `gorm:"column:task_name;not null;index" json:"task_name"`
	Error       string     `gorm:"column:error;not null" json:"error"`
	Stack       string     `gorm:"column:stack" json:"stack,omitempty"`
	FailedAt    time.Time  `gorm:"column:failed_at;not null;index" json:"failed_at"`
	RetryCount  int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastRetryAt *time.Time `gorm:"column:last_retry_at" json:"last_retry_at,omitempty"`
}

func (FailedJob) TableName() string { return "failed_job" }

func (f *FailedJob) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// TaskState persists a per-task watermark between passes.
type TaskState struct {
	TaskName  string    `gorm:"column:task_name;primaryKey" json:"task_name"`
	Watermark time.Time `gorm:"column:watermark;not null" json:"watermark"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TaskState) TableName() string { return "task_state" }
