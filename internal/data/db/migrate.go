package db

import (
	"github.com/yungbote/lms-insights/internal/domain/audit"
	"github.com/yungbote/lms-insights/internal/domain/directory"
	"github.com/yungbote/lms-insights/internal/domain/reminders"
	"github.com/yungbote/lms-insights/internal/domain/reporting"
	"github.com/yungbote/lms-insights/internal/domain/scorm"
	"github.com/yungbote/lms-insights/internal/domain/tracking"
	"gorm.io/gorm"
)

// Models lists every table this service owns or reads, in migration order.
func Models() []interface{} {
	return []interface{}{
		// =========================
		// Host directory (read-only in production)
		// =========================
		&directory.User{},
		&directory.Course{},
		&directory.Enrollment{},
		&directory.UserManager{},

		// =========================
		// Time tracking
		// =========================
		&tracking.Session{},
		&tracking.DailySummary{},

		// =========================
		// SCORM
		// =========================
		&scorm.Track{},
		&scorm.Summary{},

		// =========================
		// Reports + cache
		// =========================
		&reporting.CacheEntry{},
		&reporting.Schedule{},
		&reporting.Run{},
		&reporting.Recipient{},
		&reporting.CustomReport{},

		// =========================
		// Reminders
		// =========================
		&reminders.Rule{},
		&reminders.Instance{},
		&reminders.Job{},
		&reminders.Template{},

		// =========================
		// Task runtime
		// =========================
		&audit.FailedJob{},
		&audit.TaskState{},
	}
}

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
