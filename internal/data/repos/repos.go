package repos

import (
	"github.com/yungbote/lms-insights/internal/data/repos/audit"
	"github.com/yungbote/lms-insights/internal/data/repos/directory"
	"github.com/yungbote/lms-insights/internal/data/repos/reminders"
	"github.com/yungbote/lms-insights/internal/data/repos/reporting"
	"github.com/yungbote/lms-insights/internal/data/repos/scorm"
	"github.com/yungbote/lms-insights/internal/data/repos/tracking"
	"github.com/yungbote/lms-insights/internal/platform/logger"
	"gorm.io/gorm"
)

type DirectoryRepo = directory.DirectoryRepo

type SessionRepo = tracking.SessionRepo
type DailySummaryRepo = tracking.DailySummaryRepo

type ScormTrackRepo = scorm.TrackRepo
type ScormSummaryRepo = scorm.SummaryRepo

type ReportCacheRepo = reporting.CacheRepo
type ReportScheduleRepo = reporting.ScheduleRepo
type ReportRunRepo = reporting.RunRepo
type ReportRecipientRepo = reporting.RecipientRepo
type CustomReportRepo = reporting.CustomReportRepo

type ReminderRuleRepo = reminders.RuleRepo
type ReminderInstanceRepo = reminders.InstanceRepo
type ReminderJobRepo = reminders.JobRepo
type ReminderTemplateRepo = reminders.TemplateRepo

type FailedJobRepo = audit.FailedJobRepo
type TaskStateRepo = audit.TaskStateRepo

// Set is every repo the service uses, built over one handle.
type Set struct {
	Directory DirectoryRepo

	Session      SessionRepo
	DailySummary DailySummaryRepo

	ScormTrack   ScormTrackRepo
	ScormSummary ScormSummaryRepo

	ReportCache     ReportCacheRepo
	ReportSchedule  ReportScheduleRepo
	ReportRun       ReportRunRepo
	ReportRecipient ReportRecipientRepo
	CustomReport    CustomReportRepo

	ReminderRule     ReminderRuleRepo
	ReminderInstance ReminderInstanceRepo
	ReminderJob      ReminderJobRepo
	ReminderTemplate ReminderTemplateRepo

	FailedJob FailedJobRepo
	TaskState TaskStateRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		Directory: directory.NewDirectoryRepo(db, baseLog),

		Session:      tracking.NewSessionRepo(db, baseLog),
		DailySummary: tracking.NewDailySummaryRepo(db, baseLog),

		ScormTrack:   scorm.NewTrackRepo(db, baseLog),
		ScormSummary: scorm.NewSummaryRepo(db, baseLog),

		ReportCache:     reporting.NewCacheRepo(db, baseLog),
		ReportSchedule:  reporting.NewScheduleRepo(db, baseLog),
		ReportRun:       reporting.NewRunRepo(db, baseLog),
		ReportRecipient: reporting.NewRecipientRepo(db, baseLog),
		CustomReport:    reporting.NewCustomReportRepo(db, baseLog),

		ReminderRule:     reminders.NewRuleRepo(db, baseLog),
		ReminderInstance: reminders.NewInstanceRepo(db, baseLog),
		ReminderJob:      reminders.NewJobRepo(db, baseLog),
		ReminderTemplate: reminders.NewTemplateRepo(db, baseLog),

		FailedJob: audit.NewFailedJobRepo(db, baseLog),
		TaskState: audit.NewTaskStateRepo(db, baseLog),
	}
}
