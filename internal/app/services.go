package app

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/aggregation"
	"github.com/yungbote/lms-insights/internal/cachemgr"
	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/platform/logger"
	"github.com/yungbote/lms-insights/internal/reminders"
	"github.com/yungbote/lms-insights/internal/reports"
	"github.com/yungbote/lms-insights/internal/tasks"
)

type Services struct {
	Tracker   *aggregation.Tracker
	Scorm     *aggregation.ScormAggregator
	Cache     *cachemgr.Manager
	Reminders *reminders.Engine
	Executor  *reports.Executor
	Reports   *reports.Scheduler
	Tasks     *tasks.Runner
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, rs repos.Set, c Clients) (Services, error) {
	log.Info("Wiring services...")

	defs, err := cachemgr.LoadDefinitions()
	if err != nil {
		return Services{}, fmt.Errorf("load cache definitions: %w", err)
	}

	// Typed nils must not leak into the optional interfaces.
	var remindCloud reminders.Submitter
	var reportCloud reports.Submitter
	if c.Dispatch != nil {
		remindCloud, reportCloud = c.Dispatch, c.Dispatch
	}
	var archiver reports.Archiver
	if c.Archive != nil {
		archiver = reports.NewBucketArchiver(c.Archive)
	}

	s := Services{
		Tracker: aggregation.NewTracker(db, log, cfg.Tracking, rs.Session, rs.DailySummary, rs.Directory),
		Scorm:   aggregation.NewScormAggregator(log, rs.ScormTrack, rs.ScormSummary, rs.TaskState),
		Cache: cachemgr.New(log, rs.ReportCache, cachemgr.Sources{
			Directory:    rs.Directory,
			DailySummary: rs.DailySummary,
			ScormSummary: rs.ScormSummary,
		}, defs),
		Reminders: reminders.NewEngine(log, cfg.Reminder, reminders.Repos{
			Rules:     rs.ReminderRule,
			Instances: rs.ReminderInstance,
			Jobs:      rs.ReminderJob,
			Templates: rs.ReminderTemplate,
			Directory: rs.Directory,
		}, c.Mail, remindCloud),
		Executor: reports.NewExecutor(log, reports.Sources{
			Directory:    rs.Directory,
			DailySummary: rs.DailySummary,
			ScormSummary: rs.ScormSummary,
			ReminderJob:  rs.ReminderJob,
		}, rs.CustomReport, rs.ReportCache, cfg.Report.CacheTTL),
	}
	s.Reports = reports.NewScheduler(log, cfg.Report, reports.SchedulerRepos{
		Schedules:  rs.ReportSchedule,
		Runs:       rs.ReportRun,
		Recipients: rs.ReportRecipient,
	}, s.Executor, c.Mail, archiver, reportCloud)

	registry := tasks.NewRegistry()
	if err := tasks.RegisterBuiltin(registry, tasks.Deps{
		Tracker:        s.Tracker,
		Scorm:          s.Scorm,
		Cache:          s.Cache,
		Reminders:      s.Reminders,
		Reports:        s.Reports,
		ReminderJobs:   rs.ReminderJob,
		FailedJobs:     rs.FailedJob,
		AuditRetention: cfg.Task.AuditRetention,
		Now:            func() time.Time { return time.Now().UTC() },
	}); err != nil {
		return Services{}, err
	}
	s.Tasks = tasks.NewRunner(log, registry, rs.FailedJob)
	return s, nil
}
