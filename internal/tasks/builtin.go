package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/lms-insights/internal/aggregation"
	"github.com/yungbote/lms-insights/internal/cachemgr"
	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/observability"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/reminders"
	"github.com/yungbote/lms-insights/internal/reports"
)

const (
	TaskCloseSessions     = "close_sessions"
	TaskScormSummaries    = "scorm_summaries"
	TaskCacheRebuild      = "cache_rebuild"
	TaskCacheCleanup      = "cache_cleanup"
	TaskReminderInstances = "reminder_instances"
	TaskReminderSend      = "reminder_send"
	TaskReportSchedules   = "report_schedules"
	TaskReportRunReaper   = "report_run_reaper"
	TaskAuditCleanup      = "audit_cleanup"
)

// Deps are the engines the built-in tasks drive.
type Deps struct {
	Tracker        *aggregation.Tracker
	Scorm          *aggregation.ScormAggregator
	Cache          *cachemgr.Manager
	Reminders      *reminders.Engine
	Reports        *reports.Scheduler
	ReminderJobs   repos.ReminderJobRepo
	FailedJobs     repos.FailedJobRepo
	AuditRetention time.Duration
	Now            func() time.Time
}

// Builtin returns every periodic task of the service.
func Builtin(d Deps) []Task {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return []Task{
		NewFunc(TaskCloseSessions, func(ctx context.Context) (Summary, error) {
			n, err := d.Tracker.CloseIdleSessions(ctx)
			return Summary{"closed": n}, err
		}),
		NewFunc(TaskScormSummaries, func(ctx context.Context) (Summary, error) {
			res, err := d.Scorm.RecomputeAll(ctx)
			return Summary{"learners": res.Learners, "failed": res.Failed, "watermark": res.Watermark}, err
		}),
		NewFunc(TaskCacheRebuild, func(ctx context.Context) (Summary, error) {
			n, err := d.Cache.RunAggregations(ctx)
			return Summary{"rebuilt": n}, err
		}),
		NewFunc(TaskCacheCleanup, func(ctx context.Context) (Summary, error) {
			n, err := d.Cache.CleanupExpired(ctx)
			return Summary{"deleted": n}, err
		}),
		NewFunc(TaskReminderInstances, func(ctx context.Context) (Summary, error) {
			n, err := d.Reminders.CreateInstances(ctx)
			return Summary{"created": n}, err
		}),
		NewFunc(TaskReminderSend, func(ctx context.Context) (Summary, error) {
			res, err := d.Reminders.ProcessDue(ctx)
			observability.Current().AddReminderOutcomes(res.Sent, res.Completed, res.Skipped, res.Failed)
			return Summary{"due": res.Due, "sent": res.Sent, "completed": res.Completed, "skipped": res.Skipped, "failed": res.Failed}, err
		}),
		NewFunc(TaskReportSchedules, func(ctx context.Context) (Summary, error) {
			res, err := d.Reports.RunDue(ctx)
			return Summary{"due": res.Due, "completed": res.Completed, "failed": res.Failed}, err
		}),
		NewFunc(TaskReportRunReaper, func(ctx context.Context) (Summary, error) {
			n, err := d.Reports.ReapStaleRuns(ctx)
			return Summary{"reaped": n}, err
		}),
		NewFunc(TaskAuditCleanup, func(ctx context.Context) (Summary, error) {
			return auditCleanup(ctx, d, now())
		}),
	}
}

func auditCleanup(ctx context.Context, d Deps, now time.Time) (Summary, error) {
	if d.AuditRetention <= 0 {
		return Summary{"skipped": true}, nil
	}
	cutoff := now.Add(-d.AuditRetention)
	dbc := dbctx.From(ctx)
	jobs, err := d.ReminderJobs.DeleteOlderThan(dbc, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete reminder jobs: %w", err)
	}
	failed, err := d.FailedJobs.DeleteOlderThan(dbc, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete failed jobs: %w", err)
	}
	return Summary{"reminder_jobs": jobs, "failed_jobs": failed, "cutoff": cutoff}, nil
}

// RegisterBuiltin registers every built-in task.
func RegisterBuiltin(r *Registry, d Deps) error {
	for _, t := range Builtin(d) {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
