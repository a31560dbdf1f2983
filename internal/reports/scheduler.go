package reports

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/dispatch"
	"github.com/yungbote/lms-insights/internal/domain/reporting"
	"github.com/yungbote/lms-insights/internal/mail"
	"github.com/yungbote/lms-insights/internal/observability"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

const staleRunReason = "stale run reaped"

// Archiver stores a copy of an export and returns a URL recipients can
// download it from. The URL may be empty when the store is private.
type Archiver interface {
	Archive(ctx context.Context, key string, f ExportFile) (string, error)
}

// Submitter hands a templated job to the cloud dispatch queue.
type Submitter interface {
	Submit(ctx context.Context, companyID, jobType string, payload dispatch.Payload) (string, bool)
}

type SchedulerRepos struct {
	Schedules  repos.ReportScheduleRepo
	Runs       repos.ReportRunRepo
	Recipients repos.ReportRecipientRepo
}

type Scheduler struct {
	log      *logger.Logger
	cfg      Config
	repos    SchedulerRepos
	exec     *Executor
	sender   mail.Sender
	archiver Archiver
	cloud    Submitter
	now      func() time.Time
}

// NewScheduler wires the scheduler. archiver and cloud are optional.
func NewScheduler(baseLog *logger.Logger, cfg Config, r SchedulerRepos, exec *Executor, sender mail.Sender, archiver Archiver, cloud Submitter) *Scheduler {
	return &Scheduler{
		log:      baseLog.With("component", "ReportScheduler"),
		cfg:      cfg,
		repos:    r,
		exec:     exec,
		sender:   sender,
		archiver: archiver,
		cloud:    cloud,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type Summary struct {
	Due       int `json:"due"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// RunDue executes every enabled schedule whose next run has arrived. A
// failing schedule never stops the pass.
func (s *Scheduler) RunDue(ctx context.Context) (Summary, error) {
	due, err := s.repos.Schedules.ListDue(dbctx.From(ctx), s.now(), s.cfg.BatchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("list due schedules: %w", err)
	}
	sum := Summary{Due: len(due)}
	for _, sched := range due {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if s.runOne(ctx, sched) {
			sum.Completed++
		} else {
			sum.Failed++
		}
	}
	if sum.Due > 0 {
		s.log.Info("Report schedules processed", "due", sum.Due, "completed", sum.Completed, "failed", sum.Failed)
	}
	return sum, nil
}

func (s *Scheduler) runOne(ctx context.Context, sched *reporting.Schedule) bool {
	ctx, span := otel.Tracer("reports").Start(ctx, "reports.schedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("schedule.id", sched.ID.String()),
		attribute.String("schedule.kind", sched.ReportKind),
	)

	dbc := dbctx.From(ctx)
	log := s.log.With("schedule_id", sched.ID, "kind", sched.ReportKind)
	started := s.now()

	run, err := s.repos.Runs.Start(dbc, sched.ID, started)
	if err != nil {
		log.Error("Start report run failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "start run")
		if uerr := s.UpdateAfterExecution(ctx, sched, fmt.Errorf("start run: %w", err)); uerr != nil {
			log.Error("Update schedule after run failed", "error", uerr)
		}
		return false
	}

	records, execErr := s.execute(ctx, sched, run.ID)
	ended := s.now()
	status, errText := reporting.RunStatusCompleted, ""
	if execErr != nil {
		status, errText = reporting.RunStatusFailed, execErr.Error()
		records = 0
	}
	if _, err := s.repos.Runs.Finish(dbc, run.ID, status, ended, records, errText); err != nil {
		log.Error("Finish report run failed", "run_id", run.ID, "error", err)
	}
	observability.Current().IncReportRun(sched.ReportKind, status)
	if err := s.UpdateAfterExecution(ctx, sched, execErr); err != nil {
		log.Error("Update schedule after run failed", "error", err)
	}

	if execErr != nil {
		log.Warn("Report run failed", "run_id", run.ID, "error", execErr)
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "run failed")
		return false
	}
	log.Info("Report run completed", "run_id", run.ID, "records", records, "duration_ms", ended.Sub(started).Milliseconds())
	return true
}

// execute produces, exports and delivers one report and returns the
// number of exported rows.
func (s *Scheduler) execute(ctx context.Context, sched *reporting.Schedule, runID uuid.UUID) (int, error) {
	if _, err := NextRun(sched.Recurrence, s.now()); err != nil {
		return 0, err
	}
	req := Request{Kind: sched.ReportKind, CourseID: sched.CourseID, BypassCache: true}
	if sched.CustomReportID != nil {
		req.Kind = KindCustom
		req.CustomReportID = sched.CustomReportID
	}
	res, err := s.exec.Execute(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("execute: %w", err)
	}
	file, err := Export(fmt.Sprintf("%s_%s", sched.Name, s.now().Format("20060102")), sched.Format, res)
	if err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}

	url := s.archive(ctx, sched, runID, file)
	if jobID := s.deliver(ctx, sched, file, url); jobID != "" {
		if err := s.repos.Runs.SetDispatch(dbctx.From(ctx), runID, jobID); err != nil {
			s.log.Error("Record report dispatch job failed", "run_id", runID, "job_id", jobID, "error", err)
		}
	}
	return file.Records, nil
}

func (s *Scheduler) archive(ctx context.Context, sched *reporting.Schedule, runID uuid.UUID, file ExportFile) string {
	if s.archiver == nil {
		return ""
	}
	key := path.Join(s.cfg.ArchivePrefix, sched.ID.String(), runID.String(), file.Name)
	url, err := s.archiver.Archive(ctx, key, file)
	if err != nil {
		s.log.Warn("Report archive failed", "schedule_id", sched.ID, "key", key, "error", err)
		return ""
	}
	return url
}

// Local sends always carry the export; cloud jobs only carry the link.
var reportMail = mail.Template{
	Subject: "Scheduled report: {{.ScheduleName}}",
	Text: "Your scheduled report {{.ScheduleName}} ran on {{.RunDate}} with {{.RecordCount}} rows." +
		"{{if .Attached}}\nThe export {{.FileName}} is attached.{{end}}" +
		"{{if .DownloadURL}}\nDownload: {{.DownloadURL}}{{end}}\n",
	HTML: "<p>Your scheduled report <strong>{{.ScheduleName}}</strong> ran on {{.RunDate}} with {{.RecordCount}} rows.</p>" +
		"{{if .Attached}}<p>The export {{.FileName}} is attached.</p>{{end}}" +
		"{{if .DownloadURL}}<p><a href=\"{{.DownloadURL}}\">Download the export</a></p>{{end}}",
}

// deliver sends the export to every recipient and returns the cloud job id
// when the delivery was handed off. Recipient failures are logged and never
// fail the run.
func (s *Scheduler) deliver(ctx context.Context, sched *reporting.Schedule, file ExportFile, url string) string {
	log := s.log.With("schedule_id", sched.ID)
	rcpts, err := s.repos.Recipients.ListBySchedule(dbctx.From(ctx), sched.ID)
	if err != nil {
		log.Warn("Load report recipients failed", "error", err)
		return ""
	}
	if len(rcpts) == 0 {
		log.Warn("Report schedule has no recipients")
		return ""
	}
	data := map[string]any{
		"ScheduleName": sched.Name,
		"RunDate":      s.now().Format("2006-01-02"),
		"RecordCount":  file.Records,
		"DownloadURL":  url,
		"FileName":     file.Name,
		"Attached":     false,
	}

	if sched.Channel == reporting.ChannelCloud && s.cloud != nil && url != "" {
		payload := dispatch.Payload{Template: reportMail}
		for _, r := range rcpts {
			payload.Recipients = append(payload.Recipients, dispatch.Recipient{Email: r.Email, RecipientData: data})
		}
		if jobID, ok := s.cloud.Submit(ctx, s.cfg.CompanyID, dispatch.JobTypeReport, payload); ok {
			log.Info("Report handed to cloud dispatch", "job_id", jobID, "recipients", len(rcpts))
			return jobID
		}
		log.Warn("Cloud dispatch unavailable, sending report locally")
	}

	data["Attached"] = true
	msg, err := mail.Render(reportMail, data)
	if err != nil {
		log.Error("Render report mail failed", "error", err)
		return ""
	}
	msg.Attachments = []mail.Attachment{{Filename: file.Name, MIMEType: file.MIME, Content: file.Content}}
	msg.Tags = map[string]string{"schedule_id": sched.ID.String()}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FanOut)
	for _, r := range rcpts {
		email := strings.TrimSpace(r.Email)
		if email == "" {
			continue
		}
		g.Go(func() error {
			m := msg
			m.To = email
			sendCtx, cancel := context.WithTimeout(gctx, s.cfg.SendTimeout)
			defer cancel()
			if _, err := s.sender.Send(sendCtx, m); err != nil {
				log.Warn("Report delivery failed", "recipient_email", email, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ""
}

// ReconcileCallback settles the delivery of a run handed to cloud dispatch.
// A replayed callback leaves the settled state alone.
func (s *Scheduler) ReconcileCallback(ctx context.Context, cb dispatch.Callback) error {
	jobID := strings.TrimSpace(cb.JobID)
	if jobID == "" {
		return fmt.Errorf("%w: empty job id", dispatch.ErrUnknownJob)
	}
	dbc := dbctx.From(ctx)
	run, err := s.repos.Runs.GetByDispatchJob(dbc, jobID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("%w: %s", dispatch.ErrUnknownJob, jobID)
	}

	var status string
	switch cb.Status {
	case dispatch.StatusCompleted:
		status = reporting.DeliveryDelivered
	case dispatch.StatusPartialFailure:
		status = reporting.DeliveryPartialFailure
	case dispatch.StatusFailed:
		status = reporting.DeliveryFailed
	default:
		return fmt.Errorf("unknown callback status %q", cb.Status)
	}
	settled, err := s.repos.Runs.SetDelivery(dbc, run.ID, status, strings.Join(cb.Errors, "; "))
	if err != nil {
		return fmt.Errorf("settle delivery: %w", err)
	}
	s.log.Info("Report dispatch callback reconciled",
		"job_id", jobID,
		"run_id", run.ID,
		"status", cb.Status,
		"sent", cb.EmailsSent,
		"failed", cb.EmailsFailed,
		"settled", settled,
	)
	return nil
}

// UpdateAfterExecution advances a schedule after one run. Success resets
// the failure streak; failure backs the next run off so a broken schedule
// cannot spin.
func (s *Scheduler) UpdateAfterExecution(ctx context.Context, sched *reporting.Schedule, runErr error) error {
	now := s.now()
	next, nextErr := NextRun(sched.Recurrence, now)
	updates := map[string]interface{}{}
	if runErr == nil && nextErr == nil {
		updates["consecutive_failures"] = 0
		updates["last_run_at"] = now
		updates["next_run_at"] = next
		updates["last_error"] = ""
		sched.ConsecutiveFailures = 0
	} else {
		failures := sched.ConsecutiveFailures + 1
		backoff := now.Add(Backoff(failures, s.cfg.BaseBackoff, s.cfg.MaxBackoff))
		if nextErr != nil || next.Before(backoff) {
			next = backoff
		}
		var msg string
		if runErr != nil {
			msg = runErr.Error()
		} else {
			msg = nextErr.Error()
		}
		updates["consecutive_failures"] = failures
		updates["next_run_at"] = next
		updates["last_error"] = msg
		sched.ConsecutiveFailures = failures
	}
	sched.NextRunAt = next
	return s.repos.Schedules.UpdateFields(dbctx.From(ctx), sched.ID, updates)
}

// ReapStaleRuns fails running rows older than the stale timeout.
func (s *Scheduler) ReapStaleRuns(ctx context.Context) (int, error) {
	now := s.now()
	n, err := s.repos.Runs.ReapStale(dbctx.From(ctx), now.Add(-s.cfg.StaleRunTimeout), now, staleRunReason)
	if err != nil {
		return 0, fmt.Errorf("reap stale runs: %w", err)
	}
	if n > 0 {
		s.log.Warn("Stale report runs reaped", "count", n)
	}
	return n, nil
}
