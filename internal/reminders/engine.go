package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/dispatch"
	domain "github.com/yungbote/lms-insights/internal/domain/reminders"
	"github.com/yungbote/lms-insights/internal/mail"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

var ErrUnknownJob = dispatch.ErrUnknownJob

// ErrLockWindowExhausted marks recipients left unsent because another send
// could outlive the instance lock.
var ErrLockWindowExhausted = errors.New("lock window exhausted before send")

// Submitter hands a rendered-later job to the cloud dispatch queue.
type Submitter interface {
	Submit(ctx context.Context, companyID, jobType string, payload dispatch.Payload) (string, bool)
}

type Repos struct {
	Rules     repos.ReminderRuleRepo
	Instances repos.ReminderInstanceRepo
	Jobs      repos.ReminderJobRepo
	Templates repos.ReminderTemplateRepo
	Directory repos.DirectoryRepo
}

type Engine struct {
	log    *logger.Logger
	cfg    Config
	repos  Repos
	sender mail.Sender
	cloud  Submitter
	now    func() time.Time
}

// NewEngine wires the reminder engine. cloud may be nil, in which case
// cloud rules fall back to local delivery.
func NewEngine(baseLog *logger.Logger, cfg Config, r Repos, sender mail.Sender, cloud Submitter) *Engine {
	return &Engine{
		log:    baseLog.With("component", "ReminderEngine"),
		cfg:    cfg,
		repos:  r,
		sender: sender,
		cloud:  cloud,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateInstances enrols every eligible learner into each enabled rule.
// A learner gets at most one instance per rule; for rules spanning all
// courses the oldest qualifying enrolment wins.
func (e *Engine) CreateInstances(ctx context.Context) (int, error) {
	dbc := dbctx.From(ctx)
	rules, err := e.repos.Rules.ListEnabled(dbc)
	if err != nil {
		return 0, fmt.Errorf("list rules: %w", err)
	}
	now := e.now()
	created := 0
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		n, err := e.createForRule(dbc, rule, now)
		if err != nil {
			e.log.Warn("Create reminder instances failed", "rule_id", rule.ID, "error", err)
			continue
		}
		created += n
	}
	if created > 0 {
		e.log.Info("Reminder instances created", "created", created, "rules", len(rules))
	}
	return created, nil
}

func (e *Engine) createForRule(dbc dbctx.Context, rule *domain.Rule, now time.Time) (int, error) {
	var incompleteOnly bool
	switch rule.Trigger {
	case domain.TriggerEnrol:
	case domain.TriggerIncompleteAfter:
		incompleteOnly = true
	default:
		return 0, fmt.Errorf("unknown trigger %q", rule.Trigger)
	}
	cutoff := now.AddDate(0, 0, -rule.TriggerDays)
	enrolments, err := e.repos.Directory.ListEnrolledBefore(dbc, rule.CourseID, cutoff, incompleteOnly)
	if err != nil {
		return 0, err
	}
	existing, err := e.repos.Instances.ListUserIDsForRule(dbc, rule.ID)
	if err != nil {
		return 0, err
	}
	seen := make(map[uuid.UUID]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}

	var rows []*domain.Instance
	for _, en := range enrolments {
		if seen[en.UserID] {
			continue
		}
		seen[en.UserID] = true
		rows = append(rows, &domain.Instance{
			RuleID:     rule.ID,
			UserID:     en.UserID,
			CourseID:   en.CourseID,
			NextSendAt: now,
		})
	}

	created := 0
	for start := 0; start < len(rows); start += 500 {
		end := start + 500
		if end > len(rows) {
			end = len(rows)
		}
		n, err := e.repos.Instances.CreateIfAbsent(dbc, rows[start:end])
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

type Result struct {
	Due       int `json:"due"`
	Sent      int `json:"sent"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ProcessDue claims and sends one bounded batch of due instances. Each
// instance is isolated: its failure is audited and retried later.
func (e *Engine) ProcessDue(ctx context.Context) (Result, error) {
	dbc := dbctx.From(ctx)
	due, err := e.repos.Instances.ListDue(dbc, e.now(), e.cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("list due instances: %w", err)
	}
	res := Result{Due: len(due)}
	if len(due) == 0 {
		return res, nil
	}

	ids := make([]uuid.UUID, 0, len(due))
	for _, inst := range due {
		ids = append(ids, inst.RuleID)
	}
	rules, err := e.repos.Rules.GetByIDs(dbc, ids)
	if err != nil {
		return res, fmt.Errorf("load rules: %w", err)
	}
	byID := make(map[uuid.UUID]*domain.Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	for _, inst := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch e.processOne(ctx, inst, byID[inst.RuleID]) {
		case outcomeSent:
			res.Sent++
		case outcomeCompleted:
			res.Completed++
		case outcomeSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
	}
	e.log.Info("Reminder batch processed",
		"due", res.Due,
		"sent", res.Sent,
		"completed", res.Completed,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeSent
	outcomeCompleted
	outcomeSkipped
)

func (e *Engine) processOne(ctx context.Context, inst *domain.Instance, rule *domain.Rule) outcome {
	dbc := dbctx.From(ctx)
	log := e.log.With("instance_id", inst.ID, "rule_id", inst.RuleID)
	now := e.now()
	token := uuid.NewString()

	claimed, err := e.repos.Instances.Claim(dbc, inst.ID, inst.ClaimVersion, token, now, e.cfg.LockWindow)
	if err != nil {
		log.Warn("Claim failed", "error", err)
		return outcomeFailed
	}
	if !claimed {
		return outcomeSkipped
	}

	retry := func(reason string, err error) outcome {
		log.Warn("Reminder deferred", "reason", reason, "error", err)
		if _, derr := e.repos.Instances.Defer(dbc, inst.ID, token, e.now().Add(e.cfg.RetryInterval)); derr != nil {
			log.Error("Release after failure failed", "error", derr)
		}
		return outcomeFailed
	}

	// Missing rows are audited so the skip is visible, then retried later.
	auditAndRetry := func(reason string, err error) outcome {
		e.auditFailure(ctx, inst, err)
		return retry(reason, err)
	}

	if rule == nil {
		return auditAndRetry("rule missing", fmt.Errorf("rule %s not found", inst.RuleID))
	}
	done, err := e.repos.Directory.IsCompleted(dbc, inst.UserID, inst.CourseID)
	if err != nil {
		return retry("completion check", err)
	}
	if done {
		if _, err := e.repos.Instances.Complete(dbc, inst.ID, token); err != nil {
			log.Warn("Mark completed failed", "error", err)
			return outcomeFailed
		}
		return outcomeCompleted
	}

	msg, err := e.prepare(dbc, rule, inst)
	if err != nil {
		return auditAndRetry("prepare", err)
	}

	jobs, sent := e.dispatch(ctx, rule, inst, msg, now.Add(e.cfg.LockWindow))
	if err := e.repos.Jobs.Create(dbc, jobs); err != nil {
		log.Error("Write reminder audit failed", "error", err)
	}
	if sent == 0 {
		return retry("no recipient reached", nil)
	}

	advanced, err := e.repos.Instances.Advance(dbc, inst.ID, token, e.now().Add(rule.EmailDelay()))
	if err != nil {
		log.Error("Advance failed", "error", err)
		return outcomeFailed
	}
	if !advanced {
		// Our lock expired mid-send and someone else holds it now.
		log.Warn("Lock lost before advance")
	}
	return outcomeSent
}

type prepared struct {
	template   mail.Template
	recipients []dispatch.Recipient
}

func (e *Engine) prepare(dbc dbctx.Context, rule *domain.Rule, inst *domain.Instance) (*prepared, error) {
	tpl, err := e.repos.Templates.Get(dbc, rule.TemplateID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fmt.Errorf("template %s not found", rule.TemplateID)
	}
	user, err := e.repos.Directory.GetUser(dbc, inst.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", inst.UserID)
	}
	course, err := e.repos.Directory.GetCourse(dbc, inst.CourseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, fmt.Errorf("course %s not found", inst.CourseID)
	}

	base := map[string]any{
		"UserID":          user.ID.String(),
		"FirstName":       user.FirstName,
		"LastName":        user.LastName,
		"FullName":        user.FullName(),
		"Email":           user.Email,
		"CourseID":        course.ID.String(),
		"CourseName":      course.FullName,
		"CourseShortName": course.ShortName,
		"ReminderNumber":  inst.EmailsSent + 1,
		"ReminderCount":   rule.ReminderCount,
		"RuleName":        rule.Name,
	}

	var recipients []dispatch.Recipient
	seen := map[string]bool{}
	add := func(email, name, role string) {
		key := strings.ToLower(strings.TrimSpace(email))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		data := make(map[string]any, len(base)+2)
		for k, v := range base {
			data[k] = v
		}
		data["RecipientName"] = name
		data["RecipientRole"] = role
		recipients = append(recipients, dispatch.Recipient{Email: strings.TrimSpace(email), RecipientData: data})
	}

	if rule.NotifyUser {
		add(user.Email, user.FullName(), "learner")
	}
	if rule.NotifyManagers {
		managers, err := e.repos.Directory.ListManagers(dbc, user.ID)
		if err != nil {
			return nil, fmt.Errorf("list managers: %w", err)
		}
		for _, m := range managers {
			add(m.Email, m.FullName(), "manager")
		}
	}
	for _, email := range thirdParty(rule.ThirdPartyEmails) {
		add(email, "", "third_party")
	}
	if len(recipients) == 0 {
		return nil, errors.New("rule resolves to no recipients")
	}

	return &prepared{
		template:   mail.Template{Subject: tpl.Subject, HTML: tpl.BodyHTML, Text: tpl.BodyText},
		recipients: recipients,
	}, nil
}

// dispatch delivers p before lockDeadline, when the instance lock lapses.
func (e *Engine) dispatch(ctx context.Context, rule *domain.Rule, inst *domain.Instance, p *prepared, lockDeadline time.Time) ([]*domain.Job, int) {
	if rule.Channel == domain.ChannelCloud {
		if e.cloud != nil {
			payload := dispatch.Payload{Template: p.template, Recipients: p.recipients}
			if msgID, ok := e.cloud.Submit(ctx, e.cfg.CompanyID, dispatch.JobTypeReminder, payload); ok {
				return e.auditAll(ctx, inst, p, msgID, domain.JobStatusSubmitted, ""), len(p.recipients)
			}
		}
		e.log.Warn("Cloud dispatch unavailable, sending locally", "instance_id", inst.ID)
	}
	return e.sendLocal(ctx, inst, p, lockDeadline)
}

// sendLocal only starts a send that can finish within the lock window, so
// no other worker can claim the instance while mail is still going out.
func (e *Engine) sendLocal(ctx context.Context, inst *domain.Instance, p *prepared, lockDeadline time.Time) ([]*domain.Job, int) {
	attempts := e.priorAttempts(ctx, inst.ID)
	jobs := make([]*domain.Job, 0, len(p.recipients))
	sent := 0
	for _, rcpt := range p.recipients {
		status, errText := domain.JobStatusLocalSent, ""
		var providerID string
		var err error
		if lockDeadline.Sub(e.now()) < e.cfg.SendTimeout {
			err = ErrLockWindowExhausted
		} else {
			providerID, err = e.sendOne(ctx, p.template, rcpt)
		}
		if err != nil {
			status, errText = domain.JobStatusFailed, err.Error()
		} else {
			sent++
		}
		key := strings.ToLower(rcpt.Email)
		attempts[key]++
		jobs = append(jobs, &domain.Job{
			InstanceID:     inst.ID,
			MessageID:      uuid.NewString(),
			RecipientEmail: rcpt.Email,
			Status:         status,
			Attempt:        attempts[key],
			LastAttemptAt:  e.now(),
			Payload:        snapshot(rcpt, providerID),
			Error:          errText,
		})
	}
	return jobs, sent
}

func (e *Engine) sendOne(ctx context.Context, tpl mail.Template, rcpt dispatch.Recipient) (string, error) {
	msg, err := mail.Render(tpl, rcpt.RecipientData)
	if err != nil {
		return "", err
	}
	msg.To = rcpt.Email
	if name, ok := rcpt.RecipientData["RecipientName"].(string); ok {
		msg.ToName = name
	}
	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()
	return e.sender.Send(sendCtx, msg)
}

func (e *Engine) auditAll(ctx context.Context, inst *domain.Instance, p *prepared, msgID, status, errText string) []*domain.Job {
	attempts := e.priorAttempts(ctx, inst.ID)
	jobs := make([]*domain.Job, 0, len(p.recipients))
	for _, rcpt := range p.recipients {
		key := strings.ToLower(rcpt.Email)
		attempts[key]++
		jobs = append(jobs, &domain.Job{
			InstanceID:     inst.ID,
			MessageID:      msgID,
			RecipientEmail: rcpt.Email,
			Status:         status,
			Attempt:        attempts[key],
			LastAttemptAt:  e.now(),
			Payload:        snapshot(rcpt, ""),
			Error:          errText,
		})
	}
	return jobs
}

// auditFailure records an attempt that never reached a recipient.
func (e *Engine) auditFailure(ctx context.Context, inst *domain.Instance, cause error) {
	email := ""
	if u, err := e.repos.Directory.GetUser(dbctx.From(ctx), inst.UserID); err == nil && u != nil {
		email = u.Email
	}
	attempts := e.priorAttempts(ctx, inst.ID)
	job := &domain.Job{
		InstanceID:     inst.ID,
		MessageID:      uuid.NewString(),
		RecipientEmail: email,
		Status:         domain.JobStatusFailed,
		Attempt:        attempts[strings.ToLower(email)] + 1,
		LastAttemptAt:  e.now(),
		Payload:        datatypes.JSON([]byte(`{"stage":"prepare"}`)),
		Error:          cause.Error(),
	}
	if err := e.repos.Jobs.Create(dbctx.From(ctx), []*domain.Job{job}); err != nil {
		e.log.Error("Write reminder audit failed", "instance_id", inst.ID, "error", err)
	}
}

// priorAttempts counts earlier audit rows per recipient of an instance.
func (e *Engine) priorAttempts(ctx context.Context, instanceID uuid.UUID) map[string]int {
	out := map[string]int{}
	prior, err := e.repos.Jobs.ListByInstance(dbctx.From(ctx), instanceID)
	if err != nil {
		e.log.Warn("Load prior reminder jobs failed", "instance_id", instanceID, "error", err)
		return out
	}
	for _, j := range prior {
		out[strings.ToLower(j.RecipientEmail)]++
	}
	return out
}

func snapshot(rcpt dispatch.Recipient, providerID string) datatypes.JSON {
	body := map[string]any{"recipient_data": rcpt.RecipientData}
	if providerID != "" {
		body["provider_message_id"] = providerID
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(raw)
}

func thirdParty(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
