package reminders

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/lms-insights/internal/dispatch"
	domain "github.com/yungbote/lms-insights/internal/domain/reminders"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
)

// ReconcileCallback applies a dispatch worker's outcome to the audit rows
// written when the job was submitted. Rows already moved out of submitted
// are left alone, so a replayed callback is a no-op.
func (e *Engine) ReconcileCallback(ctx context.Context, cb dispatch.Callback) error {
	dbc := dbctx.From(ctx)
	jobID := strings.TrimSpace(cb.JobID)
	if jobID == "" {
		return fmt.Errorf("%w: empty job id", ErrUnknownJob)
	}
	rows, err := e.repos.Jobs.ListByMessage(dbc, jobID)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	var delivered, failed []uuid.UUID
	switch cb.Status {
	case dispatch.StatusCompleted:
		for _, r := range rows {
			delivered = append(delivered, r.ID)
		}
	case dispatch.StatusFailed:
		for _, r := range rows {
			failed = append(failed, r.ID)
		}
	case dispatch.StatusPartialFailure:
		bounced := failedSet(cb)
		for _, r := range rows {
			if bounced[strings.ToLower(strings.TrimSpace(r.RecipientEmail))] {
				failed = append(failed, r.ID)
			} else {
				delivered = append(delivered, r.ID)
			}
		}
	default:
		return fmt.Errorf("unknown callback status %q", cb.Status)
	}

	now := e.now()
	errText := strings.Join(cb.Errors, "; ")
	updated := 0
	if len(delivered) > 0 {
		n, err := e.repos.Jobs.SetStatus(dbc, delivered, domain.JobStatusDelivered, "", now)
		if err != nil {
			return fmt.Errorf("mark delivered: %w", err)
		}
		updated += n
	}
	if len(failed) > 0 {
		n, err := e.repos.Jobs.SetStatus(dbc, failed, domain.JobStatusFailed, errText, now)
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		updated += n
	}
	e.log.Info("Dispatch callback reconciled",
		"job_id", jobID,
		"status", cb.Status,
		"rows", len(rows),
		"updated", updated,
	)
	return nil
}

// failedSet returns the lower-cased failed addresses of a callback. Older
// workers only report errors, each prefixed with "<email>: ".
func failedSet(cb dispatch.Callback) map[string]bool {
	out := map[string]bool{}
	add := func(email string) {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			out[email] = true
		}
	}
	if len(cb.FailedRecipients) > 0 {
		for _, email := range cb.FailedRecipients {
			add(email)
		}
		return out
	}
	for _, e := range cb.Errors {
		if email, _, ok := strings.Cut(e, ": "); ok {
			add(email)
		}
	}
	return out
}
