package dispatch

import (
	"errors"
	"time"

	"github.com/yungbote/lms-insights/internal/mail"
)

// ErrUnknownJob means no producer has a record of a callback's job id.
var ErrUnknownJob = errors.New("unknown dispatch job")

const (
	StatusCompleted      = "completed"
	StatusPartialFailure = "partial_failure"
	StatusFailed         = "failed"
)

// Job types the worker renders. Both carry a template and per-recipient data;
// report jobs link to an archived export instead of attaching it.
const (
	JobTypeReminder = "reminder_email"
	JobTypeReport   = "report_email"
)

type Recipient struct {
	Email         string         `json:"email"`
	RecipientData map[string]any `json:"recipient_data"`
}

// Payload is what a producer hands to Submit.
type Payload struct {
	Template   mail.Template `json:"template"`
	Recipients []Recipient   `json:"recipients"`
}

// Job is the unit of work on the queue and the body of POST /jobs.
type Job struct {
	JobID       string        `json:"job_id"`
	CompanyID   string        `json:"company_id,omitempty"`
	Type        string        `json:"type"`
	Template    mail.Template `json:"template"`
	Recipients  []Recipient   `json:"recipients"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

type Results struct {
	Status       string   `json:"status"`
	EmailsSent   int      `json:"emails_sent"`
	EmailsFailed int      `json:"emails_failed"`
	Errors       []string `json:"errors"`
	// FailedRecipients lists the addresses that were not sent, exactly as
	// they appeared in the job.
	FailedRecipients []string `json:"failed_recipients,omitempty"`
}

type JobResponse struct {
	Success bool    `json:"success"`
	Results Results `json:"results"`
}

// Callback is posted back to the producer once a job has been processed.
type Callback struct {
	JobID            string   `json:"job_id"`
	Type             string   `json:"type,omitempty"`
	Status           string   `json:"status"`
	EmailsSent       int      `json:"emails_sent"`
	EmailsFailed     int      `json:"emails_failed"`
	Errors           []string `json:"errors"`
	FailedRecipients []string `json:"failed_recipients,omitempty"`
}
