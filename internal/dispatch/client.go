package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type Client struct {
	log     *logger.Logger
	queue   Queue
	timeout time.Duration
	now     func() time.Time
}

func NewClient(baseLog *logger.Logger, queue Queue, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		log:     baseLog.With("component", "DispatchClient"),
		queue:   queue,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit enqueues a job for the remote worker and returns its message id.
// Every failure, including a panic in the transport, is reported as
// ok=false so callers can fall back to local delivery.
func (c *Client) Submit(ctx context.Context, companyID, jobType string, payload Payload) (msgID string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Dispatch submit panic", "panic", fmt.Sprint(r))
			msgID, ok = "", false
		}
	}()
	if c == nil || c.queue == nil {
		return "", false
	}
	if len(payload.Recipients) == 0 {
		c.log.Warn("Dispatch submit without recipients", "type", jobType)
		return "", false
	}

	job := Job{
		JobID:       uuid.NewString(),
		CompanyID:   companyID,
		Type:        jobType,
		Template:    payload.Template,
		Recipients:  payload.Recipients,
		SubmittedAt: c.now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		c.log.Warn("Dispatch encode failed", "error", err)
		return "", false
	}

	pushCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.queue.Push(pushCtx, raw); err != nil {
		c.log.Warn("Dispatch submit failed", "job_id", job.JobID, "error", err)
		return "", false
	}
	c.log.Debug("Dispatch job submitted", "job_id", job.JobID, "type", jobType, "recipients", len(job.Recipients))
	return job.JobID, true
}
