package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/lms-insights/internal/mail"
	"github.com/yungbote/lms-insights/internal/observability"
	"github.com/yungbote/lms-insights/internal/platform/httpx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type WorkerConfig struct {
	Concurrency int
	PopTimeout  time.Duration
	SendTimeout time.Duration
}

// Worker renders and sends queued jobs, one recipient at a time per slot,
// then reports the outcome through the callback.
type Worker struct {
	log      *logger.Logger
	queue    Queue
	sender   mail.Sender
	callback CallbackPoster
	cfg      WorkerConfig
}

func NewWorker(baseLog *logger.Logger, queue Queue, sender mail.Sender, callback CallbackPoster, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Worker{
		log:      baseLog.With("component", "DispatchWorker"),
		queue:    queue,
		sender:   sender,
		callback: callback,
		cfg:      cfg,
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.queue == nil {
		return errors.New("dispatch worker: queue required")
	}
	w.log.Info("Dispatch worker started", "concurrency", w.cfg.Concurrency)
	for {
		if ctx.Err() != nil {
			w.log.Info("Dispatch worker stopped")
			return nil
		}
		raw, err := w.queue.Pop(ctx, w.cfg.PopTimeout)
		if errors.Is(err, ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Warn("Queue pop failed", "error", err)
			_ = httpx.Sleep(ctx, time.Second)
			continue
		}
		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			w.log.Error("Dropping undecodable job", "error", err, "bytes", len(raw))
			continue
		}
		w.Handle(ctx, job)
	}
}

// Handle processes job and posts the callback. Callback failures are
// logged; the producer treats a missing callback as still submitted.
func (w *Worker) Handle(ctx context.Context, job Job) Results {
	res := w.Process(ctx, job)
	if w.callback != nil && job.JobID != "" {
		cb := Callback{
			JobID:            job.JobID,
			Type:             job.Type,
			Status:           res.Status,
			EmailsSent:       res.EmailsSent,
			EmailsFailed:     res.EmailsFailed,
			Errors:           res.Errors,
			FailedRecipients: res.FailedRecipients,
		}
		if err := w.callback.Post(ctx, cb); err != nil {
			w.log.Warn("Callback failed", "job_id", job.JobID, "error", err)
		}
	}
	observability.Current().ObserveDispatchJob(job.Type, res.Status, res.EmailsSent, res.EmailsFailed)
	w.log.Info("Dispatch job processed",
		"job_id", job.JobID,
		"status", res.Status,
		"sent", res.EmailsSent,
		"failed", res.EmailsFailed,
	)
	return res
}

// Process sends every recipient independently. The job is completed only
// when nothing failed.
func (w *Worker) Process(ctx context.Context, job Job) Results {
	if err := validateJob(job); err != nil {
		res := Results{Status: StatusFailed, EmailsFailed: len(job.Recipients), Errors: []string{err.Error()}}
		for _, rcpt := range job.Recipients {
			res.FailedRecipients = append(res.FailedRecipients, rcpt.Email)
		}
		return res
	}

	var (
		mu  sync.Mutex
		res = Results{Errors: []string{}}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, rcpt := range job.Recipients {
		rcpt := rcpt
		g.Go(func() error {
			err := w.sendOne(gctx, job, rcpt)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.EmailsFailed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", rcpt.Email, err))
				res.FailedRecipients = append(res.FailedRecipients, rcpt.Email)
				return nil
			}
			res.EmailsSent++
			return nil
		})
	}
	_ = g.Wait()

	res.Status = StatusCompleted
	if res.EmailsFailed > 0 {
		res.Status = StatusPartialFailure
	}
	return res
}

func (w *Worker) sendOne(ctx context.Context, job Job, rcpt Recipient) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Recipient send panic", "job_id", job.JobID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if strings.TrimSpace(rcpt.Email) == "" {
		return mail.ErrNoRecipient
	}
	msg, err := mail.Render(job.Template, rcpt.RecipientData)
	if err != nil {
		return err
	}
	msg.To = rcpt.Email
	msg.Tags = map[string]string{"job_id": job.JobID}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()
	_, err = w.sender.Send(sendCtx, msg)
	return err
}

func validateJob(job Job) error {
	if strings.TrimSpace(job.JobID) == "" {
		return errors.New("job_id required")
	}
	if job.Type != JobTypeReminder && job.Type != JobTypeReport {
		return fmt.Errorf("unsupported job type %q", job.Type)
	}
	if len(job.Recipients) == 0 {
		return errors.New("no recipients")
	}
	return nil
}
