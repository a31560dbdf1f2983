package tasks

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/domain/audit"
	"github.com/yungbote/lms-insights/internal/observability"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type attemptKey struct{}

// WithAttempt marks ctx as the n-th delivery of the same pass, 1-based.
// Triggers that retry, such as Temporal activities, set it so failures
// record how many retries preceded them.
func WithAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, attemptKey{}, n)
}

func attemptFrom(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok && n > 0 {
		return n
	}
	return 1
}

// PanicError is returned by Run when a task panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panic: %v", e.Value) }

type Runner struct {
	log      *logger.Logger
	registry *Registry
	failed   repos.FailedJobRepo
	now      func() time.Time
}

func NewRunner(baseLog *logger.Logger, registry *Registry, failed repos.FailedJobRepo) *Runner {
	return &Runner{
		log:      baseLog.With("component", "TaskRunner"),
		registry: registry,
		failed:   failed,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Runner) Registry() *Registry { return r.registry }

// Run executes one pass of the named task. Errors and panics that escape
// the task are audited as FailedJob rows before being returned.
func (r *Runner) Run(ctx context.Context, name string) (sum Summary, err error) {
	t, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}

	ctx, span := otel.Tracer("tasks").Start(ctx, "task."+name)
	span.SetAttributes(attribute.String("task.name", name))
	log := r.log.With("task", name)
	start := r.now()
	stack := ""

	defer func() {
		if rec := recover(); rec != nil {
			stack = string(debug.Stack())
			err = &PanicError{Value: rec, Stack: stack}
			sum = nil
		}
		elapsed := r.now().Sub(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "task failed")
			log.Error("Task failed", "duration_ms", elapsed.Milliseconds(), "error", err)
			r.audit(ctx, name, err, stack)
			observability.Current().ObserveTask(name, "failed", elapsed)
		} else {
			log.Info("Task completed", "duration_ms", elapsed.Milliseconds(), "summary", map[string]any(sum))
			observability.Current().ObserveTask(name, "ok", elapsed)
		}
		span.End()
	}()

	return t.Execute(ctx)
}

func (r *Runner) audit(ctx context.Context, name string, runErr error, stack string) {
	if r.failed == nil {
		return
	}
	if stack == "" {
		stack = fmt.Sprintf("%+v", runErr)
	}
	// The pass context may already be cancelled; the audit row must land anyway.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	now := r.now()
	row := &audit.FailedJob{
		TaskName:   name,
		Error:      runErr.Error(),
		Stack:      stack,
		FailedAt:   now,
		RetryCount: attemptFrom(ctx) - 1,
	}
	if row.RetryCount > 0 {
		row.LastRetryAt = &now
	}
	if err := r.failed.Create(dbctx.From(auditCtx), row); err != nil {
		r.log.Error("Record failed task failed", "task", name, "error", err)
	}
}
