package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/lms-insights/internal/platform/httpx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
	"github.com/yungbote/lms-insights/internal/temporalx"
	"github.com/yungbote/lms-insights/internal/temporalx/taskrun"
)

type Runner struct {
	log    *logger.Logger
	cfg    temporalx.Config
	tc     temporalsdkclient.Client
	runner taskrun.TaskRunner
}

func NewRunner(log *logger.Logger, cfg temporalx.Config, tc temporalsdkclient.Client, runner taskrun.TaskRunner) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if runner == nil {
		return nil, fmt.Errorf("temporal worker missing task runner")
	}
	return &Runner{log: log.With("component", "TemporalWorker"), cfg: cfg, tc: tc, runner: runner}, nil
}

// Start polls the task queue until ctx ends. Startup is retried while the
// namespace is still being provisioned.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)
	deadline := time.Now().Add(r.cfg.DialMaxWait)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var missing *serviceerror.NamespaceNotFound
		if errors.As(startErr, &missing) && r.cfg.AutoRegisterNamespace {
			if err := temporalx.EnsureNamespace(ctx, r.log, r.cfg); err != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", r.cfg.Namespace, "error", err)
			}
		}
		if r.cfg.DialMaxWait <= 0 || time.Now().After(deadline) {
			if errors.As(startErr, &missing) {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, startErr)
			}
			return startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		if err := httpx.Sleep(ctx, r.cfg.Backoff*time.Duration(attempt)); err != nil {
			return err
		}
	}
}

func (r *Runner) newWorker() worker.Worker {
	concurrency := r.cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	acts := &taskrun.Activities{Runner: r.runner}
	w.RegisterWorkflowWithOptions(taskrun.Workflow, workflow.RegisterOptions{Name: taskrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.RunTask, activity.RegisterOptions{Name: taskrun.ActivityRunTask})
	return w
}
