package taskrun

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/lms-insights/internal/tasks"
)

const ErrTypeUnknownTask = "UnknownTask"

// TaskRunner is the slice of tasks.Runner the activity calls.
type TaskRunner interface {
	Run(ctx context.Context, name string) (tasks.Summary, error)
}

type Activities struct {
	Runner            TaskRunner
	HeartbeatInterval time.Duration
}

func (a *Activities) RunTask(ctx context.Context, in Input) (Result, error) {
	info := activity.GetInfo(ctx)
	stop := a.startHeartbeat(ctx)
	defer stop()

	sum, err := a.Runner.Run(tasks.WithAttempt(ctx, int(info.Attempt)), in.Task)
	if errors.Is(err, tasks.ErrUnknownTask) {
		return Result{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeUnknownTask, err)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Task: in.Task, Summary: sum}, nil
}

func (a *Activities) startHeartbeat(ctx context.Context) func() {
	every := a.HeartbeatInterval
	if every <= 0 {
		every = 10 * time.Second
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
