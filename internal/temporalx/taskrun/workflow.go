package taskrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow runs one pass of a periodic task. Temporal schedules start it;
// retries are bounded so a persistently failing pass does not pile up
// behind the next scheduled fire.
func Workflow(ctx workflow.Context, in Input) (Result, error) {
	name := strings.TrimSpace(in.Task)
	if name == "" {
		return Result{}, fmt.Errorf("taskrun: missing task name")
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        10 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        5 * time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeUnknownTask},
		},
	})
	var out Result
	if err := workflow.ExecuteActivity(ctx, ActivityRunTask, Input{Task: name}).Get(ctx, &out); err != nil {
		return Result{}, err
	}
	return out, nil
}
