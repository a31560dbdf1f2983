package taskrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/yungbote/lms-insights/internal/tasks"
)

type scriptedRunner struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *scriptedRunner) Run(ctx context.Context, name string) (tasks.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if name == "missing" {
		return nil, fmt.Errorf("%w: %q", tasks.ErrUnknownTask, name)
	}
	if s.calls <= s.failures {
		return nil, errors.New("transient")
	}
	return tasks.Summary{"sent": 2}, nil
}

func newEnv(t *testing.T, r *scriptedRunner) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(Workflow)
	acts := &Activities{Runner: r}
	env.RegisterActivityWithOptions(acts.RunTask, activity.RegisterOptions{Name: ActivityRunTask})
	return env
}

func TestWorkflowRetriesTransientFailure(t *testing.T) {
	r := &scriptedRunner{failures: 1}
	env := newEnv(t, r)
	env.ExecuteWorkflow(Workflow, Input{Task: "reminder_send"})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var out Result
	if err := env.GetWorkflowResult(&out); err != nil {
		t.Fatalf("result: %v", err)
	}
	if out.Task != "reminder_send" || r.calls != 2 {
		t.Fatalf("unexpected result %+v after %d calls", out, r.calls)
	}
}

func TestWorkflowDoesNotRetryUnknownTask(t *testing.T) {
	r := &scriptedRunner{}
	env := newEnv(t, r)
	env.ExecuteWorkflow(Workflow, Input{Task: "missing"})

	if env.GetWorkflowError() == nil {
		t.Fatalf("expected workflow error")
	}
	if r.calls != 1 {
		t.Fatalf("unknown task retried: %d calls", r.calls)
	}
}

func TestWorkflowRejectsEmptyTask(t *testing.T) {
	env := newEnv(t, &scriptedRunner{})
	env.ExecuteWorkflow(Workflow, Input{})
	if env.GetWorkflowError() == nil {
		t.Fatalf("expected error for empty task")
	}
}
