package temporalx

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/lms-insights/internal/platform/logger"
	"github.com/yungbote/lms-insights/internal/temporalx/taskrun"
)

// ScheduleID names the Temporal schedule that fires task.
func ScheduleID(task string) string { return "lms-task-" + task }

// EnsureSchedules creates one Temporal schedule per task. Existing
// schedules are left untouched; overlapping fires are skipped.
func EnsureSchedules(ctx context.Context, log *logger.Logger, c temporalsdkclient.Client, cfg Config, specs map[string]string) (int, error) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	created := 0
	sc := c.ScheduleClient()
	for _, name := range names {
		spec := strings.TrimSpace(specs[name])
		if spec == "" || strings.EqualFold(spec, "off") {
			continue
		}
		_, err := sc.Create(ctx, temporalsdkclient.ScheduleOptions{
			ID:      ScheduleID(name),
			Spec:    temporalsdkclient.ScheduleSpec{CronExpressions: []string{spec}},
			Overlap: enums.SCHEDULE_OVERLAP_POLICY_SKIP,
			Action: &temporalsdkclient.ScheduleWorkflowAction{
				ID:        "lms-task-run-" + name,
				Workflow:  taskrun.WorkflowName,
				Args:      []interface{}{taskrun.Input{Task: name}},
				TaskQueue: cfg.TaskQueue,
			},
		})
		if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create schedule %s: %w", name, err)
		}
		created++
		log.Info("Temporal schedule created", "task", name, "spec", spec)
	}
	return created, nil
}
