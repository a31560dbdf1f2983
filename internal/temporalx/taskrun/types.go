package taskrun

const (
	WorkflowName    = "task_run"
	ActivityRunTask = "task_run_pass"
)

type Input struct {
	Task string `json:"task"`
}

type Result struct {
	Task    string         `json:"task"`
	Summary map[string]any `json:"summary,omitempty"`
}
