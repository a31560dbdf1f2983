package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/yungbote/lms-insights/internal/platform/logger"
)

// CronTrigger fires registered tasks in-process. Overlapping fires of the
// same task are skipped while the previous pass is still running.
type CronTrigger struct {
	log    *logger.Logger
	runner *Runner
	cfg    Config
	cron   *cron.Cron
}

func NewCronTrigger(baseLog *logger.Logger, runner *Runner, cfg Config) (*CronTrigger, error) {
	log := baseLog.With("component", "CronTrigger")
	cl := cronLogger{log: log}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	t := &CronTrigger{log: log, runner: runner, cfg: cfg, cron: c}

	for _, name := range runner.Registry().Names() {
		spec := strings.TrimSpace(cfg.Schedules[name])
		if spec == "" || strings.EqualFold(spec, "off") {
			log.Info("Task trigger disabled", "task", name)
			continue
		}
		if _, err := c.AddFunc(spec, t.fire(name)); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", name, spec, err)
		}
	}
	return t, nil
}

func (t *CronTrigger) fire(name string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PassTimeout)
		defer cancel()
		// Runner already logs and audits failures.
		_, _ = t.runner.Run(ctx, name)
	}
}

func (t *CronTrigger) Start() {
	t.log.Info("Cron trigger started", "entries", len(t.cron.Entries()))
	t.cron.Start()
}

// Stop waits for running passes to return or ctx to end.
func (t *CronTrigger) Stop(ctx context.Context) {
	done := t.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		t.log.Warn("Cron trigger stop timed out")
	}
}

type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
