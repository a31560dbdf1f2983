package tasks

import (
	"strings"
	"time"

	"github.com/yungbote/lms-insights/internal/platform/envutil"
)

const (
	TriggerCron     = "cron"
	TriggerTemporal = "temporal"
	TriggerNone     = "none"
)

type Config struct {
	Trigger        string            `validate:"oneof=cron temporal none"`
	Schedules      map[string]string `validate:"required"`
	PassTimeout    time.Duration     `validate:"gt=0"`
	AuditRetention time.Duration     `validate:"gte=0"`
}

var defaultSchedules = map[string]string{
	TaskCloseSessions:     "*/5 * * * *",
	TaskScormSummaries:    "*/15 * * * *",
	TaskCacheRebuild:      "@hourly",
	TaskCacheCleanup:      "30 * * * *",
	TaskReminderInstances: "*/30 * * * *",
	TaskReminderSend:      "*/5 * * * *",
	TaskReportSchedules:   "* * * * *",
	TaskReportRunReaper:   "*/15 * * * *",
	TaskAuditCleanup:      "0 3 * * *",
}

// ConfigFromEnv reads TASK_TRIGGER and one TASK_SCHEDULE_<NAME> override per
// task. An override of "off" disables the task's trigger.
func ConfigFromEnv() Config {
	schedules := make(map[string]string, len(defaultSchedules))
	for name, spec := range defaultSchedules {
		schedules[name] = envutil.String("TASK_SCHEDULE_"+strings.ToUpper(name), spec)
	}
	return Config{
		Trigger:        strings.ToLower(envutil.String("TASK_TRIGGER", TriggerCron)),
		Schedules:      schedules,
		PassTimeout:    envutil.Duration("TASK_PASS_TIMEOUT", 15*time.Minute),
		AuditRetention: envutil.Duration("AUDIT_RETENTION", 90*24*time.Hour),
	}
}
