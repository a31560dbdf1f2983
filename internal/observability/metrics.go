package observability

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/platform/envutil"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

// Metrics is the process-wide registry. Every method is a no-op on a nil
// receiver so call sites never need to check whether metrics are enabled.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	taskRuns    *CounterVec
	taskLatency *HistogramVec

	reminderSends *CounterVec
	reportRuns    *CounterVec

	dispatchJobs   *CounterVec
	dispatchEmails *CounterVec

	pgStats *GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool { return envutil.Bool("METRICS_ENABLED", false) }

// Current returns the registry installed by Init, or nil.
func Current() *Metrics { return instance }

func Init(enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	initOnce.Do(func() { instance = newMetrics() })
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("lms_api_requests_total", "API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"lms_api_request_duration_seconds",
			"API request latency in seconds.",
			[]string{"method", "route"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		),
		apiInflight:    NewGauge("lms_api_inflight_requests", "In-flight API requests."),
		taskRuns:       NewCounterVec("lms_task_runs_total", "Periodic task passes by task/status.", []string{"task", "status"}),
		taskLatency:    NewHistogramVec("lms_task_duration_seconds", "Periodic task pass duration in seconds.", []string{"task"}, nil),
		reminderSends:  NewCounterVec("lms_reminder_sends_total", "Reminder instances processed by outcome.", []string{"outcome"}),
		reportRuns:     NewCounterVec("lms_report_runs_total", "Scheduled report runs by kind/status.", []string{"kind", "status"}),
		dispatchJobs:   NewCounterVec("lms_dispatch_jobs_total", "Dispatch jobs processed by type/status.", []string{"type", "status"}),
		dispatchEmails: NewCounterVec("lms_dispatch_emails_total", "Dispatch emails by outcome.", []string{"outcome"}),
		pgStats:        NewGaugeVec("lms_db_pool", "database/sql pool statistics.", []string{"stat"}),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, _ *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.taskRuns, m.taskLatency,
		m.reminderSends, m.reportRuns,
		m.dispatchJobs, m.dispatchEmails,
		m.pgStats,
	}
	for _, mw := range writers {
		if err := mw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, strconv.Itoa(status))
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) APIInflight(delta float64) {
	if m == nil {
		return
	}
	m.apiInflight.Add(delta)
}

func (m *Metrics) ObserveTask(task, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.taskRuns.Inc(task, status)
	m.taskLatency.Observe(dur.Seconds(), task)
}

// AddReminderOutcomes records one pass of the reminder sender.
func (m *Metrics) AddReminderOutcomes(sent, completed, skipped, failed int) {
	if m == nil {
		return
	}
	m.reminderSends.Add(float64(sent), "sent")
	m.reminderSends.Add(float64(completed), "completed")
	m.reminderSends.Add(float64(skipped), "skipped")
	m.reminderSends.Add(float64(failed), "failed")
}

func (m *Metrics) IncReportRun(kind, status string) {
	if m == nil {
		return
	}
	m.reportRuns.Inc(kind, status)
}

func (m *Metrics) ObserveDispatchJob(jobType, status string, sent, failed int) {
	if m == nil {
		return
	}
	m.dispatchJobs.Inc(jobType, status)
	m.dispatchEmails.Add(float64(sent), "sent")
	m.dispatchEmails.Add(float64(failed), "failed")
}

// StartPostgresCollector samples the connection pool until ctx is done.
func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.samplePool(log, db)
			}
		}
	}()
}

func (m *Metrics) samplePool(log *logger.Logger, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		if log != nil {
			log.Warn("metrics: db stats unavailable", "error", err)
		}
		return
	}
	stats := sqlDB.Stats()
	m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
	m.pgStats.Set(float64(stats.InUse), "in_use")
	m.pgStats.Set(float64(stats.Idle), "idle")
	m.pgStats.Set(float64(stats.WaitCount), "wait_count")
	m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
	m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
}
