package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/data/db"
	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/dispatch"
	apphttp "github.com/yungbote/lms-insights/internal/http"
	httpH "github.com/yungbote/lms-insights/internal/http/handlers"
	httpMW "github.com/yungbote/lms-insights/internal/http/middleware"
	"github.com/yungbote/lms-insights/internal/observability"
	"github.com/yungbote/lms-insights/internal/platform/authtoken"
	"github.com/yungbote/lms-insights/internal/platform/logger"
	"github.com/yungbote/lms-insights/internal/tasks"
	"github.com/yungbote/lms-insights/internal/temporalx"
	"github.com/yungbote/lms-insights/internal/temporalx/temporalworker"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    repos.Set
	Clients  Clients
	Services Services
	Metrics  *observability.Metrics
	Router   *gin.Engine

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
	cron         *tasks.CronTrigger
}

// New loads configuration, connects to Postgres, migrates the schema and
// wires every engine. Triggers are not started until Start.
func New(ctx context.Context, log *logger.Logger) (*App, error) {
	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		return nil, err
	}
	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)
	metrics := observability.Init(cfg.MetricsEnabled)

	pg, err := db.NewPostgresService(log, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}

	a, err := build(ctx, log, cfg, pg.DB(), metrics)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}
	a.pg = pg
	a.otelShutdown = otelShutdown
	metrics.StartPostgresCollector(ctx, log, pg.DB(), 0)
	return a, nil
}

func build(ctx context.Context, log *logger.Logger, cfg Config, gdb *gorm.DB, metrics *observability.Metrics) (*App, error) {
	rs := repos.NewSet(gdb, log)
	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	services, err := wireServices(gdb, log, cfg, rs, clients)
	if err != nil {
		clients.Close()
		return nil, err
	}
	a := &App{
		Log:      log,
		DB:       gdb,
		Cfg:      cfg,
		Repos:    rs,
		Clients:  clients,
		Services: services,
		Metrics:  metrics,
	}
	a.Router = a.wireRouter()
	return a, nil
}

func (a *App) wireRouter() *gin.Engine {
	rc := apphttp.RouterConfig{
		Log:             a.Log,
		ServiceName:     a.Cfg.Otel.ServiceName,
		CORSOrigins:     a.Cfg.CORSOrigins,
		Metrics:         a.Metrics,
		AuthMiddleware:  httpMW.NewAuthMiddleware(a.Log, a.Clients.UserTokens),
		TrackingHandler: httpH.NewTrackingHandler(a.Log, a.Services.Tracker),
		HealthHandler:   httpH.NewHealthHandler(a.healthChecks()),
	}
	if a.Clients.CallbackTokens != nil {
		rc.CallbackAuth = httpMW.RequireAudience(a.Log, a.Clients.CallbackTokens, authtoken.AudienceCallback)
		callbacks := dispatch.NewCallbackRouter().
			Handle(dispatch.JobTypeReminder, a.Services.Reminders).
			Handle(dispatch.JobTypeReport, a.Services.Reports)
		rc.CallbackHandler = httpH.NewCallbackHandler(a.Log, callbacks)
	}
	return apphttp.NewRouter(rc)
}

func (a *App) healthChecks() map[string]httpH.Pinger {
	return map[string]httpH.Pinger{
		"db": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
}

// Start launches the configured periodic-task trigger.
func (a *App) Start(ctx context.Context) error {
	switch a.Cfg.Task.Trigger {
	case tasks.TriggerCron:
		trigger, err := tasks.NewCronTrigger(a.Log, a.Services.Tasks, a.Cfg.Task)
		if err != nil {
			return err
		}
		trigger.Start()
		a.cron = trigger
	case tasks.TriggerTemporal:
		tc, err := temporalx.NewClient(ctx, a.Log, a.Cfg.Temporal)
		if err != nil {
			return fmt.Errorf("init temporal client: %w", err)
		}
		if tc == nil {
			return errors.New("temporal trigger selected but TEMPORAL_ADDRESS is empty")
		}
		a.Clients.Temporal = tc
		n, err := temporalx.EnsureSchedules(ctx, a.Log, a.Clients.Temporal, a.Cfg.Temporal, a.Cfg.Task.Schedules)
		if err != nil {
			return err
		}
		a.Log.Info("Temporal schedules ensured", "created", n)
		w, err := temporalworker.NewRunner(a.Log, a.Cfg.Temporal, a.Clients.Temporal, a.Services.Tasks)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
	default:
		a.Log.Info("No in-process task trigger; run passes with cmd/runtask")
	}
	return nil
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Router == nil {
		return errors.New("app not initialized")
	}
	return apphttp.NewServer(a.Log, a.Cfg.HTTPAddr, a.Router).Run(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if a.cron != nil {
		a.cron.Stop(ctx)
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	a.Log.Sync()
}
