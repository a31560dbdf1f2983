// Command dispatchworker consumes the cloud dispatch queue, serves POST /jobs
// for synchronous submissions and reports every outcome to the producer's
// callback endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/lms-insights/internal/app"
	"github.com/yungbote/lms-insights/internal/dispatch"
	apphttp "github.com/yungbote/lms-insights/internal/http"
	httpH "github.com/yungbote/lms-insights/internal/http/handlers"
	httpMW "github.com/yungbote/lms-insights/internal/http/middleware"
	"github.com/yungbote/lms-insights/internal/observability"
	"github.com/yungbote/lms-insights/internal/platform/authtoken"
	"github.com/yungbote/lms-insights/internal/platform/envutil"
	"github.com/yungbote/lms-insights/internal/platform/logger"
	"github.com/yungbote/lms-insights/internal/platform/shutdown"
)

func main() {
	log, err := logger.New(envutil.String("LOG_MODE", "production"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("Dispatch worker exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger) error {
	cfg, err := app.LoadConfig(log)
	if err != nil {
		return err
	}
	if !cfg.Dispatch.Enabled() {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	otelCfg := cfg.Otel
	otelCfg.ServiceName = envutil.String("OTEL_SERVICE_NAME", "lms-dispatch-worker")
	otelShutdown := observability.InitOTel(ctx, log, otelCfg)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(sctx)
	}()
	metrics := observability.Init(cfg.MetricsEnabled)

	queue, err := app.NewQueue(ctx, cfg.Dispatch)
	if err != nil {
		return fmt.Errorf("init dispatch queue: %w", err)
	}
	defer queue.Close()

	sender, err := app.NewMailSender(log, cfg.SendGrid)
	if err != nil {
		return err
	}

	var (
		signer   *authtoken.Signer
		callback dispatch.CallbackPoster
	)
	if cfg.Dispatch.CallbackSecret != "" {
		if signer, err = authtoken.NewSigner(cfg.Dispatch.CallbackSecret, "lms-dispatch"); err != nil {
			return err
		}
	}
	if cfg.Dispatch.CallbackURL != "" {
		callback = dispatch.NewHTTPCallback(log, cfg.Dispatch.CallbackURL, signer, 10*time.Second, 3)
	} else {
		log.Warn("DISPATCH_CALLBACK_URL not set; job outcomes are not reported back")
	}

	worker := dispatch.NewWorker(log, queue, sender, callback, dispatch.WorkerConfig{
		Concurrency: cfg.Dispatch.WorkerConc,
		PopTimeout:  cfg.Dispatch.PopTimeout,
		SendTimeout: cfg.Dispatch.SendTimeout,
	})

	rc := apphttp.WorkerRouterConfig{
		Log:           log,
		Metrics:       metrics,
		JobsHandler:   httpH.NewJobsHandler(worker),
		HealthHandler: httpH.NewHealthHandler(nil),
	}
	if signer != nil {
		rc.JobsAuth = httpMW.RequireAudience(log, signer, authtoken.AudienceJobs)
	}
	srv := apphttp.NewServer(log, cfg.Dispatch.WorkerAddr, apphttp.NewWorkerRouter(rc))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	return g.Wait()
}
