package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/lms-insights/internal/http/handlers"
	httpMW "github.com/yungbote/lms-insights/internal/http/middleware"
	"github.com/yungbote/lms-insights/internal/observability"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	AuthMiddleware *httpMW.AuthMiddleware
	// CallbackAuth guards the dispatch callback; nil leaves the route unregistered.
	CallbackAuth gin.HandlerFunc

	TrackingHandler *httpH.TrackingHandler
	CallbackHandler *httpH.CallbackHandler
	HealthHandler   *httpH.HealthHandler
}

func base(log *logger.Logger, service string, m *observability.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(service))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(log))
	r.Use(httpMW.Metrics(m))
	if m != nil {
		r.GET("/metrics", gin.WrapF(m.WriteHTTP))
	}
	return r
}

// NewRouter builds the LMS-facing API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	service := cfg.ServiceName
	if service == "" {
		service = "lms-insights"
	}
	r := base(cfg.Log, service, cfg.Metrics)
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")

	// Service-to-service
	if cfg.CallbackHandler != nil && cfg.CallbackAuth != nil {
		api.POST("/dispatch/callback", cfg.CallbackAuth, cfg.CallbackHandler.Callback)
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Time tracking
		if cfg.TrackingHandler != nil {
			protected.POST("/tracking/heartbeat", cfg.TrackingHandler.Heartbeat)
		}
	}

	return r
}

type WorkerRouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	JobsHandler *httpH.JobsHandler
	// JobsAuth guards POST /jobs; nil leaves it open for private networks.
	JobsAuth      gin.HandlerFunc
	HealthHandler *httpH.HealthHandler
}

// NewWorkerRouter builds the dispatch worker's HTTP surface.
func NewWorkerRouter(cfg WorkerRouterConfig) *gin.Engine {
	r := base(cfg.Log, "lms-dispatch-worker", cfg.Metrics)
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.JobsHandler != nil {
		handlers := []gin.HandlerFunc{}
		if cfg.JobsAuth != nil {
			handlers = append(handlers, cfg.JobsAuth)
		}
		handlers = append(handlers, cfg.JobsHandler.Submit)
		r.POST("/jobs", handlers...)
	}
	return r
}
