package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/yungbote/lms-insights/internal/aggregation"
	"github.com/yungbote/lms-insights/internal/data/db"
	"github.com/yungbote/lms-insights/internal/observability"
	"github.com/yungbote/lms-insights/internal/platform/envutil"
	"github.com/yungbote/lms-insights/internal/platform/gcp"
	"github.com/yungbote/lms-insights/internal/platform/logger"
	"github.com/yungbote/lms-insights/internal/platform/sendgrid"
	"github.com/yungbote/lms-insights/internal/reminders"
	"github.com/yungbote/lms-insights/internal/reports"
	"github.com/yungbote/lms-insights/internal/tasks"
	"github.com/yungbote/lms-insights/internal/temporalx"
)

// AuthConfig signs and verifies learner tokens. The dispatch worker runs
// without it.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// DispatchConfig covers both sides of the cloud channel: the producer's
// queue and callback verification, and the worker's consumer settings.
type DispatchConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int `validate:"gte=0"`
	QueueKey       string
	SubmitTimeout  time.Duration `validate:"gt=0"`
	CallbackURL    string        `validate:"omitempty,url"`
	CallbackSecret string
	WorkerAddr     string
	WorkerConc     int           `validate:"gt=0"`
	PopTimeout     time.Duration `validate:"gt=0"`
	SendTimeout    time.Duration `validate:"gt=0"`
}

func (c DispatchConfig) Enabled() bool { return strings.TrimSpace(c.RedisAddr) != "" }

type Config struct {
	Env         string
	HTTPAddr    string `validate:"required"`
	CORSOrigins []string

	Auth     AuthConfig
	Postgres db.PostgresConfig
	Tracking aggregation.Config
	Reminder reminders.Config
	Report   reports.Config
	Dispatch DispatchConfig
	Task     tasks.Config
	Temporal temporalx.Config
	SendGrid sendgrid.Config
	Archive  gcp.ArchiveConfig
	Otel     observability.OtelConfig

	MetricsEnabled bool
}

// LoadConfig reads an optional .env file (ENV_FILE, default ".env"), then the
// process environment, and validates the result.
func LoadConfig(log *logger.Logger) (Config, error) {
	envFile := envutil.String("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
		log.Debug("No env file, using process environment", "path", envFile)
	}

	archive, err := gcp.ArchiveConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Env:         envutil.String("APP_ENV", "development"),
		HTTPAddr:    envutil.String("HTTP_ADDR", ":8080"),
		CORSOrigins: envutil.List("CORS_ORIGINS"),
		Auth: AuthConfig{
			JWTSecret: envutil.String("JWT_SECRET_KEY", ""),
			Issuer:    envutil.String("JWT_ISSUER", "lms-insights"),
		},
		Postgres: db.PostgresConfigFromEnv(),
		Tracking: aggregation.ConfigFromEnv(),
		Reminder: reminders.ConfigFromEnv(),
		Report:   reports.ConfigFromEnv(),
		Dispatch: DispatchConfig{
			RedisAddr:      envutil.String("REDIS_ADDR", ""),
			RedisPassword:  envutil.String("REDIS_PASSWORD", ""),
			RedisDB:        envutil.Int("REDIS_DB", 0),
			QueueKey:       envutil.String("DISPATCH_QUEUE_KEY", "lms:dispatch:jobs"),
			SubmitTimeout:  envutil.Duration("DISPATCH_SUBMIT_TIMEOUT", 10*time.Second),
			CallbackURL:    envutil.String("DISPATCH_CALLBACK_URL", ""),
			CallbackSecret: envutil.String("DISPATCH_CALLBACK_SECRET", ""),
			WorkerAddr:     envutil.String("DISPATCH_WORKER_ADDR", ":8090"),
			WorkerConc:     envutil.Int("DISPATCH_WORKER_CONCURRENCY", 8),
			PopTimeout:     envutil.Duration("DISPATCH_POP_TIMEOUT", 5*time.Second),
			SendTimeout:    envutil.Duration("DISPATCH_SEND_TIMEOUT", 30*time.Second),
		},
		Task:           tasks.ConfigFromEnv(),
		Temporal:       temporalx.LoadConfig(),
		SendGrid:       sendgrid.ConfigFromEnv(),
		Archive:        archive,
		Otel:           observability.OtelConfigFromEnv("lms-insights"),
		MetricsEnabled: observability.Enabled(),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Task.Trigger == tasks.TriggerTemporal && !c.Temporal.Enabled() {
		return errors.New("invalid config: TASK_TRIGGER=temporal requires TEMPORAL_ADDRESS")
	}
	if c.Dispatch.CallbackURL != "" && c.Dispatch.CallbackSecret == "" {
		return errors.New("invalid config: DISPATCH_CALLBACK_URL requires DISPATCH_CALLBACK_SECRET")
	}
	return nil
}
