package aggregation

import (
	"time"

	"github.com/yungbote/lms-insights/internal/platform/envutil"
)

type Config struct {
	// Enabled gates heartbeat ingestion. Session closing and SCORM passes run regardless.
	Enabled        bool
	SessionTimeout time.Duration `validate:"gt=0"`
	CloseBatchSize int           `validate:"gt=0"`
}

func ConfigFromEnv() Config {
	return Config{
		Enabled:        envutil.Bool("TRACKING_ENABLED", true),
		SessionTimeout: envutil.Duration("TRACKING_SESSION_TIMEOUT", 30*time.Minute),
		CloseBatchSize: envutil.Int("TRACKING_CLOSE_BATCH_SIZE", 500),
	}
}
