package reports

import (
	"time"

	"github.com/yungbote/lms-insights/internal/platform/envutil"
)

type Config struct {
	BatchSize       int           `validate:"gt=0"`
	BaseBackoff     time.Duration `validate:"gt=0"`
	MaxBackoff      time.Duration `validate:"gtefield=BaseBackoff"`
	StaleRunTimeout time.Duration `validate:"gt=0"`
	SendTimeout     time.Duration `validate:"gt=0"`
	FanOut          int           `validate:"gt=0"`
	// CacheTTL applies to interactive executions only.
	CacheTTL      time.Duration
	ArchivePrefix string
	CompanyID     string
}

func ConfigFromEnv() Config {
	return Config{
		BatchSize:       envutil.Int("REPORT_BATCH_SIZE", 20),
		BaseBackoff:     envutil.Duration("REPORT_BASE_BACKOFF", 5*time.Minute),
		MaxBackoff:      envutil.Duration("REPORT_MAX_BACKOFF", 24*time.Hour),
		StaleRunTimeout: envutil.Duration("REPORT_STALE_RUN_TIMEOUT", 2*time.Hour),
		SendTimeout:     envutil.Duration("REPORT_SEND_TIMEOUT", 60*time.Second),
		FanOut:          envutil.Int("REPORT_FANOUT", 4),
		CacheTTL:        envutil.Duration("REPORT_CACHE_TTL", 15*time.Minute),
		ArchivePrefix:   envutil.String("REPORT_ARCHIVE_PREFIX", "reports"),
		CompanyID:       envutil.String("DISPATCH_COMPANY_ID", ""),
	}
}
