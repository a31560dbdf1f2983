package reminders

import (
	"time"

	"github.com/yungbote/lms-insights/internal/platform/envutil"
)

type Config struct {
	BatchSize     int           `validate:"gt=0"`
	LockWindow    time.Duration `validate:"gt=0"`
	RetryInterval time.Duration `validate:"gt=0"`
	// SendTimeout bounds one recipient send and must fit inside LockWindow.
	SendTimeout   time.Duration `validate:"gt=0,ltfield=LockWindow"`
	// CompanyID tags cloud jobs so a shared worker can tell tenants apart.
	CompanyID string
}

func ConfigFromEnv() Config {
	return Config{
		BatchSize:     envutil.Int("REMINDER_BATCH_SIZE", 100),
		LockWindow:    envutil.Duration("REMINDER_LOCK_WINDOW", 10*time.Minute),
		RetryInterval: envutil.Duration("REMINDER_RETRY_INTERVAL", time.Hour),
		SendTimeout:   envutil.Duration("REMINDER_SEND_TIMEOUT", 30*time.Second),
		CompanyID:     envutil.String("DISPATCH_COMPANY_ID", ""),
	}
}
