package temporalx

import (
	"time"

	"github.com/yungbote/lms-insights/internal/platform/envutil"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	AutoRegisterNamespace bool
	NamespaceRetention    time.Duration
	DialTimeout           time.Duration
	DialMaxWait           time.Duration
	Backoff               time.Duration
	BackoffMax            time.Duration
	WorkerConcurrency     int
}

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "lms-insights"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "lms-insights-tasks"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		AutoRegisterNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		NamespaceRetention:    envutil.Duration("TEMPORAL_NAMESPACE_RETENTION", 7*24*time.Hour),
		DialTimeout:           envutil.Duration("TEMPORAL_DIAL_TIMEOUT", 5*time.Second),
		DialMaxWait:           envutil.Duration("TEMPORAL_DIAL_MAX_WAIT", 60*time.Second),
		Backoff:               envutil.Duration("TEMPORAL_BACKOFF", 250*time.Millisecond),
		BackoffMax:            envutil.Duration("TEMPORAL_BACKOFF_MAX", 5*time.Second),
		WorkerConcurrency:     envutil.Int("TEMPORAL_WORKER_CONCURRENCY", 4),
	}
}

func (c Config) Enabled() bool { return c.Address != "" }

func (c Config) mTLS() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}
