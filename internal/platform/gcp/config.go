package gcp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yungbote/lms-insights/internal/platform/envutil"
)

type StorageMode string

const (
	StorageModeGCS         StorageMode = "gcs"
	StorageModeGCSEmulator StorageMode = "gcs_emulator"
)

// ArchiveConfig locates the bucket report exports are copied to. An empty
// Bucket disables archiving.
type ArchiveConfig struct {
	Mode          StorageMode
	EmulatorHost  string
	Bucket        string
	PublicBaseURL string
}

func (c ArchiveConfig) Enabled() bool { return strings.TrimSpace(c.Bucket) != "" }

func ArchiveConfigFromEnv() (ArchiveConfig, error) {
	cfg := ArchiveConfig{
		EmulatorHost:  strings.TrimRight(envutil.String("STORAGE_EMULATOR_HOST", ""), "/"),
		Bucket:        envutil.String("REPORT_ARCHIVE_BUCKET", ""),
		PublicBaseURL: strings.TrimRight(envutil.String("REPORT_ARCHIVE_PUBLIC_BASE_URL", ""), "/"),
	}
	raw := strings.ToLower(envutil.String("OBJECT_STORAGE_MODE", ""))
	switch StorageMode(raw) {
	case "":
		// A configured emulator host implies emulator mode.
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeGCSEmulator
		} else {
			cfg.Mode = StorageModeGCS
		}
	case StorageModeGCS, StorageModeGCSEmulator:
		cfg.Mode = StorageMode(raw)
	default:
		return cfg, fmt.Errorf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q)", raw, StorageModeGCS, StorageModeGCSEmulator)
	}
	return cfg, cfg.Validate()
}

func (c ArchiveConfig) Validate() error {
	switch c.Mode {
	case StorageModeGCS:
	case StorageModeGCSEmulator:
		if c.EmulatorHost == "" {
			return fmt.Errorf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST", StorageModeGCSEmulator)
		}
		if !absoluteURL(c.EmulatorHost) {
			return fmt.Errorf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", c.EmulatorHost)
		}
	default:
		return fmt.Errorf("invalid storage mode %q", c.Mode)
	}
	if c.PublicBaseURL != "" && !absoluteURL(c.PublicBaseURL) {
		return fmt.Errorf("invalid REPORT_ARCHIVE_PUBLIC_BASE_URL=%q", c.PublicBaseURL)
	}
	return nil
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && strings.TrimSpace(u.Scheme) != "" && strings.TrimSpace(u.Host) != ""
}
