package gcp

import (
	"strings"
	"testing"
)

func TestArchiveConfigFromEnvDefaultsToGCS(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "")
	t.Setenv("REPORT_ARCHIVE_BUCKET", "exports")

	cfg, err := ArchiveConfigFromEnv()
	if err != nil {
		t.Fatalf("ArchiveConfigFromEnv: %v", err)
	}
	if cfg.Mode != StorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", StorageModeGCS, cfg.Mode)
	}
	if !cfg.Enabled() {
		t.Fatalf("expected archive enabled")
	}
}

func TestArchiveConfigFromEnvEmulatorFallback(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443/")
	t.Setenv("REPORT_ARCHIVE_BUCKET", "exports")

	cfg, err := ArchiveConfigFromEnv()
	if err != nil {
		t.Fatalf("ArchiveConfigFromEnv: %v", err)
	}
	if cfg.Mode != StorageModeGCSEmulator {
		t.Fatalf("mode: want=%q got=%q", StorageModeGCSEmulator, cfg.Mode)
	}
	if cfg.EmulatorHost != "http://fake-gcs:4443" {
		t.Fatalf("emulator host not trimmed: %q", cfg.EmulatorHost)
	}
}

func TestArchiveConfigFromEnvRejectsBadMode(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "s3")
	if _, err := ArchiveConfigFromEnv(); err == nil || !strings.Contains(err.Error(), "OBJECT_STORAGE_MODE") {
		t.Fatalf("expected mode error, got %v", err)
	}
}

func TestArchiveConfigEmulatorRequiresHost(t *testing.T) {
	cfg := ArchiveConfig{Mode: StorageModeGCSEmulator, Bucket: "exports"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing host error")
	}
	cfg.EmulatorHost = "fake-gcs:4443"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected relative host error")
	}
}

func TestPublicURL(t *testing.T) {
	cases := []struct {
		name string
		cfg  ArchiveConfig
		key  string
		want string
	}{
		{
			name: "gcs",
			cfg:  ArchiveConfig{Mode: StorageModeGCS, Bucket: "exports"},
			key:  "/reports/a.csv",
			want: "https://storage.googleapis.com/exports/reports/a.csv",
		},
		{
			name: "public base",
			cfg:  ArchiveConfig{Mode: StorageModeGCS, Bucket: "exports", PublicBaseURL: "https://cdn.example.com"},
			key:  "reports/a.csv",
			want: "https://cdn.example.com/exports/reports/a.csv",
		},
		{
			name: "emulator",
			cfg:  ArchiveConfig{Mode: StorageModeGCSEmulator, EmulatorHost: "http://localhost:4443", Bucket: "exports"},
			key:  "reports/a.csv",
			want: "http://localhost:4443/download/storage/v1/b/exports/o/reports%2Fa.csv?alt=media",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PublicURL(tc.cfg, tc.key); got != tc.want {
				t.Fatalf("want=%q got=%q", tc.want, got)
			}
		})
	}
}
