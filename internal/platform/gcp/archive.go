package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/lms-insights/internal/platform/logger"
)

// ArchiveStore writes report exports to a single GCS bucket.
type ArchiveStore struct {
	log    *logger.Logger
	cfg    ArchiveConfig
	client *storage.Client
}

func NewArchiveStore(ctx context.Context, log *logger.Logger, cfg ArchiveConfig) (*ArchiveStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, fmt.Errorf("archive bucket not configured")
	}
	client, err := newStorageClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	storeLog := log.With("service", "ArchiveStore")
	storeLog.Info("Report archive initialized", "mode", cfg.Mode, "bucket", cfg.Bucket, "emulator_host", cfg.EmulatorHost)
	return &ArchiveStore{log: storeLog, cfg: cfg, client: client}, nil
}

func newStorageClient(ctx context.Context, cfg ArchiveConfig) (*storage.Client, error) {
	if cfg.Mode == StorageModeGCSEmulator {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	return storage.NewClient(ctx, opts...)
}

func (s *ArchiveStore) Put(ctx context.Context, key, contentType string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.cfg.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer: %w", err)
	}
	return nil
}

// PublicURL is where an archived object can be fetched from.
func (s *ArchiveStore) PublicURL(key string) string {
	return PublicURL(s.cfg, key)
}

func PublicURL(cfg ArchiveConfig, key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", cfg.PublicBaseURL, cfg.Bucket, key)
	}
	if cfg.Mode == StorageModeGCSEmulator {
		return fmt.Sprintf("%s/download/storage/v1/b/%s/o/%s?alt=media",
			strings.TrimRight(cfg.EmulatorHost, "/"), url.PathEscape(cfg.Bucket), url.PathEscape(key))
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.Bucket, key)
}

func (s *ArchiveStore) Close() error {
	return s.client.Close()
}
