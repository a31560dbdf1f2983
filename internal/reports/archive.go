package reports

import (
	"context"
	"fmt"
)

// ObjectStore is the subset of a bucket client the archive needs.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	PublicURL(key string) string
}

type bucketArchiver struct {
	store ObjectStore
}

func NewBucketArchiver(store ObjectStore) Archiver {
	return &bucketArchiver{store: store}
}

func (a *bucketArchiver) Archive(ctx context.Context, key string, f ExportFile) (string, error) {
	if err := a.store.Put(ctx, key, f.MIME, f.Content); err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	return a.store.PublicURL(key), nil
}
