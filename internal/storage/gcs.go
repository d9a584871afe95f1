package storage

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

// GCSProvider stores objects in a Google Cloud Storage bucket. Objects are
// assumed publicly readable (bucket-level IAM), so AccessPath returns the
// canonical public URL.
type GCSProvider struct {
	client *gcs.Client
	bucket string
}

// NewGCSProvider creates a GCS-backed provider for the given bucket.
func NewGCSProvider(ctx context.Context, bucket string) (*GCSProvider, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSProvider{client: client, bucket: bucket}, nil
}

func (p *GCSProvider) Put(ctx context.Context, key string, reader io.Reader, contentType string) error {
	w := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close: %w", err)
	}
	return nil
}

func (p *GCSProvider) AccessPath(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", p.bucket, key)
}

// Close releases the underlying client.
func (p *GCSProvider) Close() error {
	return p.client.Close()
}
