package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider stores objects on the local filesystem under a root directory
// and serves them from a public base URL (e.g. behind a reverse proxy).
type LocalProvider struct {
	root    string
	baseURL string
}

// NewLocalProvider creates a filesystem-backed provider rooted at dir.
func NewLocalProvider(dir, baseURL string) *LocalProvider {
	return &LocalProvider{
		root:    dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (p *LocalProvider) Put(ctx context.Context, key string, reader io.Reader, contentType string) error {
	full := filepath.Join(p.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write media: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close media file: %w", err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("place media file: %w", err)
	}
	return nil
}

func (p *LocalProvider) AccessPath(key string) string {
	if p.baseURL == "" {
		return "/" + strings.TrimLeft(key, "/")
	}
	return p.baseURL + "/" + strings.TrimLeft(key, "/")
}
