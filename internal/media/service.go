// Package media relocates ephemeral gateway-hosted media to durable storage.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path"

	"github.com/google/uuid"

	"github.com/Joaopedrozoe/viainfra-sub001/internal/gateway"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/storage"
)

// BlobFetcher retrieves the encoded media blob for a message envelope.
type BlobFetcher interface {
	FetchEncodedMedia(ctx context.Context, instance string, envelope json.RawMessage) (gateway.MediaBlob, error)
}

// Service fetches gateway media and persists it to object storage.
type Service struct {
	fetcher  BlobFetcher
	provider storage.Provider
	prefix   string
	logger   *slog.Logger
}

// NewService creates a media service. prefix namespaces storage keys.
func NewService(log *slog.Logger, fetcher BlobFetcher, provider storage.Provider, prefix string) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		fetcher:  fetcher,
		provider: provider,
		prefix:   prefix,
		logger:   log.With(slog.String("service", "media")),
	}
}

// Relocate downloads the referenced media and uploads it to durable storage,
// returning the stable URL. Relocation is best-effort: on any failure it
// returns ok=false and the caller keeps the original, possibly-expiring
// reference as a fallback.
func (s *Service) Relocate(ctx context.Context, instance string, ref gateway.MediaRef) (Relocated, bool) {
	if s.fetcher == nil || s.provider == nil || len(ref.Envelope) == 0 {
		return Relocated{}, false
	}

	blob, err := s.fetcher.FetchEncodedMedia(ctx, instance, ref.Envelope)
	if err != nil {
		s.logger.Warn("media fetch failed",
			slog.String("kind", string(ref.Kind)),
			slog.Any("error", err),
		)
		return Relocated{}, false
	}

	mime := blob.Mime
	if mime == "" {
		mime = ref.Mime
	}
	key := s.prefix
	if key != "" {
		key += "/"
	}
	key += path.Join(string(ref.Kind), uuid.NewString()+extensionFromMime(mime))

	if err := s.provider.Put(ctx, key, bytes.NewReader(blob.Data), mime); err != nil {
		s.logger.Warn("media upload failed",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return Relocated{}, false
	}

	return Relocated{URL: s.provider.AccessPath(key), Mime: mime}, true
}
