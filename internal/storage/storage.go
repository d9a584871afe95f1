// Package storage defines the Provider interface for object storage backends.
package storage

import (
	"context"
	"io"
)

// Provider abstracts object storage for relocated media.
type Provider interface {
	// Put writes data to storage under the given key with the given content type.
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error
	// AccessPath returns a publicly reachable URL for a stored key.
	AccessPath(key string) string
}
