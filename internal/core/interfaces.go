// Package core defines the shared interfaces and error taxonomy for the voice studio.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
// Audio resources are kept in an ObjectStore for as long as their handle is live.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
