package artifacts

import (
	"context"
	"fmt"
)

// Registry is a thin convenience wrapper over Store for callers that
// want "write bytes, get a content hash back" without reaching into the
// CAS interface directly — used by pkg/export to persist rendered
// artifacts and fetch them back out for download.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Put stores data and returns its content hash.
func (r *Registry) Put(ctx context.Context, data []byte) (string, error) {
	hash, err := r.store.Store(ctx, data)
	if err != nil {
		return "", fmt.Errorf("artifacts: store: %w", err)
	}
	return hash, nil
}

// Get retrieves previously stored bytes by content hash.
func (r *Registry) Get(ctx context.Context, hash string) ([]byte, error) {
	return r.store.Get(ctx, hash)
}
