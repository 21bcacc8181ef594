package domain

import (
	"context"
	"errors"
)

// ErrNoSnapshot is returned by SnapshotStore.Load when nothing was saved yet.
var ErrNoSnapshot = errors.New("domain: no snapshot stored")

//go:generate mockgen -package domain -source persistence.go -destination persistence_mock.go

// SnapshotStore persists the full catalog of definitions. Implementations
// replace the stored catalog wholesale on every Save.
type SnapshotStore interface {
	// Load returns the last saved catalog, or ErrNoSnapshot.
	Load(ctx context.Context) (Catalog, error)
	// Save replaces the stored catalog.
	Save(ctx context.Context, catalog Catalog) error
	// Close releases the underlying resources.
	Close() error
}
