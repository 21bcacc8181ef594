// Package memory implements a domain.SnapshotStore in process memory.
package memory

import (
	"context"
	"sync"

	"workpump/internal/infra/persistence"
	"workpump/pkg/domain"
)

var _ domain.SnapshotStore = (*Store)(nil)

// Store keeps the encoded buckets of the last saved catalog.
type Store struct {
	mu      sync.RWMutex
	buckets map[string][]byte
	saves   int
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Load implements domain.SnapshotStore.
func (s *Store) Load(ctx context.Context) (domain.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return domain.Catalog{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return persistence.Decode(s.buckets)
}

// Save implements domain.SnapshotStore.
func (s *Store) Save(ctx context.Context, catalog domain.Catalog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buckets, err := persistence.Encode(catalog)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = buckets
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close implements domain.SnapshotStore.
func (s *Store) Close() error { return nil }
