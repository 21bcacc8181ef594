// Package bolt implements a domain.SnapshotStore in a bbolt database file.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"workpump/internal/infra/persistence"
	"workpump/pkg/domain"
)

var _ domain.SnapshotStore = (*Store)(nil)

// DefaultPath is used when NewStore is given an empty path.
const DefaultPath = "workpump.bolt"

var bucketState = []byte("state")

// Store keeps one JSON payload per catalog bucket as keys of the state
// bucket.
type Store struct {
	db *bolt.DB
}

// NewStore opens (creating if needed) the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Load implements domain.SnapshotStore.
func (s *Store) Load(ctx context.Context) (domain.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return domain.Catalog{}, err
	}
	buckets := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).ForEach(func(k, v []byte) error {
			buckets[string(k)] = bytes.Clone(v)
			return nil
		})
	})
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("read state: %w", err)
	}
	return persistence.Decode(buckets)
}

// Save implements domain.SnapshotStore. Every bucket is written in one
// update transaction.
func (s *Store) Save(ctx context.Context, catalog domain.Catalog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buckets, err := persistence.Encode(catalog)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		for _, name := range persistence.Buckets {
			if err := b.Put([]byte(name), buckets[name]); err != nil {
				return fmt.Errorf("put %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close implements domain.SnapshotStore.
func (s *Store) Close() error { return s.db.Close() }
