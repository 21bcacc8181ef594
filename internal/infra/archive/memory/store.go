// Package memory implements an archive.Store held in process memory.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"workpump/internal/archive"
)

type object struct {
	info archive.Info
	data []byte
}

// Store keeps objects in a map. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	objs map[string]object
	now  func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		objs: make(map[string]object),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Driver implements archive.Store.
func (s *Store) Driver() archive.Driver { return archive.DriverMemory }

// Put stores a new object; an existing key fails with archive.ErrExists.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts archive.PutOptions) (archive.Info, error) {
	key, err := archive.CleanKey(key)
	if err != nil {
		return archive.Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return archive.Info{}, err
	}
	sum := sha256.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[key]; ok {
		return archive.Info{}, fmt.Errorf("%w: %s", archive.ErrExists, key)
	}
	info := archive.Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     archive.CloneMetadata(opts.Metadata),
		LastModified: s.now(),
	}
	s.objs[key] = object{info: info, data: data}
	return copyInfo(info), nil
}

// Get returns the object metadata and a reader over a copy of its content.
func (s *Store) Get(_ context.Context, key string) (archive.Info, io.ReadCloser, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return archive.Info{}, nil, err
	}
	return copyInfo(obj.info), io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

// Head returns the object metadata.
func (s *Store) Head(_ context.Context, key string) (archive.Info, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return archive.Info{}, err
	}
	return copyInfo(obj.info), nil
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	key, err := archive.CleanKey(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	delete(s.objs, key)
	return ok, nil
}

// List returns every object whose key starts with prefix, ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]archive.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]archive.Info, 0, len(s.objs))
	for k, obj := range s.objs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, copyInfo(obj.info))
		}
	}
	slices.SortFunc(out, func(a, b archive.Info) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// PresignURL is not supported.
func (s *Store) PresignURL(context.Context, string, archive.SignedURLOptions) (string, error) {
	return "", archive.ErrUnsupported
}

func (s *Store) lookup(key string) (object, error) {
	key, err := archive.CleanKey(key)
	if err != nil {
		return object{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objs[key]
	if !ok {
		return object{}, fmt.Errorf("%w: %s", archive.ErrNotFound, key)
	}
	return obj, nil
}

func copyInfo(in archive.Info) archive.Info {
	in.Metadata = archive.CloneMetadata(in.Metadata)
	return in
}
