// Package archive defines the object store abstraction used to export and
// import catalog snapshots.
package archive

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies an archive backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// ContentTypeJSON is the content type of exported snapshots.
const ContentTypeJSON = "application/json"

// SnapshotPrefix is the key prefix under which snapshots are exported.
const SnapshotPrefix = "snapshots/"

var (
	// ErrExists is returned by Put when the key is already taken. Objects
	// are create-only.
	ErrExists = errors.New("archive: object already exists")
	// ErrNotFound is returned when no object is stored under a key.
	ErrNotFound = errors.New("archive: object not found")
	// ErrInvalidKey is returned for empty, absolute or traversing keys.
	ErrInvalidKey = errors.New("archive: invalid key")
	// ErrUnsupported is returned when a backend lacks an optional capability.
	ErrUnsupported = errors.New("archive: unsupported operation")
)

// PutOptions carries optional attributes of a written object.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions configures PresignURL.
type SignedURLOptions struct {
	Method string        // GET only
	Expiry time.Duration // default 15m
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a minimal create-only object store.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// CloneMetadata returns a copy of in, or nil.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
