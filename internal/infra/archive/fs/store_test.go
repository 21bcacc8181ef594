package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"workpump/internal/archive"
)

var _ archive.Store = (*Store)(nil)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != archive.DriverFilesystem {
		t.Fatalf("unexpected driver %s", s.Driver())
	}

	info, err := s.Put(ctx, "snapshots/one.json", strings.NewReader("hello"), archive.PutOptions{
		ContentType: archive.ContentTypeJSON,
		Metadata:    map[string]string{"jobs": "0"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 5 || info.ETag == "" || info.Key != "snapshots/one.json" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := os.Stat(filepath.Join(root, "snapshots", "one.json")); err != nil {
		t.Fatalf("object file missing: %v", err)
	}
	if _, err := s.Put(ctx, "snapshots/one.json", strings.NewReader("again"), archive.PutOptions{}); !errors.Is(err, archive.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	head, err := s.Head(ctx, "snapshots/one.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.ETag != info.ETag || head.Metadata["jobs"] != "0" {
		t.Fatalf("head mismatch %+v", head)
	}

	_, body, err := s.Get(ctx, "snapshots/one.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	if string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}

	if _, err := s.Put(ctx, "other.json", strings.NewReader("{}"), archive.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := s.List(ctx, archive.SnapshotPrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "snapshots/one.json" {
		t.Fatalf("unexpected list %+v", list)
	}

	url, err := s.PresignURL(ctx, "snapshots/one.json", archive.SignedURLOptions{})
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("presign: %q %v", url, err)
	}
	if _, err := s.PresignURL(ctx, "snapshots/one.json", archive.SignedURLOptions{Method: "PUT"}); !errors.Is(err, archive.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}

	if ok, err := s.Delete(ctx, "snapshots/one.json"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := s.Delete(ctx, "snapshots/one.json"); ok || err != nil {
		t.Fatalf("second delete: %v %v", ok, err)
	}
	if _, _, err := s.Get(ctx, "snapshots/one.json"); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "/abs", "../up", "a/../../up", "x.meta"} {
		if _, err := s.Put(ctx, key, strings.NewReader("x"), archive.PutOptions{}); !errors.Is(err, archive.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestNewDefaultsRoot(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.root != DefaultRoot {
		t.Fatalf("unexpected root %q", s.root)
	}
	if _, err := os.Stat(DefaultRoot); err != nil {
		t.Fatalf("default root not created: %v", err)
	}
}
