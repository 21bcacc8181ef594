package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"workpump/pkg/domain"
)

func TestBoltRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "state.bolt")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Load(ctx); !errors.Is(err, domain.ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
	catalog := domain.Catalog{
		WorkItems: []domain.WorkItemRecord{{ID: 4, Name: "vacuum", Command: []string{"psql", "-c", "VACUUM"}, Timeout: "1h0m0s"}},
		Jobs:      []domain.JobRecord{{ID: 8, Name: "weekly", Schedule: "@weekly", WorkItems: []uint64{4}}},
	}
	if err := s.Save(ctx, catalog); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(catalog, got); diff != "" {
		t.Fatalf("load mismatch (-want +got):\n%s", diff)
	}
}

func TestBoltCancelled(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "state.bolt"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Save(ctx, domain.Catalog{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBoltLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bolt")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if _, err := NewStore(path); err == nil {
		t.Fatalf("expected second open of a locked database to fail")
	}
}
