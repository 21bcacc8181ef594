package core

import (
	"errors"
	"fmt"

	"workpump/pkg/immutable"
)

var (
	// ErrInUse is returned when removing a work item that a job still runs.
	ErrInUse = errors.New("core: definition in use")
	// ErrNoSnapshotStore is returned by Save and Load without a store.
	ErrNoSnapshotStore = errors.New("core: no snapshot store configured")
)

// ErrNotFound reports a missing definition. It matches immutable.ErrNotFound.
type ErrNotFound struct {
	Entity EntityType
	ID     uint64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e ErrNotFound) Unwrap() error { return immutable.ErrNotFound }

// InUseError names the jobs still referencing a work item.
type InUseError struct {
	WorkItem uint64
	Jobs     []uint64
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("work item %d is referenced by jobs %v", e.WorkItem, e.Jobs)
}

func (e *InUseError) Unwrap() error { return ErrInUse }
