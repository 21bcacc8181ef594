package immutable

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("immutable: conflicting value for key")
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("immutable: key not found")
	// ErrOutOfRange is matched by every *OutOfRangeError.
	ErrOutOfRange = errors.New("immutable: capacity out of range")
)

// ConflictError reports an operation that would store two different values
// under one key.
type ConflictError struct {
	Key      any
	Existing any
	Proposed any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("key %v is already in the map with value %v instead of %v", e.Key, e.Existing, e.Proposed)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a lookup of an absent key.
type NotFoundError struct {
	Key any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("key %v not found", e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// OutOfRangeError reports a negative capacity hint.
type OutOfRangeError struct {
	Capacity int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("capacity %d cannot be negative", e.Capacity)
}

func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRange }
