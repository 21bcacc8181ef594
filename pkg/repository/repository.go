// Package repository provides generic entity stores backed by immutable maps.
//
// A Repository holds a single *immutable.HashMap and replaces it wholesale on
// every change, so readers that obtained a Snapshot keep a consistent view.
// Replacing the held map is not synchronized: callers that mutate a
// Repository from several goroutines must serialize those calls themselves.
package repository

import (
	"errors"
	"fmt"
	"slices"

	"workpump/pkg/domain"
	"workpump/pkg/immutable"
)

// ErrWrongType is returned by Find when the stored entity has another type.
var ErrWrongType = errors.New("repository: entity has a different type")

// Keyed constrains the entity types a repository can hold. Interface types
// such as domain.WorkItemDefinition satisfy it.
type Keyed[K comparable] interface {
	comparable
	domain.Entity[K]
}

// Store is the contract shared by every repository.
type Store[E Keyed[K], K comparable] interface {
	Len() int
	Get(id K) (E, error)
	TryGet(id K) (E, bool)
	Insert(entity E) (bool, error)
	InsertAll(entities ...E) (bool, error)
	Remove(id K) bool
	RemoveAll(ids ...K) bool
}

var _ Store[domain.WorkItemDefinition, uint64] = (*Repository[domain.WorkItemDefinition, uint64])(nil)

// Repository stores entities by key. The zero value is an empty repository.
type Repository[E Keyed[K], K comparable] struct {
	entities *immutable.HashMap[K, E]
}

// New returns an empty repository.
func New[E Keyed[K], K comparable]() *Repository[E, K] {
	return &Repository[E, K]{entities: immutable.Empty[K, E]()}
}

// Len returns the number of stored entities.
func (r *Repository[E, K]) Len() int {
	return r.entities.Len()
}

// Get returns the entity stored under id, failing with immutable.ErrNotFound.
func (r *Repository[E, K]) Get(id K) (E, error) {
	return r.entities.Get(id)
}

// TryGet returns the entity stored under id and whether it was present.
func (r *Repository[E, K]) TryGet(id K) (E, bool) {
	return r.entities.Lookup(id)
}

// Insert stores entity under its ID. It reports whether the repository
// changed; inserting an entity equal to the stored one is a no-op. A different
// entity with the same ID fails with immutable.ErrConflict.
func (r *Repository[E, K]) Insert(entity E) (bool, error) {
	next, err := r.entities.Add(entity.ID(), entity)
	if err != nil {
		return false, err
	}
	return r.swap(next), nil
}

// InsertAll stores every entity. Either all of them are stored or, when any
// conflicts, none are.
func (r *Repository[E, K]) InsertAll(entities ...E) (bool, error) {
	next, err := r.entities.AddAllFunc(entities, entityID[E, K])
	if err != nil {
		return false, err
	}
	return r.swap(next), nil
}

// Remove deletes the entity stored under id and reports whether it existed.
func (r *Repository[E, K]) Remove(id K) bool {
	return r.swap(r.entities.Remove(id))
}

// RemoveAll deletes every listed entity and reports whether any existed.
func (r *Repository[E, K]) RemoveAll(ids ...K) bool {
	return r.swap(r.entities.RemoveAll(ids...))
}

// Snapshot returns the current immutable view of the repository.
func (r *Repository[E, K]) Snapshot() *immutable.HashMap[K, E] {
	return r.entities
}

// Restore replaces the repository contents with m and reports whether the
// held map changed.
func (r *Repository[E, K]) Restore(m *immutable.HashMap[K, E]) bool {
	return r.swap(m)
}

// Sorted returns every entity ordered by cmp applied to their keys.
func (r *Repository[E, K]) Sorted(cmp func(a, b K) int) []E {
	keys := slices.SortedFunc(r.entities.Keys(), cmp)
	out := make([]E, 0, len(keys))
	for _, k := range keys {
		v, _ := r.entities.Lookup(k)
		out = append(out, v)
	}
	return out
}

func (r *Repository[E, K]) swap(next *immutable.HashMap[K, E]) bool {
	if next == r.entities {
		return false
	}
	r.entities = next
	return true
}

func entityID[E Keyed[K], K comparable](e E) K {
	return e.ID()
}

// Find returns the entity stored under id as a T.
func Find[T any, E Keyed[K], K comparable](r *Repository[E, K], id K) (T, error) {
	var zero T
	e, err := r.Get(id)
	if err != nil {
		return zero, err
	}
	t, ok := any(e).(T)
	if !ok {
		return zero, fmt.Errorf("%w: %v is %T", ErrWrongType, id, e)
	}
	return t, nil
}
