package immutable

import (
	"iter"
	"slices"
)

// Create builds a map from pairs. A key appearing twice fails with a
// *ConflictError even when both values are equal.
func Create[K comparable, V comparable](pairs ...Pair[K, V]) (*HashMap[K, V], error) {
	return Collect(pairSeq(pairs), len(pairs))
}

// CreateFunc builds a map holding every value under the key derived by key.
func CreateFunc[K comparable, V comparable](values []V, key func(V) K) (*HashMap[K, V], error) {
	return CollectFunc(slices.Values(values), key, len(values))
}

// Collect builds a map from seq, pre-sizing its table for capacity entries.
// Pass 0 when the length of seq is unknown.
func Collect[K comparable, V comparable](seq iter.Seq2[K, V], capacity int) (*HashMap[K, V], error) {
	if capacity < 0 {
		return nil, &OutOfRangeError{Capacity: capacity}
	}
	m := newHashMap[K, V](capacity)
	for k, v := range seq {
		if err := m.insert(k, v); err != nil {
			return nil, err
		}
	}
	return m.seal(), nil
}

// CollectFunc builds a map holding every value produced by seq under the key
// derived by key.
func CollectFunc[K comparable, V comparable](seq iter.Seq[V], key func(V) K, capacity int) (*HashMap[K, V], error) {
	return Collect(keyed(seq, key), capacity)
}

// Must panics if err is non-nil and returns m otherwise. It is intended for
// building fixed maps in variable initializers and tests.
func Must[K comparable, V comparable](m *HashMap[K, V], err error) *HashMap[K, V] {
	if err != nil {
		panic(err)
	}
	return m
}
