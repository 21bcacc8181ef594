// Package immutable provides a persistent hash map built by copy-on-write.
//
// Every structural change rebuilds a fresh native map, so a HashMap is only
// suitable for modest entry counts. A HashMap is never mutated after it is
// built and is therefore safe for concurrent reads. Operations that would not
// change the map return the receiver itself, so callers can compare pointers
// to detect that nothing happened.
package immutable

import (
	"iter"
	"reflect"
	"slices"
)

// Pair is a single key/value entry.
type Pair[K comparable, V comparable] struct {
	Key   K
	Value V
}

// P builds a Pair.
func P[K comparable, V comparable](k K, v V) Pair[K, V] {
	return Pair[K, V]{Key: k, Value: v}
}

// Equaler is implemented by values that define their own equality. When V
// implements it, HashMap uses Equal instead of == to detect conflicts.
type Equaler[V any] interface {
	Equal(other V) bool
}

// HashMap is an immutable key/value map. The nil *HashMap is the empty map;
// all methods accept a nil receiver. Maps come from Empty, the constructors
// or the operations of another map. A zero-value &HashMap{} literal is read as
// empty, and operations on it return the nil map rather than the literal.
type HashMap[K comparable, V comparable] struct {
	table map[K]V
}

// Empty returns the empty map. All empty maps of a given type are identical.
func Empty[K comparable, V comparable]() *HashMap[K, V] {
	return nil
}

func newHashMap[K comparable, V comparable](capacity int) *HashMap[K, V] {
	return &HashMap[K, V]{table: make(map[K]V, capacity)}
}

// seal returns the empty map when m holds no entries.
func (m *HashMap[K, V]) seal() *HashMap[K, V] {
	if m == nil || len(m.table) == 0 {
		return nil
	}
	return m
}

// insert adds k to a table still under construction, rejecting any key that
// is already present.
func (m *HashMap[K, V]) insert(k K, v V) error {
	if existing, ok := m.table[k]; ok {
		return &ConflictError{Key: k, Existing: existing, Proposed: v}
	}
	m.table[k] = v
	return nil
}

// valuesEqual compares with Equal when V implements Equaler. Otherwise values
// of different dynamic types are unequal, and values whose dynamic contents
// cannot be compared with == (slices, maps or funcs behind an interface) are
// compared with reflect.DeepEqual.
func valuesEqual[V comparable](a, b V) bool {
	if eq, ok := any(a).(Equaler[V]); ok {
		return eq.Equal(b)
	}
	ta, tb := reflect.TypeOf(any(a)), reflect.TypeOf(any(b))
	if ta != tb {
		return false
	}
	if ta == nil {
		return true
	}
	if !reflect.ValueOf(any(a)).Comparable() || !reflect.ValueOf(any(b)).Comparable() {
		return reflect.DeepEqual(any(a), any(b))
	}
	return a == b
}

// Len returns the number of entries.
func (m *HashMap[K, V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.table)
}

// Get returns the value stored under k, or a *NotFoundError.
func (m *HashMap[K, V]) Get(k K) (V, error) {
	v, ok := m.Lookup(k)
	if !ok {
		return v, &NotFoundError{Key: k}
	}
	return v, nil
}

// Lookup returns the value stored under k and whether it was present.
func (m *HashMap[K, V]) Lookup(k K) (V, bool) {
	if m == nil {
		var zero V
		return zero, false
	}
	v, ok := m.table[k]
	return v, ok
}

// Has reports whether k is present.
func (m *HashMap[K, V]) Has(k K) bool {
	_, ok := m.Lookup(k)
	return ok
}

// All iterates over every entry in unspecified order.
func (m *HashMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if m == nil {
			return
		}
		for k, v := range m.table {
			if !yield(k, v) {
				return
			}
		}
	}
}

// Keys iterates over every key in unspecified order.
func (m *HashMap[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range m.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values iterates over every value, one per entry, in unspecified order.
func (m *HashMap[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range m.All() {
			if !yield(v) {
				return
			}
		}
	}
}

// ToMap returns a fresh native map holding every entry. Changes to the
// returned map do not affect m.
func (m *HashMap[K, V]) ToMap() map[K]V {
	out := make(map[K]V, m.Len())
	for k, v := range m.All() {
		out[k] = v
	}
	return out
}

// Equal reports whether m and other hold the same keys mapped to equal
// values.
func (m *HashMap[K, V]) Equal(other *HashMap[K, V]) bool {
	if m == other {
		return true
	}
	if m.Len() != other.Len() {
		return false
	}
	for k, v := range m.All() {
		ov, ok := other.Lookup(k)
		if !ok || !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// Add returns a map that also maps k to v.
//
// If k already maps to a value equal to v, Add returns m itself. If k maps to
// a different value, Add fails with a *ConflictError and m is unchanged.
func (m *HashMap[K, V]) Add(k K, v V) (*HashMap[K, V], error) {
	if existing, ok := m.Lookup(k); ok {
		if valuesEqual(existing, v) {
			return m, nil
		}
		return nil, &ConflictError{Key: k, Existing: existing, Proposed: v}
	}
	next := newHashMap[K, V](m.Len() + 1)
	for ek, ev := range m.All() {
		next.table[ek] = ev
	}
	next.table[k] = v
	return next, nil
}

// AddAll adds every pair, sizing the new table for len(pairs) extra entries.
// See AddSeq for the conflict rules.
func (m *HashMap[K, V]) AddAll(pairs ...Pair[K, V]) (*HashMap[K, V], error) {
	return m.AddSeq(pairSeq(pairs), len(pairs))
}

// AddAllFunc adds every value under the key derived by key.
func (m *HashMap[K, V]) AddAllFunc(values []V, key func(V) K) (*HashMap[K, V], error) {
	return m.AddSeqFunc(slices.Values(values), key, len(values))
}

// AddSeqFunc adds every value produced by seq under the key derived by key.
// capacity is a hint for the number of new entries.
func (m *HashMap[K, V]) AddSeqFunc(seq iter.Seq[V], key func(V) K, capacity int) (*HashMap[K, V], error) {
	return m.AddSeq(keyed(seq, key), capacity)
}

// AddSeq adds every entry produced by seq, which is consumed once in order.
// capacity is a hint for the number of new entries.
//
// An entry whose key already maps to an equal value is skipped. An entry whose
// key maps to a different value, or two entries introducing the same new key,
// fail the whole call with a *ConflictError. On failure m is left unchanged
// and nothing is returned. If every entry was skipped AddSeq returns m itself.
func (m *HashMap[K, V]) AddSeq(seq iter.Seq2[K, V], capacity int) (*HashMap[K, V], error) {
	if capacity < 0 {
		return nil, &OutOfRangeError{Capacity: capacity}
	}
	staged := newHashMap[K, V](m.Len() + capacity)
	for k, v := range seq {
		if existing, ok := m.Lookup(k); ok {
			if !valuesEqual(existing, v) {
				return nil, &ConflictError{Key: k, Existing: existing, Proposed: v}
			}
			continue
		}
		if err := staged.insert(k, v); err != nil {
			return nil, err
		}
	}
	if len(staged.table) == 0 {
		return m.seal(), nil
	}
	for k, v := range m.All() {
		staged.table[k] = v
	}
	return staged, nil
}

// Remove returns a map without k. If k is absent Remove returns m itself.
func (m *HashMap[K, V]) Remove(k K) *HashMap[K, V] {
	if !m.Has(k) {
		return m.seal()
	}
	next := newHashMap[K, V](m.Len() - 1)
	for ek, ev := range m.All() {
		if ek != k {
			next.table[ek] = ev
		}
	}
	return next.seal()
}

// RemoveAll returns a map without any of keys. If none of them is present
// RemoveAll returns m itself.
func (m *HashMap[K, V]) RemoveAll(keys ...K) *HashMap[K, V] {
	return m.RemoveSeq(slices.Values(keys))
}

// RemoveSeq returns a map without any key produced by seq. If none of them
// is present RemoveSeq returns m itself.
func (m *HashMap[K, V]) RemoveSeq(seq iter.Seq[K]) *HashMap[K, V] {
	doomed := make(map[K]struct{})
	for k := range seq {
		if m.Has(k) {
			doomed[k] = struct{}{}
		}
	}
	if len(doomed) == 0 {
		return m.seal()
	}
	next := newHashMap[K, V](m.Len() - len(doomed))
	for k, v := range m.All() {
		if _, drop := doomed[k]; !drop {
			next.table[k] = v
		}
	}
	return next.seal()
}

func pairSeq[K comparable, V comparable](pairs []Pair[K, V]) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, p := range pairs {
			if !yield(p.Key, p.Value) {
				return
			}
		}
	}
}

func keyed[K comparable, V comparable](seq iter.Seq[V], key func(V) K) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for v := range seq {
			if !yield(key(v), v) {
				return
			}
		}
	}
}
