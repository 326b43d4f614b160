package versioning

import (
	"reflect"

	jsoniter "github.com/json-iterator/go"
)

// Set is an insertion-ordered collection without duplicates. Equality is
// order-insensitive, so reordering a Set is never a change.
type Set[T any] struct {
	items []T
}

// NewSet creates a Set holding the distinct items in order
func NewSet[T any](items ...T) Set[T] {
	s := Set[T]{items: make([]T, 0, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts item unless an equal item is present.
func (s *Set[T]) Add(item T) bool {
	if s.Contains(item) {
		return false
	}
	s.items = append(s.items, item)
	return true
}

// Remove deletes the item equal to item.
func (s *Set[T]) Remove(item T) bool {
	for i := range s.items {
		if reflect.DeepEqual(s.items[i], item) {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether an equal item is present.
func (s Set[T]) Contains(item T) bool {
	for i := range s.items {
		if reflect.DeepEqual(s.items[i], item) {
			return true
		}
	}
	return false
}

// Len returns the number of items
func (s Set[T]) Len() int {
	return len(s.items)
}

// IsNil reports whether the set was never initialized.
func (s Set[T]) IsNil() bool {
	return s.items == nil
}

// Items returns a copy of the items in insertion order
func (s Set[T]) Items() []T {
	if s.items == nil {
		return nil
	}
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Equal reports whether both sets hold equal items, ignoring order.
func (s Set[T]) Equal(other Set[T]) bool {
	if s.IsNil() != other.IsNil() || len(s.items) != len(other.items) {
		return false
	}
	used := make([]bool, len(other.items))
	for i := range s.items {
		found := false
		for j := range other.items {
			if !used[j] && reflect.DeepEqual(s.items[i], other.items[j]) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as an array, or null when uninitialized.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(s.items)
}

// UnmarshalJSON decodes an array, dropping duplicates.
func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &items); err != nil {
		return err
	}
	if items == nil {
		s.items = nil
		return nil
	}
	*s = NewSet(items...)
	return nil
}

// setBacking exposes the backing slice to the reflective engine.
type setBacking interface {
	backing() reflect.Value
}

func (s *Set[T]) backing() reflect.Value {
	return reflect.ValueOf(&s.items).Elem()
}

var setBackingType = reflect.TypeOf((*setBacking)(nil)).Elem()
