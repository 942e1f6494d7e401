// Package orderedset provides a set that remembers insertion order.
package orderedset

type Set[T comparable] struct {
	index  map[T]int
	values []T
}

func New[T comparable]() *Set[T] {
	return &Set[T]{index: map[T]int{}}
}

// Add inserts v if absent and reports whether it was added.
func (s *Set[T]) Add(v T) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = len(s.values)
	s.values = append(s.values, v)
	return true
}

// Values returns the members in insertion order. The slice is a copy.
func (s *Set[T]) Values() []T {
	out := make([]T, len(s.values))
	copy(out, s.values)
	return out
}
