package collections

import (
	"sync"
)

// ============================================================================
// ConcurrentSet - mutex-guarded set shared by worker tasks
// ============================================================================

// ConcurrentSet is a set safe for concurrent Add/Contains.
type ConcurrentSet[T comparable] struct {
	mu    sync.RWMutex
	items map[T]struct{}
}

// NewConcurrentSet creates an empty set.
func NewConcurrentSet[T comparable]() *ConcurrentSet[T] {
	return &ConcurrentSet[T]{items: make(map[T]struct{})}
}

// Add inserts v and reports whether it was newly added.
func (s *ConcurrentSet[T]) Add(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[v]; ok {
		return false
	}
	s.items[v] = struct{}{}
	return true
}

// Contains reports whether v is in the set.
func (s *ConcurrentSet[T]) Contains(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[v]
	return ok
}

// Len returns the number of items.
func (s *ConcurrentSet[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Values returns a snapshot of the items in unspecified order.
func (s *ConcurrentSet[T]) Values() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.items))
	for v := range s.items {
		out = append(out, v)
	}
	return out
}
