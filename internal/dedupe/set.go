package dedupe

import "sync"

// Set remembers keys seen during one import run. When more than capacity
// keys are held, the oldest are forgotten first.
type Set struct {
	mu       sync.Mutex
	items    map[string]struct{}
	order    []string
	capacity int
}

// NewSet creates a set holding at most capacity keys.
func NewSet(capacity int) *Set {
	if capacity <= 0 {
		capacity = 1
	}
	return &Set{
		items:    make(map[string]struct{}),
		capacity: capacity,
	}
}

// Add records key and reports whether it was new.
func (s *Set) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = struct{}{}
	s.order = append(s.order, key)
	s.compact()
	return true
}

// Len returns the number of remembered keys.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

func (s *Set) compact() {
	for len(s.items) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.items, oldest)
	}
}
