// Package dedup records which sale transactions already funded a delivery.
package dedup

import "sync"

// Set is a grow-only set of consumed transaction ids. TryClaim is the single
// point where concurrent monitors race for a transaction.
type Set struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewSet() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// MarkKnownBaseline records transactions that existed before the process
// started so they are never attributed to a new purchase.
func (s *Set) MarkKnownBaseline(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		added++
	}
	return added
}

// TryClaim inserts id and returns true if it was absent.
func (s *Set) TryClaim(id string) bool {
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
