package stats

import (
	"context"
	"sync"
)

// MemoryStore keeps counters in process memory. Counters are lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	total Counts
	byKey map[string]Counts
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[string]Counts),
	}
}

func (s *MemoryStore) Record(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, c := range aggregate(events) {
		s.total.Allowed += c.Allowed
		s.total.Denied += c.Denied

		k := s.byKey[key]
		k.Allowed += c.Allowed
		k.Denied += c.Denied
		s.byKey[key] = k
	}
	return nil
}

func (s *MemoryStore) Summary(_ context.Context, topN int) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &Summary{
		Allowed:   s.total.Allowed,
		Denied:    s.total.Denied,
		TopDenied: topDenied(s.byKey, topN),
	}, nil
}

// Key returns the counters of a single client.
func (s *MemoryStore) Key(key string) Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[key]
}

func (s *MemoryStore) Close() error {
	return nil
}
