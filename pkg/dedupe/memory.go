package dedupe

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process store for development and tests. Claims are
// only visible within one process, which matches the single-instance file
// persistence setup.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[string]time.Time)}
}

func (s *MemoryStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if expires, ok := s.claims[key]; ok && now.Before(expires) {
		return false, nil
	}

	s.claims[key] = now.Add(ttl)

	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
