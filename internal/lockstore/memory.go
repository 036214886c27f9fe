package lockstore

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	owner   string
	expires time.Time
}

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]lease
	seen   map[string]struct{}
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]lease),
		seen:   make(map[string]struct{}),
		now:    time.Now,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, key, owner string, ttl int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[key]; ok && l.expires.After(s.now()) && l.owner != owner {
		return false, nil
	}
	s.leases[key] = lease{owner: owner, expires: s.now().Add(time.Duration(ttl) * time.Second)}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[key]
	if !ok {
		return false, nil
	}
	if !l.expires.After(s.now()) {
		// Stale entry, drop it no matter who asks.
		delete(s.leases, key)
		return false, nil
	}
	if l.owner != owner {
		return false, nil
	}
	delete(s.leases, key)
	return true, nil
}

func (s *MemoryStore) Seen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok, nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[id] = struct{}{}
	return nil
}
