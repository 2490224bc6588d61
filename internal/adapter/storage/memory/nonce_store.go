package memory

import (
	"context"
	"sync"
	"time"
)

// NonceStore implements ports.NonceStore for operator request nonces when
// Redis is not configured. Expired entries are purged lazily on insert.
type NonceStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewNonceStore() *NonceStore {
	return &NonceStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// CheckAndSet returns true if the nonce is new (valid), false if already used.
func (s *NonceStore) CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error) {
	key := scope + ":" + nonce
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.entries[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.purge(now)
	s.entries[key] = now.Add(ttl)
	return true, nil
}

func (s *NonceStore) purge(now time.Time) {
	for k, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, k)
		}
	}
}
