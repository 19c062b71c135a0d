package idempotency

import (
	"context"
	"sync"
	"time"

	p402 "github.com/p402-io/p402"
)

// InMemoryStore is a process-local SettlementStore. Suitable when a single
// instance settles payments; clustered deployments need a shared backend
// such as RedisStore so replicas see each other's settlements.
type InMemoryStore struct {
	mu       sync.Mutex
	results  map[string]*p402.SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewInMemoryStore creates an in-memory settlement store. ttl bounds the
// deduplication window for completed settlements.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		results:  make(map[string]*p402.SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

func (s *InMemoryStore) CheckAndMark(key string) (SettlementStatus, *p402.SettleResponse, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, exists := s.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := s.results[key]; ok {
				return StatusCached, result, nil
			}
		}
		delete(s.results, key)
		delete(s.expiry, key)
	}

	if done, exists := s.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	s.inFlight[key] = done
	return StatusNotFound, nil, done
}

func (s *InMemoryStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*p402.SettleResponse, error) {
	select {
	case <-done:
		return s.get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *InMemoryStore) get(key string) *p402.SettleResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.expiry[key]
	if !exists {
		return nil
	}
	if time.Now().After(expiry) {
		delete(s.results, key)
		delete(s.expiry, key)
		return nil
	}
	return s.results[key]
}

func (s *InMemoryStore) Complete(key string, response *p402.SettleResponse, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[key] = response
	s.expiry[key] = time.Now().Add(s.ttl)
	delete(s.inFlight, key)
	close(done)

	// Expired entries are reaped here rather than on a timer; completions
	// are the only writes that grow the maps.
	s.cleanupExpiredLocked()
}

func (s *InMemoryStore) Fail(key string, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
	close(done)
}

func (s *InMemoryStore) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range s.expiry {
		if now.After(expiry) {
			delete(s.results, key)
			delete(s.expiry, key)
		}
	}
}

var _ SettlementStore = (*InMemoryStore)(nil)
