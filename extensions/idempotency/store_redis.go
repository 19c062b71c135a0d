package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	p402 "github.com/p402-io/p402"
)

const (
	redisResultPrefix   = "p402:settlement:result:"
	redisInFlightPrefix = "p402:settlement:inflight:"

	// Marker expiry bounds how long a crashed owner can block settlement
	// of its payment.
	redisInFlightTTL = 2 * time.Minute

	redisPollInterval = 50 * time.Millisecond
)

// RedisStore is a SettlementStore backed by Redis, for deployments where
// several facilitator replicas settle payments behind a load balancer.
// Results live in Redis keys and the in-flight marker is a SET NX lock, so
// deduplication holds across processes. Waiters in the owning process are
// released through the done channel; waiters in other processes poll.
//
// Store errors degrade to StatusNotFound: an unreachable Redis must not
// block settlement, it only widens the duplicate window.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration

	mu       sync.Mutex
	inFlight map[string]chan struct{}
}

// NewRedisStore creates a Redis-backed settlement store. ttl bounds the
// deduplication window for completed settlements.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:   client,
		ttl:      ttl,
		inFlight: make(map[string]chan struct{}),
	}
}

func (s *RedisStore) CheckAndMark(key string) (SettlementStatus, *p402.SettleResponse, chan struct{}) {
	ctx := context.Background()

	if result := s.get(ctx, key); result != nil {
		return StatusCached, result, nil
	}

	s.mu.Lock()
	if done, exists := s.inFlight[key]; exists {
		s.mu.Unlock()
		return StatusInFlight, nil, done
	}
	s.mu.Unlock()

	acquired, err := s.client.SetNX(ctx, redisInFlightPrefix+key, 1, redisInFlightTTL).Result()
	if err == nil && !acquired {
		// Another process owns the settlement. There is no channel to hand
		// out; WaitForResult falls back to polling when done is nil.
		return StatusInFlight, nil, nil
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.inFlight[key] = done
	s.mu.Unlock()
	return StatusNotFound, nil, done
}

func (s *RedisStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*p402.SettleResponse, error) {
	ticker := time.NewTicker(redisPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return s.get(ctx, key), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if result := s.get(ctx, key); result != nil {
				return result, nil
			}
			remaining, err := s.client.Exists(ctx, redisInFlightPrefix+key).Result()
			if err == nil && remaining == 0 {
				// Owner finished without caching a result; caller retries.
				return nil, nil
			}
		}
	}
}

func (s *RedisStore) get(ctx context.Context, key string) *p402.SettleResponse {
	data, err := s.client.Get(ctx, redisResultPrefix+key).Bytes()
	if err != nil {
		return nil
	}
	var response p402.SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil
	}
	return &response
}

func (s *RedisStore) Complete(key string, response *p402.SettleResponse, done chan struct{}) {
	ctx := context.Background()
	if data, err := json.Marshal(response); err == nil {
		// The result must land before the marker clears so pollers never
		// observe a finished owner without its result.
		_ = s.client.Set(ctx, redisResultPrefix+key, data, s.ttl).Err()
	}
	_ = s.client.Del(ctx, redisInFlightPrefix+key).Err()

	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
	close(done)
}

func (s *RedisStore) Fail(key string, done chan struct{}) {
	_ = s.client.Del(context.Background(), redisInFlightPrefix+key).Err()

	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
	close(done)
}

var _ SettlementStore = (*RedisStore)(nil)
