package p402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// SettlementCache deduplicates settle operations. Successful settlement
// responses are cached by payload hash, and concurrent settles of the same
// payment coalesce onto a single in-flight request, so client retries after
// timeouts or network failures cannot double-submit a transaction.
type SettlementCache struct {
	mu       sync.Mutex
	entries  map[string]settlementEntry
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

type settlementEntry struct {
	response  *SettleResponse
	expiresAt time.Time
}

// NewSettlementCache creates a settlement cache with the given TTL.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		entries:  make(map[string]settlementEntry),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// GenerateSettlementKey derives a cache key from payment payload bytes. The
// full payload hash covers the signature and nonce, so each payment attempt
// gets its own key.
func GenerateSettlementKey(payloadBytes []byte) string {
	hash := sha256.Sum256(payloadBytes)
	return hex.EncodeToString(hash[:])
}

// SettlementStatus is the outcome of a cache check.
type SettlementStatus int

const (
	// StatusNotFound means no cached result and no in-flight request.
	StatusNotFound SettlementStatus = iota
	// StatusCached means a cached result was found.
	StatusCached
	// StatusInFlight means another request is currently settling this payment.
	StatusInFlight
)

// CheckAndMark atomically checks the cache and, when the key is neither
// cached nor in-flight, marks it in-flight. It returns StatusCached with the
// result, StatusInFlight with a channel to wait on, or StatusNotFound with
// the done channel this request must later pass to Complete or Fail.
func (c *SettlementCache) CheckAndMark(key string) (SettlementStatus, *SettleResponse, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		if time.Now().Before(entry.expiresAt) {
			return StatusCached, entry.response, nil
		}
		delete(c.entries, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult waits for an in-flight settlement to finish, respecting
// context cancellation. It returns the cached result if one was stored, or
// nil if the in-flight request failed and left nothing behind.
func (c *SettlementCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*SettleResponse, error) {
	select {
	case <-done:
		return c.Get(key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached settlement response for key, or nil when absent or
// expired.
func (c *SettlementCache) Get(key string) (*SettleResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, nil
	}

	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, nil
	}

	return entry.response, nil
}

// Complete caches the settlement response and wakes any waiters.
func (c *SettlementCache) Complete(key string, response *SettleResponse, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = settlementEntry{
		response:  response,
		expiresAt: time.Now().Add(c.ttl),
	}
	delete(c.inFlight, key)
	close(done)

	c.cleanupExpiredLocked()
}

// Fail clears the in-flight marker without caching anything, so the
// settlement can be retried. Waiters are woken and will find no result.
func (c *SettlementCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

func (c *SettlementCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
