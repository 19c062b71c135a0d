package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	p402 "github.com/p402-io/p402"
)

// SettlementStatus is the outcome of checking the store for a payment.
type SettlementStatus int

const (
	// StatusNotFound means no cached result and no in-flight settlement;
	// the caller now owns the in-flight slot.
	StatusNotFound SettlementStatus = iota
	// StatusCached means a completed settlement result was found.
	StatusCached
	// StatusInFlight means another request is settling this payment.
	StatusInFlight
)

// SettlementStore tracks settlements for deduplication. Implementations
// must be safe for concurrent use; the same interface serves process-local
// and distributed backends.
type SettlementStore interface {
	// CheckAndMark atomically checks the store and, when the key is
	// unknown, marks it in-flight.
	//
	// Returns:
	//   - StatusCached with the cached result
	//   - StatusInFlight with a channel to wait on
	//   - StatusNotFound with the done channel the caller must later pass
	//     to Complete or Fail
	CheckAndMark(key string) (SettlementStatus, *p402.SettleResponse, chan struct{})

	// WaitForResult blocks until the in-flight settlement for key finishes
	// or ctx is cancelled. A nil result with nil error means the in-flight
	// settlement failed and the caller should retry.
	WaitForResult(ctx context.Context, key string, done chan struct{}) (*p402.SettleResponse, error)

	// Complete caches a successful result, clears the in-flight marker and
	// releases waiters. done must be the channel CheckAndMark returned.
	Complete(key string, response *p402.SettleResponse, done chan struct{})

	// Fail clears the in-flight marker without caching, releasing waiters
	// to retry. done must be the channel CheckAndMark returned.
	Fail(key string, done chan struct{})
}

// KeyGenerator derives the deduplication key for a settlement attempt.
type KeyGenerator func(payloadBytes []byte) string

// DefaultKeyGenerator hashes the payload bytes with SHA-256. The payload
// carries the signature and nonce, which makes the hash unique per payment
// attempt.
func DefaultKeyGenerator(payloadBytes []byte) string {
	hash := sha256.Sum256(payloadBytes)
	return hex.EncodeToString(hash[:])
}
