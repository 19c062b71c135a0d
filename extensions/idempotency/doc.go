// Package idempotency adds settle-once protection to a facilitator.
//
// A settlement submits a transaction to the payment network. When a client
// retries during the pending confirmation window, a bare facilitator would
// submit the same payment twice; network-level replay protection only
// activates once the first transaction lands. This package wraps the Settle
// operation with a deduplication store so each payment settles at most once
// per cache window.
//
// The engine core stays stateless, so idempotency is opt-in and the store
// backend is chosen per deployment: InMemoryStore for single instances,
// RedisStore for load-balanced clusters, or any SettlementStore
// implementation for other backends.
//
// Usage:
//
//	base := p402.NewP402Facilitator()
//	base.Register(networks, mechanism)
//
//	facilitator := idempotency.Wrap(base)
//
//	// Shared store for clustered deployments:
//	facilitator := idempotency.Wrap(base,
//	    idempotency.WithStore(idempotency.NewRedisStore(redisClient, 10*time.Minute)),
//	)
//
// On Settle, a key is derived from the payload bytes (SHA-256 by default)
// and the store is checked atomically: a cached result returns immediately,
// an in-flight settlement is waited on, and otherwise this call owns the
// settlement and caches its result. Failed settlements are not cached, so
// legitimate retries go through.
package idempotency
