package idempotency

import "time"

type config struct {
	ttl          time.Duration
	store        SettlementStore
	keyGenerator KeyGenerator
}

// Option configures the idempotency wrapper.
type Option func(*config)

// WithTTL sets how long settled results stay cached. Only applies to the
// default in-memory store; stores passed via WithStore carry their own
// window.
//
// Default: 10 minutes
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithStore replaces the default in-memory store, for example with a
// RedisStore shared across facilitator instances:
//
//	facilitator := idempotency.Wrap(baseFacilitator,
//	    idempotency.WithStore(idempotency.NewRedisStore(redisClient, 10*time.Minute)),
//	)
func WithStore(store SettlementStore) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithKeyGenerator replaces the SHA-256 payload hash used to derive
// deduplication keys. The key must uniquely identify a payment, or
// distinct settlements will collapse into one.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(c *config) {
		c.keyGenerator = gen
	}
}
