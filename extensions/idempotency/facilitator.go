package idempotency

import (
	"context"
	"time"

	p402 "github.com/p402-io/p402"
)

// IdempotentFacilitator wraps a facilitator with settle-once protection.
// Settle calls are deduplicated through the configured SettlementStore;
// everything else delegates to the wrapped facilitator.
type IdempotentFacilitator struct {
	inner        *p402.P402Facilitator
	store        SettlementStore
	keyGenerator KeyGenerator
}

// Wrap adds idempotency to a facilitator. Defaults to an InMemoryStore
// with a 10 minute window and the SHA-256 key generator; use options to
// swap either.
func Wrap(facilitator *p402.P402Facilitator, opts ...Option) *IdempotentFacilitator {
	cfg := &config{
		ttl:          10 * time.Minute,
		keyGenerator: DefaultKeyGenerator,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		store = NewInMemoryStore(cfg.ttl)
	}

	return &IdempotentFacilitator{
		inner:        facilitator,
		store:        store,
		keyGenerator: cfg.keyGenerator,
	}
}

// Settle settles a payment at most once per deduplication window. A cached
// result returns without touching the payment network; an in-flight
// settlement of the same payment is waited on and its result shared.
// Failed settlements are not cached, so retries go through.
func (f *IdempotentFacilitator) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*p402.SettleResponse, error) {
	cacheKey := f.keyGenerator(payloadBytes)

	status, result, done := f.store.CheckAndMark(cacheKey)
	switch status {
	case StatusCached:
		return result, nil

	case StatusInFlight:
		result, err := f.store.WaitForResult(ctx, cacheKey, done)
		if err != nil {
			return nil, &p402.SettleError{Reason: "context_cancelled", Err: err}
		}
		if result != nil {
			return result, nil
		}
		// The in-flight settlement failed; claim a fresh slot and retry.
		return f.Settle(ctx, payloadBytes, requirementsBytes)

	case StatusNotFound:
		// This call owns the in-flight slot.
	}

	settleResult, settleErr := f.inner.Settle(ctx, payloadBytes, requirementsBytes)
	if settleErr != nil || settleResult == nil || !settleResult.Success {
		f.store.Fail(cacheKey, done)
		return settleResult, settleErr
	}

	f.store.Complete(cacheKey, settleResult, done)
	return settleResult, nil
}

// Verify delegates to the wrapped facilitator; verification is read-only
// and needs no deduplication.
func (f *IdempotentFacilitator) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*p402.VerifyResponse, error) {
	return f.inner.Verify(ctx, payloadBytes, requirementsBytes)
}

// GetSupported delegates to the wrapped facilitator.
func (f *IdempotentFacilitator) GetSupported() p402.SupportedResponse {
	return f.inner.GetSupported()
}

// Inner returns the wrapped facilitator for direct access.
func (f *IdempotentFacilitator) Inner() *p402.P402Facilitator {
	return f.inner
}

// The registration and hook methods below delegate to the wrapped
// facilitator and return the wrapper so chains stay on it.

// Register registers a facilitator mechanism for the given networks.
func (f *IdempotentFacilitator) Register(networks []p402.Network, facilitator p402.SchemeNetworkFacilitator) *IdempotentFacilitator {
	f.inner.Register(networks, facilitator)
	return f
}

// RegisterV1 registers a legacy facilitator mechanism for the given
// networks.
func (f *IdempotentFacilitator) RegisterV1(networks []p402.Network, facilitator p402.SchemeNetworkFacilitatorV1) *IdempotentFacilitator {
	f.inner.RegisterV1(networks, facilitator)
	return f
}

// RegisterExtension registers a protocol extension key.
func (f *IdempotentFacilitator) RegisterExtension(extension string) *IdempotentFacilitator {
	f.inner.RegisterExtension(extension)
	return f
}

// OnBeforeVerify adds a before-verify hook.
func (f *IdempotentFacilitator) OnBeforeVerify(hook p402.FacilitatorBeforeVerifyHook) *IdempotentFacilitator {
	f.inner.OnBeforeVerify(hook)
	return f
}

// OnAfterVerify adds an after-verify hook.
func (f *IdempotentFacilitator) OnAfterVerify(hook p402.FacilitatorAfterVerifyHook) *IdempotentFacilitator {
	f.inner.OnAfterVerify(hook)
	return f
}

// OnVerifyFailure adds a verify-failure hook.
func (f *IdempotentFacilitator) OnVerifyFailure(hook p402.FacilitatorOnVerifyFailureHook) *IdempotentFacilitator {
	f.inner.OnVerifyFailure(hook)
	return f
}

// OnBeforeSettle adds a before-settle hook.
func (f *IdempotentFacilitator) OnBeforeSettle(hook p402.FacilitatorBeforeSettleHook) *IdempotentFacilitator {
	f.inner.OnBeforeSettle(hook)
	return f
}

// OnAfterSettle adds an after-settle hook.
func (f *IdempotentFacilitator) OnAfterSettle(hook p402.FacilitatorAfterSettleHook) *IdempotentFacilitator {
	f.inner.OnAfterSettle(hook)
	return f
}

// OnSettleFailure adds a settle-failure hook.
func (f *IdempotentFacilitator) OnSettleFailure(hook p402.FacilitatorOnSettleFailureHook) *IdempotentFacilitator {
	f.inner.OnSettleFailure(hook)
	return f
}
