package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	p402 "github.com/p402-io/p402"
)

// mockStore implements SettlementStore for testing
type mockStore struct {
	mu            sync.Mutex
	checkCalls    int
	completeCalls int
	failCalls     int
	status        SettlementStatus
	cachedResult  *p402.SettleResponse
	done          chan struct{}
}

func newMockStore(status SettlementStatus, cachedResult *p402.SettleResponse) *mockStore {
	return &mockStore{
		status:       status,
		cachedResult: cachedResult,
		done:         make(chan struct{}),
	}
}

func (m *mockStore) CheckAndMark(key string) (SettlementStatus, *p402.SettleResponse, chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCalls++
	return m.status, m.cachedResult, m.done
}

func (m *mockStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*p402.SettleResponse, error) {
	select {
	case <-done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.cachedResult, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *mockStore) Complete(key string, response *p402.SettleResponse, done chan struct{}) {
	m.mu.Lock()
	m.completeCalls++
	m.cachedResult = response
	m.mu.Unlock()
	close(done)
}

func (m *mockStore) Fail(key string, done chan struct{}) {
	m.mu.Lock()
	m.failCalls++
	m.mu.Unlock()
	close(done)
}

// mockMechanism is a minimal settlement mechanism for exercising the full
// wrapper-to-mechanism path.
type mockMechanism struct {
	mu          sync.Mutex
	settleCalls int
}

func (m *mockMechanism) Scheme() string     { return "exact" }
func (m *mockMechanism) CaipFamily() string { return "eip155:*" }

func (m *mockMechanism) GetExtra(network p402.Network) map[string]interface{} { return nil }
func (m *mockMechanism) GetSigners(network p402.Network) []string             { return nil }

func (m *mockMechanism) Verify(ctx context.Context, payload p402.PaymentPayload, requirements p402.PaymentRequirements) (*p402.VerifyResponse, error) {
	return &p402.VerifyResponse{IsValid: true}, nil
}

func (m *mockMechanism) Settle(ctx context.Context, payload p402.PaymentPayload, requirements p402.PaymentRequirements) (*p402.SettleResponse, error) {
	m.mu.Lock()
	m.settleCalls++
	m.mu.Unlock()
	return &p402.SettleResponse{
		Success:     true,
		Transaction: "0xsettled",
		Network:     requirements.Network,
		Payer:       "0xpayer",
	}, nil
}

func (m *mockMechanism) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settleCalls
}

func TestWrapDefaults(t *testing.T) {
	baseFacilitator := p402.NewP402Facilitator()
	wrapped := Wrap(baseFacilitator)

	if wrapped == nil {
		t.Fatal("Expected non-nil IdempotentFacilitator")
	}
	if wrapped.inner != baseFacilitator {
		t.Error("Expected inner to be the base facilitator")
	}
	if wrapped.store == nil {
		t.Error("Expected store to be initialized")
	}
	if wrapped.keyGenerator == nil {
		t.Error("Expected keyGenerator to be initialized")
	}
}

func TestWrapWithTTL(t *testing.T) {
	baseFacilitator := p402.NewP402Facilitator()
	wrapped := Wrap(baseFacilitator, WithTTL(30*time.Minute))

	store, ok := wrapped.store.(*InMemoryStore)
	if !ok {
		t.Fatal("Expected InMemoryStore")
	}
	if store.ttl != 30*time.Minute {
		t.Errorf("Expected TTL 30m, got %v", store.ttl)
	}
}

func TestWrapWithStore(t *testing.T) {
	baseFacilitator := p402.NewP402Facilitator()
	customStore := newMockStore(StatusNotFound, nil)
	wrapped := Wrap(baseFacilitator, WithStore(customStore))

	if wrapped.store != customStore {
		t.Error("Expected custom store to be used")
	}
}

func TestWrapWithKeyGenerator(t *testing.T) {
	baseFacilitator := p402.NewP402Facilitator()
	customGenerator := func(payload []byte) string {
		return "custom-key"
	}
	wrapped := Wrap(baseFacilitator, WithKeyGenerator(customGenerator))

	key := wrapped.keyGenerator([]byte("test"))
	if key != "custom-key" {
		t.Errorf("Expected custom-key, got %s", key)
	}
}

func TestIdempotentFacilitatorSettleCached(t *testing.T) {
	baseFacilitator := p402.NewP402Facilitator()
	cachedResponse := &p402.SettleResponse{
		Success:     true,
		Transaction: "0xcached",
		Payer:       "0xpayer",
		Network:     "eip155:1",
	}
	store := newMockStore(StatusCached, cachedResponse)

	wrapped := Wrap(baseFacilitator, WithStore(store))

	result, err := wrapped.Settle(context.Background(), []byte(`{}`), []byte(`{}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result == nil {
		t.Fatal("Expected non-nil result")
	}
	if result.Transaction != "0xcached" {
		t.Errorf("Expected cached transaction, got %s", result.Transaction)
	}

	if store.checkCalls != 1 {
		t.Errorf("Expected 1 check call, got %d", store.checkCalls)
	}
	if store.completeCalls != 0 {
		t.Errorf("Expected 0 complete calls on a cache hit, got %d", store.completeCalls)
	}
}

func TestIdempotentFacilitatorSettleSuccessCaches(t *testing.T) {
	mechanism := &mockMechanism{}
	baseFacilitator := p402.NewP402Facilitator().
		Register([]p402.Network{"eip155:1"}, mechanism)
	wrapped := Wrap(baseFacilitator)

	payloadBytes := []byte(`{"protocolVersion":2,"payload":{"signature":"0xsig"},"accepted":{"scheme":"exact","network":"eip155:1"}}`)
	requirementsBytes := []byte(`{"scheme":"exact","network":"eip155:1","asset":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","amount":"10000"}`)

	ctx := context.Background()
	first, err := wrapped.Settle(ctx, payloadBytes, requirementsBytes)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !first.Success || first.Transaction != "0xsettled" {
		t.Fatalf("Expected successful settlement, got %+v", first)
	}

	second, err := wrapped.Settle(ctx, payloadBytes, requirementsBytes)
	if err != nil {
		t.Fatalf("Expected no error on duplicate, got %v", err)
	}
	if second.Transaction != first.Transaction {
		t.Errorf("Expected cached transaction %s, got %s", first.Transaction, second.Transaction)
	}

	if got := mechanism.calls(); got != 1 {
		t.Errorf("Expected mechanism to settle once, got %d calls", got)
	}
}

func TestIdempotentFacilitatorSettleFailureNotCached(t *testing.T) {
	// No mechanisms registered, so every settle attempt errors.
	baseFacilitator := p402.NewP402Facilitator()
	store := newMockStore(StatusNotFound, nil)
	wrapped := Wrap(baseFacilitator, WithStore(store))

	payloadBytes := []byte(`{"protocolVersion":2,"payload":{}}`)
	requirementsBytes := []byte(`{"scheme":"exact","network":"eip155:1"}`)

	_, err := wrapped.Settle(context.Background(), payloadBytes, requirementsBytes)
	if err == nil {
		t.Fatal("Expected settlement error")
	}

	if store.failCalls != 1 {
		t.Errorf("Expected 1 fail call, got %d", store.failCalls)
	}
	if store.completeCalls != 0 {
		t.Errorf("Expected failed settlement not to be cached, got %d complete calls", store.completeCalls)
	}
}

func TestIdempotentFacilitatorSettleContextCancelled(t *testing.T) {
	baseFacilitator := p402.NewP402Facilitator()
	store := newMockStore(StatusInFlight, nil)
	wrapped := Wrap(baseFacilitator, WithStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wrapped.Settle(ctx, []byte(`{}`), []byte(`{}`))
	if err == nil {
		t.Fatal("Expected error when waiting on a cancelled context")
	}

	var settleErr *p402.SettleError
	if !errors.As(err, &settleErr) {
		t.Fatalf("Expected SettleError, got %T", err)
	}
	if settleErr.Reason != "context_cancelled" {
		t.Errorf("Expected reason context_cancelled, got %s", settleErr.Reason)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("Expected error to unwrap to context.Canceled")
	}
}

func TestIdempotentFacilitatorVerifyDelegates(t *testing.T) {
	mechanism := &mockMechanism{}
	baseFacilitator := p402.NewP402Facilitator().
		Register([]p402.Network{"eip155:1"}, mechanism)
	store := newMockStore(StatusNotFound, nil)
	wrapped := Wrap(baseFacilitator, WithStore(store))

	payloadBytes := []byte(`{"protocolVersion":2,"payload":{}}`)
	requirementsBytes := []byte(`{"scheme":"exact","network":"eip155:1"}`)

	result, err := wrapped.Verify(context.Background(), payloadBytes, requirementsBytes)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !result.IsValid {
		t.Errorf("Expected valid verification, got %+v", result)
	}

	// Verification never touches the settlement store.
	if store.checkCalls != 0 {
		t.Errorf("Expected 0 check calls, got %d", store.checkCalls)
	}
}

func TestIdempotentFacilitatorInner(t *testing.T) {
	baseFacilitator := p402.NewP402Facilitator()
	wrapped := Wrap(baseFacilitator)

	if wrapped.Inner() != baseFacilitator {
		t.Error("Expected Inner() to return base facilitator")
	}
}

func TestIdempotentFacilitatorGetSupported(t *testing.T) {
	baseFacilitator := p402.NewP402Facilitator()
	wrapped := Wrap(baseFacilitator)

	supported := wrapped.GetSupported()
	if len(supported.Kinds) != 0 {
		t.Errorf("Expected empty kinds, got %d", len(supported.Kinds))
	}
}

func TestIdempotentFacilitatorRegisterChaining(t *testing.T) {
	baseFacilitator := p402.NewP402Facilitator()
	wrapped := Wrap(baseFacilitator)

	result := wrapped.RegisterExtension("test-extension")
	if result != wrapped {
		t.Error("Expected RegisterExtension to return self for chaining")
	}

	result = wrapped.Register([]p402.Network{"eip155:1"}, &mockMechanism{})
	if result != wrapped {
		t.Error("Expected Register to return self for chaining")
	}

	supported := wrapped.GetSupported()
	if len(supported.Kinds) != 1 {
		t.Errorf("Expected registration to reach inner facilitator, got %d kinds", len(supported.Kinds))
	}
}

func TestIdempotentFacilitatorHookRegistration(t *testing.T) {
	baseFacilitator := p402.NewP402Facilitator()
	wrapped := Wrap(baseFacilitator)

	hook := func(ctx p402.FacilitatorSettleResultContext) error {
		return nil
	}

	result := wrapped.OnAfterSettle(hook)
	if result != wrapped {
		t.Error("Expected OnAfterSettle to return self for chaining")
	}
}
