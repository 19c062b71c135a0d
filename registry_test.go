package p402

import (
	"errors"
	"testing"
)

type stubCapability struct {
	scheme string
}

func (s *stubCapability) Scheme() string {
	return s.scheme
}

func TestRegistryResolveExact(t *testing.T) {
	registry := NewSchemeRegistry()
	capability := &stubCapability{scheme: "exact"}

	registry.Register([]Network{"eip155:1"}, capability)

	resolved, err := registry.Resolve(ProtocolVersion, "eip155:1", "exact")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resolved != capability {
		t.Fatal("Expected registered capability to be resolved")
	}
}

func TestRegistryResolveMissing(t *testing.T) {
	registry := NewSchemeRegistry()
	registry.Register([]Network{"eip155:1"}, &stubCapability{scheme: "exact"})

	_, err := registry.Resolve(ProtocolVersion, "solana:mainnet", "exact")
	if err == nil {
		t.Fatal("Expected error for unregistered network")
	}

	var noCap *NoCapabilityError
	if !errors.As(err, &noCap) {
		t.Fatalf("Expected NoCapabilityError, got %T", err)
	}
	if noCap.Version != ProtocolVersion || noCap.Network != "solana:mainnet" || noCap.Scheme != "exact" {
		t.Fatalf("Expected error to carry the lookup triple, got %+v", noCap)
	}
}

func TestRegistryExactBeatsPattern(t *testing.T) {
	wildcard := &stubCapability{scheme: "exact"}
	mainnet := &stubCapability{scheme: "exact"}

	// Wildcard first, exact second.
	registry := NewSchemeRegistry()
	registry.Register([]Network{"eip155:*"}, wildcard)
	registry.Register([]Network{"eip155:1"}, mainnet)

	resolved, err := registry.Resolve(ProtocolVersion, "eip155:1", "exact")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resolved != mainnet {
		t.Fatal("Expected exact registration to beat wildcard registration")
	}

	// Exact first, wildcard second. Same outcome.
	registry = NewSchemeRegistry()
	registry.Register([]Network{"eip155:1"}, mainnet)
	registry.Register([]Network{"eip155:*"}, wildcard)

	resolved, err = registry.Resolve(ProtocolVersion, "eip155:1", "exact")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resolved != mainnet {
		t.Fatal("Expected exact registration to beat wildcard regardless of order")
	}

	// Other chains in the family still fall through to the wildcard.
	resolved, err = registry.Resolve(ProtocolVersion, "eip155:8453", "exact")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resolved != wildcard {
		t.Fatal("Expected wildcard registration to cover sibling chains")
	}
}

func TestRegistryRegistrationOrderBreaksTies(t *testing.T) {
	first := &stubCapability{scheme: "exact"}
	second := &stubCapability{scheme: "exact"}

	registry := NewSchemeRegistry()
	registry.Register([]Network{"eip155:1"}, first)
	registry.Register([]Network{"eip155:1"}, second)

	resolved, err := registry.Resolve(ProtocolVersion, "eip155:1", "exact")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resolved != first {
		t.Fatal("Expected first registration to win ties")
	}
}

func TestRegistryDerivedFamilyPattern(t *testing.T) {
	registry := NewSchemeRegistry()
	capability := &stubCapability{scheme: "exact"}

	// Two concrete networks in one family derive the family wildcard.
	registry.Register([]Network{"eip155:1", "eip155:8453"}, capability)

	resolved, err := registry.Resolve(ProtocolVersion, "eip155:10", "exact")
	if err != nil {
		t.Fatalf("Expected derived pattern to cover sibling chain: %v", err)
	}
	if resolved != capability {
		t.Fatal("Expected capability resolved through derived pattern")
	}
}

func TestRegistrySingleNetworkDerivesPattern(t *testing.T) {
	registry := NewSchemeRegistry()
	capability := &stubCapability{scheme: "exact"}

	registry.Register([]Network{"eip155:1"}, capability)

	resolved, err := registry.Resolve(ProtocolVersion, "eip155:8453", "exact")
	if err != nil {
		t.Fatalf("Expected single registration to derive its family wildcard: %v", err)
	}
	if resolved != capability {
		t.Fatal("Expected capability resolved through derived pattern")
	}
}

func TestRegistryMixedNamespacesNoPattern(t *testing.T) {
	registry := NewSchemeRegistry()
	capability := &stubCapability{scheme: "exact"}

	// Mixed namespaces cannot derive a family wildcard; only the concrete
	// networks resolve.
	registry.Register([]Network{"eip155:1", "solana:mainnet"}, capability)

	if _, err := registry.Resolve(ProtocolVersion, "eip155:1", "exact"); err != nil {
		t.Fatalf("Unexpected error for concrete network: %v", err)
	}
	if _, err := registry.Resolve(ProtocolVersion, "solana:mainnet", "exact"); err != nil {
		t.Fatalf("Unexpected error for concrete network: %v", err)
	}
	if _, err := registry.Resolve(ProtocolVersion, "eip155:8453", "exact"); err == nil {
		t.Fatal("Expected no pattern coverage for mixed-namespace registration")
	}
}

func TestRegistryVersionIsolation(t *testing.T) {
	registry := NewSchemeRegistry()
	v2Capability := &stubCapability{scheme: "exact"}
	v1Capability := &stubCapability{scheme: "exact"}

	registry.Register([]Network{"eip155:1"}, v2Capability)
	registry.RegisterV1([]Network{"eip155:1"}, v1Capability)

	resolved, err := registry.Resolve(ProtocolVersion, "eip155:1", "exact")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resolved != v2Capability {
		t.Fatal("Expected v2 lookup to resolve the v2 registration")
	}

	resolved, err = registry.Resolve(ProtocolVersionV1, "eip155:1", "exact")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resolved != v1Capability {
		t.Fatal("Expected v1 lookup to resolve the v1 registration")
	}
}

func TestRegistrySchemeFiltering(t *testing.T) {
	registry := NewSchemeRegistry()
	exact := &stubCapability{scheme: "exact"}
	transfer := &stubCapability{scheme: "transfer"}

	registry.Register([]Network{"eip155:1"}, exact)
	registry.Register([]Network{"eip155:1"}, transfer)

	resolved, err := registry.Resolve(ProtocolVersion, "eip155:1", "transfer")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resolved != transfer {
		t.Fatal("Expected resolution to filter by scheme")
	}
}

func TestRegistryRegistrations(t *testing.T) {
	registry := NewSchemeRegistry()
	v2Capability := &stubCapability{scheme: "exact"}
	v1Capability := &stubCapability{scheme: "exact"}

	registry.Register([]Network{"eip155:1", "eip155:8453"}, v2Capability)
	registry.RegisterV1([]Network{"eip155:1"}, v1Capability)

	registrations := registry.Registrations()
	if len(registrations) != 2 {
		t.Fatalf("Expected 2 registrations, got %d", len(registrations))
	}

	// Ordered by version first.
	if registrations[0].Version != ProtocolVersionV1 {
		t.Fatalf("Expected v1 registration first, got version %d", registrations[0].Version)
	}
	if registrations[1].Version != ProtocolVersion {
		t.Fatalf("Expected v2 registration second, got version %d", registrations[1].Version)
	}
	if len(registrations[1].Networks) != 2 {
		t.Fatalf("Expected 2 networks on v2 registration, got %d", len(registrations[1].Networks))
	}
	if registrations[1].Pattern != "eip155:*" {
		t.Fatalf("Expected derived pattern eip155:*, got %s", registrations[1].Pattern)
	}
}

func TestResolveAsFamilyMismatch(t *testing.T) {
	registry := NewSchemeRegistry()
	// A bare capability that is not a facilitator mechanism.
	registry.Register([]Network{"eip155:1"}, &stubCapability{scheme: "exact"})

	_, err := resolveAs[SchemeNetworkFacilitator](registry, ProtocolVersion, "eip155:1", "exact")
	if err == nil {
		t.Fatal("Expected error when capability cannot handle the operation")
	}

	var paymentErr *PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.Code != ErrCodeUnsupportedScheme {
		t.Fatalf("Expected unsupported_scheme payment error, got %v", err)
	}
}
