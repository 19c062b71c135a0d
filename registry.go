package p402

import (
	"sort"
	"sync"
)

// registryEntry records one registration: the capability, the concrete
// networks it was registered for in call order, and the pattern derived from
// them. Entries are immutable once inserted; re-registration appends rather
// than mutating in place.
type registryEntry struct {
	capability Capability
	networks   []Network
	networkSet map[Network]struct{}
	pattern    Network
}

// Registration is a read-only view of one registry entry.
type Registration struct {
	Version    int
	Capability Capability
	Networks   []Network
	Pattern    Network
}

// SchemeRegistry maps (protocolVersion, network, scheme) lookups to
// registered capabilities. The same container runs inside the client, the
// resource server and the facilitator.
//
// Resolution precedence is deterministic: an entry whose concrete-network
// set contains the network exactly always beats an entry that only matches
// through its derived wildcard pattern, and registration order breaks ties
// of equal specificity (first registered wins). This makes the
// fallback-then-override idiom safe:
//
//	registry.Register([]Network{"eip155:*"}, defaultCap)
//	registry.Register([]Network{"eip155:1"}, mainnetCap)
//
// resolves "eip155:1" to mainnetCap in either registration order.
type SchemeRegistry struct {
	mu      sync.RWMutex
	entries map[int][]registryEntry
}

// NewSchemeRegistry creates an empty registry.
func NewSchemeRegistry() *SchemeRegistry {
	return &SchemeRegistry{
		entries: make(map[int][]registryEntry),
	}
}

// Register stores a capability for the given networks under the current
// protocol version.
func (r *SchemeRegistry) Register(networks []Network, capability Capability) {
	r.register(ProtocolVersion, networks, capability)
}

// RegisterV1 stores a capability for the given networks under protocol
// version 1.
func (r *SchemeRegistry) RegisterV1(networks []Network, capability Capability) {
	r.register(ProtocolVersionV1, networks, capability)
}

func (r *SchemeRegistry) register(version int, networks []Network, capability Capability) {
	owned := make([]Network, len(networks))
	copy(owned, networks)

	set := make(map[Network]struct{}, len(owned))
	for _, n := range owned {
		set[n] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[version] = append(r.entries[version], registryEntry{
		capability: capability,
		networks:   owned,
		networkSet: set,
		pattern:    derivePattern(owned),
	})
}

// Resolve returns the capability that should handle the triple, or a
// *NoCapabilityError when nothing is registered for it. Resolution failure
// is an expected outcome of protocol negotiation, never a panic.
func (r *SchemeRegistry) Resolve(version int, network Network, scheme string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.entries[version]

	// Exact concrete-network matches first, in registration order.
	for _, entry := range entries {
		if entry.capability.Scheme() != scheme {
			continue
		}
		if _, ok := entry.networkSet[network]; ok {
			return entry.capability, nil
		}
	}

	// Then derived wildcard patterns, in registration order.
	for _, entry := range entries {
		if entry.capability.Scheme() != scheme {
			continue
		}
		if entry.pattern != "" && network.Match(entry.pattern) {
			return entry.capability, nil
		}
	}

	return nil, &NoCapabilityError{Version: version, Network: network, Scheme: scheme}
}

// Registrations returns a snapshot of every entry, ordered by protocol
// version and then registration order.
func (r *SchemeRegistry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]int, 0, len(r.entries))
	for version := range r.entries {
		versions = append(versions, version)
	}
	sort.Ints(versions)

	var out []Registration
	for _, version := range versions {
		for _, entry := range r.entries[version] {
			networks := make([]Network, len(entry.networks))
			copy(networks, entry.networks)
			out = append(out, Registration{
				Version:    version,
				Capability: entry.capability,
				Networks:   networks,
				Pattern:    entry.pattern,
			})
		}
	}
	return out
}

// derivePattern returns the namespace wildcard covering all networks when
// every network shares a CAIP namespace, or the first network itself (exact
// match only) when they do not. Registering a single concrete network still
// derives its family wildcard, so one registration can serve sibling chains.
func derivePattern(networks []Network) Network {
	if len(networks) == 0 {
		return ""
	}

	namespace := ""
	for i, n := range networks {
		ns, _, err := n.Parse()
		if err != nil {
			return networks[0]
		}
		if i == 0 {
			namespace = ns
			continue
		}
		if ns != namespace {
			return networks[0]
		}
	}
	return Network(namespace + ":*")
}

// resolveAs resolves a capability and asserts it to the requested family.
func resolveAs[T Capability](r *SchemeRegistry, version int, network Network, scheme string) (T, error) {
	var zero T
	capability, err := r.Resolve(version, network, scheme)
	if err != nil {
		return zero, err
	}
	typed, ok := capability.(T)
	if !ok {
		return zero, NewPaymentError(ErrCodeUnsupportedScheme,
			"registered capability cannot handle this operation", map[string]interface{}{
				"scheme":  scheme,
				"network": string(network),
				"version": version,
			})
	}
	return typed, nil
}
