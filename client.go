package p402

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// P402Client manages payment mechanisms and creates payment payloads. It is
// used by applications that hold wallets or signers and need to pay for
// resources.
type P402Client struct {
	mu       sync.RWMutex
	registry *SchemeRegistry

	// Policies narrow the candidate list in order; the selector picks one
	// requirement from whatever survives.
	policies             []PaymentPolicy
	requirementsSelector PaymentRequirementsSelector

	clientExtensions []ClientExtension

	logger *zap.Logger
}

// PaymentPolicy narrows a candidate requirements list. Policies run in
// registration order after capability filtering; returning an empty list
// makes payment selection fail.
type PaymentPolicy func(version int, candidates []PaymentRequirements) []PaymentRequirements

// PaymentRequirementsSelector chooses which payment option to use from a
// non-empty candidate list.
type PaymentRequirementsSelector func(version int, candidates []PaymentRequirements) PaymentRequirements

// ClientOption configures the client
type ClientOption func(*P402Client)

// WithPaymentSelector sets a custom payment requirements selector
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *P402Client) {
		c.requirementsSelector = selector
	}
}

// WithPaymentPolicy appends a payment policy.
func WithPaymentPolicy(policy PaymentPolicy) ClientOption {
	return func(c *P402Client) {
		c.policies = append(c.policies, policy)
	}
}

// WithScheme registers a payment mechanism for the given networks at
// creation time.
func WithScheme(networks []Network, client SchemeNetworkClient) ClientOption {
	return func(c *P402Client) {
		c.registry.Register(networks, client)
	}
}

// WithSchemeV1 registers a legacy payment mechanism for the given networks
// at creation time.
func WithSchemeV1(networks []Network, client SchemeNetworkClientV1) ClientOption {
	return func(c *P402Client) {
		c.registry.RegisterV1(networks, client)
	}
}

// WithClientExtension registers a client extension invoked after payload
// creation.
func WithClientExtension(extension ClientExtension) ClientOption {
	return func(c *P402Client) {
		c.clientExtensions = append(c.clientExtensions, extension)
	}
}

// WithClientLogger sets the structured logger. Defaults to a no-op logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *P402Client) {
		c.logger = logger
	}
}

// NewP402Client creates a new payment client.
func NewP402Client(opts ...ClientOption) *P402Client {
	c := &P402Client{
		registry:             NewSchemeRegistry(),
		requirementsSelector: defaultPaymentSelector,
		logger:               zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// defaultPaymentSelector chooses the first available payment option. The
// selector is never called with an empty candidate list.
func defaultPaymentSelector(version int, candidates []PaymentRequirements) PaymentRequirements {
	return candidates[0]
}

// RegisterScheme registers a payment mechanism for the current protocol
// version.
func (c *P402Client) RegisterScheme(networks []Network, client SchemeNetworkClient) *P402Client {
	c.registry.Register(networks, client)
	return c
}

// RegisterSchemeV1 registers a payment mechanism for protocol version 1.
func (c *P402Client) RegisterSchemeV1(networks []Network, client SchemeNetworkClientV1) *P402Client {
	c.registry.RegisterV1(networks, client)
	return c
}

// RegisterExtension registers a client extension invoked after payload
// creation.
func (c *P402Client) RegisterExtension(extension ClientExtension) *P402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientExtensions = append(c.clientExtensions, extension)
	return c
}

// SelectPaymentRequirements chooses which payment requirements to use.
// Candidates are first narrowed to those a registered mechanism can satisfy,
// then run through the configured policies in order, and finally handed to
// the selector.
func (c *P402Client) SelectPaymentRequirements(version int, candidates []PaymentRequirements) (PaymentRequirements, error) {
	var supported []PaymentRequirements
	for _, req := range candidates {
		if _, err := c.registry.Resolve(version, req.Network, req.Scheme); err == nil {
			supported = append(supported, req)
		}
	}
	if dropped := len(candidates) - len(supported); dropped > 0 {
		c.logger.Debug("dropped payment options with no registered mechanism",
			zap.Int("dropped", dropped), zap.Int("version", version))
	}

	if len(supported) == 0 {
		return PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: "no supported payment schemes available",
			Details: map[string]interface{}{
				"version": version,
			},
		}
	}

	c.mu.RLock()
	policies := c.policies
	selector := c.requirementsSelector
	c.mu.RUnlock()

	for _, policy := range policies {
		supported = policy(version, supported)
		if len(supported) == 0 {
			return PaymentRequirements{}, &PaymentError{
				Code:    ErrCodeUnsupportedScheme,
				Message: "all payment requirements were filtered out by policies",
				Details: map[string]interface{}{
					"version": version,
				},
			}
		}
	}

	return selector(version, supported), nil
}

// SelectPaymentRequirementsV1 runs the selection pipeline over legacy
// requirements by lifting them into current-shaped views and mapping the
// chosen view back to its original entry. Scheme plus network identifies the
// entry, matching v1 requirement-matching semantics.
func (c *P402Client) SelectPaymentRequirementsV1(candidates []PaymentRequirementsV1) (PaymentRequirementsV1, error) {
	views := make([]PaymentRequirements, len(candidates))
	for i, req := range candidates {
		views[i] = req.ToCurrent()
	}

	selected, err := c.SelectPaymentRequirements(ProtocolVersionV1, views)
	if err != nil {
		return PaymentRequirementsV1{}, err
	}

	for _, req := range candidates {
		if req.Scheme == selected.Scheme && req.Network == string(selected.Network) {
			return req, nil
		}
	}
	return PaymentRequirementsV1{}, &PaymentError{
		Code:    ErrCodeUnsupportedScheme,
		Message: "selected payment requirements not found among candidates",
	}
}

// CreatePaymentPayload creates a signed current-version payment payload. The
// mechanism fills the opaque payload data; the client stamps the protocol
// version, embeds the accepted requirements copy, echoes the resource, and
// merges extensions under the superset rule.
func (c *P402Client) CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements, resource *ResourceInfo, extensions map[string]interface{}) (PaymentPayload, error) {
	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	schemeClient, err := resolveAs[SchemeNetworkClient](c.registry, ProtocolVersion, requirements.Network, requirements.Scheme)
	if err != nil {
		return PaymentPayload{}, err
	}

	var payload PaymentPayload
	if aware, ok := schemeClient.(ExtensionAwareClient); ok && len(extensions) > 0 {
		payload, err = aware.CreatePaymentPayloadWithExtensions(ctx, requirements, extensions)
	} else {
		payload, err = schemeClient.CreatePaymentPayload(ctx, requirements)
	}
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	payload.ProtocolVersion = ProtocolVersion
	payload.Accepted = requirements
	payload.Resource = resource
	payload.Extensions = mergePayloadExtensions(extensions, payload.Extensions)

	if err := ValidatePaymentPayload(payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment payload created: %w", err)
	}

	return payload, nil
}

// CreatePaymentPayloadV1 creates a signed legacy payment payload. Scheme and
// network travel at the payload's top level; there is no requirements copy.
func (c *P402Client) CreatePaymentPayloadV1(ctx context.Context, requirements PaymentRequirementsV1) (PaymentPayloadV1, error) {
	schemeClient, err := resolveAs[SchemeNetworkClientV1](c.registry, ProtocolVersionV1, Network(requirements.Network), requirements.Scheme)
	if err != nil {
		return PaymentPayloadV1{}, err
	}

	payload, err := schemeClient.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		return PaymentPayloadV1{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	payload.ProtocolVersion = ProtocolVersionV1
	payload.Scheme = requirements.Scheme
	payload.Network = requirements.Network

	return payload, nil
}

// CanPay checks if the client can pay with any of the given requirements
func (c *P402Client) CanPay(version int, requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(version, requirements)
	return err == nil
}

// CreatePaymentForRequired creates a payment for a PaymentRequired response:
// select a requirement, build the payload, then run registered client
// extensions whose keys the server declared. Extension enrichment may add
// entries but the server-declared ones always survive unchanged.
func (c *P402Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	version := required.ProtocolVersion
	if version == 0 {
		version = ProtocolVersion
	}
	if version != ProtocolVersion {
		return PaymentPayload{}, NewPaymentError(ErrCodeUnsupportedVersion,
			fmt.Sprintf("version %d responses must go through CreatePaymentForRequiredV1", version), nil)
	}

	selected, err := c.SelectPaymentRequirements(version, required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}

	payload, err := c.CreatePaymentPayload(ctx, selected, required.Resource, required.Extensions)
	if err != nil {
		return PaymentPayload{}, err
	}

	c.mu.RLock()
	clientExtensions := c.clientExtensions
	c.mu.RUnlock()

	for _, extension := range clientExtensions {
		if required.Extensions == nil {
			break
		}
		if _, declared := required.Extensions[extension.Key()]; !declared {
			continue
		}
		enriched, err := extension.EnrichPaymentPayload(ctx, payload, required)
		if err != nil {
			return PaymentPayload{}, fmt.Errorf("extension %s: %w", extension.Key(), err)
		}
		enriched.Extensions = mergePayloadExtensions(required.Extensions, enriched.Extensions)
		payload = enriched
	}

	return payload, nil
}

// CreatePaymentForRequiredV1 creates a payment for a legacy 402 response.
func (c *P402Client) CreatePaymentForRequiredV1(ctx context.Context, required PaymentRequiredV1) (PaymentPayloadV1, error) {
	selected, err := c.SelectPaymentRequirementsV1(required.Accepts)
	if err != nil {
		return PaymentPayloadV1{}, err
	}
	return c.CreatePaymentPayloadV1(ctx, selected)
}

// GetRegisteredSchemes returns the registered (network, scheme) pairs per
// protocol version, for debugging.
func (c *P402Client) GetRegisteredSchemes() map[int][]struct {
	Network Network
	Scheme  string
} {
	result := make(map[int][]struct {
		Network Network
		Scheme  string
	})

	for _, reg := range c.registry.Registrations() {
		for _, network := range reg.Networks {
			result[reg.Version] = append(result[reg.Version], struct {
				Network Network
				Scheme  string
			}{
				Network: network,
				Scheme:  reg.Capability.Scheme(),
			})
		}
	}

	return result
}

// mergePayloadExtensions combines server-declared extensions with additions
// from the scheme or client extensions. Declared values always survive
// unchanged; additions land under new keys, or field by field inside a
// declared object, so the payload's extensions remain a superset of what the
// server declared at every level.
func mergePayloadExtensions(declared, additions map[string]interface{}) map[string]interface{} {
	if len(declared) == 0 && len(additions) == 0 {
		return nil
	}
	return mergeExtensionMaps(declared, additions)
}

func mergeExtensionMaps(declared, additions map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(declared)+len(additions))
	for key, value := range declared {
		merged[key] = value
	}
	for key, value := range additions {
		existing, exists := merged[key]
		if !exists {
			merged[key] = value
			continue
		}
		existingMap, declaredIsObject := existing.(map[string]interface{})
		addedMap, addedIsObject := value.(map[string]interface{})
		if declaredIsObject && addedIsObject {
			merged[key] = mergeExtensionMaps(existingMap, addedMap)
		}
	}
	return merged
}
