package p402

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/p402-io/p402/types"
)

// P402ResourceServer turns priced resources into payment requirements,
// matches inbound payloads against them, and brokers verify and settle calls
// to one or more facilitator clients. It is the most stateful engine
// component: it owns the scheme-server registry, the facilitator kind map
// built by Initialize, and the supported-kinds cache.
type P402ResourceServer struct {
	mu                    sync.RWMutex
	registry              *SchemeRegistry
	facilitatorClients    []FacilitatorClient
	registeredExtensions  map[string]ResourceServiceExtension
	supportedCache        *SupportedCache
	facilitatorClientsMap map[int]map[Network]map[string]FacilitatorClient

	logger *zap.Logger

	// Lifecycle hooks
	beforeVerifyHooks    []BeforeVerifyHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// ResourceServerOption configures the server
type ResourceServerOption func(*P402ResourceServer)

// WithFacilitatorClient adds a facilitator client. Order matters: when two
// clients advertise the same kind, the one added first is authoritative.
func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *P402ResourceServer) {
		s.facilitatorClients = append(s.facilitatorClients, client)
	}
}

// WithSchemeServer registers a scheme server implementation for the given
// networks.
func WithSchemeServer(networks []Network, schemeServer SchemeNetworkServer) ResourceServerOption {
	return func(s *P402ResourceServer) {
		s.registry.Register(networks, schemeServer)
	}
}

// WithCacheTTL sets the TTL for cached facilitator capability snapshots.
func WithCacheTTL(ttl time.Duration) ResourceServerOption {
	return func(s *P402ResourceServer) {
		s.supportedCache.ttl = ttl
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) ResourceServerOption {
	return func(s *P402ResourceServer) {
		s.logger = logger
	}
}

// NewP402ResourceServer creates a resource server. With no
// WithFacilitatorClient option the server falls back to a built-in remote
// client pointed at DefaultFacilitatorURL.
func NewP402ResourceServer(opts ...ResourceServerOption) *P402ResourceServer {
	s := &P402ResourceServer{
		registry:              NewSchemeRegistry(),
		facilitatorClients:    []FacilitatorClient{},
		registeredExtensions:  make(map[string]ResourceServiceExtension),
		supportedCache:        NewSupportedCache(5 * time.Minute),
		facilitatorClientsMap: make(map[int]map[Network]map[string]FacilitatorClient),
		logger:                zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if len(s.facilitatorClients) == 0 {
		s.facilitatorClients = append(s.facilitatorClients, newDefaultFacilitatorClient(DefaultFacilitatorURL))
	}

	return s
}

// Initialize fetches supported payment kinds from every configured
// facilitator client, in order, and rebuilds the kind map and capability
// cache from scratch. Earlier clients win contested kinds. A client whose
// GetSupported call fails is skipped with a log entry so partial facilitator
// outage does not prevent startup; an error is returned only when every
// client fails. Safe to call repeatedly, e.g. from a refresh timer.
func (s *P402ResourceServer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.supportedCache.Clear()
	s.facilitatorClientsMap = make(map[int]map[Network]map[string]FacilitatorClient)

	var lastErr error
	successCount := 0

	for i, client := range s.facilitatorClients {
		supported, err := client.GetSupported(ctx)
		if err != nil {
			lastErr = fmt.Errorf("facilitator %d: %w", i, err)
			s.logger.Warn("skipping facilitator during initialization",
				zap.Int("index", i), zap.Error(err))
			continue
		}

		s.supportedCache.Set(fmt.Sprintf("facilitator_%d", i), supported)
		successCount++

		for _, kind := range supported.Kinds {
			if s.facilitatorClientsMap[kind.ProtocolVersion] == nil {
				s.facilitatorClientsMap[kind.ProtocolVersion] = make(map[Network]map[string]FacilitatorClient)
			}
			versionMap := s.facilitatorClientsMap[kind.ProtocolVersion]

			if versionMap[kind.Network] == nil {
				versionMap[kind.Network] = make(map[string]FacilitatorClient)
			}
			networkMap := versionMap[kind.Network]

			// Earlier facilitators keep contested kinds.
			if _, exists := networkMap[kind.Scheme]; !exists {
				networkMap[kind.Scheme] = client
			}
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to initialize any facilitators: %w", lastErr)
	}

	return nil
}

// Register registers a scheme server for the given networks. The resource
// server only produces current-version requirements, so there is no v1
// registration entry point.
func (s *P402ResourceServer) Register(networks []Network, schemeServer SchemeNetworkServer) *P402ResourceServer {
	s.registry.Register(networks, schemeServer)
	return s
}

// RegisterExtension registers a resource-service extension keyed by its
// extension name.
func (s *P402ResourceServer) RegisterExtension(extension ResourceServiceExtension) *P402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registeredExtensions[extension.Key()] = extension
	return s
}

// BuildExtensions assembles the extension envelopes contributed by
// registered resource-service extensions for one advertised resource.
// Returns nil when nothing contributes, so callers can attach the result
// directly without emitting an empty extensions object.
func (s *P402ResourceServer) BuildExtensions(resource *ResourceInfo, requirements []PaymentRequirements) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.registeredExtensions) == 0 {
		return nil
	}

	out := make(map[string]interface{})
	for key, extension := range s.registeredExtensions {
		if envelope := extension.EnrichDeclaration(resource, requirements); envelope != nil {
			out[key] = envelope
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ============================================================================
// Hook Registration Methods (Chainable)
// ============================================================================

// OnBeforeVerify registers a hook to execute before payment verification.
// The hook can abort verification by returning a result with Abort=true.
func (s *P402ResourceServer) OnBeforeVerify(hook BeforeVerifyHook) *P402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	return s
}

// OnAfterVerify registers a hook to execute after successful payment
// verification.
func (s *P402ResourceServer) OnAfterVerify(hook AfterVerifyHook) *P402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	return s
}

// OnVerifyFailure registers a hook to execute when payment verification
// fails. The hook can recover by returning a result with Recovered=true.
func (s *P402ResourceServer) OnVerifyFailure(hook OnVerifyFailureHook) *P402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	return s
}

// OnBeforeSettle registers a hook to execute before payment settlement.
// The hook can abort settlement by returning a result with Abort=true.
func (s *P402ResourceServer) OnBeforeSettle(hook BeforeSettleHook) *P402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	return s
}

// OnAfterSettle registers a hook to execute after successful payment
// settlement.
func (s *P402ResourceServer) OnAfterSettle(hook AfterSettleHook) *P402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSettleHooks = append(s.afterSettleHooks, hook)
	return s
}

// OnSettleFailure registers a hook to execute when payment settlement fails.
// The hook can recover by returning a result with Recovered=true.
func (s *P402ResourceServer) OnSettleFailure(hook OnSettleFailureHook) *P402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	return s
}

// ============================================================================
// Requirements Construction
// ============================================================================

// BuildPaymentRequirements creates payment requirements for one resource
// configuration. It fails with ErrCodeUnsupportedScheme when no scheme
// server is registered for the configuration's network and scheme; routes
// that want to tolerate unsupported options should go through
// BuildPaymentRequirementsForRoute instead.
func (s *P402ResourceServer) BuildPaymentRequirements(ctx context.Context, config ResourceConfig) ([]PaymentRequirements, error) {
	schemeServer, err := resolveAs[SchemeNetworkServer](s.registry, ProtocolVersion, config.Network, config.Scheme)
	if err != nil {
		var noCap *NoCapabilityError
		if errors.As(err, &noCap) {
			return nil, &PaymentError{
				Code:    ErrCodeUnsupportedScheme,
				Message: fmt.Sprintf("no server registered for scheme %s on network %s", config.Scheme, config.Network),
			}
		}
		return nil, err
	}

	// Parse the price using the scheme's parser
	assetAmount, err := schemeServer.ParsePrice(config.Price, config.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}

	baseRequirements := PaymentRequirements{
		Scheme:            config.Scheme,
		Network:           config.Network,
		Asset:             assetAmount.Asset,
		Amount:            assetAmount.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: config.MaxTimeoutSeconds,
		Extra:             assetAmount.Extra,
	}

	if baseRequirements.MaxTimeoutSeconds == 0 {
		baseRequirements.MaxTimeoutSeconds = 300 // 5 minutes default
	}

	// Look up the facilitator's advertised kind so the scheme can splice in
	// facilitator-provided extra data. Without a cached kind a default empty
	// one is substituted, keeping local-only schemes working when no
	// facilitator connection exists.
	supportedKind := s.findSupportedKind(ProtocolVersion, config.Network, config.Scheme)
	if supportedKind == nil {
		supportedKind = &SupportedKind{
			ProtocolVersion: ProtocolVersion,
			Scheme:          config.Scheme,
			Network:         config.Network,
			Extra:           map[string]interface{}{},
		}
	}

	extensions := s.getFacilitatorExtensions(ProtocolVersion, config.Network, config.Scheme)

	enhanced, err := schemeServer.EnhancePaymentRequirements(ctx, baseRequirements, *supportedKind, extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to enhance payment requirements: %w", err)
	}

	return []PaymentRequirements{enhanced}, nil
}

// BuildPaymentRequirementsForRoute builds requirements for every payment
// option configured on a route. Options whose scheme has no registered
// server are skipped rather than failing the route, because a route may
// legitimately be unreachable on one network without that being a
// configuration fault. The result can therefore be empty.
func (s *P402ResourceServer) BuildPaymentRequirementsForRoute(ctx context.Context, configs []ResourceConfig) ([]PaymentRequirements, error) {
	requirements := make([]PaymentRequirements, 0, len(configs))

	for _, config := range configs {
		built, err := s.BuildPaymentRequirements(ctx, config)
		if err != nil {
			var paymentErr *PaymentError
			if errors.As(err, &paymentErr) && paymentErr.Code == ErrCodeUnsupportedScheme {
				s.logger.Debug("skipping unsupported payment option",
					zap.String("scheme", config.Scheme),
					zap.String("network", string(config.Network)))
				continue
			}
			return nil, err
		}
		requirements = append(requirements, built...)
	}

	return requirements, nil
}

// CreatePaymentRequiredResponse creates a 402 response body. The extensions
// field is omitted entirely when the supplied map is empty.
func (s *P402ResourceServer) CreatePaymentRequiredResponse(
	requirements []PaymentRequirements,
	info ResourceInfo,
	errorMsg string,
	extensions map[string]interface{},
) PaymentRequired {
	response := PaymentRequired{
		ProtocolVersion: ProtocolVersion,
		Error:           errorMsg,
		Resource:        &info,
		Accepts:         requirements,
	}

	if errorMsg == "" {
		response.Error = "Payment required"
	}
	if len(extensions) > 0 {
		response.Extensions = extensions
	}

	return response
}

// ============================================================================
// Verify / Settle Delegation
// ============================================================================

// VerifyPayment verifies a payment against requirements by delegating to the
// facilitator client that advertised the payment's kind. The server is a
// boundary: it accepts raw bytes from the transport and routes them onward.
//
// Hook semantics match the facilitator's: beforeVerify hooks may abort with
// an invalid response before any facilitator is contacted, onVerifyFailure
// hooks may recover a failure, and afterVerify hooks observe the final
// result without being able to change it.
func (s *P402ResourceServer) VerifyPayment(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error) {
	s.mu.RLock()
	before := s.beforeVerifyHooks
	after := s.afterVerifyHooks
	onFailure := s.onVerifyFailureHooks
	s.mu.RUnlock()

	hookCtx := VerifyContext{
		Ctx:               ctx,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
		Timestamp:         time.Now(),
	}

	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: err.Error()}, err
		}
		if result != nil && result.Abort {
			return &VerifyResponse{IsValid: false, InvalidReason: result.Reason}, nil
		}
	}

	start := time.Now()
	verifyResult, verifyErr := s.delegateVerify(ctx, payloadBytes, requirementsBytes)
	duration := time.Since(start)

	if verifyErr == nil && verifyResult != nil && verifyResult.IsValid {
		s.runAfterVerify(after, hookCtx, *verifyResult, duration)
		return verifyResult, nil
	}

	failureCtx := VerifyFailureContext{
		VerifyContext: hookCtx,
		Error:         verifyErr,
		Result:        verifyResult,
		Duration:      duration,
	}
	for _, hook := range onFailure {
		result, hookErr := hook(failureCtx)
		if hookErr != nil {
			s.logger.Warn("verify failure hook error", zap.Error(hookErr))
			continue
		}
		if result != nil && result.Recovered {
			recovered := result.Result
			s.runAfterVerify(after, hookCtx, recovered, duration)
			return &recovered, nil
		}
	}

	if verifyErr == nil && verifyResult == nil {
		verifyErr = NewPaymentError(ErrCodeInvalidPayment, "facilitator returned no verification result", nil)
	}
	return verifyResult, verifyErr
}

// SettlePayment settles a verified payment. Callers must sequence
// verification before settlement themselves; the server never settles on its
// own initiative.
func (s *P402ResourceServer) SettlePayment(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error) {
	s.mu.RLock()
	before := s.beforeSettleHooks
	after := s.afterSettleHooks
	onFailure := s.onSettleFailureHooks
	s.mu.RUnlock()

	hookCtx := SettleContext{
		Ctx:               ctx,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
		Timestamp:         time.Now(),
	}

	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			return &SettleResponse{Success: false, ErrorReason: err.Error()}, err
		}
		if result != nil && result.Abort {
			return &SettleResponse{Success: false, ErrorReason: result.Reason}, nil
		}
	}

	start := time.Now()
	settleResult, settleErr := s.delegateSettle(ctx, payloadBytes, requirementsBytes)
	duration := time.Since(start)

	if settleErr == nil && settleResult != nil && settleResult.Success {
		s.runAfterSettle(after, hookCtx, *settleResult, duration)
		return settleResult, nil
	}

	failureCtx := SettleFailureContext{
		SettleContext: hookCtx,
		Error:         settleErr,
		Result:        settleResult,
		Duration:      duration,
	}
	for _, hook := range onFailure {
		result, hookErr := hook(failureCtx)
		if hookErr != nil {
			s.logger.Warn("settle failure hook error", zap.Error(hookErr))
			continue
		}
		if result != nil && result.Recovered {
			recovered := result.Result
			s.runAfterSettle(after, hookCtx, recovered, duration)
			return &recovered, nil
		}
	}

	if settleErr == nil && settleResult == nil {
		settleErr = NewPaymentError(ErrCodeSettlementFailed, "facilitator returned no settlement result", nil)
	}
	return settleResult, settleErr
}

func (s *P402ResourceServer) runAfterVerify(hooks []AfterVerifyHook, hookCtx VerifyContext, result VerifyResponse, duration time.Duration) {
	resultCtx := VerifyResultContext{
		VerifyContext: hookCtx,
		Result:        result,
		Duration:      duration,
	}
	for _, hook := range hooks {
		if err := hook(resultCtx); err != nil {
			s.logger.Warn("after verify hook error", zap.Error(err))
		}
	}
}

func (s *P402ResourceServer) runAfterSettle(hooks []AfterSettleHook, hookCtx SettleContext, result SettleResponse, duration time.Duration) {
	resultCtx := SettleResultContext{
		SettleContext: hookCtx,
		Result:        result,
		Duration:      duration,
	}
	for _, hook := range hooks {
		if err := hook(resultCtx); err != nil {
			s.logger.Warn("after settle hook error", zap.Error(err))
		}
	}
}

// delegateVerify routes the call to the facilitator client that advertised
// the payment's kind, falling back to trying every configured client when
// the kind map has no entry for it.
func (s *P402ResourceServer) delegateVerify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return &VerifyResponse{IsValid: false, InvalidReason: "unsupported protocol version"}, nil
	}
	info, err := types.ExtractRequirementsInfo(requirementsBytes)
	if err != nil {
		return &VerifyResponse{IsValid: false, InvalidReason: "invalid payment requirements"}, nil
	}

	if client := s.findFacilitatorForPayment(version, Network(info.Network), info.Scheme); client != nil {
		return client.Verify(ctx, payloadBytes, requirementsBytes)
	}

	s.mu.RLock()
	clients := s.facilitatorClients
	s.mu.RUnlock()

	var lastErr error
	for _, client := range clients {
		response, err := client.Verify(ctx, payloadBytes, requirementsBytes)
		if err == nil {
			return response, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("no facilitator could verify this payment: %w", lastErr)
	}
	return nil, NewPaymentError(ErrCodeUnsupportedNetwork, "no facilitator supports this payment type", map[string]interface{}{
		"scheme":  info.Scheme,
		"network": info.Network,
	})
}

func (s *P402ResourceServer) delegateSettle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return &SettleResponse{Success: false, ErrorReason: "unsupported protocol version"}, nil
	}
	info, err := types.ExtractRequirementsInfo(requirementsBytes)
	if err != nil {
		return &SettleResponse{Success: false, ErrorReason: "invalid payment requirements"}, nil
	}

	if client := s.findFacilitatorForPayment(version, Network(info.Network), info.Scheme); client != nil {
		return client.Settle(ctx, payloadBytes, requirementsBytes)
	}

	s.mu.RLock()
	clients := s.facilitatorClients
	s.mu.RUnlock()

	var lastErr error
	for _, client := range clients {
		response, err := client.Settle(ctx, payloadBytes, requirementsBytes)
		if err == nil {
			return response, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("no facilitator could settle this payment: %w", lastErr)
	}
	return nil, NewPaymentError(ErrCodeSettlementFailed, "no facilitator supports this payment type", map[string]interface{}{
		"scheme":  info.Scheme,
		"network": info.Network,
	})
}

// ============================================================================
// Requirement Matching
// ============================================================================

// FindMatchingRequirements finds the first candidate the payload claims to
// satisfy. Version 2 payloads match by deep equality against their accepted
// copy, key order immaterial; version 1 payloads match on scheme and network
// only. Returns nil when nothing matches.
func (s *P402ResourceServer) FindMatchingRequirements(available []PaymentRequirements, payloadBytes []byte) *PaymentRequirements {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil
	}

	for _, req := range available {
		reqBytes, err := json.Marshal(req)
		if err != nil {
			continue
		}

		match, err := types.MatchPayloadToRequirements(version, payloadBytes, reqBytes)
		if err == nil && match {
			return &req
		}
	}

	return nil
}

// ============================================================================
// End-to-End Processing
// ============================================================================

// ProcessResult contains the result of processing a payment request
type ProcessResult struct {
	Success            bool
	RequiresPayment    *PaymentRequired
	VerificationResult *VerifyResponse
	SettlementResult   *SettleResponse
	Error              string
}

// ProcessPaymentRequest processes a payment request end-to-end: build
// requirements, match the payload, verify. Settlement stays with the caller
// so protected work can run between verification and settlement.
func (s *P402ResourceServer) ProcessPaymentRequest(
	ctx context.Context,
	paymentPayload *PaymentPayload,
	resourceConfig ResourceConfig,
	resourceInfo ResourceInfo,
	extensions map[string]interface{},
) (*ProcessResult, error) {
	requirements, err := s.BuildPaymentRequirements(ctx, resourceConfig)
	if err != nil {
		return nil, err
	}

	if paymentPayload == nil {
		required := s.CreatePaymentRequiredResponse(requirements, resourceInfo, "", extensions)
		return &ProcessResult{
			Success:         false,
			RequiresPayment: &required,
		}, nil
	}

	payloadBytes, err := json.Marshal(paymentPayload)
	if err != nil {
		return nil, err
	}

	matchingRequirements := s.FindMatchingRequirements(requirements, payloadBytes)
	if matchingRequirements == nil {
		required := s.CreatePaymentRequiredResponse(requirements, resourceInfo, "No matching payment requirements found", extensions)
		return &ProcessResult{
			Success:         false,
			RequiresPayment: &required,
		}, nil
	}

	requirementsBytes, err := json.Marshal(matchingRequirements)
	if err != nil {
		return nil, err
	}

	verificationResult, err := s.VerifyPayment(ctx, payloadBytes, requirementsBytes)
	if err != nil {
		return nil, err
	}

	if !verificationResult.IsValid {
		return &ProcessResult{
			Success:            false,
			Error:              verificationResult.InvalidReason,
			VerificationResult: verificationResult,
		}, nil
	}

	// Payment verified, ready for settlement
	return &ProcessResult{
		Success:            true,
		VerificationResult: verificationResult,
	}, nil
}

// ============================================================================
// Helper Methods
// ============================================================================

// findSupportedKind finds a cached facilitator kind for the triple. Cache
// entries are visited in facilitator order so the first client's data wins,
// matching the precedence rule Initialize applies to the kind map.
func (s *P402ResourceServer) findSupportedKind(version int, network Network, scheme string) *SupportedKind {
	s.mu.RLock()
	clientCount := len(s.facilitatorClients)
	s.mu.RUnlock()

	for i := 0; i < clientCount; i++ {
		supported, ok := s.supportedCache.Get(fmt.Sprintf("facilitator_%d", i))
		if !ok {
			continue
		}
		for _, kind := range supported.Kinds {
			if kind.ProtocolVersion == version &&
				kind.Scheme == scheme &&
				kind.Network.Match(network) {
				found := kind
				return &found
			}
		}
	}

	return nil
}

// getFacilitatorExtensions returns the extension keys advertised by the
// first facilitator that supports the triple.
func (s *P402ResourceServer) getFacilitatorExtensions(version int, network Network, scheme string) []string {
	s.mu.RLock()
	clientCount := len(s.facilitatorClients)
	s.mu.RUnlock()

	for i := 0; i < clientCount; i++ {
		supported, ok := s.supportedCache.Get(fmt.Sprintf("facilitator_%d", i))
		if !ok {
			continue
		}
		for _, kind := range supported.Kinds {
			if kind.ProtocolVersion == version &&
				kind.Scheme == scheme &&
				kind.Network.Match(network) {
				return supported.Extensions
			}
		}
	}

	return []string{}
}

// findFacilitatorForPayment finds the facilitator client that advertised the
// payment's kind, using the map built during Initialize.
func (s *P402ResourceServer) findFacilitatorForPayment(version int, network Network, scheme string) FacilitatorClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versionMap, exists := s.facilitatorClientsMap[version]
	if !exists {
		return nil
	}

	client, ok := findByNetworkAndScheme(versionMap, scheme, network)
	if !ok {
		return nil
	}
	return client
}

// ============================================================================
// Supported Cache
// ============================================================================

// SupportedCache caches facilitator capability snapshots keyed by
// facilitator identity, each entry with its own expiry. It is rebuilt
// wholesale on every Initialize call, never mutated incrementally.
type SupportedCache struct {
	mu     sync.RWMutex
	data   map[string]SupportedResponse
	expiry map[string]time.Time
	ttl    time.Duration
}

// NewSupportedCache creates a cache whose entries expire after ttl.
func NewSupportedCache(ttl time.Duration) *SupportedCache {
	return &SupportedCache{
		data:   make(map[string]SupportedResponse),
		expiry: make(map[string]time.Time),
		ttl:    ttl,
	}
}

// Set stores a snapshot under the key with a fresh expiry.
func (c *SupportedCache) Set(key string, value SupportedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = value
	c.expiry[key] = time.Now().Add(c.ttl)
}

// Get returns the snapshot stored under the key. Expired entries miss.
func (c *SupportedCache) Get(key string) (SupportedResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.data[key]
	if !ok {
		return SupportedResponse{}, false
	}
	if expiry, exists := c.expiry[key]; exists && time.Now().After(expiry) {
		return SupportedResponse{}, false
	}
	return value, true
}

// Clear drops every entry.
func (c *SupportedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]SupportedResponse)
	c.expiry = make(map[string]time.Time)
}
