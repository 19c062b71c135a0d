package p402

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/p402-io/p402/types"
)

// P402Facilitator aggregates scheme mechanisms behind verify, settle and
// getSupported, decorated with a lifecycle hook pipeline. It supports v1 and
// v2 payloads side by side and performs no network I/O of its own; all chain
// access lives inside the registered mechanisms.
type P402Facilitator struct {
	mu       sync.RWMutex
	registry *SchemeRegistry

	extensions []string

	logger *zap.Logger

	// Lifecycle hooks
	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

// FacilitatorOption configures a P402Facilitator.
type FacilitatorOption func(*P402Facilitator)

// WithFacilitatorLogger sets the structured logger used for hook and
// dispatch diagnostics. Defaults to a no-op logger.
func WithFacilitatorLogger(logger *zap.Logger) FacilitatorOption {
	return func(f *P402Facilitator) {
		f.logger = logger
	}
}

// NewP402Facilitator creates a facilitator with no registered mechanisms.
func NewP402Facilitator(opts ...FacilitatorOption) *P402Facilitator {
	f := &P402Facilitator{
		registry:   NewSchemeRegistry(),
		extensions: []string{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register registers a facilitator mechanism for the given networks under
// the current protocol version.
func (f *P402Facilitator) Register(networks []Network, facilitator SchemeNetworkFacilitator) *P402Facilitator {
	f.registry.Register(networks, facilitator)
	return f
}

// RegisterV1 registers a legacy facilitator mechanism for the given networks.
func (f *P402Facilitator) RegisterV1(networks []Network, facilitator SchemeNetworkFacilitatorV1) *P402Facilitator {
	f.registry.RegisterV1(networks, facilitator)
	return f
}

// RegisterExtension registers a protocol extension key. Registering the same
// key twice is a no-op.
func (f *P402Facilitator) RegisterExtension(extension string) *P402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ext := range f.extensions {
		if ext == extension {
			return f
		}
	}

	f.extensions = append(f.extensions, extension)
	return f
}

// GetExtensions returns a snapshot of the registered extension keys in
// registration order.
func (f *P402Facilitator) GetExtensions() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, len(f.extensions))
	copy(out, f.extensions)
	return out
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (f *P402Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *P402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *P402Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *P402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *P402Facilitator) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *P402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *P402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *P402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *P402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *P402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *P402Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *P402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// ============================================================================
// Core Payment Methods (Network Boundary - uses bytes, routes internally)
// ============================================================================

// Verify verifies a payment. The protocol version is detected from the
// payload bytes and the call is routed to the matching typed mechanism.
//
// Hook semantics: beforeVerify hooks run first and may abort, in which case
// the mechanism is never invoked and an invalid VerifyResponse carries the
// abort reason. When the mechanism errors or reports the payment invalid,
// onVerifyFailure hooks run in order and the first recovery wins; afterVerify
// hooks then observe the recovered result. Without recovery the original
// outcome is returned unchanged.
func (f *P402Facilitator) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return &VerifyResponse{IsValid: false, InvalidReason: "unsupported protocol version"}, nil
	}
	info, err := types.ExtractRequirementsInfo(requirementsBytes)
	if err != nil {
		return &VerifyResponse{IsValid: false, InvalidReason: "invalid payment requirements"}, nil
	}

	f.mu.RLock()
	before := f.beforeVerifyHooks
	after := f.afterVerifyHooks
	onFailure := f.onVerifyFailureHooks
	f.mu.RUnlock()

	hookCtx := FacilitatorVerifyContext{
		Ctx:                 ctx,
		ProtocolVersion:     version,
		Scheme:              info.Scheme,
		Network:             Network(info.Network),
		PaymentPayload:      payloadBytes,
		PaymentRequirements: requirementsBytes,
		Timestamp:           time.Now(),
	}

	for _, hook := range before {
		result, hookErr := hook(hookCtx)
		if hookErr != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: hookErr.Error()}, hookErr
		}
		if result != nil && result.Abort {
			return &VerifyResponse{IsValid: false, InvalidReason: result.Reason}, nil
		}
	}

	start := time.Now()
	verifyResult, verifyErr := f.dispatchVerify(ctx, version, hookCtx.Network, info.Scheme, payloadBytes, requirementsBytes)
	duration := time.Since(start)

	if verifyErr != nil || verifyResult == nil || !verifyResult.IsValid {
		failureCtx := FacilitatorVerifyFailureContext{
			FacilitatorVerifyContext: hookCtx,
			Error:                    verifyErr,
			Result:                   verifyResult,
			Duration:                 duration,
		}
		for _, hook := range onFailure {
			result, hookErr := hook(failureCtx)
			if hookErr != nil {
				f.logger.Warn("verify failure hook error", zap.Error(hookErr))
				continue
			}
			if result != nil && result.Recovered {
				recovered := result.Result
				f.runAfterVerify(after, hookCtx, recovered, duration)
				return &recovered, nil
			}
		}
		if verifyErr == nil && verifyResult == nil {
			verifyErr = NewPaymentError(ErrCodeInvalidPayment, "mechanism returned no verification result", nil)
		}
		return verifyResult, verifyErr
	}

	f.runAfterVerify(after, hookCtx, *verifyResult, duration)
	return verifyResult, nil
}

// Settle settles a payment. Structurally identical to Verify with the settle
// hook families; settlement is never attempted when no mechanism is
// registered for the payment's triple.
func (f *P402Facilitator) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return &SettleResponse{Success: false, ErrorReason: "unsupported protocol version"}, nil
	}
	info, err := types.ExtractRequirementsInfo(requirementsBytes)
	if err != nil {
		return &SettleResponse{Success: false, ErrorReason: "invalid payment requirements"}, nil
	}

	f.mu.RLock()
	before := f.beforeSettleHooks
	after := f.afterSettleHooks
	onFailure := f.onSettleFailureHooks
	f.mu.RUnlock()

	hookCtx := FacilitatorSettleContext{
		Ctx:                 ctx,
		ProtocolVersion:     version,
		Scheme:              info.Scheme,
		Network:             Network(info.Network),
		PaymentPayload:      payloadBytes,
		PaymentRequirements: requirementsBytes,
		Timestamp:           time.Now(),
	}

	for _, hook := range before {
		result, hookErr := hook(hookCtx)
		if hookErr != nil {
			return &SettleResponse{Success: false, ErrorReason: hookErr.Error()}, hookErr
		}
		if result != nil && result.Abort {
			return &SettleResponse{Success: false, ErrorReason: result.Reason}, nil
		}
	}

	start := time.Now()
	settleResult, settleErr := f.dispatchSettle(ctx, version, hookCtx.Network, info.Scheme, payloadBytes, requirementsBytes)
	duration := time.Since(start)

	if settleErr != nil || settleResult == nil || !settleResult.Success {
		failureCtx := FacilitatorSettleFailureContext{
			FacilitatorSettleContext: hookCtx,
			Error:                    settleErr,
			Result:                   settleResult,
			Duration:                 duration,
		}
		for _, hook := range onFailure {
			result, hookErr := hook(failureCtx)
			if hookErr != nil {
				f.logger.Warn("settle failure hook error", zap.Error(hookErr))
				continue
			}
			if result != nil && result.Recovered {
				recovered := result.Result
				f.runAfterSettle(after, hookCtx, recovered, duration)
				return &recovered, nil
			}
		}
		if settleErr == nil && settleResult == nil {
			settleErr = NewPaymentError(ErrCodeSettlementFailed, "mechanism returned no settlement result", nil)
		}
		return settleResult, settleErr
	}

	f.runAfterSettle(after, hookCtx, *settleResult, duration)
	return settleResult, nil
}

func (f *P402Facilitator) runAfterVerify(hooks []FacilitatorAfterVerifyHook, hookCtx FacilitatorVerifyContext, result VerifyResponse, duration time.Duration) {
	resultCtx := FacilitatorVerifyResultContext{
		FacilitatorVerifyContext: hookCtx,
		Result:                   result,
		Duration:                 duration,
	}
	for _, hook := range hooks {
		if err := hook(resultCtx); err != nil {
			f.logger.Warn("after verify hook error", zap.Error(err))
		}
	}
}

func (f *P402Facilitator) runAfterSettle(hooks []FacilitatorAfterSettleHook, hookCtx FacilitatorSettleContext, result SettleResponse, duration time.Duration) {
	resultCtx := FacilitatorSettleResultContext{
		FacilitatorSettleContext: hookCtx,
		Result:                   result,
		Duration:                 duration,
	}
	for _, hook := range hooks {
		if err := hook(resultCtx); err != nil {
			f.logger.Warn("after settle hook error", zap.Error(err))
		}
	}
}

// ============================================================================
// Internal Typed Dispatch (called after version detection)
// ============================================================================

// dispatchVerify resolves the mechanism for the triple and invokes it with
// version-typed messages. Malformed messages come back as invalid responses
// so the failure hook chain still gets a look at them; resolution failures
// come back as typed errors.
func (f *P402Facilitator) dispatchVerify(ctx context.Context, version int, network Network, scheme string, payloadBytes, requirementsBytes []byte) (*VerifyResponse, error) {
	switch version {
	case ProtocolVersionV1:
		mechanism, err := resolveAs[SchemeNetworkFacilitatorV1](f.registry, version, network, scheme)
		if err != nil {
			return nil, err
		}
		payload, err := types.ToPaymentPayloadV1(payloadBytes)
		if err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: "invalid payment payload"}, nil
		}
		requirements, err := types.ToPaymentRequirementsV1(requirementsBytes)
		if err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: "invalid payment requirements"}, nil
		}
		return mechanism.Verify(ctx, *payload, *requirements)

	case ProtocolVersion:
		mechanism, err := resolveAs[SchemeNetworkFacilitator](f.registry, version, network, scheme)
		if err != nil {
			return nil, err
		}
		payload, err := types.ToPaymentPayload(payloadBytes)
		if err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: "invalid payment payload"}, nil
		}
		requirements, err := types.ToPaymentRequirements(requirementsBytes)
		if err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: "invalid payment requirements"}, nil
		}
		return mechanism.Verify(ctx, *payload, *requirements)

	default:
		return nil, NewPaymentError(ErrCodeUnsupportedVersion, "unsupported protocol version", map[string]interface{}{
			"version": version,
		})
	}
}

func (f *P402Facilitator) dispatchSettle(ctx context.Context, version int, network Network, scheme string, payloadBytes, requirementsBytes []byte) (*SettleResponse, error) {
	switch version {
	case ProtocolVersionV1:
		mechanism, err := resolveAs[SchemeNetworkFacilitatorV1](f.registry, version, network, scheme)
		if err != nil {
			return nil, err
		}
		payload, err := types.ToPaymentPayloadV1(payloadBytes)
		if err != nil {
			return &SettleResponse{Success: false, ErrorReason: "invalid payment payload"}, nil
		}
		requirements, err := types.ToPaymentRequirementsV1(requirementsBytes)
		if err != nil {
			return &SettleResponse{Success: false, ErrorReason: "invalid payment requirements"}, nil
		}
		return mechanism.Settle(ctx, *payload, *requirements)

	case ProtocolVersion:
		mechanism, err := resolveAs[SchemeNetworkFacilitator](f.registry, version, network, scheme)
		if err != nil {
			return nil, err
		}
		payload, err := types.ToPaymentPayload(payloadBytes)
		if err != nil {
			return &SettleResponse{Success: false, ErrorReason: "invalid payment payload"}, nil
		}
		requirements, err := types.ToPaymentRequirements(requirementsBytes)
		if err != nil {
			return &SettleResponse{Success: false, ErrorReason: "invalid payment requirements"}, nil
		}
		return mechanism.Settle(ctx, *payload, *requirements)

	default:
		return nil, NewPaymentError(ErrCodeUnsupportedVersion, "unsupported protocol version", map[string]interface{}{
			"version": version,
		})
	}
}

// ============================================================================
// Supported Kinds Aggregation
// ============================================================================

// supportedAdvertiser is the advertising surface shared by v1 and v2
// facilitator mechanisms.
type supportedAdvertiser interface {
	Scheme() string
	CaipFamily() string
	GetExtra(network Network) map[string]interface{}
	GetSigners(network Network) []string
}

// GetSupported returns the facilitator's capability snapshot: one kinds row
// per registered (version, scheme, concrete network) combination, plus
// extension keys and signer addresses grouped by CAIP family. Pure
// aggregation, no network I/O.
func (f *P402Facilitator) GetSupported() SupportedResponse {
	var kinds []SupportedKind
	signers := make(map[string][]string)
	seenSigners := make(map[string]map[string]struct{})

	for _, reg := range f.registry.Registrations() {
		adv, ok := reg.Capability.(supportedAdvertiser)
		if !ok {
			continue
		}
		for _, network := range reg.Networks {
			kinds = append(kinds, SupportedKind{
				ProtocolVersion: reg.Version,
				Scheme:          adv.Scheme(),
				Network:         network,
				Extra:           adv.GetExtra(network),
			})

			family := adv.CaipFamily()
			if seenSigners[family] == nil {
				seenSigners[family] = make(map[string]struct{})
			}
			for _, signer := range adv.GetSigners(network) {
				if _, dup := seenSigners[family][signer]; dup {
					continue
				}
				seenSigners[family][signer] = struct{}{}
				signers[family] = append(signers[family], signer)
			}
		}
	}

	response := SupportedResponse{
		Kinds:      kinds,
		Extensions: f.GetExtensions(),
	}
	if len(signers) > 0 {
		response.Signers = signers
	}
	return response
}

// ============================================================================
// Local Facilitator Client
// ============================================================================

// LocalFacilitatorClient adapts an in-process facilitator to the
// FacilitatorClient surface a resource server consumes, so verify and settle
// skip the HTTP round trip entirely.
type LocalFacilitatorClient struct {
	facilitator *P402Facilitator
}

// NewLocalFacilitatorClient wraps a facilitator as a FacilitatorClient.
func NewLocalFacilitatorClient(facilitator *P402Facilitator) *LocalFacilitatorClient {
	return &LocalFacilitatorClient{facilitator: facilitator}
}

func (c *LocalFacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error) {
	return c.facilitator.Verify(ctx, payloadBytes, requirementsBytes)
}

func (c *LocalFacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error) {
	return c.facilitator.Settle(ctx, payloadBytes, requirementsBytes)
}

func (c *LocalFacilitatorClient) GetSupported(ctx context.Context) (SupportedResponse, error) {
	return c.facilitator.GetSupported(), nil
}
