// Package facilitator implements the facilitator side of the exact SVM
// scheme for legacy payments. Legacy payloads carry bare network names and
// the amount in maxAmountRequired; verification and settlement otherwise
// match the current generation, so this scheme normalizes the shapes and
// delegates.
package facilitator

import (
	"context"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/svm"
	exact "github.com/p402-io/p402/mechanisms/svm/exact/facilitator"
)

// Compile-time check against the legacy facilitator interface.
var _ p402.SchemeNetworkFacilitatorV1 = (*ExactSvmScheme)(nil)

// ExactSvmScheme verifies and settles legacy exact payments on Solana.
type ExactSvmScheme struct {
	inner *exact.ExactSvmScheme
}

// NewExactSvmScheme creates a legacy facilitator scheme backed by the given
// signer. The signer is keyed by CAIP-2 identifiers; legacy network names
// are normalized before it is consulted.
func NewExactSvmScheme(signer svm.FacilitatorSvmSigner) *ExactSvmScheme {
	return &ExactSvmScheme{inner: exact.NewExactSvmScheme(signer)}
}

// Scheme returns the scheme identifier.
func (f *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// CaipFamily returns the CAIP-2 namespace pattern this facilitator serves.
func (f *ExactSvmScheme) CaipFamily() string {
	return svm.CaipFamily
}

// GetExtra advertises the fee payer for a legacy network name.
func (f *ExactSvmScheme) GetExtra(network p402.Network) map[string]interface{} {
	caip2, err := svm.NormalizeNetwork(string(network))
	if err != nil {
		return nil
	}
	return f.inner.GetExtra(p402.Network(caip2))
}

// GetSigners returns the settlement addresses for a legacy network name.
func (f *ExactSvmScheme) GetSigners(network p402.Network) []string {
	caip2, err := svm.NormalizeNetwork(string(network))
	if err != nil {
		return nil
	}
	return f.inner.GetSigners(p402.Network(caip2))
}

// Verify checks a legacy payment against a legacy requirements entry.
func (f *ExactSvmScheme) Verify(ctx context.Context, payload p402.PaymentPayloadV1, requirements p402.PaymentRequirementsV1) (*p402.VerifyResponse, error) {
	currentPayload, currentRequirements, err := f.normalize(payload, requirements)
	if err != nil {
		return &p402.VerifyResponse{IsValid: false, InvalidReason: "invalid_network"}, nil
	}
	return f.inner.Verify(ctx, currentPayload, currentRequirements)
}

// Settle verifies and submits a legacy payment. The response network is
// rewritten back to the legacy name the payload arrived with.
func (f *ExactSvmScheme) Settle(ctx context.Context, payload p402.PaymentPayloadV1, requirements p402.PaymentRequirementsV1) (*p402.SettleResponse, error) {
	currentPayload, currentRequirements, err := f.normalize(payload, requirements)
	if err != nil {
		return &p402.SettleResponse{
			Success:     false,
			ErrorReason: "invalid_network",
			Network:     p402.Network(requirements.Network),
		}, nil
	}
	resp, err := f.inner.Settle(ctx, currentPayload, currentRequirements)
	if err != nil {
		return nil, err
	}
	resp.Network = p402.Network(requirements.Network)
	return resp, nil
}

// normalize lifts the legacy shapes into the current ones: CAIP-2 network,
// amount in the amount field, and the requirements copied into accepted so
// the inner scheme's integrity checks apply unchanged.
func (f *ExactSvmScheme) normalize(payload p402.PaymentPayloadV1, requirements p402.PaymentRequirementsV1) (p402.PaymentPayload, p402.PaymentRequirements, error) {
	caip2, err := svm.NormalizeNetwork(requirements.Network)
	if err != nil {
		return p402.PaymentPayload{}, p402.PaymentRequirements{}, err
	}
	current := requirements.ToCurrent()
	current.Network = p402.Network(caip2)

	return p402.PaymentPayload{
		ProtocolVersion: payload.ProtocolVersion,
		Payload:         payload.Payload,
		Accepted:        current,
	}, current, nil
}
