// Package facilitator implements the facilitator side of the exact EVM
// scheme for legacy payments. Legacy payloads identify networks by bare
// name, carry the EIP-712 domain in the requirement extra, and only support
// EIP-3009 transfers from externally owned accounts.
package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/evm"
	v1net "github.com/p402-io/p402/mechanisms/evm/v1"
)

// Rejection reasons for legacy verifications and settlements.
const (
	ErrInvalidScheme      = "invalid_scheme"
	ErrInvalidNetwork     = "invalid_network"
	ErrInvalidPayload     = "invalid_exact_evm_payload"
	ErrMissingSignature   = "invalid_exact_evm_payload_missing_signature"
	ErrInvalidAsset       = "invalid_exact_evm_asset"
	ErrMissingDomain      = "missing_eip712_domain"
	ErrRecipientMismatch  = "invalid_exact_evm_payload_recipient_mismatch"
	ErrInvalidValue       = "invalid_exact_evm_payload_authorization_value"
	ErrValidBeforeExpired = "invalid_exact_evm_payload_authorization_valid_before"
	ErrValidAfterInFuture = "invalid_exact_evm_payload_authorization_valid_after"
	ErrInsufficientFunds  = "insufficient_funds"
	ErrInvalidSignature   = "invalid_exact_evm_payload_signature"
	ErrTransactionState   = "invalid_transaction_state"
)

// Compile-time check against the legacy facilitator interface.
var _ p402.SchemeNetworkFacilitatorV1 = (*ExactEvmScheme)(nil)

// ExactEvmScheme verifies and settles legacy exact payments on EVM networks.
type ExactEvmScheme struct {
	signer evm.FacilitatorEvmSigner
}

// NewExactEvmScheme creates a legacy facilitator scheme backed by the given
// signer.
func NewExactEvmScheme(signer evm.FacilitatorEvmSigner) *ExactEvmScheme {
	return &ExactEvmScheme{signer: signer}
}

// Scheme returns the scheme identifier.
func (f *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the CAIP-2 namespace pattern this facilitator serves.
func (f *ExactEvmScheme) CaipFamily() string {
	return evm.CaipFamily
}

// GetExtra returns nil; legacy exact EVM payments carry no kind-level extra
// data.
func (f *ExactEvmScheme) GetExtra(network p402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns the settlement addresses for the network.
func (f *ExactEvmScheme) GetSigners(network p402.Network) []string {
	return f.signer.GetAddresses()
}

func invalid(reason, payer string) *p402.VerifyResponse {
	return &p402.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}
}

// Verify checks a legacy payment payload against its requirements.
func (f *ExactEvmScheme) Verify(ctx context.Context, payload p402.PaymentPayloadV1, requirements p402.PaymentRequirementsV1) (*p402.VerifyResponse, error) {
	if payload.Scheme != evm.SchemeExact || requirements.Scheme != evm.SchemeExact {
		return invalid(ErrInvalidScheme, ""), nil
	}
	if payload.Network != requirements.Network {
		return invalid(ErrInvalidNetwork, ""), nil
	}
	chainID, err := v1net.ChainIDForNetwork(requirements.Network)
	if err != nil {
		return invalid(ErrInvalidNetwork, ""), nil
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid(ErrInvalidPayload, ""), nil
	}
	auth := evmPayload.Authorization
	payer := auth.From

	if evmPayload.Signature == "" {
		return invalid(ErrMissingSignature, payer), nil
	}
	if !evm.IsValidAddress(requirements.Asset) {
		return invalid(ErrInvalidAsset, payer), nil
	}

	tokenName, tokenVersion := legacyDomain(requirements)
	if tokenName == "" || tokenVersion == "" {
		return invalid(ErrMissingDomain, payer), nil
	}

	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return invalid(ErrRecipientMismatch, payer), nil
	}

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || authValue.Sign() < 0 {
		return invalid(ErrInvalidValue, payer), nil
	}
	requiredValue, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return invalid(ErrInvalidValue, payer), nil
	}
	if authValue.Cmp(requiredValue) < 0 {
		return invalid(ErrInvalidValue, payer), nil
	}

	now := time.Now().Unix()
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return invalid(ErrInvalidPayload, payer), nil
	}
	// Six seconds of headroom for the settle transaction to land.
	if validBefore.Cmp(big.NewInt(now+6)) < 0 {
		return invalid(ErrValidBeforeExpired, payer), nil
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return invalid(ErrInvalidPayload, payer), nil
	}
	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return invalid(ErrValidAfterInFuture, payer), nil
	}

	balance, err := f.signer.GetBalance(ctx, payer, evm.NormalizeAddress(requirements.Asset))
	if err != nil {
		return nil, fmt.Errorf("failed to get payer balance: %w", err)
	}
	if balance.Cmp(requiredValue) < 0 {
		return invalid(ErrInsufficientFunds, payer), nil
	}

	sigBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return invalid(ErrInvalidSignature, payer), nil
	}
	message, err := evm.EIP3009Message(auth)
	if err != nil {
		return invalid(ErrInvalidPayload, payer), nil
	}
	domain := evm.EIP3009Domain(tokenName, tokenVersion, chainID, evm.NormalizeAddress(requirements.Asset))
	valid, err := f.signer.VerifyTypedData(ctx, payer, domain, evm.GetEIP3009EIP712Types(), "TransferWithAuthorization", message, sigBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to verify authorization signature: %w", err)
	}
	if !valid {
		return invalid(ErrInvalidSignature, payer), nil
	}

	return &p402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle verifies the payment and executes the transfer on-chain. Legacy
// payers are externally owned accounts, so settlement always takes the
// v/r/s path.
func (f *ExactEvmScheme) Settle(ctx context.Context, payload p402.PaymentPayloadV1, requirements p402.PaymentRequirementsV1) (*p402.SettleResponse, error) {
	network := p402.Network(requirements.Network)

	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return &p402.SettleResponse{
			Success:     false,
			ErrorReason: verifyResp.InvalidReason,
			Network:     network,
			Payer:       verifyResp.Payer,
		}, nil
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return &p402.SettleResponse{Success: false, ErrorReason: ErrInvalidPayload, Network: network}, nil
	}
	auth := evmPayload.Authorization
	payer := auth.From

	sigBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil || len(sigBytes) != 65 {
		return &p402.SettleResponse{Success: false, ErrorReason: ErrInvalidSignature, Network: network, Payer: payer}, nil
	}
	var r, s [32]byte
	copy(r[:], sigBytes[0:32])
	copy(s[:], sigBytes[32:64])
	v := sigBytes[64]

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	nonceBytes, err := evm.HexToBytes(auth.Nonce)
	if err != nil || len(nonceBytes) != 32 || value == nil || validAfter == nil || validBefore == nil {
		return &p402.SettleResponse{Success: false, ErrorReason: ErrInvalidPayload, Network: network, Payer: payer}, nil
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	txHash, err := f.signer.WriteContract(ctx, evm.NormalizeAddress(requirements.Asset), evm.TransferWithAuthorizationVRSABI, evm.FunctionTransferWithAuthorization,
		common.HexToAddress(auth.From), common.HexToAddress(auth.To), value, validAfter, validBefore, nonce, v, r, s)
	if err != nil {
		return &p402.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("transaction_failed: %v", err),
			Network:     network,
			Payer:       payer,
		}, nil
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return &p402.SettleResponse{
			Success:     false,
			ErrorReason: "failed to get receipt",
			Transaction: txHash,
			Network:     network,
			Payer:       payer,
		}, nil
	}
	if receipt.Status != evm.TxStatusSuccess {
		return &p402.SettleResponse{
			Success:     false,
			ErrorReason: ErrTransactionState,
			Transaction: txHash,
			Network:     network,
			Payer:       payer,
		}, nil
	}

	return &p402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       payer,
	}, nil
}

// legacyDomain resolves the EIP-712 domain parameters for a legacy
// requirement. The extra field is authoritative; the static registry fills
// gaps for a network's default asset only, since generic fallback values
// would verify nothing.
func legacyDomain(requirements p402.PaymentRequirementsV1) (string, string) {
	var name, version string
	if requirements.Extra != nil {
		var extra struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		}
		if err := json.Unmarshal(*requirements.Extra, &extra); err == nil {
			name = extra.Name
			version = extra.Version
		}
	}
	if name != "" && version != "" {
		return name, version
	}
	if config, err := evm.GetNetworkConfig(requirements.Network); err == nil &&
		strings.EqualFold(config.DefaultAsset.Address, requirements.Asset) {
		if name == "" {
			name = config.DefaultAsset.Name
		}
		if version == "" {
			version = config.DefaultAsset.Version
		}
	}
	return name, version
}
