package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/evm"
)

// Compile-time check that ExactEvmScheme implements the facilitator interface.
var _ p402.SchemeNetworkFacilitator = (*ExactEvmScheme)(nil)

// ExactEvmScheme verifies and settles exact payments on EVM networks. A
// single instance handles both EIP-3009 and Permit2 payloads; the payload
// shape selects the path.
type ExactEvmScheme struct {
	signer evm.FacilitatorEvmSigner
}

// NewExactEvmScheme creates a facilitator scheme backed by the given signer.
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

// GetExtra returns nil; exact EVM payments carry no kind-level extra data.
func (f *ExactEvmScheme) GetExtra(network p402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns the settlement addresses for the network.
func (f *ExactEvmScheme) GetSigners(network p402.Network) []string {
	return f.signer.GetAddresses()
}

// invalid builds a rejection response. Protocol-level rejections travel in
// the response, not the error; errors are reserved for operational failures
// such as unreachable RPC nodes.
func invalid(reason, payer string) *p402.VerifyResponse {
	return &p402.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}
}

// Verify checks a payment payload against the requirements without touching
// chain state beyond reads.
func (f *ExactEvmScheme) Verify(ctx context.Context, payload p402.PaymentPayload, requirements p402.PaymentRequirements) (*p402.VerifyResponse, error) {
	if requirements.Scheme != evm.SchemeExact {
		return invalid(ErrInvalidScheme, ""), nil
	}
	if payload.Accepted.Network != requirements.Network {
		return invalid(ErrNetworkMismatch, ""), nil
	}

	config, err := evm.GetNetworkConfig(string(requirements.Network))
	if err != nil {
		return invalid(ErrFailedToGetNetworkConfig, ""), nil
	}

	now := time.Now().Unix()
	if evm.IsPermit2Payload(payload.Payload) {
		return f.verifyPermit2(ctx, payload, requirements, config.ChainID, now)
	}
	if !evm.IsEIP3009Payload(payload.Payload) {
		return invalid(ErrUnsupportedPayloadType, ""), nil
	}
	return f.verifyEIP3009(ctx, payload, requirements, config.ChainID, now)
}

func (f *ExactEvmScheme) verifyEIP3009(ctx context.Context, payload p402.PaymentPayload, requirements p402.PaymentRequirements, chainID *big.Int, now int64) (*p402.VerifyResponse, error) {
	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid(ErrInvalidPayload, ""), nil
	}
	auth := evmPayload.Authorization
	payer := auth.From

	if evmPayload.Signature == "" {
		return invalid(ErrMissingSignature, payer), nil
	}

	assetInfo, err := evm.GetAssetInfo(string(requirements.Network), requirements.Asset)
	if err != nil {
		return invalid(ErrFailedToGetAssetInfo, payer), nil
	}
	tokenName, tokenVersion := domainOverrides(requirements.Extra, assetInfo)

	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return invalid(ErrRecipientMismatch, payer), nil
	}

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || authValue.Sign() < 0 {
		return invalid(ErrInvalidAuthorizationValue, payer), nil
	}
	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return invalid(ErrInvalidRequiredAmount, payer), nil
	}
	if authValue.Cmp(requiredValue) < 0 {
		return invalid(ErrInsufficientAmount, payer), nil
	}

	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return invalid(ErrInvalidPayload, payer), nil
	}
	// The authorization must stay valid long enough for the settle
	// transaction to land.
	if validBefore.Cmp(big.NewInt(now+evm.Permit2DeadlineBuffer)) < 0 {
		return invalid(ErrValidBeforeExpired, payer), nil
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return invalid(ErrInvalidPayload, payer), nil
	}
	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return invalid(ErrValidAfterInFuture, payer), nil
	}

	nonceBytes, err := evm.HexToBytes(auth.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return invalid(ErrInvalidPayload, payer), nil
	}
	used, err := f.signer.ReadContract(ctx, assetInfo.Address, evm.AuthorizationStateABI, evm.FunctionAuthorizationState,
		common.HexToAddress(payer), [32]byte(nonceBytes))
	if err != nil {
		return invalid(ErrFailedToCheckNonce, payer), nil
	}
	if usedBool, ok := used.(bool); ok && usedBool {
		return invalid(ErrNonceAlreadyUsed, payer), nil
	}

	balance, err := f.signer.GetBalance(ctx, payer, assetInfo.Address)
	if err != nil {
		return invalid(ErrFailedToGetBalance, payer), nil
	}
	if balance.Cmp(authValue) < 0 {
		return invalid(ErrInsufficientBalance, payer), nil
	}

	sigBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return invalid(ErrInvalidSignatureFormat, payer), nil
	}
	message, err := evm.EIP3009Message(auth)
	if err != nil {
		return invalid(ErrInvalidPayload, payer), nil
	}
	domain := evm.EIP3009Domain(tokenName, tokenVersion, chainID, assetInfo.Address)
	valid, err := f.signer.VerifyTypedData(ctx, payer, domain, evm.GetEIP3009EIP712Types(), "TransferWithAuthorization", message, sigBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to verify authorization signature: %w", err)
	}
	if !valid {
		return invalid(ErrInvalidSignature, payer), nil
	}

	return &p402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle verifies the payment and executes the transfer on-chain.
func (f *ExactEvmScheme) Settle(ctx context.Context, payload p402.PaymentPayload, requirements p402.PaymentRequirements) (*p402.SettleResponse, error) {
	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return &p402.SettleResponse{
			Success:     false,
			ErrorReason: verifyResp.InvalidReason,
			Network:     requirements.Network,
			Payer:       verifyResp.Payer,
		}, nil
	}

	if evm.IsPermit2Payload(payload.Payload) {
		return f.settlePermit2(ctx, payload, requirements)
	}
	return f.settleEIP3009(ctx, payload, requirements)
}

func (f *ExactEvmScheme) settleEIP3009(ctx context.Context, payload p402.PaymentPayload, requirements p402.PaymentRequirements) (*p402.SettleResponse, error) {
	network := requirements.Network
	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return settleFailure(ErrInvalidPayload, network, ""), nil
	}
	auth := evmPayload.Authorization
	payer := auth.From

	assetInfo, err := evm.GetAssetInfo(string(network), requirements.Asset)
	if err != nil {
		return settleFailure(ErrFailedToGetAssetInfo, network, payer), nil
	}

	sigBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil || len(sigBytes) != 65 {
		return settleFailure(ErrFailedToParseSignature, network, payer), nil
	}

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	nonceBytes, err := evm.HexToBytes(auth.Nonce)
	if err != nil || len(nonceBytes) != 32 || value == nil || validAfter == nil || validBefore == nil {
		return settleFailure(ErrInvalidPayload, network, payer), nil
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	// Contract wallets validate signatures via EIP-1271 and need the raw
	// bytes variant; EOAs use the v/r/s variant.
	code, err := f.signer.GetCode(ctx, payer)
	if err != nil {
		return settleFailure(ErrFailedToCheckDeployment, network, payer), nil
	}

	from := common.HexToAddress(auth.From)
	to := common.HexToAddress(auth.To)

	var txHash string
	if len(code) > 0 {
		txHash, err = f.signer.WriteContract(ctx, assetInfo.Address, evm.TransferWithAuthorizationBytesABI, evm.FunctionTransferWithAuthorization,
			from, to, value, validAfter, validBefore, nonce, sigBytes)
	} else {
		var r, s [32]byte
		copy(r[:], sigBytes[0:32])
		copy(s[:], sigBytes[32:64])
		v := sigBytes[64]
		txHash, err = f.signer.WriteContract(ctx, assetInfo.Address, evm.TransferWithAuthorizationVRSABI, evm.FunctionTransferWithAuthorization,
			from, to, value, validAfter, validBefore, nonce, v, r, s)
	}
	if err != nil {
		return settleFailure(ErrFailedToExecuteTransfer, network, payer), nil
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		resp := settleFailure(ErrFailedToGetReceipt, network, payer)
		resp.Transaction = txHash
		return resp, nil
	}
	if receipt.Status != evm.TxStatusSuccess {
		resp := settleFailure(ErrTransactionFailed, network, payer)
		resp.Transaction = txHash
		return resp, nil
	}

	return &p402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       payer,
	}, nil
}

func settleFailure(reason string, network p402.Network, payer string) *p402.SettleResponse {
	return &p402.SettleResponse{
		Success:     false,
		ErrorReason: reason,
		Network:     network,
		Payer:       payer,
	}
}

// domainOverrides resolves the EIP-712 domain name and version for the
// asset, letting requirement extras override the static registry.
func domainOverrides(extra map[string]interface{}, assetInfo *evm.AssetInfo) (string, string) {
	name := assetInfo.Name
	version := assetInfo.Version
	if extra != nil {
		if n, ok := extra["name"].(string); ok && n != "" {
			name = n
		}
		if v, ok := extra["version"].(string); ok && v != "" {
			version = v
		}
	}
	return name, version
}
