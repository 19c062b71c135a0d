// Package client implements the paying side of the exact EVM scheme. The
// default client signs EIP-3009 transferWithAuthorization messages; the
// Permit2 client covers generic ERC-20 tokens through the exact Permit2
// proxy.
package client

import (
	"context"
	"fmt"
	"math/big"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/evm"
)

// Ensure ExactEvmScheme implements SchemeNetworkClient
var _ p402.SchemeNetworkClient = (*ExactEvmScheme)(nil)

// ExactEvmScheme creates exact-scheme payment payloads for EIP-3009 capable
// tokens such as USDC.
type ExactEvmScheme struct {
	signer evm.ClientEvmSigner
}

func NewExactEvmScheme(signer evm.ClientEvmSigner) *ExactEvmScheme {
	return &ExactEvmScheme{
		signer: signer,
	}
}

func (c *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload signs a transferWithAuthorization message for the
// given requirements. The authorization window is backdated for clock skew
// and runs out after the requirements' timeout.
func (c *ExactEvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements p402.PaymentRequirements,
) (p402.PaymentPayload, error) {
	chainID, err := evm.GetChainID(string(requirements.Network))
	if err != nil {
		return p402.PaymentPayload{}, err
	}

	asset, tokenName, tokenVersion, err := resolveAsset(requirements)
	if err != nil {
		return p402.PaymentPayload{}, err
	}

	if _, ok := new(big.Int).SetString(requirements.Amount, 10); !ok {
		return p402.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return p402.PaymentPayload{}, err
	}
	validAfter, validBefore := evm.CreateValidityWindow(requirements.MaxTimeoutSeconds)

	authorization := evm.ExactEIP3009Authorization{
		From:        evm.NormalizeAddress(c.signer.Address()),
		To:          evm.NormalizeAddress(requirements.PayTo),
		Value:       requirements.Amount,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}

	message, err := evm.EIP3009Message(authorization)
	if err != nil {
		return p402.PaymentPayload{}, err
	}
	domain := evm.EIP3009Domain(tokenName, tokenVersion, chainID, asset)

	signature, err := c.signer.SignTypedData(ctx, domain, evm.GetEIP3009EIP712Types(), "TransferWithAuthorization", message)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	payload := evm.ExactEIP3009Payload{
		Signature:     evm.BytesToHex(signature),
		Authorization: authorization,
	}

	return p402.PaymentPayload{Payload: payload.ToMap()}, nil
}

// resolveAsset determines the token address and its EIP-712 domain
// parameters from the requirements. Server-published extra fields win over
// the built-in asset table.
func resolveAsset(requirements p402.PaymentRequirements) (address, name, version string, err error) {
	address = requirements.Asset
	if address == "" {
		config, cfgErr := evm.GetNetworkConfig(string(requirements.Network))
		if cfgErr != nil {
			return "", "", "", fmt.Errorf("requirements carry no asset and network %s has no default", requirements.Network)
		}
		address = config.DefaultAsset.Address
	}

	if info, infoErr := evm.GetAssetInfo(string(requirements.Network), address); infoErr == nil {
		name, version = info.Name, info.Version
	}
	if extraName, ok := requirements.Extra["name"].(string); ok && extraName != "" {
		name = extraName
	}
	if extraVersion, ok := requirements.Extra["version"].(string); ok && extraVersion != "" {
		version = extraVersion
	}
	if name == "" || version == "" {
		return "", "", "", fmt.Errorf("missing EIP-712 domain parameters for asset %s", address)
	}

	return evm.NormalizeAddress(address), name, version, nil
}
