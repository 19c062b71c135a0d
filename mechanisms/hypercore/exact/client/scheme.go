// Package client implements the paying side of the exact Hypercore scheme:
// a signed Hyperliquid sendAsset action. Hypercore settles on Hyperliquid's
// own rail, so the network identifier is a custom one rather than a
// blockchain CAIP-2 reference.
package client

import (
	"context"
	"fmt"
	"time"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/hypercore"
)

// Ensure ExactHypercoreScheme implements SchemeNetworkClient
var _ p402.SchemeNetworkClient = (*ExactHypercoreScheme)(nil)

// ExactHypercoreScheme builds signed sendAsset payment payloads.
type ExactHypercoreScheme struct {
	signer hypercore.HyperliquidSigner
}

func NewExactHypercoreScheme(signer hypercore.HyperliquidSigner) *ExactHypercoreScheme {
	return &ExactHypercoreScheme{signer: signer}
}

func (c *ExactHypercoreScheme) Scheme() string {
	return hypercore.SchemeExact
}

// CreatePaymentPayload signs a sendAsset action for the requirements. The
// action nonce doubles as the payment nonce; the facilitator checks its
// freshness during verification.
func (c *ExactHypercoreScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements p402.PaymentRequirements,
) (p402.PaymentPayload, error) {
	config, ok := hypercore.NetworkConfigs[string(requirements.Network)]
	if !ok {
		return p402.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	isMainnet := requirements.Network == hypercore.NetworkMainnet
	if requirements.Extra != nil {
		if val, ok := requirements.Extra["isMainnet"].(bool); ok {
			isMainnet = val
		}
	}
	hyperliquidChain := "Mainnet"
	if !isMainnet {
		hyperliquidChain = "Testnet"
	}

	// Hyperliquid expects the amount as a decimal string, not atomic units.
	amountStr, err := hypercore.FormatAmount(requirements.Amount, config.DefaultAsset.Decimals)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to format amount: %w", err)
	}

	nonce := time.Now().UnixMilli()
	action := hypercore.HypercoreSendAssetAction{
		Type:             "sendAsset",
		HyperliquidChain: hyperliquidChain,
		SignatureChainID: "0x3e7",
		Destination:      hypercore.NormalizeAddress(requirements.PayTo),
		SourceDex:        "spot",
		DestinationDex:   "spot",
		Token:            requirements.Asset,
		Amount:           amountStr,
		FromSubAccount:   "",
		Nonce:            nonce,
	}

	signature, err := c.signer.SignSendAsset(action)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to sign action: %w", err)
	}

	return p402.PaymentPayload{
		ProtocolVersion: p402.ProtocolVersion,
		Payload: map[string]interface{}{
			"action":    action,
			"signature": signature,
			"nonce":     nonce,
		},
	}, nil
}
