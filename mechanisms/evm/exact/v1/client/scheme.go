// Package client implements the client side of the exact EVM scheme for
// legacy payments: EIP-3009 authorizations wrapped in the legacy payload
// shape, with scheme and network at the top level.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/evm"
	v1net "github.com/p402-io/p402/mechanisms/evm/v1"
)

// Compile-time check against the legacy client interface.
var _ p402.SchemeNetworkClientV1 = (*ExactEvmScheme)(nil)

// ExactEvmScheme builds signed legacy exact payment payloads.
type ExactEvmScheme struct {
	signer evm.ClientEvmSigner
}

// NewExactEvmScheme creates a legacy client scheme backed by the given
// signer.
func NewExactEvmScheme(signer evm.ClientEvmSigner) *ExactEvmScheme {
	return &ExactEvmScheme{signer: signer}
}

// Scheme returns the scheme identifier.
func (c *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload signs an EIP-3009 authorization for the requirements
// and wraps it in the legacy payload shape.
func (c *ExactEvmScheme) CreatePaymentPayload(ctx context.Context, requirements p402.PaymentRequirementsV1) (p402.PaymentPayloadV1, error) {
	chainID, err := v1net.ChainIDForNetwork(requirements.Network)
	if err != nil {
		return p402.PaymentPayloadV1{}, err
	}
	if !evm.IsValidAddress(requirements.Asset) {
		return p402.PaymentPayloadV1{}, fmt.Errorf("invalid asset address: %s", requirements.Asset)
	}

	value, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return p402.PaymentPayloadV1{}, fmt.Errorf("invalid amount: %s", requirements.MaxAmountRequired)
	}

	tokenName, tokenVersion := domainParameters(requirements)
	if tokenName == "" || tokenVersion == "" {
		return p402.PaymentPayloadV1{}, fmt.Errorf("missing EIP-712 domain parameters for asset %s", requirements.Asset)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return p402.PaymentPayloadV1{}, err
	}

	// Legacy windows: ten minutes of clock skew tolerance and a ten minute
	// default timeout.
	now := time.Now().Unix()
	timeout := int64(600)
	if requirements.MaxTimeoutSeconds > 0 {
		timeout = int64(requirements.MaxTimeoutSeconds)
	}

	authorization := evm.ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          evm.NormalizeAddress(requirements.PayTo),
		Value:       value.String(),
		ValidAfter:  strconv.FormatInt(now-600, 10),
		ValidBefore: strconv.FormatInt(now+timeout, 10),
		Nonce:       nonce,
	}

	message, err := evm.EIP3009Message(authorization)
	if err != nil {
		return p402.PaymentPayloadV1{}, err
	}
	domain := evm.EIP3009Domain(tokenName, tokenVersion, chainID, evm.NormalizeAddress(requirements.Asset))
	signature, err := c.signer.SignTypedData(ctx, domain, evm.GetEIP3009EIP712Types(), "TransferWithAuthorization", message)
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     evm.BytesToHex(signature),
		Authorization: authorization,
	}
	return p402.PaymentPayloadV1{
		ProtocolVersion: 1,
		Scheme:          evm.SchemeExact,
		Network:         requirements.Network,
		Payload:         evmPayload.ToMap(),
	}, nil
}

// domainParameters resolves the EIP-712 domain name and version for a legacy
// requirement. The extra field is authoritative; the static registry covers
// a network's default asset when the server sent none.
func domainParameters(requirements p402.PaymentRequirementsV1) (string, string) {
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
