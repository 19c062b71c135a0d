package client

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/extensions/eip2612gassponsor"
	"github.com/p402-io/p402/mechanisms/evm"
)

// Ensure ExactPermit2Scheme implements the client interfaces
var (
	_ p402.SchemeNetworkClient  = (*ExactPermit2Scheme)(nil)
	_ p402.ExtensionAwareClient = (*ExactPermit2Scheme)(nil)
)

// ExactPermit2Scheme creates exact-scheme payment payloads for generic
// ERC-20 tokens via the exact Permit2 proxy. Use this instead of
// ExactEvmScheme when the asset does not support EIP-3009.
//
// When the server declares the EIP-2612 gas sponsoring extension and the
// payer has not approved Permit2 yet, the client attaches a signed permit so
// the facilitator can establish the allowance inside the settlement
// transaction.
type ExactPermit2Scheme struct {
	signer evm.ClientEvmSigner
}

func NewExactPermit2Scheme(signer evm.ClientEvmSigner) *ExactPermit2Scheme {
	return &ExactPermit2Scheme{
		signer: signer,
	}
}

func (c *ExactPermit2Scheme) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload signs a PermitWitnessTransferFrom message for the
// given requirements.
func (c *ExactPermit2Scheme) CreatePaymentPayload(
	ctx context.Context,
	requirements p402.PaymentRequirements,
) (p402.PaymentPayload, error) {
	payload, _, err := c.createPayload(ctx, requirements)
	return payload, err
}

// CreatePaymentPayloadWithExtensions signs the Permit2 payload and, when the
// server declared EIP-2612 gas sponsoring and the Permit2 allowance is
// missing, attaches a signed permit envelope.
func (c *ExactPermit2Scheme) CreatePaymentPayloadWithExtensions(
	ctx context.Context,
	requirements p402.PaymentRequirements,
	extensions map[string]interface{},
) (p402.PaymentPayload, error) {
	payload, authorization, err := c.createPayload(ctx, requirements)
	if err != nil {
		return p402.PaymentPayload{}, err
	}

	if _, declared := extensions[eip2612gassponsor.Key]; !declared {
		return payload, nil
	}

	if c.hasPermit2Allowance(ctx, authorization) {
		return payload, nil
	}

	chainID, err := evm.GetChainID(string(requirements.Network))
	if err != nil {
		return p402.PaymentPayload{}, err
	}
	_, tokenName, tokenVersion, err := resolveAsset(requirements)
	if err != nil {
		return p402.PaymentPayload{}, err
	}

	info, err := SignEip2612Permit(ctx, c.signer, authorization.Permitted.Token, tokenName, tokenVersion, chainID, authorization.Deadline)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to sign sponsoring permit: %w", err)
	}

	envelope, err := eip2612gassponsor.Envelope(*info)
	if err != nil {
		return p402.PaymentPayload{}, err
	}
	payload.Extensions = map[string]interface{}{
		eip2612gassponsor.Key: envelope,
	}

	return payload, nil
}

func (c *ExactPermit2Scheme) createPayload(
	ctx context.Context,
	requirements p402.PaymentRequirements,
) (p402.PaymentPayload, evm.Permit2Authorization, error) {
	chainID, err := evm.GetChainID(string(requirements.Network))
	if err != nil {
		return p402.PaymentPayload{}, evm.Permit2Authorization{}, err
	}

	if requirements.Asset == "" {
		return p402.PaymentPayload{}, evm.Permit2Authorization{}, fmt.Errorf("permit2 payments need an explicit asset")
	}
	if _, ok := new(big.Int).SetString(requirements.Amount, 10); !ok {
		return p402.PaymentPayload{}, evm.Permit2Authorization{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	nonce, err := evm.CreatePermit2Nonce()
	if err != nil {
		return p402.PaymentPayload{}, evm.Permit2Authorization{}, err
	}

	now := time.Now().Unix()
	timeout := int64(requirements.MaxTimeoutSeconds)
	if timeout <= 0 {
		timeout = evm.DefaultValidityPeriod
	}

	authorization := evm.Permit2Authorization{
		From: evm.NormalizeAddress(c.signer.Address()),
		Permitted: evm.Permit2TokenPermissions{
			Token:  evm.NormalizeAddress(requirements.Asset),
			Amount: requirements.Amount,
		},
		Spender:  evm.ExactPermit2ProxyAddress,
		Nonce:    nonce,
		Deadline: strconv.FormatInt(now+timeout, 10),
		Witness: evm.Permit2Witness{
			To:         evm.NormalizeAddress(requirements.PayTo),
			ValidAfter: strconv.FormatInt(now-evm.ValiditySkewBuffer, 10),
			Extra:      "0x",
		},
	}

	message, err := evm.Permit2Message(authorization)
	if err != nil {
		return p402.PaymentPayload{}, evm.Permit2Authorization{}, err
	}

	signature, err := c.signer.SignTypedData(ctx, evm.Permit2Domain(chainID), evm.GetPermit2EIP712Types(), "PermitWitnessTransferFrom", message)
	if err != nil {
		return p402.PaymentPayload{}, evm.Permit2Authorization{}, fmt.Errorf("failed to sign permit2 authorization: %w", err)
	}

	payload := evm.ExactPermit2Payload{
		Signature:            evm.BytesToHex(signature),
		Permit2Authorization: authorization,
	}

	return p402.PaymentPayload{Payload: payload.ToMap()}, authorization, nil
}

// hasPermit2Allowance reports whether the payer's Permit2 allowance already
// covers the permitted amount. Read failures count as missing so the permit
// gets attached; the facilitator ignores it when the allowance turns out to
// be in place.
func (c *ExactPermit2Scheme) hasPermit2Allowance(ctx context.Context, authorization evm.Permit2Authorization) bool {
	result, err := c.signer.ReadContract(
		ctx,
		authorization.Permitted.Token,
		evm.ERC20AllowanceABI,
		"allowance",
		common.HexToAddress(authorization.From),
		common.HexToAddress(evm.PERMIT2Address),
	)
	if err != nil {
		return false
	}
	allowance, ok := result.(*big.Int)
	if !ok {
		return false
	}
	amount, ok := new(big.Int).SetString(authorization.Permitted.Amount, 10)
	if !ok {
		return false
	}
	return allowance.Cmp(amount) >= 0
}
