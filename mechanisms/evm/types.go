// Package evm carries the shared pieces of the EVM payment mechanisms:
// network and asset configuration, payload structures, EIP-712 hashing, and
// the signer interfaces the scheme implementations are built against.
package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ExactEIP3009Authorization is the transferWithAuthorization message signed
// by the payer. All numeric fields are decimal strings; Nonce is a 32-byte
// hex string.
type ExactEIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEIP3009Payload is the payment payload for EIP-3009 capable tokens.
type ExactEIP3009Payload struct {
	Signature     string                    `json:"signature"`
	Authorization ExactEIP3009Authorization `json:"authorization"`
}

// ToMap converts the payload to the wire representation used inside a
// payment payload's opaque payload field.
func (p *ExactEIP3009Payload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signature": p.Signature,
		"authorization": map[string]interface{}{
			"from":        p.Authorization.From,
			"to":          p.Authorization.To,
			"value":       p.Authorization.Value,
			"validAfter":  p.Authorization.ValidAfter,
			"validBefore": p.Authorization.ValidBefore,
			"nonce":       p.Authorization.Nonce,
		},
	}
}

// PayloadFromMap parses an EIP-3009 payload from its wire representation.
func PayloadFromMap(data map[string]interface{}) (*ExactEIP3009Payload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var payload ExactEIP3009Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse EIP-3009 payload: %w", err)
	}
	if payload.Authorization.From == "" || payload.Authorization.To == "" {
		return nil, fmt.Errorf("authorization missing from/to address")
	}
	return &payload, nil
}

// Permit2TokenPermissions names the token and amount a Permit2 signature
// permits.
type Permit2TokenPermissions struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Permit2Witness is the witness data the exact Permit2 proxy verifies on
// settlement, binding the transfer to a recipient and a start time.
type Permit2Witness struct {
	To         string `json:"to"`
	ValidAfter string `json:"validAfter"`
	Extra      string `json:"extra"`
}

// Permit2Authorization is the PermitWitnessTransferFrom message signed by
// the payer. Spender must be the exact Permit2 proxy.
type Permit2Authorization struct {
	From      string                  `json:"from"`
	Permitted Permit2TokenPermissions `json:"permitted"`
	Spender   string                  `json:"spender"`
	Nonce     string                  `json:"nonce"`
	Deadline  string                  `json:"deadline"`
	Witness   Permit2Witness          `json:"witness"`
}

// ExactPermit2Payload is the payment payload for generic ERC-20 tokens paid
// through Permit2.
type ExactPermit2Payload struct {
	Signature            string               `json:"signature"`
	Permit2Authorization Permit2Authorization `json:"permit2Authorization"`
}

// ToMap converts the payload to its wire representation.
func (p *ExactPermit2Payload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signature": p.Signature,
		"permit2Authorization": map[string]interface{}{
			"from": p.Permit2Authorization.From,
			"permitted": map[string]interface{}{
				"token":  p.Permit2Authorization.Permitted.Token,
				"amount": p.Permit2Authorization.Permitted.Amount,
			},
			"spender":  p.Permit2Authorization.Spender,
			"nonce":    p.Permit2Authorization.Nonce,
			"deadline": p.Permit2Authorization.Deadline,
			"witness": map[string]interface{}{
				"to":         p.Permit2Authorization.Witness.To,
				"validAfter": p.Permit2Authorization.Witness.ValidAfter,
				"extra":      p.Permit2Authorization.Witness.Extra,
			},
		},
	}
}

// Permit2PayloadFromMap parses a Permit2 payload from its wire
// representation.
func Permit2PayloadFromMap(data map[string]interface{}) (*ExactPermit2Payload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var payload ExactPermit2Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse Permit2 payload: %w", err)
	}
	if payload.Permit2Authorization.From == "" {
		return nil, fmt.Errorf("permit2 authorization missing from address")
	}
	return &payload, nil
}

// IsPermit2Payload reports whether the opaque payload data carries a Permit2
// authorization.
func IsPermit2Payload(data map[string]interface{}) bool {
	_, ok := data["permit2Authorization"]
	return ok
}

// IsEIP3009Payload reports whether the opaque payload data carries an
// EIP-3009 authorization.
func IsEIP3009Payload(data map[string]interface{}) bool {
	_, ok := data["authorization"]
	return ok
}

// TypedDataDomain is the EIP-712 domain separator. Version is empty for
// contracts, like Permit2, whose domain omits it.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// TypedDataField is one field of an EIP-712 struct type.
type TypedDataField struct {
	Name string
	Type string
}

// TransactionReceipt is the subset of an EVM receipt the mechanisms consume.
type TransactionReceipt struct {
	Status      uint64
	BlockNumber *big.Int
	TxHash      string
}

// AssetInfo describes an ERC-20 asset and its EIP-712 domain parameters.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig holds per-network chain parameters.
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
}

// ClientEvmSigner signs typed data on behalf of a paying account. Wallet
// backends implement this; the scheme clients never see key material.
type ClientEvmSigner interface {
	// Address returns the signer's checksummed account address.
	Address() string

	// SignTypedData signs an EIP-712 typed data message and returns the
	// 65-byte signature.
	SignTypedData(
		ctx context.Context,
		domain TypedDataDomain,
		types map[string][]TypedDataField,
		primaryType string,
		message map[string]interface{},
	) ([]byte, error)

	// ReadContract performs a read-only contract call. Used for allowance
	// and permit nonce lookups while building payloads.
	ReadContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (interface{}, error)
}

// ClientTransactionSigner extends ClientEvmSigner with full transaction
// signing, needed to pre-sign sponsored approval transactions.
type ClientTransactionSigner interface {
	ClientEvmSigner

	// GetTransactionCount returns the account's next nonce.
	GetTransactionCount(ctx context.Context, address string) (uint64, error)

	// EstimateFeesPerGas returns maxFeePerGas and maxPriorityFeePerGas.
	EstimateFeesPerGas(ctx context.Context) (*big.Int, *big.Int, error)

	// SignTransaction signs the transaction and returns its RLP encoding.
	SignTransaction(ctx context.Context, tx *ethtypes.Transaction) ([]byte, error)
}

// FacilitatorEvmSigner is the chain access a facilitator mechanism needs:
// contract reads for verification, writes for settlement, and signature
// checks that may go through EIP-1271 for contract wallets.
type FacilitatorEvmSigner interface {
	// GetAddresses returns the settlement account addresses.
	GetAddresses() []string

	// ReadContract performs a read-only contract call and returns the
	// decoded first output value.
	ReadContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (interface{}, error)

	// VerifyTypedData reports whether signature is a valid EIP-712
	// signature over the message by the given signer address.
	VerifyTypedData(
		ctx context.Context,
		signerAddress string,
		domain TypedDataDomain,
		types map[string][]TypedDataField,
		primaryType string,
		message map[string]interface{},
		signature []byte,
	) (bool, error)

	// WriteContract submits a state-changing contract call and returns the
	// transaction hash.
	WriteContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (string, error)

	// SendRawTransaction broadcasts a pre-signed RLP-encoded transaction
	// given as a 0x-prefixed hex string and returns the transaction hash.
	SendRawTransaction(ctx context.Context, signedTx string) (string, error)

	// WaitForTransactionReceipt blocks until the transaction is mined.
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	// GetBalance returns the token balance of an address.
	GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error)

	// GetCode returns the bytecode deployed at an address, empty for EOAs.
	GetCode(ctx context.Context, address string) ([]byte, error)
}
