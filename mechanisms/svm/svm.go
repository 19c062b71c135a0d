// Package svm implements the exact payment scheme for SVM (Solana)
// networks. A payment is a partially signed SPL token TransferChecked
// transaction: the client signs as token owner, the facilitator co-signs
// as fee payer, simulates, and submits. Current-version payloads use
// CAIP-2 network identifiers; the v1 subpackages keep the legacy bare
// network names on the wire.
package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ExactSvmPayload is the wire form of an exact SVM payment: a base64
// encoded, partially signed Solana transaction.
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
}

// ToMap converts the payload to the generic payment payload map.
func (p *ExactSvmPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"transaction": p.Transaction,
	}
}

// PayloadFromMap parses an exact SVM payload from the generic payment
// payload map.
func PayloadFromMap(m map[string]interface{}) (*ExactSvmPayload, error) {
	transaction, ok := m["transaction"].(string)
	if !ok || transaction == "" {
		return nil, fmt.Errorf("payload missing transaction")
	}
	return &ExactSvmPayload{Transaction: transaction}, nil
}

// ClientSvmSigner signs transactions on behalf of the paying account.
// SignTransaction adds the owner signature, leaving the fee payer slot
// empty for the facilitator.
type ClientSvmSigner interface {
	Address() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// FacilitatorSvmSigner manages the facilitator's fee payer keys and its
// network access. Every method takes the network so one signer can serve
// multiple clusters.
type FacilitatorSvmSigner interface {
	// GetAddresses returns the fee payer addresses available on a network.
	GetAddresses(ctx context.Context, network string) []solana.PublicKey

	// SignTransaction adds the fee payer signature for the given address.
	SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error

	// SimulateTransaction runs the transaction against current cluster
	// state without submitting it.
	SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error

	// SendTransaction submits the transaction and returns its signature.
	SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error)

	// ConfirmTransaction blocks until the signature is confirmed.
	ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error
}

// RPCClient is the subset of the Solana RPC API used while building
// payment transactions. *rpc.Client satisfies it; tests inject fakes.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

var _ RPCClient = (*rpc.Client)(nil)

// ClientConfig overrides how client schemes reach the cluster. RPC takes
// precedence over RPCURL; both empty means the network default endpoint.
type ClientConfig struct {
	RPCURL string
	RPC    RPCClient
}

// AssetInfo describes an SPL token mint.
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals int
}

// NetworkConfig describes a supported Solana cluster.
type NetworkConfig struct {
	CAIP2        string
	Name         string
	RPCURL       string
	DefaultAsset AssetInfo
}
