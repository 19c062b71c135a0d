// Package client implements the client side of the exact SVM scheme for
// legacy payments: the same partially signed transfer transaction, wrapped
// in the legacy payload shape with bare network names.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/svm"
)

// Compile-time check against the legacy client interface.
var _ p402.SchemeNetworkClientV1 = (*ExactSvmScheme)(nil)

// ExactSvmScheme builds signed legacy exact payment payloads.
type ExactSvmScheme struct {
	signer svm.ClientSvmSigner
	config *svm.ClientConfig
}

// NewExactSvmScheme creates a legacy client scheme backed by the given
// signer. The optional config overrides how the scheme reaches the cluster.
func NewExactSvmScheme(signer svm.ClientSvmSigner, config ...*svm.ClientConfig) *ExactSvmScheme {
	var cfg *svm.ClientConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &ExactSvmScheme{
		signer: signer,
		config: cfg,
	}
}

// Scheme returns the scheme identifier.
func (c *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

func (c *ExactSvmScheme) rpcFor(config *svm.NetworkConfig) svm.RPCClient {
	if c.config != nil && c.config.RPC != nil {
		return c.config.RPC
	}
	url := config.RPCURL
	if c.config != nil && c.config.RPCURL != "" {
		url = c.config.RPCURL
	}
	return rpc.New(url)
}

// CreatePaymentPayload builds and signs the transfer transaction for a
// legacy requirements entry. Legacy entries carry the amount in
// maxAmountRequired and the fee payer in extra.
func (c *ExactSvmScheme) CreatePaymentPayload(ctx context.Context, requirements p402.PaymentRequirementsV1) (p402.PaymentPayloadV1, error) {
	if !svm.IsValidNetwork(requirements.Network) {
		return p402.PaymentPayloadV1{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}
	config, err := svm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return p402.PaymentPayloadV1{}, err
	}
	rpcClient := c.rpcFor(config)

	mintPubkey, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("invalid asset address: %w", err)
	}
	mintAccount, err := rpcClient.GetAccountInfo(ctx, mintPubkey)
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to get mint account: %w", err)
	}
	tokenProgramID := mintAccount.Value.Owner
	if tokenProgramID != solana.TokenProgramID && tokenProgramID != solana.Token2022ProgramID {
		return p402.PaymentPayloadV1{}, fmt.Errorf("asset was not created by a known token program")
	}

	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("invalid payTo address: %w", err)
	}
	sourceATA, _, err := solana.FindAssociatedTokenAddress(c.signer.Address(), mintPubkey)
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to derive source ATA: %w", err)
	}
	destinationATA, _, err := solana.FindAssociatedTokenAddress(payToPubkey, mintPubkey)
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to derive destination ATA: %w", err)
	}

	amount, err := strconv.ParseUint(requirements.MaxAmountRequired, 10, 64)
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("invalid amount: %w", err)
	}

	var extraMap map[string]interface{}
	if requirements.Extra != nil {
		_ = json.Unmarshal(*requirements.Extra, &extraMap)
	}
	feePayerAddr, ok := extraMap["feePayer"].(string)
	if !ok {
		return p402.PaymentPayloadV1{}, fmt.Errorf("feePayer is required in paymentRequirements.extra for Solana transactions")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("invalid feePayer address: %w", err)
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to decode mint data: %w", err)
	}

	latestBlockhash, err := rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(svm.DefaultComputeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(svm.DefaultComputeUnitPriceMicrolamports).
		ValidateAndBuild()
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to build compute price instruction: %w", err)
	}
	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(mintData.Decimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(mintPubkey).
		SetDestinationAccount(destinationATA).
		SetOwnerAccount(c.signer.Address()).
		ValidateAndBuild()
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to build transfer instruction: %w", err)
	}

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice).
		AddInstruction(transferIx).
		SetRecentBlockHash(latestBlockhash.Value.Blockhash).
		SetFeePayer(feePayer).
		Build()
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	base64Tx, err := svm.EncodeTransaction(tx)
	if err != nil {
		return p402.PaymentPayloadV1{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	svmPayload := &svm.ExactSvmPayload{Transaction: base64Tx}
	return p402.PaymentPayloadV1{
		ProtocolVersion: p402.ProtocolVersionV1,
		Scheme:          svm.SchemeExact,
		Network:         requirements.Network,
		Payload:         svmPayload.ToMap(),
	}, nil
}
