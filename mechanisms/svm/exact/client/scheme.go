// Package client implements the paying side of the exact SVM scheme: a
// partially signed SPL TransferChecked transaction whose fee payer slot is
// left for the facilitator advertised in requirements.extra.
package client

import (
	"context"
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

// Ensure ExactSvmScheme implements SchemeNetworkClient
var _ p402.SchemeNetworkClient = (*ExactSvmScheme)(nil)

// ExactSvmScheme builds exact-scheme payment payloads on Solana clusters.
type ExactSvmScheme struct {
	signer svm.ClientSvmSigner
	config *svm.ClientConfig
}

// NewExactSvmScheme creates a client scheme backed by the given signer. The
// optional config overrides how the scheme reaches the cluster; without it
// the network's default RPC endpoint is used.
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

func (c *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// rpcFor resolves the RPC client for a network. An injected RPC client wins
// over a custom URL, which wins over the network default.
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

// CreatePaymentPayload builds the transfer transaction for the requirements
// and signs it as token owner. The facilitator designated in extra.feePayer
// co-signs and submits it during settlement.
func (c *ExactSvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements p402.PaymentRequirements,
) (p402.PaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !svm.IsValidNetwork(networkStr) {
		return p402.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}
	config, err := svm.GetNetworkConfig(networkStr)
	if err != nil {
		return p402.PaymentPayload{}, err
	}
	rpcClient := c.rpcFor(config)

	mintPubkey, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("invalid asset address: %w", err)
	}

	mintAccount, err := rpcClient.GetAccountInfo(ctx, mintPubkey)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to get mint account: %w", err)
	}
	tokenProgramID := mintAccount.Value.Owner
	if tokenProgramID != solana.TokenProgramID && tokenProgramID != solana.Token2022ProgramID {
		return p402.PaymentPayload{}, fmt.Errorf("asset was not created by a known token program")
	}

	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("invalid payTo address: %w", err)
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(c.signer.Address(), mintPubkey)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to derive source ATA: %w", err)
	}
	destinationATA, _, err := solana.FindAssociatedTokenAddress(payToPubkey, mintPubkey)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to derive destination ATA: %w", err)
	}

	amount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("invalid amount: %w", err)
	}

	feePayerAddr, ok := requirements.Extra["feePayer"].(string)
	if !ok {
		return p402.PaymentPayload{}, fmt.Errorf("feePayer is required in paymentRequirements.extra for Solana transactions")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("invalid feePayer address: %w", err)
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to decode mint data: %w", err)
	}

	latestBlockhash, err := rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(svm.DefaultComputeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(svm.DefaultComputeUnitPriceMicrolamports).
		ValidateAndBuild()
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to build compute price instruction: %w", err)
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
		return p402.PaymentPayload{}, fmt.Errorf("failed to build transfer instruction: %w", err)
	}

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice).
		AddInstruction(transferIx).
		SetRecentBlockHash(latestBlockhash.Value.Blockhash).
		SetFeePayer(feePayer).
		Build()
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	base64Tx, err := svm.EncodeTransaction(tx)
	if err != nil {
		return p402.PaymentPayload{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	svmPayload := &svm.ExactSvmPayload{Transaction: base64Tx}

	// The engine fills in accepted, resource and extensions.
	return p402.PaymentPayload{
		ProtocolVersion: p402.ProtocolVersion,
		Payload:         svmPayload.ToMap(),
	}, nil
}
