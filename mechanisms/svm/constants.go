package svm

import "github.com/gagliardetto/solana-go/rpc"

// SchemeExact is the exact payment scheme identifier
const SchemeExact = "exact"

// CaipFamily is the CAIP-2 namespace pattern for Solana clusters.
const CaipFamily = "solana:*"

// CAIP-2 network identifiers. The reference is the first 32 characters of
// the cluster's genesis hash.
const (
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnetCAIP2 = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
)

// Legacy network names used by v1 payloads.
const (
	SolanaMainnetV1 = "solana"
	SolanaDevnetV1  = "solana-devnet"
	SolanaTestnetV1 = "solana-testnet"
)

// USDC mint addresses. Devnet and testnet use Circle's dev mint.
const (
	USDCMainnetAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetAddress  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// Compute budget bounds for payment transactions.
const (
	// DefaultComputeUnitLimit covers the standard three instruction
	// payment (two compute budget instructions plus one TransferChecked).
	DefaultComputeUnitLimit uint32 = 6500

	// DefaultComputeUnitPriceMicrolamports is the priority fee clients
	// attach by default.
	DefaultComputeUnitPriceMicrolamports uint64 = 10_000

	// DefaultComputeUnitPrice is the legacy name for the default priority
	// fee, kept for v1 clients.
	DefaultComputeUnitPrice uint64 = DefaultComputeUnitPriceMicrolamports

	// MaxComputeUnitPriceMicrolamports caps the priority fee a payment may
	// ask the fee payer to fund: 5 lamports per compute unit.
	MaxComputeUnitPriceMicrolamports uint64 = 5_000_000
)

// Instruction count bounds for payment transactions. The minimum is the
// two compute budget instructions plus the transfer; the maximum leaves
// room for an ATA creation and assertion or memo instructions.
const (
	MinTransactionInstructions = 3
	MaxTransactionInstructions = 6
)

// Auxiliary program addresses recognized inside payment transactions.
const (
	// MemoProgramAddress is the SPL memo program.
	MemoProgramAddress = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"

	// LighthouseProgramAddress is the Lighthouse assertion program, used
	// by wallets to guard against transaction tampering.
	LighthouseProgramAddress = "L2TExMFKdjpN9kozasaurPirfHy9P8sbXoAN1qA3S95"

	// Secp256r1PrecompileAddress is the native secp256r1 signature
	// verification program used by passkey wallets.
	Secp256r1PrecompileAddress = "Secp256r1SigVerify1111111111111111111111111"

	// SwigProgramAddress is the Swig smart wallet program.
	SwigProgramAddress = "swigypWHEksbC64pWKwah1WTeh9JXwx8H1rJHLdbQMB"
)

// SwigSignV2Discriminator identifies the Swig signV2 instruction (U16 LE
// at the start of the instruction data).
const SwigSignV2Discriminator uint16 = 11

// NetworkConfigs maps CAIP-2 identifiers to cluster configuration.
var NetworkConfigs = map[string]NetworkConfig{
	SolanaMainnetCAIP2: {
		CAIP2:  SolanaMainnetCAIP2,
		Name:   "Solana",
		RPCURL: rpc.MainNetBeta_RPC,
		DefaultAsset: AssetInfo{
			Address:  USDCMainnetAddress,
			Symbol:   "USDC",
			Decimals: 6,
		},
	},
	SolanaDevnetCAIP2: {
		CAIP2:  SolanaDevnetCAIP2,
		Name:   "Solana Devnet",
		RPCURL: rpc.DevNet_RPC,
		DefaultAsset: AssetInfo{
			Address:  USDCDevnetAddress,
			Symbol:   "USDC",
			Decimals: 6,
		},
	},
	SolanaTestnetCAIP2: {
		CAIP2:  SolanaTestnetCAIP2,
		Name:   "Solana Testnet",
		RPCURL: rpc.TestNet_RPC,
		DefaultAsset: AssetInfo{
			Address:  USDCDevnetAddress,
			Symbol:   "USDC",
			Decimals: 6,
		},
	},
}

// v1NetworkNames maps legacy network names to CAIP-2 identifiers.
var v1NetworkNames = map[string]string{
	SolanaMainnetV1: SolanaMainnetCAIP2,
	SolanaDevnetV1:  SolanaDevnetCAIP2,
	SolanaTestnetV1: SolanaTestnetCAIP2,
}

// V1Networks lists the legacy network names in registration order.
var V1Networks = []string{
	SolanaMainnetV1,
	SolanaDevnetV1,
	SolanaTestnetV1,
}
