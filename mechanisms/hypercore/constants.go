package hypercore

import "time"

const (
	SchemeExact = "exact"

	NetworkMainnet = "hypercore:mainnet"
	NetworkTestnet = "hypercore:testnet"

	// SignatureChainID is the fixed EIP-712 chain id Hyperliquid uses for
	// user-signed actions on both networks.
	SignatureChainID = 999

	// MaxNonceAgeSeconds bounds how stale a signed action may be.
	MaxNonceAgeSeconds = 3600

	HyperliquidAPIMainnet = "https://api.hyperliquid.xyz"
	HyperliquidAPITestnet = "https://api.hyperliquid-testnet.xyz"
)

// Ledger hash lookup timing: the hash appears in the ledger feed shortly
// after submission, so settlement retries the info endpoint briefly.
const (
	TxHashMaxRetries     = 2
	TxHashRetryDelay     = 500 * time.Millisecond
	TxHashLookbackWindow = 5000 * time.Millisecond
)

// AssetInfo describes a Hypercore spot token.
type AssetInfo struct {
	Token    string
	Name     string
	Decimals int
}

// NetworkConfig holds per-network defaults.
type NetworkConfig struct {
	DefaultAsset AssetInfo
}

// NetworkConfigs maps network identifiers to their configuration.
var NetworkConfigs = map[string]NetworkConfig{
	NetworkMainnet: {
		DefaultAsset: AssetInfo{
			Token:    "USDH:0x54e00a5988577cb0b0c9ab0cb6ef7f4b",
			Name:     "USDH",
			Decimals: 8,
		},
	},
	NetworkTestnet: {
		DefaultAsset: AssetInfo{
			Token:    "USDH:0x471fd4480bb9943a1fe080ab0d4ff36c",
			Name:     "USDH",
			Decimals: 8,
		},
	},
}

// NetworkAPIURLs maps network identifiers to their default exchange API.
var NetworkAPIURLs = map[string]string{
	NetworkMainnet: HyperliquidAPIMainnet,
	NetworkTestnet: HyperliquidAPITestnet,
}
