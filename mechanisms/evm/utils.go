package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// maxUint256 is (2^256)-1, the unlimited approval amount.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// MaxUint256 returns (2^256)-1 as a fresh big.Int.
func MaxUint256() *big.Int {
	return new(big.Int).Set(maxUint256)
}

// ParseAmount converts a decimal amount string ("0.01") to the asset's
// atomic unit ("10000" for six decimals). The fractional part must fit in
// the asset's decimals; payments never round.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || amount == "." {
		return nil, fmt.Errorf("empty amount")
	}

	whole, frac := amount, ""
	if idx := strings.IndexByte(amount, '.'); idx >= 0 {
		whole, frac = amount[:idx], amount[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %s exceeds %d decimal places", amount, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", amount)
	}
	return value, nil
}

// FormatAmount converts an atomic amount back to a decimal string, trimming
// trailing zeros. The inverse of ParseAmount.
func FormatAmount(amount *big.Int, decimals int) string {
	s := amount.String()
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	cut := len(s) - decimals
	whole, frac := s[:cut], s[cut:]
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// CreateNonce generates a random 32-byte nonce as a 0x-prefixed hex string,
// the bytes32 nonce format EIP-3009 expects.
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return BytesToHex(nonce), nil
}

// CreatePermit2Nonce generates a random uint256 nonce as a decimal string.
// Permit2 tracks nonces in a bitmap, so any unused value works.
func CreatePermit2Nonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return new(big.Int).SetBytes(nonce).String(), nil
}

// CreateValidityWindow returns validAfter and validBefore as decimal unix
// timestamps. validAfter is backdated to tolerate clock skew; validBefore is
// now plus the timeout, or DefaultValidityPeriod when the timeout is zero.
func CreateValidityWindow(maxTimeoutSeconds int) (string, string) {
	now := time.Now().Unix()
	timeout := int64(maxTimeoutSeconds)
	if timeout <= 0 {
		timeout = DefaultValidityPeriod
	}
	validAfter := now - ValiditySkewBuffer
	validBefore := now + timeout
	return strconv.FormatInt(validAfter, 10), strconv.FormatInt(validBefore, 10)
}

// HexToBytes decodes a hex string with or without the 0x prefix.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return b, nil
}

// BytesToHex encodes bytes as a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// IsValidAddress reports whether s is a 20-byte 0x-prefixed hex address.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// NormalizeAddress returns the EIP-55 checksummed form of an address, or the
// input unchanged when it is not a valid address.
func NormalizeAddress(address string) string {
	if !IsValidAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

// IsValidNetwork reports whether the network is a known EVM network, either
// from the built-in table or any well-formed eip155 CAIP-2 identifier.
func IsValidNetwork(network string) bool {
	if _, ok := NetworkConfigs[network]; ok {
		return true
	}
	_, err := GetChainID(network)
	return err == nil
}

// GetNetworkConfig returns the configuration for a network.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return &config, nil
}

// GetChainID resolves a network identifier to its EVM chain ID. Networks
// outside the built-in table resolve through their eip155 CAIP-2 form.
func GetChainID(network string) (*big.Int, error) {
	if config, ok := NetworkConfigs[network]; ok {
		return config.ChainID, nil
	}
	id, ok := strings.CutPrefix(network, "eip155:")
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	chainID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || chainID <= 0 {
		return nil, fmt.Errorf("invalid chain id in network %s", network)
	}
	return big.NewInt(chainID), nil
}

// GetAssetInfo returns the asset metadata for a token on a network. An empty
// asset selects the network's default. Unknown tokens fall back to generic
// EIP-712 domain parameters; requirements normally override those through
// their extra field.
func GetAssetInfo(network string, asset string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	if asset == "" || strings.EqualFold(asset, config.DefaultAsset.Address) {
		info := config.DefaultAsset
		return &info, nil
	}
	if !IsValidAddress(asset) {
		return nil, fmt.Errorf("invalid asset address: %s", asset)
	}
	return &AssetInfo{
		Address:  NormalizeAddress(asset),
		Name:     "Unknown Token",
		Version:  "1",
		Decimals: 18,
	}, nil
}
