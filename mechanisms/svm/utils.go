package svm

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
)

// NormalizeNetwork resolves a network identifier to its CAIP-2 form.
// Legacy v1 names map to their cluster; CAIP-2 identifiers pass through.
func NormalizeNetwork(network string) (string, error) {
	if caip2, ok := v1NetworkNames[network]; ok {
		return caip2, nil
	}
	if _, ok := NetworkConfigs[network]; ok {
		return network, nil
	}
	return "", fmt.Errorf("unsupported SVM network: %s", network)
}

// IsValidNetwork reports whether the network is a supported Solana
// cluster, in either CAIP-2 or legacy v1 form.
func IsValidNetwork(network string) bool {
	_, err := NormalizeNetwork(network)
	return err == nil
}

// GetNetworkConfig returns the cluster configuration for a network. The
// input may be a CAIP-2 identifier or a legacy v1 name.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	caip2, err := NormalizeNetwork(network)
	if err != nil {
		return nil, err
	}
	config := NetworkConfigs[caip2]
	return &config, nil
}

// GetAssetInfo returns metadata for an asset on a network. The built-in
// table only carries each cluster's default asset, so unknown mints and
// symbols resolve to it; callers needing exact metadata for other mints
// read it from the chain.
func GetAssetInfo(network, asset string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	info := config.DefaultAsset
	return &info, nil
}

// ValidateSolanaAddress reports whether the string is a well-formed
// base58 Solana public key.
func ValidateSolanaAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

// ParseAmount converts a decimal amount string to atomic units of an
// asset with the given number of decimals.
func ParseAmount(amount string, decimals int) (uint64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "-") {
		return 0, fmt.Errorf("invalid amount: %q", amount)
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > decimals {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return 0, fmt.Errorf("invalid amount: %q", amount)
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows uint64", amount)
	}
	return value.Uint64(), nil
}

// FormatAmount converts atomic units back to a decimal amount string,
// trimming trailing zeros.
func FormatAmount(amount uint64, decimals int) string {
	s := strconv.FormatUint(amount, 10)
	if decimals <= 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	cut := len(s) - decimals
	whole, frac := s[:cut], strings.TrimRight(s[cut:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// EncodeTransaction serializes a transaction to the base64 wire form.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTransaction parses a base64 wire form transaction.
func DecodeTransaction(base64Tx string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Tx)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid transaction encoding: %w", err)
	}
	return tx, nil
}

// GetTokenPayerFromTransaction extracts the paying account from a payment
// transaction: the authority of its SPL token transfer instruction.
func GetTokenPayerFromTransaction(tx *solana.Transaction) (string, error) {
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if progID != solana.TokenProgramID && progID != solana.Token2022ProgramID {
			continue
		}
		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil || len(accounts) < 4 {
			continue
		}
		// TransferChecked account order: source, mint, destination, authority
		return accounts[3].PublicKey.String(), nil
	}
	return "", errors.New("no transfer instruction")
}
