// Package erc20approvalgassponsor implements the ERC-20 approval gas
// sponsoring extension, the fallback for tokens without EIP-2612 support.
// The client signs an approve(Permit2, amount) transaction without
// broadcasting it and attaches the raw bytes to the payment payload; the
// facilitator pays the gas to broadcast it before settling.
package erc20approvalgassponsor

import "regexp"

// Key is the extension key signed approvals travel under.
const Key = "erc20-approval-gas-sponsoring"

// Version is the current schema version of the approval info document.
const Version = "1"

// Info is the signed approval the client populates.
type Info struct {
	// From is the token owner signing the approval.
	From string `json:"from"`
	// Asset is the ERC-20 token contract.
	Asset string `json:"asset"`
	// Spender is the address being approved, the canonical Permit2 contract.
	Spender string `json:"spender"`
	// Amount is the approval amount (uint256 as decimal string). Typically
	// MaxUint256.
	Amount string `json:"amount"`
	// SignedTransaction is the RLP-encoded signed approve transaction as
	// 0x-prefixed hex.
	SignedTransaction string `json:"signedTransaction"`
	// Version is the schema version identifier.
	Version string `json:"version"`
}

// ServerInfo is the info document the resource server declares. The client
// replaces it field by field with the signed approval.
type ServerInfo struct {
	Description string `json:"description"`
	Version     string `json:"version"`
}

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	numericPattern = regexp.MustCompile(`^[0-9]+$`)
	hexPattern     = regexp.MustCompile(`^0x[a-fA-F0-9]+$`)
	versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)
)

// complete reports whether the client populated every approval field.
func (i *Info) complete() bool {
	return i.From != "" && i.Asset != "" && i.Spender != "" &&
		i.Amount != "" && i.SignedTransaction != "" && i.Version != ""
}

// ValidateInfo reports whether every approval field has a well-formed
// value. It checks format only; whether the transaction actually encodes
// the claimed approval is a settlement concern.
func ValidateInfo(info *Info) bool {
	return addressPattern.MatchString(info.From) &&
		addressPattern.MatchString(info.Asset) &&
		addressPattern.MatchString(info.Spender) &&
		numericPattern.MatchString(info.Amount) &&
		hexPattern.MatchString(info.SignedTransaction) &&
		versionPattern.MatchString(info.Version)
}
