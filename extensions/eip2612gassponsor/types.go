// Package eip2612gassponsor implements the EIP-2612 gas sponsoring
// extension. Tokens that implement EIP-2612 can approve the canonical
// Permit2 contract with an off-chain signature instead of an on-chain
// transaction, so a payer with no native balance can still pay. The
// resource server declares support on its 402 response, the client signs
// a permit and attaches it to the payment payload, and the facilitator
// submits the permit on-chain when settling.
package eip2612gassponsor

import "regexp"

// Key is the extension key permit envelopes travel under.
const Key = "eip2612-gas-sponsoring"

// Version is the current schema version of the permit info document.
const Version = "1"

// Info is the permit data the client populates. Numeric fields are uint256
// values carried as decimal strings.
type Info struct {
	// From is the token owner granting the approval.
	From string `json:"from"`
	// Asset is the ERC-20 token contract.
	Asset string `json:"asset"`
	// Spender is the address being approved, the canonical Permit2 contract.
	Spender string `json:"spender"`
	// Amount is the approval amount. Typically MaxUint256.
	Amount string `json:"amount"`
	// Nonce is the owner's current EIP-2612 nonce.
	Nonce string `json:"nonce"`
	// Deadline is the unix timestamp at which the signature expires.
	Deadline string `json:"deadline"`
	// Signature is the 65-byte permit signature (r, s, v) as 0x-prefixed hex.
	Signature string `json:"signature"`
	// Version is the schema version identifier.
	Version string `json:"version"`
}

// ServerInfo is the info document the resource server declares. The client
// replaces it field by field with the signed permit.
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

// complete reports whether the client populated every permit field.
func (i *Info) complete() bool {
	return i.From != "" && i.Asset != "" && i.Spender != "" &&
		i.Amount != "" && i.Nonce != "" && i.Deadline != "" &&
		i.Signature != "" && i.Version != ""
}

// ValidateInfo reports whether every permit field has a well-formed value.
// It checks format only; signature recovery and nonce freshness are
// settlement concerns.
func ValidateInfo(info *Info) bool {
	return addressPattern.MatchString(info.From) &&
		addressPattern.MatchString(info.Asset) &&
		addressPattern.MatchString(info.Spender) &&
		numericPattern.MatchString(info.Amount) &&
		numericPattern.MatchString(info.Nonce) &&
		numericPattern.MatchString(info.Deadline) &&
		hexPattern.MatchString(info.Signature) &&
		versionPattern.MatchString(info.Version)
}
