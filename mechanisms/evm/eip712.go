package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// HashTypedData computes the EIP-712 digest of a typed data message:
// keccak256(0x1901 || domainSeparator || hashStruct(message)). Numeric
// message values are decimal strings; bytes values are raw byte slices.
func HashTypedData(
	domain TypedDataDomain,
	fieldTypes map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	apiTypes := apitypes.Types{}
	for name, fields := range fieldTypes {
		entry := make([]apitypes.Type, 0, len(fields))
		for _, field := range fields {
			entry = append(entry, apitypes.Type{Name: field.Name, Type: field.Type})
		}
		apiTypes[name] = entry
	}

	apiDomain := apitypes.TypedDataDomain{
		Name:              domain.Name,
		Version:           domain.Version,
		VerifyingContract: domain.VerifyingContract,
	}
	if domain.ChainID != nil {
		apiDomain.ChainId = (*math.HexOrDecimal256)(domain.ChainID)
	}

	typedData := apitypes.TypedData{
		Types:       apiTypes,
		PrimaryType: primaryType,
		Domain:      apiDomain,
		Message:     message,
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash EIP-712 domain: %w", err)
	}

	messageHash, err := typedData.HashStruct(primaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s message: %w", primaryType, err)
	}

	return crypto.Keccak256([]byte("\x19\x01"), domainSeparator, messageHash), nil
}

// EIP3009Domain builds the token's EIP-712 domain for a
// transferWithAuthorization message.
func EIP3009Domain(tokenName string, tokenVersion string, chainID *big.Int, tokenAddress string) TypedDataDomain {
	return TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(tokenAddress).Hex(),
	}
}

// EIP3009Message builds the typed data message for a
// transferWithAuthorization signature. Signer, verifier, and hasher all use
// this builder so they hash the same bytes.
func EIP3009Message(authorization ExactEIP3009Authorization) (map[string]interface{}, error) {
	nonceBytes, err := HexToBytes(authorization.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid authorization nonce: %w", err)
	}

	return map[string]interface{}{
		"from":        common.HexToAddress(authorization.From).Hex(),
		"to":          common.HexToAddress(authorization.To).Hex(),
		"value":       authorization.Value,
		"validAfter":  authorization.ValidAfter,
		"validBefore": authorization.ValidBefore,
		"nonce":       nonceBytes,
	}, nil
}

// HashEIP3009Authorization computes the EIP-712 digest of a
// transferWithAuthorization message under the token's domain.
func HashEIP3009Authorization(
	authorization ExactEIP3009Authorization,
	tokenName string,
	tokenVersion string,
	chainID *big.Int,
	tokenAddress string,
) ([]byte, error) {
	message, err := EIP3009Message(authorization)
	if err != nil {
		return nil, err
	}
	domain := EIP3009Domain(tokenName, tokenVersion, chainID, tokenAddress)
	return HashTypedData(domain, GetEIP3009EIP712Types(), "TransferWithAuthorization", message)
}

// Permit2Domain builds the canonical Permit2 EIP-712 domain for a chain.
func Permit2Domain(chainID *big.Int) TypedDataDomain {
	return TypedDataDomain{
		Name:              "Permit2",
		ChainID:           chainID,
		VerifyingContract: PERMIT2Address,
	}
}

// Permit2Message builds the typed data message for a
// PermitWitnessTransferFrom signature.
func Permit2Message(authorization Permit2Authorization) (map[string]interface{}, error) {
	var extraBytes []byte
	if authorization.Witness.Extra != "" && authorization.Witness.Extra != "0x" {
		var err error
		extraBytes, err = HexToBytes(authorization.Witness.Extra)
		if err != nil {
			return nil, fmt.Errorf("invalid witness extra: %w", err)
		}
	} else {
		extraBytes = []byte{}
	}

	return map[string]interface{}{
		"permitted": map[string]interface{}{
			"token":  common.HexToAddress(authorization.Permitted.Token).Hex(),
			"amount": authorization.Permitted.Amount,
		},
		"spender":  common.HexToAddress(authorization.Spender).Hex(),
		"nonce":    authorization.Nonce,
		"deadline": authorization.Deadline,
		"witness": map[string]interface{}{
			"to":         common.HexToAddress(authorization.Witness.To).Hex(),
			"validAfter": authorization.Witness.ValidAfter,
			"extra":      extraBytes,
		},
	}, nil
}

// HashPermit2Authorization computes the EIP-712 digest of a
// PermitWitnessTransferFrom message under the canonical Permit2 domain.
func HashPermit2Authorization(authorization Permit2Authorization, chainID *big.Int) ([]byte, error) {
	message, err := Permit2Message(authorization)
	if err != nil {
		return nil, err
	}
	return HashTypedData(Permit2Domain(chainID), GetPermit2EIP712Types(), "PermitWitnessTransferFrom", message)
}

// RecoverAddress recovers the checksummed signer address from a 65-byte
// signature over an EIP-712 digest. Both legacy (27/28) and canonical (0/1)
// recovery identifiers are accepted.
func RecoverAddress(digest []byte, signature []byte) (string, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}
