package evm

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/p402-io/p402/mechanisms/evm"
)

// Well-known development key (Hardhat account 0). Never holds real funds.
const (
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestNewClientSignerFromPrivateKey(t *testing.T) {
	signer, err := NewClientSignerFromPrivateKey(testPrivateKey)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if signer.Address() != testAddress {
		t.Fatalf("Expected address %s, got %s", testAddress, signer.Address())
	}

	// The 0x prefix is optional.
	prefixed, err := NewClientSignerFromPrivateKey("0x" + testPrivateKey)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if prefixed.Address() != testAddress {
		t.Fatalf("Expected prefix-insensitive parsing, got %s", prefixed.Address())
	}
}

func TestNewClientSignerFromPrivateKeyInvalid(t *testing.T) {
	for _, key := range []string{"", "nothex", "0x1234"} {
		if _, err := NewClientSignerFromPrivateKey(key); err == nil {
			t.Errorf("Expected error for key %q", key)
		}
	}
}

func TestClientSignerSignTypedData(t *testing.T) {
	ctx := context.Background()
	signer, err := NewClientSignerFromPrivateKey(testPrivateKey)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	domain := evm.TypedDataDomain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(8453),
		VerifyingContract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}
	// Domain type omitted on purpose; the signer fills it in.
	fieldTypes := map[string][]evm.TypedDataField{
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
		},
	}
	message := map[string]interface{}{
		"from":  testAddress,
		"to":    "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		"value": "10000",
	}

	signature, err := signer.SignTypedData(ctx, domain, fieldTypes, "TransferWithAuthorization", message)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(signature) != 65 {
		t.Fatalf("Expected 65-byte signature, got %d bytes", len(signature))
	}
	if v := signature[64]; v != 27 && v != 28 {
		t.Fatalf("Expected v normalized to 27/28, got %d", v)
	}

	// Recovering the signer from the digest proves the signature binds the
	// typed data to the key.
	withDomain := map[string][]evm.TypedDataField{
		"EIP712Domain":              evm.FullEIP712DomainTypes,
		"TransferWithAuthorization": fieldTypes["TransferWithAuthorization"],
	}
	digest, err := evm.HashTypedData(domain, withDomain, "TransferWithAuthorization", message)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	recoverable := make([]byte, 65)
	copy(recoverable, signature)
	recoverable[64] -= 27
	publicKey, err := crypto.SigToPub(digest, recoverable)
	if err != nil {
		t.Fatalf("Failed to recover public key: %v", err)
	}
	if recovered := crypto.PubkeyToAddress(*publicKey).Hex(); !strings.EqualFold(recovered, testAddress) {
		t.Fatalf("Expected recovered address %s, got %s", testAddress, recovered)
	}
}

func TestClientSignerReadContractRequiresClient(t *testing.T) {
	signer, err := NewClientSignerFromPrivateKey(testPrivateKey)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	_, err = signer.ReadContract(context.Background(), "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", []byte(`[]`), "nonces")
	if err == nil {
		t.Fatal("Expected error without a configured ethclient")
	}
}
