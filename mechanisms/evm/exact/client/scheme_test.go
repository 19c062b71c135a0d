package client

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/evm"
)

const (
	testPayer  = "0x857b06519E91e3A54538791bDbb0E22373e36b66"
	testPayTo  = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	testUSDC   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testCustom = "0x4200000000000000000000000000000000000099"
)

type mockSigner struct {
	address     string
	signature   []byte
	signErr     error
	readResults map[string]interface{}
	readErr     error
	readCalls   []string

	lastDomain  evm.TypedDataDomain
	lastPrimary string
	lastMessage map[string]interface{}
}

func (m *mockSigner) Address() string {
	return m.address
}

func (m *mockSigner) SignTypedData(
	ctx context.Context,
	domain evm.TypedDataDomain,
	types map[string][]evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	m.lastDomain = domain
	m.lastPrimary = primaryType
	m.lastMessage = message
	if m.signErr != nil {
		return nil, m.signErr
	}
	if m.signature != nil {
		return m.signature, nil
	}
	return bytes.Repeat([]byte{0xab}, 65), nil
}

func (m *mockSigner) ReadContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (interface{}, error) {
	m.readCalls = append(m.readCalls, functionName)
	if m.readErr != nil {
		return nil, m.readErr
	}
	if result, ok := m.readResults[functionName]; ok {
		return result, nil
	}
	return nil, fmt.Errorf("unexpected read: %s", functionName)
}

func usdcRequirements() p402.PaymentRequirements {
	return p402.PaymentRequirements{
		Scheme:            "exact",
		Network:           "eip155:84532",
		Amount:            "10000",
		Asset:             testUSDC,
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 600,
		Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
	}
}

func TestCreatePaymentPayload(t *testing.T) {
	signer := &mockSigner{address: testPayer}
	scheme := NewExactEvmScheme(signer)

	if scheme.Scheme() != "exact" {
		t.Errorf("Expected scheme exact, got %s", scheme.Scheme())
	}

	payload, err := scheme.CreatePaymentPayload(context.Background(), usdcRequirements())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	parsed, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		t.Fatalf("Expected parseable payload, got %v", err)
	}

	if parsed.Authorization.From != testPayer {
		t.Errorf("Expected from %s, got %s", testPayer, parsed.Authorization.From)
	}
	if parsed.Authorization.To != testPayTo {
		t.Errorf("Expected to %s, got %s", testPayTo, parsed.Authorization.To)
	}
	if parsed.Authorization.Value != "10000" {
		t.Errorf("Expected value 10000, got %s", parsed.Authorization.Value)
	}
	if len(parsed.Authorization.Nonce) != 66 {
		t.Errorf("Expected 32-byte hex nonce, got %s", parsed.Authorization.Nonce)
	}
	if len(parsed.Signature) != 132 {
		t.Errorf("Expected 65-byte hex signature, got %d chars", len(parsed.Signature))
	}

	after, _ := new(big.Int).SetString(parsed.Authorization.ValidAfter, 10)
	before, _ := new(big.Int).SetString(parsed.Authorization.ValidBefore, 10)
	if window := new(big.Int).Sub(before, after).Int64(); window != 600+evm.ValiditySkewBuffer {
		t.Errorf("Expected validity window of %d, got %d", 600+evm.ValiditySkewBuffer, window)
	}

	if signer.lastPrimary != "TransferWithAuthorization" {
		t.Errorf("Expected TransferWithAuthorization signing, got %s", signer.lastPrimary)
	}
	if signer.lastDomain.Name != "USDC" || signer.lastDomain.Version != "2" {
		t.Errorf("Expected token domain, got %+v", signer.lastDomain)
	}
	if signer.lastDomain.ChainID.Int64() != 84532 {
		t.Errorf("Expected chain id 84532, got %s", signer.lastDomain.ChainID)
	}
	if signer.lastDomain.VerifyingContract != testUSDC {
		t.Errorf("Expected verifying contract %s, got %s", testUSDC, signer.lastDomain.VerifyingContract)
	}
}

func TestCreatePaymentPayloadDefaultsAsset(t *testing.T) {
	signer := &mockSigner{address: testPayer}
	scheme := NewExactEvmScheme(signer)

	requirements := usdcRequirements()
	requirements.Asset = ""
	requirements.Extra = nil

	payload, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := evm.PayloadFromMap(payload.Payload); err != nil {
		t.Fatalf("Expected parseable payload, got %v", err)
	}
	if signer.lastDomain.VerifyingContract != testUSDC {
		t.Errorf("Expected default USDC as verifying contract, got %s", signer.lastDomain.VerifyingContract)
	}
	if signer.lastDomain.Name != "USDC" {
		t.Errorf("Expected built-in domain name, got %s", signer.lastDomain.Name)
	}
}

func TestCreatePaymentPayloadErrors(t *testing.T) {
	t.Run("Unknown Network", func(t *testing.T) {
		scheme := NewExactEvmScheme(&mockSigner{address: testPayer})
		requirements := usdcRequirements()
		requirements.Network = "solana:mainnet"
		if _, err := scheme.CreatePaymentPayload(context.Background(), requirements); err == nil {
			t.Error("Expected error for non-EVM network")
		}
	})

	t.Run("Invalid Amount", func(t *testing.T) {
		scheme := NewExactEvmScheme(&mockSigner{address: testPayer})
		requirements := usdcRequirements()
		requirements.Amount = "0.01"
		if _, err := scheme.CreatePaymentPayload(context.Background(), requirements); err == nil {
			t.Error("Expected error for non-atomic amount")
		}
	})

	t.Run("Signer Failure", func(t *testing.T) {
		scheme := NewExactEvmScheme(&mockSigner{address: testPayer, signErr: fmt.Errorf("wallet locked")})
		if _, err := scheme.CreatePaymentPayload(context.Background(), usdcRequirements()); err == nil {
			t.Error("Expected signer error to propagate")
		}
	})

	t.Run("Missing Domain For Unlisted Network", func(t *testing.T) {
		scheme := NewExactEvmScheme(&mockSigner{address: testPayer})
		requirements := usdcRequirements()
		requirements.Network = "eip155:421614"
		requirements.Extra = nil
		if _, err := scheme.CreatePaymentPayload(context.Background(), requirements); err == nil {
			t.Error("Expected error when no EIP-712 domain parameters are available")
		}
	})
}
