package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/evm"
)

const (
	testPayer = "0x857b06519E91e3A54538791bDbb0E22373e36b66"
	testPayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	testUSDC  = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

type mockSigner struct {
	address     string
	signErr     error
	lastDomain  evm.TypedDataDomain
	lastPrimary string
	lastMessage map[string]interface{}
}

var _ evm.ClientEvmSigner = (*mockSigner)(nil)

func (m *mockSigner) Address() string {
	return m.address
}

func (m *mockSigner) SignTypedData(ctx context.Context, domain evm.TypedDataDomain, types map[string][]evm.TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error) {
	m.lastDomain = domain
	m.lastPrimary = primaryType
	m.lastMessage = message
	if m.signErr != nil {
		return nil, m.signErr
	}
	return bytes.Repeat([]byte{0xab}, 65), nil
}

func (m *mockSigner) ReadContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (interface{}, error) {
	return nil, errors.New("unexpected contract read")
}

func legacyRequirements() p402.PaymentRequirementsV1 {
	extra := json.RawMessage(`{"name":"USDC","version":"2"}`)
	return p402.PaymentRequirementsV1{
		Scheme:            evm.SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		Resource:          "https://api.example.com/weather",
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 300,
		Asset:             testUSDC,
		Extra:             &extra,
	}
}

func TestCreatePaymentPayload(t *testing.T) {
	signer := &mockSigner{address: testPayer}
	scheme := NewExactEvmScheme(signer)

	payload, err := scheme.CreatePaymentPayload(context.Background(), legacyRequirements())
	if err != nil {
		t.Fatalf("CreatePaymentPayload returned error: %v", err)
	}

	if payload.ProtocolVersion != 1 {
		t.Errorf("Expected protocol version 1, got %d", payload.ProtocolVersion)
	}
	if payload.Scheme != "exact" || payload.Network != "base-sepolia" {
		t.Errorf("Expected exact/base-sepolia at top level, got %s/%s", payload.Scheme, payload.Network)
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		t.Fatalf("Failed to parse inner payload: %v", err)
	}
	auth := evmPayload.Authorization
	if auth.From != testPayer {
		t.Errorf("Expected from %s, got %s", testPayer, auth.From)
	}
	if auth.To != testPayTo {
		t.Errorf("Expected to %s, got %s", testPayTo, auth.To)
	}
	if auth.Value != "10000" {
		t.Errorf("Expected value 10000, got %s", auth.Value)
	}
	if len(auth.Nonce) != 66 {
		t.Errorf("Expected 32-byte hex nonce, got %q", auth.Nonce)
	}
	if len(evmPayload.Signature) != 132 {
		t.Errorf("Expected 65-byte hex signature, got %d chars", len(evmPayload.Signature))
	}

	validAfter, _ := strconv.ParseInt(auth.ValidAfter, 10, 64)
	validBefore, _ := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if validBefore-validAfter != 600+300 {
		t.Errorf("Expected a 900 second window, got %d", validBefore-validAfter)
	}
	now := time.Now().Unix()
	if validAfter > now || validBefore < now {
		t.Errorf("Expected window to cover now, got [%d, %d] at %d", validAfter, validBefore, now)
	}

	if signer.lastPrimary != "TransferWithAuthorization" {
		t.Errorf("Expected TransferWithAuthorization primary type, got %s", signer.lastPrimary)
	}
	if signer.lastDomain.Name != "USDC" || signer.lastDomain.Version != "2" {
		t.Errorf("Expected USDC/2 domain, got %s/%s", signer.lastDomain.Name, signer.lastDomain.Version)
	}
	if signer.lastDomain.ChainID.Int64() != 84532 {
		t.Errorf("Expected chain id 84532, got %v", signer.lastDomain.ChainID)
	}
	if signer.lastDomain.VerifyingContract != testUSDC {
		t.Errorf("Expected verifying contract %s, got %s", testUSDC, signer.lastDomain.VerifyingContract)
	}

	t.Run("Exotic Network With Extra Domain", func(t *testing.T) {
		requirements := legacyRequirements()
		requirements.Network = "iotex"

		payload, err := scheme.CreatePaymentPayload(context.Background(), requirements)
		if err != nil {
			t.Fatalf("CreatePaymentPayload returned error: %v", err)
		}
		if payload.Network != "iotex" {
			t.Errorf("Expected network iotex, got %s", payload.Network)
		}
		if signer.lastDomain.ChainID.Int64() != 4689 {
			t.Errorf("Expected chain id 4689, got %v", signer.lastDomain.ChainID)
		}
	})
}

func TestCreatePaymentPayloadDomainFallback(t *testing.T) {
	signer := &mockSigner{address: testPayer}
	scheme := NewExactEvmScheme(signer)
	requirements := legacyRequirements()
	requirements.Extra = nil

	if _, err := scheme.CreatePaymentPayload(context.Background(), requirements); err != nil {
		t.Fatalf("CreatePaymentPayload returned error: %v", err)
	}
	if signer.lastDomain.Name != "USDC" || signer.lastDomain.Version != "2" {
		t.Errorf("Expected USDC/2 domain from registry, got %s/%s", signer.lastDomain.Name, signer.lastDomain.Version)
	}
}

func TestCreatePaymentPayloadDefaultTimeout(t *testing.T) {
	signer := &mockSigner{address: testPayer}
	scheme := NewExactEvmScheme(signer)
	requirements := legacyRequirements()
	requirements.MaxTimeoutSeconds = 0

	payload, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	if err != nil {
		t.Fatalf("CreatePaymentPayload returned error: %v", err)
	}
	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		t.Fatalf("Failed to parse inner payload: %v", err)
	}
	validAfter, _ := strconv.ParseInt(evmPayload.Authorization.ValidAfter, 10, 64)
	validBefore, _ := strconv.ParseInt(evmPayload.Authorization.ValidBefore, 10, 64)
	if validBefore-validAfter != 1200 {
		t.Errorf("Expected a 1200 second window with the default timeout, got %d", validBefore-validAfter)
	}
}

func TestCreatePaymentPayloadErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(requirements *p402.PaymentRequirementsV1, signer *mockSigner)
	}{
		{
			name: "Caip Network Rejected",
			mutate: func(requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				requirements.Network = "eip155:84532"
			},
		},
		{
			name: "Invalid Amount",
			mutate: func(requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				requirements.MaxAmountRequired = "0.01"
			},
		},
		{
			name: "Invalid Asset",
			mutate: func(requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				requirements.Asset = "usdc"
			},
		},
		{
			name: "Missing Domain",
			mutate: func(requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				requirements.Asset = "0x4200000000000000000000000000000000000006"
				requirements.Extra = nil
			},
		},
		{
			name: "Signer Failure",
			mutate: func(requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				signer.signErr = errors.New("keystore locked")
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signer := &mockSigner{address: testPayer}
			scheme := NewExactEvmScheme(signer)
			requirements := legacyRequirements()
			tc.mutate(&requirements, signer)

			if _, err := scheme.CreatePaymentPayload(context.Background(), requirements); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
