package facilitator

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strconv"
	"strings"
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

type writeCall struct {
	address  string
	function string
	args     []interface{}
}

type mockSigner struct {
	addresses     []string
	verifyResult  bool
	verifyErr     error
	verifyDomain  evm.TypedDataDomain
	verifyPrimary string
	writeHash     string
	writeErr      error
	writeCalls    []writeCall
	receipt       *evm.TransactionReceipt
	receiptErr    error
	balance       *big.Int
	balanceErr    error
}

var _ evm.FacilitatorEvmSigner = (*mockSigner)(nil)

func newMockSigner() *mockSigner {
	return &mockSigner{
		addresses:    []string{"0x5fEe27Bd048E637ba0960d869cDE41eBf2cE9d9B"},
		verifyResult: true,
		writeHash:    "0x4aa1000000000000000000000000000000000000000000000000000000001bb2",
		receipt:      &evm.TransactionReceipt{Status: evm.TxStatusSuccess},
		balance:      big.NewInt(1_000_000_000),
	}
}

func (m *mockSigner) GetAddresses() []string {
	return m.addresses
}

func (m *mockSigner) ReadContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (interface{}, error) {
	return nil, errors.New("unexpected contract read")
}

func (m *mockSigner) VerifyTypedData(ctx context.Context, signerAddress string, domain evm.TypedDataDomain, types map[string][]evm.TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error) {
	m.verifyDomain = domain
	m.verifyPrimary = primaryType
	if m.verifyErr != nil {
		return false, m.verifyErr
	}
	return m.verifyResult, nil
}

func (m *mockSigner) WriteContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (string, error) {
	m.writeCalls = append(m.writeCalls, writeCall{address: address, function: functionName, args: args})
	if m.writeErr != nil {
		return "", m.writeErr
	}
	return m.writeHash, nil
}

func (m *mockSigner) SendRawTransaction(ctx context.Context, signedTx string) (string, error) {
	return "", errors.New("unexpected raw transaction")
}

func (m *mockSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	if m.receiptErr != nil {
		return nil, m.receiptErr
	}
	return m.receipt, nil
}

func (m *mockSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return m.balance, nil
}

func (m *mockSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	return nil, nil
}

func testRequirements() p402.PaymentRequirementsV1 {
	extra := json.RawMessage(`{"name":"USDC","version":"2"}`)
	return p402.PaymentRequirementsV1{
		Scheme:            evm.SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		Resource:          "https://api.example.com/weather",
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 60,
		Asset:             testUSDC,
		Extra:             &extra,
	}
}

func testPayload() p402.PaymentPayloadV1 {
	now := time.Now().Unix()
	evmPayload := &evm.ExactEIP3009Payload{
		Signature: "0x" + strings.Repeat("ab", 65),
		Authorization: evm.ExactEIP3009Authorization{
			From:        testPayer,
			To:          testPayTo,
			Value:       "10000",
			ValidAfter:  strconv.FormatInt(now-600, 10),
			ValidBefore: strconv.FormatInt(now+600, 10),
			Nonce:       "0x" + strings.Repeat("cd", 32),
		},
	}
	return p402.PaymentPayloadV1{
		ProtocolVersion: 1,
		Scheme:          evm.SchemeExact,
		Network:         "base-sepolia",
		Payload:         evmPayload.ToMap(),
	}
}

func setAuthorizationField(payload *p402.PaymentPayloadV1, field, value string) {
	payload.Payload["authorization"].(map[string]interface{})[field] = value
}

func TestVerify(t *testing.T) {
	signer := newMockSigner()
	scheme := NewExactEvmScheme(signer)

	resp, err := scheme.Verify(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("Expected valid payment, got reason %q", resp.InvalidReason)
	}
	if resp.Payer != testPayer {
		t.Errorf("Expected payer %s, got %s", testPayer, resp.Payer)
	}
	if signer.verifyPrimary != "TransferWithAuthorization" {
		t.Errorf("Expected TransferWithAuthorization primary type, got %s", signer.verifyPrimary)
	}
	if signer.verifyDomain.Name != "USDC" || signer.verifyDomain.Version != "2" {
		t.Errorf("Expected USDC/2 domain, got %s/%s", signer.verifyDomain.Name, signer.verifyDomain.Version)
	}
	if signer.verifyDomain.ChainID.Int64() != 84532 {
		t.Errorf("Expected chain id 84532, got %v", signer.verifyDomain.ChainID)
	}
}

func TestVerifyDomainFallback(t *testing.T) {
	signer := newMockSigner()
	scheme := NewExactEvmScheme(signer)
	requirements := testRequirements()
	requirements.Extra = nil

	resp, err := scheme.Verify(context.Background(), testPayload(), requirements)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("Expected registry fallback for default asset, got reason %q", resp.InvalidReason)
	}
	if signer.verifyDomain.Name != "USDC" || signer.verifyDomain.Version != "2" {
		t.Errorf("Expected USDC/2 domain from registry, got %s/%s", signer.verifyDomain.Name, signer.verifyDomain.Version)
	}
}

func TestVerifyRejections(t *testing.T) {
	now := time.Now().Unix()
	cases := []struct {
		name     string
		mutate   func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner)
		expected string
	}{
		{
			name: "Wrong Scheme",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				payload.Scheme = "stream"
			},
			expected: ErrInvalidScheme,
		},
		{
			name: "Network Mismatch",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				payload.Network = "base"
			},
			expected: ErrInvalidNetwork,
		},
		{
			name: "Unknown Network",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				payload.Network = "solana"
				requirements.Network = "solana"
			},
			expected: ErrInvalidNetwork,
		},
		{
			name: "Missing Signature",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				payload.Payload["signature"] = ""
			},
			expected: ErrMissingSignature,
		},
		{
			name: "Invalid Asset",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				requirements.Asset = "usdc"
			},
			expected: ErrInvalidAsset,
		},
		{
			name: "Missing Domain",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				requirements.Asset = "0x4200000000000000000000000000000000000006"
				requirements.Extra = nil
			},
			expected: ErrMissingDomain,
		},
		{
			name: "Recipient Mismatch",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				setAuthorizationField(payload, "to", testPayer)
			},
			expected: ErrRecipientMismatch,
		},
		{
			name: "Value Too Low",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				setAuthorizationField(payload, "value", "9999")
			},
			expected: ErrInvalidValue,
		},
		{
			name: "Expired Authorization",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				setAuthorizationField(payload, "validBefore", strconv.FormatInt(now-10, 10))
			},
			expected: ErrValidBeforeExpired,
		},
		{
			name: "Authorization Not Yet Valid",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				setAuthorizationField(payload, "validAfter", strconv.FormatInt(now+600, 10))
			},
			expected: ErrValidAfterInFuture,
		},
		{
			name: "Insufficient Funds",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				signer.balance = big.NewInt(9999)
			},
			expected: ErrInsufficientFunds,
		},
		{
			name: "Invalid Signature",
			mutate: func(payload *p402.PaymentPayloadV1, requirements *p402.PaymentRequirementsV1, signer *mockSigner) {
				signer.verifyResult = false
			},
			expected: ErrInvalidSignature,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signer := newMockSigner()
			scheme := NewExactEvmScheme(signer)
			payload := testPayload()
			requirements := testRequirements()
			tc.mutate(&payload, &requirements, signer)

			resp, err := scheme.Verify(context.Background(), payload, requirements)
			if err != nil {
				t.Fatalf("Verify returned error: %v", err)
			}
			if resp.IsValid {
				t.Fatal("Expected rejection")
			}
			if resp.InvalidReason != tc.expected {
				t.Errorf("Expected reason %q, got %q", tc.expected, resp.InvalidReason)
			}
		})
	}
}

func TestSettle(t *testing.T) {
	signer := newMockSigner()
	scheme := NewExactEvmScheme(signer)

	resp, err := scheme.Settle(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Expected settlement success, got reason %q", resp.ErrorReason)
	}
	if resp.Transaction != signer.writeHash {
		t.Errorf("Expected transaction %s, got %s", signer.writeHash, resp.Transaction)
	}
	if resp.Network != "base-sepolia" {
		t.Errorf("Expected network base-sepolia, got %s", resp.Network)
	}
	if resp.Payer != testPayer {
		t.Errorf("Expected payer %s, got %s", testPayer, resp.Payer)
	}

	if len(signer.writeCalls) != 1 {
		t.Fatalf("Expected one contract write, got %d", len(signer.writeCalls))
	}
	call := signer.writeCalls[0]
	if call.address != testUSDC {
		t.Errorf("Expected write against token %s, got %s", testUSDC, call.address)
	}
	if call.function != evm.FunctionTransferWithAuthorization {
		t.Errorf("Expected transferWithAuthorization, got %s", call.function)
	}
	if len(call.args) != 9 {
		t.Fatalf("Expected 9 arguments for the v/r/s variant, got %d", len(call.args))
	}
}

func TestSettleRejectsInvalid(t *testing.T) {
	signer := newMockSigner()
	signer.balance = big.NewInt(1)
	scheme := NewExactEvmScheme(signer)

	resp, err := scheme.Settle(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if resp.Success {
		t.Fatal("Expected settlement failure")
	}
	if resp.ErrorReason != ErrInsufficientFunds {
		t.Errorf("Expected reason %q, got %q", ErrInsufficientFunds, resp.ErrorReason)
	}
	if len(signer.writeCalls) != 0 {
		t.Errorf("Expected no contract writes after failed verification, got %d", len(signer.writeCalls))
	}
}

func TestSettleFailures(t *testing.T) {
	t.Run("Write Failure", func(t *testing.T) {
		signer := newMockSigner()
		signer.writeErr = errors.New("insufficient gas")
		scheme := NewExactEvmScheme(signer)

		resp, err := scheme.Settle(context.Background(), testPayload(), testRequirements())
		if err != nil {
			t.Fatalf("Settle returned error: %v", err)
		}
		if resp.Success {
			t.Fatal("Expected settlement failure")
		}
		if !strings.HasPrefix(resp.ErrorReason, "transaction_failed:") {
			t.Errorf("Expected transaction_failed reason, got %q", resp.ErrorReason)
		}
	})

	t.Run("Reverted Transaction", func(t *testing.T) {
		signer := newMockSigner()
		signer.receipt = &evm.TransactionReceipt{Status: evm.TxStatusFailed}
		scheme := NewExactEvmScheme(signer)

		resp, err := scheme.Settle(context.Background(), testPayload(), testRequirements())
		if err != nil {
			t.Fatalf("Settle returned error: %v", err)
		}
		if resp.Success || resp.ErrorReason != ErrTransactionState {
			t.Errorf("Expected %q, got success=%v reason=%q", ErrTransactionState, resp.Success, resp.ErrorReason)
		}
		if resp.Transaction != signer.writeHash {
			t.Errorf("Expected transaction hash to be reported, got %q", resp.Transaction)
		}
	})
}
