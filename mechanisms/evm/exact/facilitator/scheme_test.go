package facilitator

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

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

type mockFacilitatorSigner struct {
	addresses []string

	readResults map[string]interface{}
	readErrs    map[string]error
	readCalls   []string

	verifyResult  bool
	verifyErr     error
	verifySigner  string
	verifyDomain  evm.TypedDataDomain
	verifyPrimary string

	writeHash  string
	writeErr   error
	writeCalls []writeCall

	sendHash   string
	sendErr    error
	sentRawTxs []string

	receipt    *evm.TransactionReceipt
	receiptErr error

	balance    *big.Int
	balanceErr error

	code    []byte
	codeErr error
}

var _ evm.FacilitatorEvmSigner = (*mockFacilitatorSigner)(nil)

func newMockFacilitatorSigner() *mockFacilitatorSigner {
	return &mockFacilitatorSigner{
		addresses: []string{"0x5fEe27Bd048E637ba0960d869cDE41eBf2cE9d9B"},
		readResults: map[string]interface{}{
			evm.FunctionAuthorizationState: false,
			"allowance":                    evm.MaxUint256(),
		},
		verifyResult: true,
		writeHash:    "0x9f51b0f8b57e16f6988a00000000000000000000000000000000000000dead00",
		sendHash:     "0x1c22ecc0a1b9c00cbe6f00000000000000000000000000000000000000beef00",
		receipt:      &evm.TransactionReceipt{Status: evm.TxStatusSuccess},
		balance:      big.NewInt(1_000_000_000),
	}
}

func (m *mockFacilitatorSigner) GetAddresses() []string {
	return m.addresses
}

func (m *mockFacilitatorSigner) ReadContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (interface{}, error) {
	m.readCalls = append(m.readCalls, functionName)
	if err, ok := m.readErrs[functionName]; ok {
		return nil, err
	}
	return m.readResults[functionName], nil
}

func (m *mockFacilitatorSigner) VerifyTypedData(ctx context.Context, signerAddress string, domain evm.TypedDataDomain, types map[string][]evm.TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error) {
	m.verifySigner = signerAddress
	m.verifyDomain = domain
	m.verifyPrimary = primaryType
	if m.verifyErr != nil {
		return false, m.verifyErr
	}
	return m.verifyResult, nil
}

func (m *mockFacilitatorSigner) WriteContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (string, error) {
	m.writeCalls = append(m.writeCalls, writeCall{address: address, function: functionName, args: args})
	if m.writeErr != nil {
		return "", m.writeErr
	}
	return m.writeHash, nil
}

func (m *mockFacilitatorSigner) SendRawTransaction(ctx context.Context, signedTx string) (string, error) {
	m.sentRawTxs = append(m.sentRawTxs, signedTx)
	if m.sendErr != nil {
		return "", m.sendErr
	}
	return m.sendHash, nil
}

func (m *mockFacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	if m.receiptErr != nil {
		return nil, m.receiptErr
	}
	return m.receipt, nil
}

func (m *mockFacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return m.balance, nil
}

func (m *mockFacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	if m.codeErr != nil {
		return nil, m.codeErr
	}
	return m.code, nil
}

func testRequirements() p402.PaymentRequirements {
	return p402.PaymentRequirements{
		Scheme:            evm.SchemeExact,
		Network:           "eip155:84532",
		Amount:            "10000",
		Asset:             testUSDC,
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 60,
	}
}

func testAuthorization() evm.ExactEIP3009Authorization {
	now := time.Now().Unix()
	return evm.ExactEIP3009Authorization{
		From:        testPayer,
		To:          testPayTo,
		Value:       "10000",
		ValidAfter:  strconv.FormatInt(now-600, 10),
		ValidBefore: strconv.FormatInt(now+600, 10),
		Nonce:       "0x" + strings.Repeat("cd", 32),
	}
}

func wirePayload(evmPayload *evm.ExactEIP3009Payload, accepted p402.PaymentRequirements) p402.PaymentPayload {
	return p402.PaymentPayload{
		ProtocolVersion: p402.ProtocolVersion,
		Payload:         evmPayload.ToMap(),
		Accepted:        accepted,
	}
}

func TestSchemeMetadata(t *testing.T) {
	signer := newMockFacilitatorSigner()
	scheme := NewExactEvmScheme(signer)

	if scheme.Scheme() != "exact" {
		t.Errorf("Expected scheme exact, got %s", scheme.Scheme())
	}
	if scheme.CaipFamily() != "eip155:*" {
		t.Errorf("Expected CAIP family eip155:*, got %s", scheme.CaipFamily())
	}
	signers := scheme.GetSigners("eip155:84532")
	if len(signers) != 1 || signers[0] != signer.addresses[0] {
		t.Errorf("Expected signer addresses %v, got %v", signer.addresses, signers)
	}
	if scheme.GetExtra("eip155:84532") != nil {
		t.Error("Expected no kind extra for exact EVM")
	}
}

func TestVerify(t *testing.T) {
	signer := newMockFacilitatorSigner()
	scheme := NewExactEvmScheme(signer)
	requirements := testRequirements()
	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     "0x" + strings.Repeat("ab", 65),
		Authorization: testAuthorization(),
	}

	resp, err := scheme.Verify(context.Background(), wirePayload(evmPayload, requirements), requirements)
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
	if signer.verifySigner != testPayer {
		t.Errorf("Expected signature check against %s, got %s", testPayer, signer.verifySigner)
	}
	if signer.verifyDomain.Name != "USDC" || signer.verifyDomain.Version != "2" {
		t.Errorf("Expected USDC/2 domain, got %s/%s", signer.verifyDomain.Name, signer.verifyDomain.Version)
	}
	if signer.verifyDomain.ChainID.Int64() != 84532 {
		t.Errorf("Expected chain id 84532, got %v", signer.verifyDomain.ChainID)
	}
	if signer.verifyDomain.VerifyingContract != testUSDC {
		t.Errorf("Expected verifying contract %s, got %s", testUSDC, signer.verifyDomain.VerifyingContract)
	}

	nonceChecked := false
	for _, call := range signer.readCalls {
		if call == evm.FunctionAuthorizationState {
			nonceChecked = true
		}
	}
	if !nonceChecked {
		t.Error("Expected an authorizationState read")
	}
}

func TestVerifyRejections(t *testing.T) {
	now := time.Now().Unix()
	cases := []struct {
		name     string
		mutate   func(p *evm.ExactEIP3009Payload, req *p402.PaymentRequirements, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner)
		expected string
	}{
		{
			name: "Wrong Scheme",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				req.Scheme = "stream"
			},
			expected: ErrInvalidScheme,
		},
		{
			name: "Network Mismatch",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				req.Network = "eip155:8453"
			},
			expected: ErrNetworkMismatch,
		},
		{
			name: "Unknown Network",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				req.Network = "eip155:999999"
				accepted.Network = "eip155:999999"
			},
			expected: ErrFailedToGetNetworkConfig,
		},
		{
			name: "Missing Signature",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				p.Signature = ""
			},
			expected: ErrMissingSignature,
		},
		{
			name: "Recipient Mismatch",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				p.Authorization.To = testPayer
			},
			expected: ErrRecipientMismatch,
		},
		{
			name: "Invalid Authorization Value",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				p.Authorization.Value = "ten"
			},
			expected: ErrInvalidAuthorizationValue,
		},
		{
			name: "Insufficient Amount",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				p.Authorization.Value = "9999"
			},
			expected: ErrInsufficientAmount,
		},
		{
			name: "Expired Authorization",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				p.Authorization.ValidBefore = strconv.FormatInt(now-10, 10)
			},
			expected: ErrValidBeforeExpired,
		},
		{
			name: "Authorization Not Yet Valid",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				p.Authorization.ValidAfter = strconv.FormatInt(now+600, 10)
			},
			expected: ErrValidAfterInFuture,
		},
		{
			name: "Malformed Nonce",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				p.Authorization.Nonce = "0x1234"
			},
			expected: ErrInvalidPayload,
		},
		{
			name: "Nonce Already Used",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				signer.readResults[evm.FunctionAuthorizationState] = true
			},
			expected: ErrNonceAlreadyUsed,
		},
		{
			name: "Nonce Check Failure",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				signer.readErrs = map[string]error{evm.FunctionAuthorizationState: errors.New("rpc unavailable")}
			},
			expected: ErrFailedToCheckNonce,
		},
		{
			name: "Insufficient Balance",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				signer.balance = big.NewInt(9999)
			},
			expected: ErrInsufficientBalance,
		},
		{
			name: "Invalid Signature",
			mutate: func(p *evm.ExactEIP3009Payload, req, accepted *p402.PaymentRequirements, signer *mockFacilitatorSigner) {
				signer.verifyResult = false
			},
			expected: ErrInvalidSignature,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signer := newMockFacilitatorSigner()
			scheme := NewExactEvmScheme(signer)
			requirements := testRequirements()
			accepted := testRequirements()
			evmPayload := &evm.ExactEIP3009Payload{
				Signature:     "0x" + strings.Repeat("ab", 65),
				Authorization: testAuthorization(),
			}
			tc.mutate(evmPayload, &requirements, &accepted, signer)

			resp, err := scheme.Verify(context.Background(), wirePayload(evmPayload, accepted), requirements)
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

func TestVerifyUnsupportedPayload(t *testing.T) {
	signer := newMockFacilitatorSigner()
	scheme := NewExactEvmScheme(signer)
	requirements := testRequirements()
	payload := p402.PaymentPayload{
		ProtocolVersion: p402.ProtocolVersion,
		Payload:         map[string]interface{}{"voucher": "none"},
		Accepted:        requirements,
	}

	resp, err := scheme.Verify(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if resp.IsValid || resp.InvalidReason != ErrUnsupportedPayloadType {
		t.Errorf("Expected %q, got valid=%v reason=%q", ErrUnsupportedPayloadType, resp.IsValid, resp.InvalidReason)
	}
}

func TestVerifyDomainOverrides(t *testing.T) {
	signer := newMockFacilitatorSigner()
	scheme := NewExactEvmScheme(signer)
	requirements := testRequirements()
	requirements.Extra = map[string]interface{}{"name": "Bridged USDC", "version": "1"}
	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     "0x" + strings.Repeat("ab", 65),
		Authorization: testAuthorization(),
	}

	resp, err := scheme.Verify(context.Background(), wirePayload(evmPayload, requirements), requirements)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("Expected valid payment, got reason %q", resp.InvalidReason)
	}
	if signer.verifyDomain.Name != "Bridged USDC" || signer.verifyDomain.Version != "1" {
		t.Errorf("Expected overridden domain Bridged USDC/1, got %s/%s", signer.verifyDomain.Name, signer.verifyDomain.Version)
	}
}

func TestSettle(t *testing.T) {
	signer := newMockFacilitatorSigner()
	scheme := NewExactEvmScheme(signer)
	requirements := testRequirements()
	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     "0x" + strings.Repeat("ab", 65),
		Authorization: testAuthorization(),
	}

	resp, err := scheme.Settle(context.Background(), wirePayload(evmPayload, requirements), requirements)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Expected settlement success, got reason %q", resp.ErrorReason)
	}
	if resp.Transaction != signer.writeHash {
		t.Errorf("Expected transaction %s, got %s", signer.writeHash, resp.Transaction)
	}
	if resp.Network != requirements.Network {
		t.Errorf("Expected network %s, got %s", requirements.Network, resp.Network)
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
	// EOA path uses the v/r/s variant.
	if len(call.args) != 9 {
		t.Fatalf("Expected 9 arguments for the v/r/s variant, got %d", len(call.args))
	}
	if from, ok := call.args[0].(common.Address); !ok || from != common.HexToAddress(testPayer) {
		t.Errorf("Expected from argument %s, got %v", testPayer, call.args[0])
	}
	if _, ok := call.args[6].(uint8); !ok {
		t.Errorf("Expected uint8 recovery id argument, got %T", call.args[6])
	}
}

func TestSettleSmartWallet(t *testing.T) {
	signer := newMockFacilitatorSigner()
	signer.code = []byte{0x60, 0x80, 0x60, 0x40}
	scheme := NewExactEvmScheme(signer)
	requirements := testRequirements()
	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     "0x" + strings.Repeat("ab", 65),
		Authorization: testAuthorization(),
	}

	resp, err := scheme.Settle(context.Background(), wirePayload(evmPayload, requirements), requirements)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Expected settlement success, got reason %q", resp.ErrorReason)
	}

	call := signer.writeCalls[0]
	// Deployed wallets get the raw bytes variant so EIP-1271 checks run.
	if len(call.args) != 7 {
		t.Fatalf("Expected 7 arguments for the bytes variant, got %d", len(call.args))
	}
	sig, ok := call.args[6].([]byte)
	if !ok || len(sig) != 65 {
		t.Errorf("Expected 65-byte signature argument, got %v", call.args[6])
	}
}

func TestSettleRejectsInvalid(t *testing.T) {
	signer := newMockFacilitatorSigner()
	signer.balance = big.NewInt(1)
	scheme := NewExactEvmScheme(signer)
	requirements := testRequirements()
	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     "0x" + strings.Repeat("ab", 65),
		Authorization: testAuthorization(),
	}

	resp, err := scheme.Settle(context.Background(), wirePayload(evmPayload, requirements), requirements)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if resp.Success {
		t.Fatal("Expected settlement failure")
	}
	if resp.ErrorReason != ErrInsufficientBalance {
		t.Errorf("Expected reason %q, got %q", ErrInsufficientBalance, resp.ErrorReason)
	}
	if len(signer.writeCalls) != 0 {
		t.Errorf("Expected no contract writes after failed verification, got %d", len(signer.writeCalls))
	}
}

func TestSettleFailures(t *testing.T) {
	t.Run("Write Failure", func(t *testing.T) {
		signer := newMockFacilitatorSigner()
		signer.writeErr = errors.New("nonce too low")
		scheme := NewExactEvmScheme(signer)
		requirements := testRequirements()
		evmPayload := &evm.ExactEIP3009Payload{
			Signature:     "0x" + strings.Repeat("ab", 65),
			Authorization: testAuthorization(),
		}

		resp, err := scheme.Settle(context.Background(), wirePayload(evmPayload, requirements), requirements)
		if err != nil {
			t.Fatalf("Settle returned error: %v", err)
		}
		if resp.Success || resp.ErrorReason != ErrFailedToExecuteTransfer {
			t.Errorf("Expected %q, got success=%v reason=%q", ErrFailedToExecuteTransfer, resp.Success, resp.ErrorReason)
		}
	})

	t.Run("Receipt Failure", func(t *testing.T) {
		signer := newMockFacilitatorSigner()
		signer.receiptErr = errors.New("timeout waiting for receipt")
		scheme := NewExactEvmScheme(signer)
		requirements := testRequirements()
		evmPayload := &evm.ExactEIP3009Payload{
			Signature:     "0x" + strings.Repeat("ab", 65),
			Authorization: testAuthorization(),
		}

		resp, err := scheme.Settle(context.Background(), wirePayload(evmPayload, requirements), requirements)
		if err != nil {
			t.Fatalf("Settle returned error: %v", err)
		}
		if resp.Success || resp.ErrorReason != ErrFailedToGetReceipt {
			t.Errorf("Expected %q, got success=%v reason=%q", ErrFailedToGetReceipt, resp.Success, resp.ErrorReason)
		}
		if resp.Transaction != signer.writeHash {
			t.Errorf("Expected transaction hash to be reported, got %q", resp.Transaction)
		}
	})

	t.Run("Reverted Transaction", func(t *testing.T) {
		signer := newMockFacilitatorSigner()
		signer.receipt = &evm.TransactionReceipt{Status: evm.TxStatusFailed}
		scheme := NewExactEvmScheme(signer)
		requirements := testRequirements()
		evmPayload := &evm.ExactEIP3009Payload{
			Signature:     "0x" + strings.Repeat("ab", 65),
			Authorization: testAuthorization(),
		}

		resp, err := scheme.Settle(context.Background(), wirePayload(evmPayload, requirements), requirements)
		if err != nil {
			t.Fatalf("Settle returned error: %v", err)
		}
		if resp.Success || resp.ErrorReason != ErrTransactionFailed {
			t.Errorf("Expected %q, got success=%v reason=%q", ErrTransactionFailed, resp.Success, resp.ErrorReason)
		}
	})
}
