package client

import (
	"bytes"
	"context"
	"testing"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/svm"
)

type mockSigner struct {
	key    solana.PublicKey
	signed bool
}

func (s *mockSigner) Address() solana.PublicKey {
	return s.key
}

func (s *mockSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	s.signed = true
	return nil
}

type mockRPC struct {
	mintOwner solana.PublicKey
	calls     int
}

func (m *mockRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	m.calls++
	mint := token.Mint{Decimals: 6, IsInitialized: true}
	buf := new(bytes.Buffer)
	if err := bin.NewBinEncoder(buf).Encode(&mint); err != nil {
		return nil, err
	}
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{
			Owner: m.mintOwner,
			Data:  rpc.DataBytesOrJSONFromBytes(buf.Bytes()),
		},
	}, nil
}

func (m *mockRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash: solana.Hash{1, 2, 3},
		},
	}, nil
}

func testRequirements(feePayer string) p402.PaymentRequirements {
	extra := map[string]interface{}{}
	if feePayer != "" {
		extra["feePayer"] = feePayer
	}
	return p402.PaymentRequirements{
		Scheme:            svm.SchemeExact,
		Network:           p402.Network(svm.SolanaDevnetCAIP2),
		Amount:            "10000",
		Asset:             svm.USDCDevnetAddress,
		PayTo:             solana.NewWallet().PublicKey().String(),
		MaxTimeoutSeconds: 300,
		Extra:             extra,
	}
}

func TestCreatePaymentPayload(t *testing.T) {
	signer := &mockSigner{key: solana.NewWallet().PublicKey()}
	feePayer := solana.NewWallet().PublicKey()
	mock := &mockRPC{mintOwner: solana.TokenProgramID}
	scheme := NewExactSvmScheme(signer, &svm.ClientConfig{RPC: mock})

	payload, err := scheme.CreatePaymentPayload(context.Background(), testRequirements(feePayer.String()))
	if err != nil {
		t.Fatalf("CreatePaymentPayload failed: %v", err)
	}
	if payload.ProtocolVersion != 2 {
		t.Errorf("Expected protocol version 2, got %d", payload.ProtocolVersion)
	}
	if !signer.signed {
		t.Error("Expected the signer to be asked for the owner signature")
	}

	svmPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		t.Fatalf("Payload map missing transaction: %v", err)
	}
	tx, err := svm.DecodeTransaction(svmPayload.Transaction)
	if err != nil {
		t.Fatalf("Transaction did not round-trip: %v", err)
	}
	if len(tx.Message.Instructions) != 3 {
		t.Errorf("Expected 3 instructions, got %d", len(tx.Message.Instructions))
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(feePayer) {
		t.Error("Expected the facilitator fee payer in the fee payer slot")
	}
}

func TestCreatePaymentPayloadUnsupportedNetwork(t *testing.T) {
	scheme := NewExactSvmScheme(&mockSigner{key: solana.NewWallet().PublicKey()})

	requirements := testRequirements(solana.NewWallet().PublicKey().String())
	requirements.Network = "eip155:8453"
	if _, err := scheme.CreatePaymentPayload(context.Background(), requirements); err == nil {
		t.Fatal("Expected error for unsupported network")
	}
}

func TestCreatePaymentPayloadMissingFeePayer(t *testing.T) {
	mock := &mockRPC{mintOwner: solana.TokenProgramID}
	scheme := NewExactSvmScheme(&mockSigner{key: solana.NewWallet().PublicKey()}, &svm.ClientConfig{RPC: mock})

	if _, err := scheme.CreatePaymentPayload(context.Background(), testRequirements("")); err == nil {
		t.Fatal("Expected error when requirements carry no fee payer")
	}
}

func TestCreatePaymentPayloadUnknownTokenProgram(t *testing.T) {
	mock := &mockRPC{mintOwner: solana.SystemProgramID}
	scheme := NewExactSvmScheme(&mockSigner{key: solana.NewWallet().PublicKey()}, &svm.ClientConfig{RPC: mock})

	requirements := testRequirements(solana.NewWallet().PublicKey().String())
	if _, err := scheme.CreatePaymentPayload(context.Background(), requirements); err == nil {
		t.Fatal("Expected error for a mint outside the token programs")
	}
}
