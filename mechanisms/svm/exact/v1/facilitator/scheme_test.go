package facilitator

import (
	"context"
	"testing"

	solana "github.com/gagliardetto/solana-go"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/svm"
)

type mockFacilitatorSigner struct {
	addresses []solana.PublicKey
	networks  []string
}

var _ svm.FacilitatorSvmSigner = (*mockFacilitatorSigner)(nil)

func (m *mockFacilitatorSigner) GetAddresses(ctx context.Context, network string) []solana.PublicKey {
	m.networks = append(m.networks, network)
	return m.addresses
}

func (m *mockFacilitatorSigner) SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error {
	return nil
}

func (m *mockFacilitatorSigner) SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error {
	return nil
}

func (m *mockFacilitatorSigner) SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error) {
	return solana.Signature{}, nil
}

func (m *mockFacilitatorSigner) ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error {
	return nil
}

func TestGetExtraNormalizesNetwork(t *testing.T) {
	feePayer := solana.NewWallet().PublicKey()
	signer := &mockFacilitatorSigner{addresses: []solana.PublicKey{feePayer}}
	scheme := NewExactSvmScheme(signer)

	extra := scheme.GetExtra(p402.Network(svm.SolanaDevnetV1))
	if extra == nil || extra["feePayer"] != feePayer.String() {
		t.Fatalf("Expected fee payer %s, got %v", feePayer, extra)
	}
	if len(signer.networks) != 1 || signer.networks[0] != svm.SolanaDevnetCAIP2 {
		t.Errorf("Expected signer to be asked for %s, got %v", svm.SolanaDevnetCAIP2, signer.networks)
	}
}

func TestGetExtraUnknownNetwork(t *testing.T) {
	scheme := NewExactSvmScheme(&mockFacilitatorSigner{})
	if extra := scheme.GetExtra("base"); extra != nil {
		t.Errorf("Expected nil extra for unknown network, got %v", extra)
	}
}

func TestVerifyRejectsUnknownNetwork(t *testing.T) {
	scheme := NewExactSvmScheme(&mockFacilitatorSigner{})

	payload := p402.PaymentPayloadV1{
		ProtocolVersion: 1,
		Scheme:          svm.SchemeExact,
		Network:         "not-solana",
		Payload:         map[string]interface{}{"transaction": "AA=="},
	}
	requirements := p402.PaymentRequirementsV1{
		Scheme:            svm.SchemeExact,
		Network:           "not-solana",
		MaxAmountRequired: "10000",
		Asset:             svm.USDCDevnetAddress,
		PayTo:             solana.NewWallet().PublicKey().String(),
	}

	resp, err := scheme.Verify(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if resp.IsValid {
		t.Fatal("Expected invalid result for unknown network")
	}
	if resp.InvalidReason != "invalid_network" {
		t.Errorf("Expected invalid_network, got %s", resp.InvalidReason)
	}
}

func TestSettleKeepsLegacyNetworkName(t *testing.T) {
	scheme := NewExactSvmScheme(&mockFacilitatorSigner{})

	payload := p402.PaymentPayloadV1{
		ProtocolVersion: 1,
		Scheme:          svm.SchemeExact,
		Network:         svm.SolanaDevnetV1,
		Payload:         map[string]interface{}{"transaction": "AA=="},
	}
	requirements := p402.PaymentRequirementsV1{
		Scheme:            svm.SchemeExact,
		Network:           svm.SolanaDevnetV1,
		MaxAmountRequired: "10000",
		Asset:             svm.USDCDevnetAddress,
		PayTo:             solana.NewWallet().PublicKey().String(),
	}

	// No fee payer in extra, so this fails inside the inner scheme; the
	// point is that the failure response still names the legacy network.
	resp, err := scheme.Settle(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if resp.Success {
		t.Fatal("Expected settlement failure")
	}
	if string(resp.Network) != svm.SolanaDevnetV1 {
		t.Errorf("Expected legacy network %s in response, got %s", svm.SolanaDevnetV1, resp.Network)
	}
}
