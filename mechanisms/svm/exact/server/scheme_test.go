package server

import (
	"context"
	"fmt"
	"testing"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/svm"
)

const testFeePayer = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func TestParsePrice(t *testing.T) {
	scheme := NewExactSvmScheme()

	tests := []struct {
		name       string
		price      p402.Price
		network    p402.Network
		wantAmount string
		wantAsset  string
		wantErr    bool
	}{
		{name: "Dollar String", price: "$0.01", network: p402.Network(svm.SolanaDevnetCAIP2), wantAmount: "10000", wantAsset: svm.USDCDevnetAddress},
		{name: "Plain Decimal", price: "0.5", network: p402.Network(svm.SolanaDevnetCAIP2), wantAmount: "500000", wantAsset: svm.USDCDevnetAddress},
		{name: "USD Suffix", price: "1.25 USD", network: p402.Network(svm.SolanaDevnetCAIP2), wantAmount: "1250000", wantAsset: svm.USDCDevnetAddress},
		{name: "USDC Suffix", price: "$2 USDC", network: p402.Network(svm.SolanaDevnetCAIP2), wantAmount: "2000000", wantAsset: svm.USDCDevnetAddress},
		{name: "Float Price", price: 0.01, network: p402.Network(svm.SolanaDevnetCAIP2), wantAmount: "10000", wantAsset: svm.USDCDevnetAddress},
		{name: "Legacy Network Name", price: "$0.01", network: p402.Network(svm.SolanaDevnetV1), wantAmount: "10000", wantAsset: svm.USDCDevnetAddress},
		{name: "Mainnet Default Asset", price: "$1", network: p402.Network(svm.SolanaMainnetCAIP2), wantAmount: "1000000", wantAsset: svm.USDCMainnetAddress},
		{name: "EVM Network", price: "$0.01", network: "eip155:84532", wantErr: true},
		{name: "Negative", price: "-1", network: p402.Network(svm.SolanaDevnetCAIP2), wantErr: true},
		{name: "Garbage", price: "one dollar", network: p402.Network(svm.SolanaDevnetCAIP2), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scheme.ParsePrice(tt.price, tt.network)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for price %v, got %+v", tt.price, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got.Amount != tt.wantAmount {
				t.Errorf("Expected amount %s, got %s", tt.wantAmount, got.Amount)
			}
			if got.Asset != tt.wantAsset {
				t.Errorf("Expected asset %s, got %s", tt.wantAsset, got.Asset)
			}
		})
	}

	t.Run("Asset Amount Passthrough", func(t *testing.T) {
		price := p402.AssetAmount{Amount: "12345", Asset: svm.USDCDevnetAddress}
		got, err := scheme.ParsePrice(price, p402.Network(svm.SolanaDevnetCAIP2))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.Amount != "12345" || got.Asset != svm.USDCDevnetAddress {
			t.Errorf("Expected passthrough, got %+v", got)
		}
	})

	t.Run("Asset Amount Without Asset", func(t *testing.T) {
		if _, err := scheme.ParsePrice(p402.AssetAmount{Amount: "1"}, p402.Network(svm.SolanaDevnetCAIP2)); err == nil {
			t.Error("Expected error for AssetAmount without asset")
		}
	})

	t.Run("Map Form", func(t *testing.T) {
		price := map[string]interface{}{"amount": "5000", "asset": svm.USDCMainnetAddress}
		got, err := scheme.ParsePrice(price, p402.Network(svm.SolanaMainnetCAIP2))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.Amount != "5000" || got.Asset != svm.USDCMainnetAddress {
			t.Errorf("Expected map passthrough, got %+v", got)
		}
	})

	t.Run("Map Form Default Asset", func(t *testing.T) {
		got, err := scheme.ParsePrice(map[string]interface{}{"amount": "5000"}, p402.Network(svm.SolanaDevnetCAIP2))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.Asset != svm.USDCDevnetAddress {
			t.Errorf("Expected default asset, got %s", got.Asset)
		}
	})

	t.Run("Map Form Missing Amount", func(t *testing.T) {
		if _, err := scheme.ParsePrice(map[string]interface{}{"asset": svm.USDCDevnetAddress}, p402.Network(svm.SolanaDevnetCAIP2)); err == nil {
			t.Error("Expected error for map price without amount")
		}
	})
}

func TestRegisterMoneyParser(t *testing.T) {
	custom := "So11111111111111111111111111111111111111112"
	scheme := NewExactSvmScheme().RegisterMoneyParser(func(amount float64, network p402.Network) (*p402.AssetAmount, error) {
		if network != p402.Network(svm.SolanaDevnetCAIP2) {
			return nil, nil
		}
		return &p402.AssetAmount{Amount: "42", Asset: custom}, nil
	})

	got, err := scheme.ParsePrice("$0.01", p402.Network(svm.SolanaDevnetCAIP2))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.Asset != custom || got.Amount != "42" {
		t.Errorf("Expected custom parser result, got %+v", got)
	}

	t.Run("Declining Parser Falls Through", func(t *testing.T) {
		got, err := scheme.ParsePrice("$0.01", p402.Network(svm.SolanaMainnetCAIP2))
		if err != nil {
			t.Fatalf("Expected fallback to default conversion, got %v", err)
		}
		if got.Asset != svm.USDCMainnetAddress {
			t.Errorf("Expected mainnet USDC, got %s", got.Asset)
		}
	})

	t.Run("Parser Error Fails Parse", func(t *testing.T) {
		failing := NewExactSvmScheme().RegisterMoneyParser(func(amount float64, network p402.Network) (*p402.AssetAmount, error) {
			return nil, fmt.Errorf("oracle unavailable")
		})
		if _, err := failing.ParsePrice("$0.01", p402.Network(svm.SolanaMainnetCAIP2)); err == nil {
			t.Fatal("Expected parser error to fail the parse instead of falling back")
		}
	})
}

func TestEnhancePaymentRequirements(t *testing.T) {
	scheme := NewExactSvmScheme()

	t.Run("Fills Default Asset", func(t *testing.T) {
		requirements := p402.PaymentRequirements{
			Scheme:  "exact",
			Network: p402.Network(svm.SolanaDevnetCAIP2),
			Amount:  "10000",
			PayTo:   testFeePayer,
		}

		enhanced, err := scheme.EnhancePaymentRequirements(context.Background(), requirements, p402.SupportedKind{}, nil)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if enhanced.Asset != svm.USDCDevnetAddress {
			t.Errorf("Expected default asset, got %s", enhanced.Asset)
		}
	})

	t.Run("Converts Decimal Amount", func(t *testing.T) {
		requirements := p402.PaymentRequirements{
			Scheme:  "exact",
			Network: p402.Network(svm.SolanaDevnetCAIP2),
			Amount:  "0.01",
		}

		enhanced, err := scheme.EnhancePaymentRequirements(context.Background(), requirements, p402.SupportedKind{}, nil)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if enhanced.Amount != "10000" {
			t.Errorf("Expected atomic amount 10000, got %s", enhanced.Amount)
		}
	})

	t.Run("Copies Fee Payer From Supported Kind", func(t *testing.T) {
		kind := p402.SupportedKind{
			Extra: map[string]interface{}{"feePayer": testFeePayer},
		}
		requirements := p402.PaymentRequirements{
			Scheme:  "exact",
			Network: p402.Network(svm.SolanaDevnetCAIP2),
			Amount:  "10000",
		}

		enhanced, err := scheme.EnhancePaymentRequirements(context.Background(), requirements, kind, nil)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if enhanced.Extra["feePayer"] != testFeePayer {
			t.Errorf("Expected fee payer copied, got %+v", enhanced.Extra)
		}
	})

	t.Run("Preserves Existing Extra", func(t *testing.T) {
		kind := p402.SupportedKind{
			Extra: map[string]interface{}{"feePayer": testFeePayer},
		}
		requirements := p402.PaymentRequirements{
			Scheme:  "exact",
			Network: p402.Network(svm.SolanaDevnetCAIP2),
			Amount:  "10000",
			Extra:   map[string]interface{}{"feePayer": "explicit"},
		}

		enhanced, err := scheme.EnhancePaymentRequirements(context.Background(), requirements, kind, nil)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if enhanced.Extra["feePayer"] != "explicit" {
			t.Errorf("Expected caller-set fee payer to survive, got %+v", enhanced.Extra)
		}
	})

	t.Run("Unknown Network", func(t *testing.T) {
		requirements := p402.PaymentRequirements{Scheme: "exact", Network: "eip155:1", Amount: "1"}
		if _, err := scheme.EnhancePaymentRequirements(context.Background(), requirements, p402.SupportedKind{}, nil); err == nil {
			t.Error("Expected error for unknown network")
		}
	})
}
