package server

import (
	"context"
	"errors"
	"fmt"
	"testing"

	p402 "github.com/p402-io/p402"
)

const baseSepoliaUSDC = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

func TestParsePrice(t *testing.T) {
	scheme := NewExactEvmScheme()

	tests := []struct {
		name       string
		price      p402.Price
		network    p402.Network
		wantAmount string
		wantAsset  string
		wantErr    bool
	}{
		{name: "Dollar String", price: "$0.01", network: "eip155:84532", wantAmount: "10000", wantAsset: baseSepoliaUSDC},
		{name: "Plain Decimal", price: "0.5", network: "eip155:84532", wantAmount: "500000", wantAsset: baseSepoliaUSDC},
		{name: "USD Suffix", price: "1.25 USD", network: "eip155:84532", wantAmount: "1250000", wantAsset: baseSepoliaUSDC},
		{name: "USDC Suffix", price: "$2 USDC", network: "eip155:84532", wantAmount: "2000000", wantAsset: baseSepoliaUSDC},
		{name: "Float Price", price: 0.01, network: "eip155:84532", wantAmount: "10000", wantAsset: baseSepoliaUSDC},
		{name: "Legacy Network Name", price: "$0.01", network: "base-sepolia", wantAmount: "10000", wantAsset: baseSepoliaUSDC},
		{name: "Unknown Network", price: "$0.01", network: "eip155:999999", wantErr: true},
		{name: "Negative", price: "-1", network: "eip155:84532", wantErr: true},
		{name: "Garbage", price: "one dollar", network: "eip155:84532", wantErr: true},
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
		price := p402.AssetAmount{Amount: "12345", Asset: baseSepoliaUSDC}
		got, err := scheme.ParsePrice(price, "eip155:84532")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.Amount != "12345" || got.Asset != baseSepoliaUSDC {
			t.Errorf("Expected passthrough, got %+v", got)
		}
	})

	t.Run("Asset Amount Without Asset", func(t *testing.T) {
		if _, err := scheme.ParsePrice(p402.AssetAmount{Amount: "1"}, "eip155:84532"); err == nil {
			t.Error("Expected error for AssetAmount without asset")
		}
	})

	t.Run("Map Form", func(t *testing.T) {
		price := map[string]interface{}{"amount": "5000", "asset": baseSepoliaUSDC}
		got, err := scheme.ParsePrice(price, "eip155:84532")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.Amount != "5000" || got.Asset != baseSepoliaUSDC {
			t.Errorf("Expected map passthrough, got %+v", got)
		}
	})

	t.Run("Map Form Default Asset", func(t *testing.T) {
		got, err := scheme.ParsePrice(map[string]interface{}{"amount": "5000"}, "eip155:84532")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.Asset != baseSepoliaUSDC {
			t.Errorf("Expected default asset, got %s", got.Asset)
		}
	})

	t.Run("Domain Extra", func(t *testing.T) {
		got, err := scheme.ParsePrice("$0.01", "eip155:84532")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.Extra["name"] != "USDC" || got.Extra["version"] != "2" {
			t.Errorf("Expected EIP-712 domain extra, got %+v", got.Extra)
		}
	})
}

func TestRegisterMoneyParser(t *testing.T) {
	custom := "0x4200000000000000000000000000000000000099"
	scheme := NewExactEvmScheme().RegisterMoneyParser(func(amount float64, network p402.Network) (*p402.AssetAmount, error) {
		if network != "eip155:84532" {
			return nil, nil
		}
		return &p402.AssetAmount{Amount: "42", Asset: custom}, nil
	})

	got, err := scheme.ParsePrice("$0.01", "eip155:84532")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.Asset != custom || got.Amount != "42" {
		t.Errorf("Expected custom parser result, got %+v", got)
	}

	t.Run("Declining Parser Falls Through", func(t *testing.T) {
		got, err := scheme.ParsePrice("$0.01", "eip155:8453")
		if err != nil {
			t.Fatalf("Expected fallback to default conversion, got %v", err)
		}
		if got.Asset != "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913" {
			t.Errorf("Expected Base USDC, got %s", got.Asset)
		}
	})
}

func TestMoneyParserErrorFailsParse(t *testing.T) {
	parserErr := fmt.Errorf("oracle unavailable")
	scheme := NewExactEvmScheme().RegisterMoneyParser(func(amount float64, network p402.Network) (*p402.AssetAmount, error) {
		return nil, parserErr
	})

	_, err := scheme.ParsePrice("$0.01", "eip155:8453")
	if err == nil {
		t.Fatal("Expected parser error to fail the parse instead of falling back")
	}
	if !errors.Is(err, parserErr) {
		t.Errorf("Expected wrapped parser error, got %v", err)
	}
}

func TestEnhancePaymentRequirements(t *testing.T) {
	scheme := NewExactEvmScheme()

	t.Run("Fills Defaults", func(t *testing.T) {
		requirements := p402.PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:84532",
			Amount:  "10000",
			PayTo:   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		}

		enhanced, err := scheme.EnhancePaymentRequirements(context.Background(), requirements, p402.SupportedKind{}, nil)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if enhanced.Asset != baseSepoliaUSDC {
			t.Errorf("Expected default asset, got %s", enhanced.Asset)
		}
		if enhanced.Extra["name"] != "USDC" || enhanced.Extra["version"] != "2" {
			t.Errorf("Expected domain parameters, got %+v", enhanced.Extra)
		}
	})

	t.Run("Converts Decimal Amount", func(t *testing.T) {
		requirements := p402.PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:84532",
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

	t.Run("Preserves Existing Extra", func(t *testing.T) {
		requirements := p402.PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:84532",
			Amount:  "10000",
			Asset:   baseSepoliaUSDC,
			Extra:   map[string]interface{}{"name": "Custom", "version": "9"},
		}

		enhanced, err := scheme.EnhancePaymentRequirements(context.Background(), requirements, p402.SupportedKind{}, nil)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if enhanced.Extra["name"] != "Custom" || enhanced.Extra["version"] != "9" {
			t.Errorf("Expected caller-set domain to survive, got %+v", enhanced.Extra)
		}
	})

	t.Run("Copies Facilitator Extra", func(t *testing.T) {
		kind := p402.SupportedKind{
			Extra: map[string]interface{}{"feePayer": "0x857b06519E91e3A54538791bDbb0E22373e36b66"},
		}
		requirements := p402.PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:84532",
			Amount:  "10000",
		}

		enhanced, err := scheme.EnhancePaymentRequirements(context.Background(), requirements, kind, nil)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if enhanced.Extra["feePayer"] != "0x857b06519E91e3A54538791bDbb0E22373e36b66" {
			t.Errorf("Expected facilitator extra copied, got %+v", enhanced.Extra)
		}
	})

	t.Run("Unknown Network", func(t *testing.T) {
		requirements := p402.PaymentRequirements{Scheme: "exact", Network: "eip155:999999", Amount: "1"}
		if _, err := scheme.EnhancePaymentRequirements(context.Background(), requirements, p402.SupportedKind{}, nil); err == nil {
			t.Error("Expected error for unknown network")
		}
	})
}
