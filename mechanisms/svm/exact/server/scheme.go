// Package server implements the resource-server side of the exact SVM
// scheme: turning prices into onchain payment requirements.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/svm"
)

// Ensure ExactSvmScheme implements SchemeNetworkServer
var _ p402.SchemeNetworkServer = (*ExactSvmScheme)(nil)

// ExactSvmScheme builds exact-scheme payment requirements for Solana
// networks. Money prices convert to the cluster's default asset unless a
// registered money parser claims them first.
type ExactSvmScheme struct {
	moneyParsers []p402.MoneyParser
}

func NewExactSvmScheme() *ExactSvmScheme {
	return &ExactSvmScheme{
		moneyParsers: []p402.MoneyParser{},
	}
}

// RegisterMoneyParser adds a custom money conversion consulted before the
// default USDC conversion. Parsers run in registration order; the first one
// returning a result wins.
func (s *ExactSvmScheme) RegisterMoneyParser(parser p402.MoneyParser) *ExactSvmScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

func (s *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// ParsePrice converts a price into an asset amount. AssetAmount prices pass
// through untouched, in typed or JSON-decoded map form; money prices like
// "$0.01" convert to atomic units of the cluster's default asset.
func (s *ExactSvmScheme) ParsePrice(price p402.Price, network p402.Network) (p402.AssetAmount, error) {
	if assetAmount, ok := price.(p402.AssetAmount); ok {
		if assetAmount.Asset == "" {
			return p402.AssetAmount{}, fmt.Errorf("asset required for AssetAmount on %s", network)
		}
		return assetAmount, nil
	}

	if priceMap, ok := price.(map[string]interface{}); ok {
		return assetAmountFromMap(priceMap, network)
	}

	decimalAmount, err := parseMoneyToDecimal(price)
	if err != nil {
		return p402.AssetAmount{}, err
	}

	// A parser returning (nil, nil) declines the price; an error means it
	// claimed the price and failed, which must not fall through to the
	// default conversion.
	for _, parser := range s.moneyParsers {
		result, err := parser(decimalAmount, network)
		if err != nil {
			return p402.AssetAmount{}, fmt.Errorf("money parser failed: %w", err)
		}
		if result != nil {
			return *result, nil
		}
	}

	return defaultMoneyConversion(decimalAmount, network)
}

// assetAmountFromMap accepts the JSON-decoded form of an AssetAmount, as
// produced by file-loaded resource configs.
func assetAmountFromMap(priceMap map[string]interface{}, network p402.Network) (p402.AssetAmount, error) {
	raw, err := json.Marshal(priceMap)
	if err != nil {
		return p402.AssetAmount{}, fmt.Errorf("invalid price format: %v", priceMap)
	}
	var assetAmount p402.AssetAmount
	if err := json.Unmarshal(raw, &assetAmount); err != nil || assetAmount.Amount == "" {
		return p402.AssetAmount{}, fmt.Errorf("invalid price format: %v", priceMap)
	}
	if assetAmount.Asset == "" {
		config, err := svm.GetNetworkConfig(string(network))
		if err != nil {
			return p402.AssetAmount{}, err
		}
		assetAmount.Asset = config.DefaultAsset.Address
	}
	return assetAmount, nil
}

// parseMoneyToDecimal strips currency decoration from a money price and
// parses the remaining decimal. Only USD-denominated forms are accepted.
func parseMoneyToDecimal(price p402.Price) (float64, error) {
	priceStr := strings.TrimSpace(fmt.Sprintf("%v", price))
	priceStr = strings.TrimPrefix(priceStr, "$")
	upper := strings.ToUpper(priceStr)
	for _, suffix := range []string{" USDC", " USD"} {
		if strings.HasSuffix(upper, suffix) {
			priceStr = strings.TrimSpace(priceStr[:len(priceStr)-len(suffix)])
			break
		}
	}

	amount, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price format: %v", price)
	}
	if amount < 0 {
		return 0, fmt.Errorf("price must not be negative: %v", price)
	}
	return amount, nil
}

// defaultMoneyConversion converts a decimal dollar amount to atomic units of
// the cluster's default asset.
func defaultMoneyConversion(amount float64, network p402.Network) (p402.AssetAmount, error) {
	config, err := svm.GetNetworkConfig(string(network))
	if err != nil {
		return p402.AssetAmount{}, fmt.Errorf("no default asset for network %s", network)
	}

	asset := config.DefaultAsset
	atomic, err := svm.ParseAmount(strconv.FormatFloat(amount, 'f', -1, 64), asset.Decimals)
	if err != nil {
		return p402.AssetAmount{}, fmt.Errorf("failed to convert amount for %s: %w", network, err)
	}

	return p402.AssetAmount{
		Amount: strconv.FormatUint(atomic, 10),
		Asset:  asset.Address,
	}, nil
}

// EnhancePaymentRequirements fills in SVM-specific requirement details: the
// default asset when none is set, atomic amounts for decimal prices, and any
// extra data the facilitator advertises for this kind. The facilitator's
// feePayer address rides in on the supported kind and must reach the client,
// which builds the transaction around it.
func (s *ExactSvmScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements p402.PaymentRequirements,
	supportedKind p402.SupportedKind,
	facilitatorExtensions []string,
) (p402.PaymentRequirements, error) {
	config, err := svm.GetNetworkConfig(string(requirements.Network))
	if err != nil {
		return p402.PaymentRequirements{}, err
	}

	if requirements.Asset == "" {
		requirements.Asset = config.DefaultAsset.Address
	}

	// Decimal amounts are converted here so requirements always publish
	// atomic units.
	if strings.Contains(requirements.Amount, ".") {
		assetInfo, err := svm.GetAssetInfo(string(requirements.Network), requirements.Asset)
		if err != nil {
			return p402.PaymentRequirements{}, err
		}
		atomic, err := svm.ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return p402.PaymentRequirements{}, err
		}
		requirements.Amount = strconv.FormatUint(atomic, 10)
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	for key, value := range supportedKind.Extra {
		if _, ok := requirements.Extra[key]; !ok {
			requirements.Extra[key] = value
		}
	}

	return requirements, nil
}
