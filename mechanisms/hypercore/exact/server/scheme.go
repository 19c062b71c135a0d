// Package server implements the resource-server side of the exact Hypercore
// scheme: pricing resources in Hyperliquid spot assets.
package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/hypercore"
)

// Ensure ExactHypercoreScheme implements SchemeNetworkServer
var _ p402.SchemeNetworkServer = (*ExactHypercoreScheme)(nil)

// ExactHypercoreScheme builds exact-scheme payment requirements for
// Hypercore networks. Money prices convert to the network's default asset
// unless a registered money parser claims them first.
type ExactHypercoreScheme struct {
	moneyParsers []p402.MoneyParser
}

func NewExactHypercoreScheme() *ExactHypercoreScheme {
	return &ExactHypercoreScheme{
		moneyParsers: []p402.MoneyParser{},
	}
}

// RegisterMoneyParser adds a custom money conversion consulted before the
// default conversion. Parsers run in registration order; the first one
// returning a result wins.
func (s *ExactHypercoreScheme) RegisterMoneyParser(parser p402.MoneyParser) *ExactHypercoreScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

func (s *ExactHypercoreScheme) Scheme() string {
	return hypercore.SchemeExact
}

// ParsePrice converts a price into an asset amount. AssetAmount prices pass
// through untouched; money prices like "$0.01" convert to atomic units of
// the network's default asset.
func (s *ExactHypercoreScheme) ParsePrice(price p402.Price, network p402.Network) (p402.AssetAmount, error) {
	if assetAmount, ok := price.(p402.AssetAmount); ok {
		if assetAmount.Asset == "" {
			return p402.AssetAmount{}, fmt.Errorf("asset required for AssetAmount on %s", network)
		}
		return assetAmount, nil
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

// parseMoneyToDecimal strips currency decoration from a money price and
// parses the remaining decimal.
func parseMoneyToDecimal(price p402.Price) (float64, error) {
	priceStr := strings.TrimSpace(fmt.Sprintf("%v", price))
	priceStr = strings.TrimPrefix(priceStr, "$")
	upper := strings.ToUpper(priceStr)
	for _, suffix := range []string{" USDH", " USD"} {
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
// the network's default asset.
func defaultMoneyConversion(amount float64, network p402.Network) (p402.AssetAmount, error) {
	config, ok := hypercore.NetworkConfigs[string(network)]
	if !ok {
		return p402.AssetAmount{}, fmt.Errorf("no default asset for network %s", network)
	}

	asset := config.DefaultAsset
	atomic, err := hypercore.ParseAmount(strconv.FormatFloat(amount, 'f', -1, 64), asset.Decimals)
	if err != nil {
		return p402.AssetAmount{}, fmt.Errorf("failed to convert amount for %s: %w", network, err)
	}

	return p402.AssetAmount{
		Amount: atomic,
		Asset:  asset.Token,
		Extra: map[string]interface{}{
			"name": asset.Name,
		},
	}, nil
}

// EnhancePaymentRequirements adds the signing chain id and the mainnet flag
// clients need to build the sendAsset action.
func (s *ExactHypercoreScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements p402.PaymentRequirements,
	supportedKind p402.SupportedKind,
	facilitatorExtensions []string,
) (p402.PaymentRequirements, error) {
	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	requirements.Extra["signatureChainId"] = hypercore.SignatureChainID
	requirements.Extra["isMainnet"] = requirements.Network == hypercore.NetworkMainnet

	return requirements, nil
}
