// Package v1 maps the bare network names used by legacy payments onto EVM
// chain parameters. Current-version traffic identifies networks by CAIP-2;
// these names survive only on the legacy wire.
package v1

import (
	"fmt"
	"math/big"
)

// NetworkChainIDs maps legacy network names to their chain IDs.
var NetworkChainIDs = map[string]*big.Int{
	"ethereum":           big.NewInt(1),
	"sepolia":            big.NewInt(11155111),
	"abstract":           big.NewInt(2741),
	"abstract-testnet":   big.NewInt(11124),
	"base":               big.NewInt(8453),
	"base-sepolia":       big.NewInt(84532),
	"avalanche":          big.NewInt(43114),
	"avalanche-fuji":     big.NewInt(43113),
	"iotex":              big.NewInt(4689),
	"sei":                big.NewInt(1329),
	"sei-testnet":        big.NewInt(1328),
	"polygon":            big.NewInt(137),
	"polygon-amoy":       big.NewInt(80002),
	"peaq":               big.NewInt(3338),
	"story":              big.NewInt(1514),
	"educhain":           big.NewInt(41923),
	"skale-base-sepolia": big.NewInt(324705682),
	"megaeth":            big.NewInt(4326),
	"monad":              big.NewInt(143),
}

// Networks lists all legacy network names.
var Networks []string

func init() {
	Networks = make([]string, 0, len(NetworkChainIDs))
	for name := range NetworkChainIDs {
		Networks = append(Networks, name)
	}
}

// IsValidNetwork reports whether name is a known legacy network name.
func IsValidNetwork(name string) bool {
	_, ok := NetworkChainIDs[name]
	return ok
}

// ChainIDForNetwork resolves a legacy network name to its chain ID.
func ChainIDForNetwork(name string) (*big.Int, error) {
	chainID, ok := NetworkChainIDs[name]
	if !ok {
		return nil, fmt.Errorf("unknown legacy network: %s", name)
	}
	return chainID, nil
}

// ToCaip converts a legacy network name to its CAIP-2 identifier.
func ToCaip(name string) (string, error) {
	chainID, err := ChainIDForNetwork(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("eip155:%d", chainID), nil
}
