// Package tokenmetadata resolves ERC-20 token details (decimals, EIP-712
// domain parameters, transfer-authorization support) from a token metadata
// service. The resolved metadata plugs into exact-scheme price parsing so
// routes can charge in tokens the built-in network tables don't know about.
package tokenmetadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/evm"
)

// DefaultBaseURL is the default URL for the token metadata service.
const DefaultBaseURL = "https://tokens.p402.io"

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 10 * time.Second

// TokenMetadata describes one ERC-20 token.
type TokenMetadata struct {
	ChainID         int    `json:"chainId"`
	TokenAddress    string `json:"tokenAddress"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        int    `json:"decimals"`
	LogoURL         string `json:"logoUrl"`
	SupportsEip2612 bool   `json:"supportsEip2612"`
	SupportsEip3009 bool   `json:"supportsEip3009"`
	Version         string `json:"version,omitempty"`
}

// Config contains configuration for the token metadata client.
type Config struct {
	// BaseURL is the base URL of the token metadata service. Defaults to
	// DefaultBaseURL if not set.
	BaseURL string
	// Timeout is the HTTP client timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Client is an HTTP client for the token metadata service. Metadata is
// immutable, so successful lookups are cached for the client's lifetime.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]*TokenMetadata
}

// NewClient creates a new token metadata client.
func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache: make(map[string]*TokenMetadata),
	}
}

// GetMetadata fetches token metadata for a CAIP-2 network and token address.
func (c *Client) GetMetadata(ctx context.Context, network p402.Network, tokenAddress string) (*TokenMetadata, error) {
	chainID, err := evm.GetChainID(string(network))
	if err != nil {
		return nil, fmt.Errorf("unsupported network %s: %w", network, err)
	}

	key := chainID.String() + "/" + strings.ToLower(tokenAddress)

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	metadata, err := c.fetchMetadata(ctx, chainID.String(), tokenAddress)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = metadata
	c.mu.Unlock()

	return metadata, nil
}

func (c *Client) fetchMetadata(ctx context.Context, chainID string, tokenAddress string) (*TokenMetadata, error) {
	url := fmt.Sprintf("%s/metadata/%s/%s", c.baseURL, chainID, strings.ToLower(tokenAddress))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("token not found: %s on chain %s", tokenAddress, chainID)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token metadata service returned status %d", resp.StatusCode)
	}

	var metadata TokenMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode token metadata: %w", err)
	}

	// EIP-3009 and EIP-2612 tokens almost universally use domain version 2.
	if metadata.Version == "" {
		metadata.Version = "2"
	}

	return &metadata, nil
}

// MoneyParser builds a money parser that charges decimal amounts in the
// configured token per network, resolving decimals and EIP-712 domain
// parameters through the metadata service. Register it on an exact-scheme
// server to override the network's default asset:
//
//	scheme := server.NewExactEvmScheme()
//	scheme.RegisterMoneyParser(tokenmetadata.MoneyParser(client, map[p402.Network]string{
//		"eip155:8453": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
//	}))
//
// Networks without a configured token fall through to the next parser.
func MoneyParser(client *Client, tokens map[p402.Network]string) p402.MoneyParser {
	return func(amount float64, network p402.Network) (*p402.AssetAmount, error) {
		tokenAddress, ok := tokens[network]
		if !ok {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()

		metadata, err := client.GetMetadata(ctx, network, tokenAddress)
		if err != nil {
			return nil, err
		}
		if !metadata.SupportsEip3009 {
			return nil, fmt.Errorf("token %s on %s does not support transfer authorization", tokenAddress, network)
		}

		atomic, err := evm.ParseAmount(strconv.FormatFloat(amount, 'f', -1, 64), metadata.Decimals)
		if err != nil {
			return nil, fmt.Errorf("failed to convert amount for %s: %w", network, err)
		}

		return &p402.AssetAmount{
			Amount: atomic.String(),
			Asset:  metadata.TokenAddress,
			Extra: map[string]interface{}{
				"name":    metadata.Name,
				"version": metadata.Version,
			},
		}, nil
	}
}
