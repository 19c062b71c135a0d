package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/types"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient talks to a remote facilitator over HTTP. It
// implements FacilitatorClient and forwards both protocol versions
// unchanged; the remote side routes on the version field.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
}

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers for facilitator endpoints
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Identifier for this facilitator (optional)
	Identifier string
}

// getSupportedRetries is the number of retry attempts for GetSupported on 429 rate limit errors
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base delay for exponential backoff on retries
const getSupportedRetryBaseDelay = 1 * time.Second

// NewHTTPFacilitatorClient creates a new HTTP facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = p402.DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
	}
}

// Identifier returns the facilitator's configured identity, defaulting to
// its URL.
func (c *HTTPFacilitatorClient) Identifier() string {
	return c.identifier
}

// ============================================================================
// FacilitatorClient Implementation (network boundary, raw bytes)
// ============================================================================

// Verify checks a payment against requirements on the remote facilitator.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*p402.VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	request := p402.VerifyRequest{
		ProtocolVersion:     version,
		PaymentPayload:      json.RawMessage(payloadBytes),
		PaymentRequirements: json.RawMessage(requirementsBytes),
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	resp, responseBody, err := c.post(ctx, "/verify", body, func(headers AuthHeaders) map[string]string {
		return headers.Verify
	})
	if err != nil {
		return nil, err
	}

	var verifyResponse p402.VerifyResponse
	if err := json.Unmarshal(responseBody, &verifyResponse); err != nil {
		return nil, p402.NewVerifyError(
			p402.ErrCodeInvalidResponse,
			"",
			fmt.Sprintf("failed to unmarshal verify response: %s", err.Error()),
		)
	}

	// Non-200 responses relay the facilitator's own reason when it sent one.
	if resp.StatusCode != http.StatusOK {
		if verifyResponse.InvalidReason != "" {
			return nil, p402.NewVerifyError(
				verifyResponse.InvalidReason,
				verifyResponse.Payer,
				fmt.Sprintf("facilitator returned %d", resp.StatusCode),
			)
		}
		return nil, fmt.Errorf("facilitator verify failed (%d): %s", resp.StatusCode, string(responseBody))
	}

	return &verifyResponse, nil
}

// Settle executes a payment on the remote facilitator.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*p402.SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	request := p402.SettleRequest{
		ProtocolVersion:     version,
		PaymentPayload:      json.RawMessage(payloadBytes),
		PaymentRequirements: json.RawMessage(requirementsBytes),
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settle request: %w", err)
	}

	resp, responseBody, err := c.post(ctx, "/settle", body, func(headers AuthHeaders) map[string]string {
		return headers.Settle
	})
	if err != nil {
		return nil, err
	}

	var settleResponse p402.SettleResponse
	if err := json.Unmarshal(responseBody, &settleResponse); err != nil {
		return nil, fmt.Errorf("facilitator settle failed (%d): %s", resp.StatusCode, string(responseBody))
	}

	if resp.StatusCode != http.StatusOK {
		if settleResponse.ErrorReason != "" {
			return nil, p402.NewSettleError(
				settleResponse.ErrorReason,
				settleResponse.Payer,
				settleResponse.Network,
				settleResponse.Transaction,
				fmt.Sprintf("facilitator returned %d", resp.StatusCode),
			)
		}
		return nil, fmt.Errorf("facilitator settle failed (%d): %s", resp.StatusCode, string(responseBody))
	}

	return &settleResponse, nil
}

// GetSupported fetches the facilitator's capability snapshot. Rate-limited
// responses are retried with exponential backoff.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (p402.SupportedResponse, error) {
	var lastErr error

	for attempt := range getSupportedRetries {
		req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/supported", nil)
		if err != nil {
			return p402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")

		if c.authProvider != nil {
			authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
			if err != nil {
				return p402.SupportedResponse{}, fmt.Errorf("failed to get auth headers: %w", err)
			}
			for k, v := range authHeaders.Supported {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return p402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return p402.SupportedResponse{}, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			supportedResponse, err := types.ToSupportedResponse(responseBody)
			if err != nil {
				return p402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return *supportedResponse, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(responseBody))

		// Retry on 429 with exponential backoff, except on the last attempt
		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return p402.SupportedResponse{}, ctx.Err()
			}
		}

		// Non-429 errors or last attempt: return immediately
		return p402.SupportedResponse{}, lastErr
	}

	return p402.SupportedResponse{}, lastErr
}

// StaticAuthProvider sends one bearer token on every facilitator endpoint.
type StaticAuthProvider struct {
	apiKey string
}

// NewStaticAuthProvider creates an auth provider for a fixed API key.
func NewStaticAuthProvider(apiKey string) *StaticAuthProvider {
	return &StaticAuthProvider{apiKey: apiKey}
}

func (p *StaticAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	auth := map[string]string{"Authorization": "Bearer " + p.apiKey}
	return AuthHeaders{Verify: auth, Settle: auth, Supported: auth}, nil
}

// FuncAuthProvider adapts a function to the AuthProvider interface, for
// tokens that have to be minted per request.
type FuncAuthProvider struct {
	fn func(ctx context.Context) (AuthHeaders, error)
}

// NewFuncAuthProvider creates an auth provider backed by fn.
func NewFuncAuthProvider(fn func(ctx context.Context) (AuthHeaders, error)) *FuncAuthProvider {
	return &FuncAuthProvider{fn: fn}
}

func (p *FuncAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	return p.fn(ctx)
}

// post sends one JSON request to a facilitator endpoint and returns the
// response with its fully read body.
func (c *HTTPFacilitatorClient) post(ctx context.Context, path string, body []byte, pickHeaders func(AuthHeaders) map[string]string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.authProvider != nil {
		authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get auth headers: %w", err)
		}
		for k, v := range pickHeaders(authHeaders) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp, responseBody, nil
}
