package p402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/p402-io/p402/types"
)

// defaultFacilitatorClient is the minimal remote client a resource server
// falls back to when constructed without facilitator clients. The
// full-featured remote client with auth headers and retry lives in the http
// package; this one stays here because the root package cannot import its
// own subpackages.
type defaultFacilitatorClient struct {
	url        string
	httpClient *http.Client
}

func newDefaultFacilitatorClient(url string) *defaultFacilitatorClient {
	return &defaultFacilitatorClient{
		url: strings.TrimRight(url, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *defaultFacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, err
	}

	var response VerifyResponse
	if err := c.post(ctx, "/verify", VerifyRequest{
		ProtocolVersion:     version,
		PaymentPayload:      json.RawMessage(payloadBytes),
		PaymentRequirements: json.RawMessage(requirementsBytes),
	}, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *defaultFacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, err
	}

	var response SettleResponse
	if err := c.post(ctx, "/settle", SettleRequest{
		ProtocolVersion:     version,
		PaymentPayload:      json.RawMessage(payloadBytes),
		PaymentRequirements: json.RawMessage(requirementsBytes),
	}, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *defaultFacilitatorClient) GetSupported(ctx context.Context) (SupportedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
	if err != nil {
		return SupportedResponse{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SupportedResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return SupportedResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return SupportedResponse{}, fmt.Errorf("facilitator returned status %d: %s", resp.StatusCode, data)
	}

	var response SupportedResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return SupportedResponse{}, err
	}
	return response, nil
}

func (c *defaultFacilitatorClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator returned status %d: %s", resp.StatusCode, data)
	}

	return json.Unmarshal(data, out)
}
