package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/types"
)

// ============================================================================
// P402HTTPClient - HTTP-aware payment client
// ============================================================================

// P402HTTPClient wraps P402Client with HTTP-specific payment handling
type P402HTTPClient struct {
	client *p402.P402Client
}

// NewP402HTTPClient creates a new HTTP-aware payment client
func NewP402HTTPClient(client *p402.P402Client) *P402HTTPClient {
	return &P402HTTPClient{
		client: client,
	}
}

// Client returns the underlying payment client
func (c *P402HTTPClient) Client() *p402.P402Client {
	return c.client
}

// ============================================================================
// Header Encoding/Decoding
// ============================================================================

// EncodePaymentSignatureHeader encodes raw payload bytes into the payment
// header for the payload's protocol version.
func (c *P402HTTPClient) EncodePaymentSignatureHeader(payloadBytes []byte) (map[string]string, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(payloadBytes)

	switch version {
	case p402.ProtocolVersionV1:
		return map[string]string{HeaderPaymentLegacy: encoded}, nil
	case p402.ProtocolVersion:
		return map[string]string{HeaderPaymentSignature: encoded}, nil
	default:
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
}

// PaymentRequiredEnvelope is a decoded 402 challenge in whichever protocol
// version the server spoke. Exactly one of V1 and V2 is set, matching
// Version.
type PaymentRequiredEnvelope struct {
	Version int
	V2      *p402.PaymentRequired
	V1      *p402.PaymentRequiredV1
}

// GetPaymentRequiredResponse extracts the payment challenge from a 402
// response. The current header form is tried first, then the legacy JSON
// body.
func (c *P402HTTPClient) GetPaymentRequiredResponse(headers map[string]string, body []byte) (*PaymentRequiredEnvelope, error) {
	normalizedHeaders := make(map[string]string)
	for k, v := range headers {
		normalizedHeaders[strings.ToUpper(k)] = v
	}

	if header, exists := normalizedHeaders[HeaderPaymentRequired]; exists {
		decoded, err := DecodeResponseHeader(HeaderPaymentRequired, header)
		if err != nil {
			return nil, err
		}
		return decodePaymentRequiredBytes(decoded)
	}

	if len(body) > 0 {
		if envelope, err := decodePaymentRequiredBytes(body); err == nil {
			return envelope, nil
		}
	}

	return nil, fmt.Errorf("no payment required information found in response")
}

func decodePaymentRequiredBytes(data []byte) (*PaymentRequiredEnvelope, error) {
	version, err := types.DetectVersion(data)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	switch version {
	case p402.ProtocolVersionV1:
		required, err := types.ToPaymentRequiredV1(data)
		if err != nil {
			return nil, fmt.Errorf("invalid legacy payment required: %w", err)
		}
		return &PaymentRequiredEnvelope{Version: version, V1: required}, nil
	case p402.ProtocolVersion:
		required, err := types.ToPaymentRequired(data)
		if err != nil {
			return nil, fmt.Errorf("invalid payment required: %w", err)
		}
		return &PaymentRequiredEnvelope{Version: version, V2: required}, nil
	default:
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
}

// GetPaymentSettleResponse extracts the settlement receipt from response
// headers, trying the current header name before the legacy one.
func (c *P402HTTPClient) GetPaymentSettleResponse(headers map[string]string) (*p402.SettleResponse, error) {
	normalizedHeaders := make(map[string]string)
	for k, v := range headers {
		normalizedHeaders[strings.ToUpper(k)] = v
	}

	header, exists := normalizedHeaders[HeaderPaymentResponse]
	if !exists {
		header, exists = normalizedHeaders[HeaderPaymentResponseLegacy]
	}
	if !exists {
		return nil, fmt.Errorf("payment response header not found")
	}

	decoded, err := DecodeResponseHeader(HeaderPaymentResponse, header)
	if err != nil {
		return nil, err
	}
	return types.ToSettleResponse(decoded)
}

// ============================================================================
// HTTP Client Wrapper
// ============================================================================

// WrapHTTPClientWithPayment wraps a standard HTTP client with transparent
// 402 payment handling.
func WrapHTTPClientWithPayment(client *http.Client, paymentClient *P402HTTPClient) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}

	originalTransport := client.Transport
	if originalTransport == nil {
		originalTransport = http.DefaultTransport
	}

	client.Transport = &PaymentRoundTripper{
		Transport:  originalTransport,
		client:     paymentClient,
		retryCount: &sync.Map{},
	}

	return client
}

// PaymentRoundTripper implements http.RoundTripper with 402 payment
// handling: a 402 response is answered once with a payment header, never
// more.
type PaymentRoundTripper struct {
	Transport  http.RoundTripper
	client     *P402HTTPClient
	retryCount *sync.Map
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := fmt.Sprintf("%p", req)
	count, _ := t.retryCount.LoadOrStore(requestID, 0)
	retries := count.(int)

	if retries > 1 {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("payment retry limit exceeded")
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		t.retryCount.Delete(requestID)
		return resp, nil
	}

	t.retryCount.Store(requestID, retries+1)

	headers := make(map[string]string)
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	var body []byte
	if resp.Body != nil {
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.retryCount.Delete(requestID)
			return nil, fmt.Errorf("failed to read 402 response body: %w", err)
		}
	}

	envelope, err := t.client.GetPaymentRequiredResponse(headers, body)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}

	ctx := req.Context()

	var payloadBytes []byte
	switch envelope.Version {
	case p402.ProtocolVersionV1:
		payload, err := t.client.client.CreatePaymentForRequiredV1(ctx, *envelope.V1)
		if err != nil {
			t.retryCount.Delete(requestID)
			return nil, fmt.Errorf("failed to create payment: %w", err)
		}
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			t.retryCount.Delete(requestID)
			return nil, fmt.Errorf("failed to marshal payment payload: %w", err)
		}
	default:
		payload, err := t.client.client.CreatePaymentForRequired(ctx, *envelope.V2)
		if err != nil {
			t.retryCount.Delete(requestID)
			return nil, fmt.Errorf("failed to create payment: %w", err)
		}
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			t.retryCount.Delete(requestID)
			return nil, fmt.Errorf("failed to marshal payment payload: %w", err)
		}
	}

	paymentHeaders, err := t.client.EncodePaymentSignatureHeader(payloadBytes)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}

	paymentReq := req.Clone(ctx)
	// The first round trip drained the request body; the retry needs a fresh
	// reader. GetBody is set by http.NewRequest for the common body types.
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			t.retryCount.Delete(requestID)
			return nil, fmt.Errorf("cannot retry request with payment: body is not rewindable")
		}
		retryBody, err := req.GetBody()
		if err != nil {
			t.retryCount.Delete(requestID)
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		paymentReq.Body = retryBody
	}
	for k, v := range paymentHeaders {
		paymentReq.Header.Set(k, v)
	}

	newResp, err := t.Transport.RoundTrip(paymentReq)
	t.retryCount.Delete(requestID)
	return newResp, err
}

// ============================================================================
// Convenience Methods
// ============================================================================

// DoWithPayment performs an HTTP request with automatic payment handling
func (c *P402HTTPClient) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := &http.Client{
		Transport: &PaymentRoundTripper{
			Transport:  http.DefaultTransport,
			client:     c,
			retryCount: &sync.Map{},
		},
	}

	return client.Do(req.WithContext(ctx))
}

// GetWithPayment performs a GET request with automatic payment handling
func (c *P402HTTPClient) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a POST request with automatic payment handling
func (c *P402HTTPClient) PostWithPayment(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// ============================================================================
// Header Encoding Functions
// ============================================================================

// encodePaymentRequiredHeader encodes a payment challenge as base64 JSON
func encodePaymentRequiredHeader(required p402.PaymentRequired) (string, error) {
	data, err := json.Marshal(required)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment required: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// encodePaymentResponseHeader encodes a settlement receipt as base64 JSON
func encodePaymentResponseHeader(response p402.SettleResponse) (string, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
