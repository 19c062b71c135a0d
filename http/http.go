// Package http binds the payment engine to HTTP: header codecs for both
// protocol versions, a transparent paying client, a route-protecting
// resource server, and a client for remote facilitators.
package http

import (
	"context"
	"io"
	"net/http"

	p402 "github.com/p402-io/p402"
)

// Wire header names. The unprefixed names are the current protocol; the
// X- names are the legacy version-1 binding.
const (
	// HeaderPaymentSignature carries the client's payment payload.
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	// HeaderPaymentLegacy is the version-1 payment payload header.
	HeaderPaymentLegacy = "X-PAYMENT"
	// HeaderPaymentRequired carries the 402 challenge.
	HeaderPaymentRequired = "PAYMENT-REQUIRED"
	// HeaderPaymentResponse carries the settlement receipt.
	HeaderPaymentResponse = "PAYMENT-RESPONSE"
	// HeaderPaymentResponseLegacy is the version-1 settlement receipt header.
	HeaderPaymentResponseLegacy = "X-PAYMENT-RESPONSE"
)

// ============================================================================
// Re-export main types for convenience
// ============================================================================

type (
	// HTTPClient is an alias for P402HTTPClient
	HTTPClient = P402HTTPClient

	// HTTPServer is an alias for P402HTTPResourceServer
	HTTPServer = P402HTTPResourceServer
)

// ============================================================================
// Constructor functions with simpler names
// ============================================================================

// NewClient creates a new HTTP-aware payment client
func NewClient(opts ...p402.ClientOption) *P402HTTPClient {
	return NewP402HTTPClient(p402.NewP402Client(opts...))
}

// NewServer creates a new HTTP resource server
func NewServer(routes RoutesConfig, opts ...p402.ResourceServerOption) *P402HTTPResourceServer {
	return NewP402HTTPResourceServer(routes, opts...)
}

// NewFacilitatorClient creates a new HTTP facilitator client
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}

// ============================================================================
// Convenience functions
// ============================================================================

// WrapClient wraps a standard HTTP client with payment handling
func WrapClient(client *http.Client, paymentClient *P402HTTPClient) *http.Client {
	return WrapHTTPClientWithPayment(client, paymentClient)
}

// Get performs a GET request with automatic payment handling
func Get(ctx context.Context, url string, paymentClient *P402HTTPClient) (*http.Response, error) {
	return paymentClient.GetWithPayment(ctx, url)
}

// Post performs a POST request with automatic payment handling
func Post(ctx context.Context, url string, body io.Reader, paymentClient *P402HTTPClient) (*http.Response, error) {
	return paymentClient.PostWithPayment(ctx, url, body)
}

// Do performs an HTTP request with automatic payment handling
func Do(ctx context.Context, req *http.Request, paymentClient *P402HTTPClient) (*http.Response, error) {
	return paymentClient.DoWithPayment(ctx, req)
}
