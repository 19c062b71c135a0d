// Package hostedfacilitator configures clients for the hosted p402
// facilitator. The hosted service authenticates with an API key sent as a
// bearer token; keys fall back to the P402_API_KEY environment variable so
// deployments can keep credentials out of code.
package hostedfacilitator

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	p402 "github.com/p402-io/p402"
	p402http "github.com/p402-io/p402/http"
)

// APIKeyEnvVar is the environment variable consulted when no API key is
// passed explicitly.
const APIKeyEnvVar = "P402_API_KEY"

// NewAuthProvider returns an auth provider that sends the API key as a
// bearer token on every facilitator request, with a fresh correlation ID per
// request batch for tracing.
func NewAuthProvider(apiKey string) p402http.AuthProvider {
	return p402http.NewFuncAuthProvider(func(ctx context.Context) (p402http.AuthHeaders, error) {
		key := apiKey
		if key == "" {
			key = os.Getenv(APIKeyEnvVar)
		}
		if key == "" {
			return p402http.AuthHeaders{}, fmt.Errorf("missing credentials: %s must be set", APIKeyEnvVar)
		}

		headers := map[string]string{
			"Authorization":  "Bearer " + key,
			"Correlation-Id": uuid.NewString(),
		}
		return p402http.AuthHeaders{
			Verify:    headers,
			Settle:    headers,
			Supported: headers,
		}, nil
	})
}

// NewFacilitatorConfig creates a facilitator config for the hosted
// facilitator. An empty URL targets the well-known endpoint.
func NewFacilitatorConfig(url, apiKey string) *p402http.FacilitatorConfig {
	if url == "" {
		url = p402.DefaultFacilitatorURL
	}
	return &p402http.FacilitatorConfig{
		URL:          url,
		AuthProvider: NewAuthProvider(apiKey),
	}
}

// NewClient creates a facilitator client for the hosted facilitator.
func NewClient(url, apiKey string) *p402http.HTTPFacilitatorClient {
	return p402http.NewFacilitatorClient(NewFacilitatorConfig(url, apiKey))
}
