package paymentidentifier

import (
	"github.com/p402-io/p402/extensions"
	"github.com/p402-io/p402/types"
)

// Declare builds the payment-identifier declaration a server attaches to
// its 402 responses. The schema describes the info document after client
// enrichment, so facilitators can validate submitted envelopes against it.
func Declare(required bool) *types.Extension {
	info := map[string]interface{}{
		"required": required,
	}
	schema := map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"required": map[string]interface{}{
				"type": "boolean",
			},
			"id": map[string]interface{}{
				"type":      "string",
				"minLength": MinIDLength,
				"maxLength": MaxIDLength,
				"pattern":   "^[A-Za-z0-9_-]+$",
			},
		},
		"required":             []interface{}{"required"},
		"additionalProperties": false,
	}
	return extensions.NewExtensionDeclaration(info, schema)
}

// ResourceExtension declares the payment-identifier extension on every
// resource a server protects. Register it with RegisterExtension.
type ResourceExtension struct {
	declaration *types.Extension
}

var _ types.ResourceServiceExtension = (*ResourceExtension)(nil)

// NewResourceExtension builds a resource extension declaring whether a
// payment id is required.
func NewResourceExtension(required bool) *ResourceExtension {
	return &ResourceExtension{declaration: Declare(required)}
}

func (e *ResourceExtension) Key() string { return Key }

func (e *ResourceExtension) EnrichDeclaration(resource *types.ResourceInfo, requirements []types.PaymentRequirements) *types.Extension {
	return e.declaration
}
