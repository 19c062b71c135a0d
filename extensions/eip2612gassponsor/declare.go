package eip2612gassponsor

import (
	"encoding/json"
	"fmt"

	"github.com/p402-io/p402/extensions"
	"github.com/p402-io/p402/types"
)

// Declare builds the envelope a resource server includes on its 402
// response to advertise permit gas sponsoring. The declared info carries a
// description only; the schema constrains the permit the client fills in.
func Declare() *types.Extension {
	info := map[string]interface{}{
		"description": "Gasless EIP-2612 permit of the canonical Permit2 contract, submitted on-chain by the facilitator.",
		"version":     Version,
	}
	return extensions.NewExtensionDeclaration(info, Schema())
}

// Envelope builds the client-populated envelope for a signed permit, in
// wire form so the payment pipeline can merge it into the declared one
// field by field.
func Envelope(info Info) (map[string]interface{}, error) {
	doc, err := infoDocument(info)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"info":   doc,
		"schema": Schema(),
	}, nil
}

// Schema returns the JSON Schema for the client-populated permit info.
// The declared description is permitted alongside the permit fields.
func Schema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"from": map[string]interface{}{
				"type":        "string",
				"pattern":     "^0x[a-fA-F0-9]{40}$",
				"description": "The token owner granting the approval.",
			},
			"asset": map[string]interface{}{
				"type":        "string",
				"pattern":     "^0x[a-fA-F0-9]{40}$",
				"description": "The ERC-20 token contract.",
			},
			"spender": map[string]interface{}{
				"type":        "string",
				"pattern":     "^0x[a-fA-F0-9]{40}$",
				"description": "The address being approved (canonical Permit2).",
			},
			"amount": map[string]interface{}{
				"type":        "string",
				"pattern":     "^[0-9]+$",
				"description": "The approval amount (uint256 as decimal string). Typically MaxUint256.",
			},
			"nonce": map[string]interface{}{
				"type":        "string",
				"pattern":     "^[0-9]+$",
				"description": "The owner's current EIP-2612 nonce.",
			},
			"deadline": map[string]interface{}{
				"type":        "string",
				"pattern":     "^[0-9]+$",
				"description": "The unix timestamp at which the signature expires.",
			},
			"signature": map[string]interface{}{
				"type":        "string",
				"pattern":     "^0x[a-fA-F0-9]+$",
				"description": "The 65-byte permit signature (r, s, v) as 0x-prefixed hex.",
			},
			"version": map[string]interface{}{
				"type":        "string",
				"pattern":     `^[0-9]+(\.[0-9]+)*$`,
				"description": "Schema version identifier.",
			},
		},
		"required": []string{
			"from", "asset", "spender", "amount", "nonce", "deadline", "signature", "version",
		},
	}
}

// ResourceExtension declares permit gas sponsoring on every 402 response a
// resource service emits.
type ResourceExtension struct {
	declaration *types.Extension
}

var _ types.ResourceServiceExtension = (*ResourceExtension)(nil)

// NewResourceExtension builds the resource-service extension.
func NewResourceExtension() *ResourceExtension {
	return &ResourceExtension{declaration: Declare()}
}

// Key returns the extension key.
func (e *ResourceExtension) Key() string {
	return Key
}

// EnrichDeclaration returns the declaration regardless of resource, since
// sponsoring depends on the facilitator rather than the endpoint.
func (e *ResourceExtension) EnrichDeclaration(resource *types.ResourceInfo, requirements []types.PaymentRequirements) *types.Extension {
	return e.declaration
}

func infoDocument(info Info) (map[string]interface{}, error) {
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode permit info: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode permit info: %w", err)
	}
	return doc, nil
}
