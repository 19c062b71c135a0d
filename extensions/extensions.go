// Package extensions provides the shared envelope machinery for protocol
// extensions. An extension rides on PaymentRequired and PaymentPayload
// messages as an {info, schema} envelope under a namespaced key; this
// package builds those envelopes and validates their info documents
// against the embedded JSON Schema.
//
// Concrete extensions live in subpackages (discovery, idempotency,
// paymentidentifier) and use these helpers for their wire envelopes.
package extensions

import (
	"encoding/json"
	"fmt"

	"github.com/p402-io/p402/types"
	"github.com/xeipuuv/gojsonschema"
)

// NewExtensionDeclaration builds an extension envelope from an info document
// and an optional JSON Schema describing it. Both maps are attached as-is;
// a nil schema declares an envelope whose info is not self-describing.
func NewExtensionDeclaration(info, schema map[string]interface{}) *types.Extension {
	return &types.Extension{
		Info:   info,
		Schema: schema,
	}
}

// ValidationResult reports the outcome of validating an envelope's info
// against its schema. Errors holds one human-readable entry per violation.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateExtensionData checks an envelope's info document against the JSON
// Schema it carries. Envelopes without a schema pass trivially since there
// is nothing to check against.
func ValidateExtensionData(extension *types.Extension) ValidationResult {
	if extension == nil {
		return ValidationResult{Valid: false, Errors: []string{"extension is nil"}}
	}
	if extension.Schema == nil {
		return ValidationResult{Valid: true}
	}

	schemaJSON, err := json.Marshal(extension.Schema)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("failed to marshal schema: %v", err)}}
	}
	infoJSON, err := json.Marshal(extension.Info)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("failed to marshal info: %v", err)}}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(infoJSON))
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("schema validation failed: %v", err)}}
	}
	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return ValidationResult{Valid: false, Errors: errors}
}
