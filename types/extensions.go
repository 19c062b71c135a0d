package types

import (
	"encoding/json"
	"fmt"
)

// Extension is the envelope attached to PaymentRequired and PaymentPayload
// messages under a namespaced key. Info carries the extension's data; Schema,
// when present, is a JSON Schema document describing Info.
type Extension struct {
	Info   map[string]interface{} `json:"info"`
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// ResourceServiceExtension contributes an extension envelope when a resource
// is advertised. Implementations are registered with a resource server and
// keyed by extension name.
type ResourceServiceExtension interface {
	Key() string
	// EnrichDeclaration returns the envelope to attach under Key for the
	// given resource, or nil to attach nothing.
	EnrichDeclaration(resource *ResourceInfo, requirements []PaymentRequirements) *Extension
}

// ParseExtension normalizes a decoded extensions-map value into an Extension.
// Values arrive as *Extension when built locally and as generic maps when
// decoded from the wire.
func ParseExtension(value interface{}) (*Extension, error) {
	switch v := value.(type) {
	case *Extension:
		return v, nil
	case Extension:
		return &v, nil
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("cannot normalize extension value: %w", err)
		}
		var ext Extension
		if err := unmarshalPreservingNumbers(raw, &ext); err != nil {
			return nil, fmt.Errorf("cannot normalize extension value: %w", err)
		}
		return &ext, nil
	}
}
