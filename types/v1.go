package types

import "encoding/json"

// PaymentPayloadV1 is the legacy payload shape. Scheme and network sit at the
// top level; there is no embedded copy of the chosen requirements, so
// requirement matching falls back to scheme plus network equality.
type PaymentPayloadV1 struct {
	ProtocolVersion int                    `json:"protocolVersion"`
	Scheme          string                 `json:"scheme"`
	Network         string                 `json:"network"`
	Payload         map[string]interface{} `json:"payload"`
}

// PaymentRequirementsV1 is the legacy requirements shape. Resource metadata
// is repeated per entry instead of hoisted into the response.
type PaymentRequirementsV1 struct {
	Scheme            string           `json:"scheme"`
	Network           string           `json:"network"`
	MaxAmountRequired string           `json:"maxAmountRequired"`
	Resource          string           `json:"resource"`
	Description       string           `json:"description,omitempty"`
	MimeType          string           `json:"mimeType,omitempty"`
	PayTo             string           `json:"payTo"`
	MaxTimeoutSeconds int              `json:"maxTimeoutSeconds"`
	Asset             string           `json:"asset"`
	OutputSchema      *json.RawMessage `json:"outputSchema,omitempty"`
	Extra             *json.RawMessage `json:"extra,omitempty"`
}

// PaymentRequiredV1 is the legacy 402 response body. It travels as the raw
// JSON response body rather than a header.
type PaymentRequiredV1 struct {
	ProtocolVersion int                     `json:"protocolVersion"`
	Error           string                  `json:"error,omitempty"`
	Accepts         []PaymentRequirementsV1 `json:"accepts"`
}

// ToCurrent maps a legacy requirements entry onto the current shape so
// version-agnostic code (selectors, policies) can inspect it uniformly. The
// mapping is lossy; callers that need the legacy-only fields must go back to
// the original entry.
func (r PaymentRequirementsV1) ToCurrent() PaymentRequirements {
	var extra map[string]interface{}
	if r.Extra != nil {
		// Best effort; malformed extra stays nil rather than failing the view.
		_ = unmarshalPreservingNumbers(*r.Extra, &extra)
	}
	return PaymentRequirements{
		Scheme:            r.Scheme,
		Network:           Network(r.Network),
		Amount:            r.MaxAmountRequired,
		Asset:             r.Asset,
		PayTo:             r.PayTo,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Extra:             extra,
	}
}

// ToLegacy maps a current requirements entry onto the legacy shape for
// clients that still speak version 1. Resource metadata is copied back into
// the entry since legacy entries carry it inline.
func (r PaymentRequirements) ToLegacy(resource *ResourceInfo) PaymentRequirementsV1 {
	legacy := PaymentRequirementsV1{
		Scheme:            r.Scheme,
		Network:           string(r.Network),
		MaxAmountRequired: r.Amount,
		PayTo:             r.PayTo,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Asset:             r.Asset,
	}
	if resource != nil {
		legacy.Resource = resource.URL
		legacy.Description = resource.Description
		legacy.MimeType = resource.MimeType
	}
	if r.Extra != nil {
		if data, err := json.Marshal(r.Extra); err == nil {
			raw := json.RawMessage(data)
			legacy.Extra = &raw
		}
	}
	return legacy
}

// ToLegacy maps a current 402 response onto the legacy body shape. Extension
// declarations have no legacy slot and are dropped.
func (p PaymentRequired) ToLegacy() PaymentRequiredV1 {
	legacy := PaymentRequiredV1{
		ProtocolVersion: 1,
		Error:           p.Error,
		Accepts:         make([]PaymentRequirementsV1, 0, len(p.Accepts)),
	}
	for _, req := range p.Accepts {
		legacy.Accepts = append(legacy.Accepts, req.ToLegacy(p.Resource))
	}
	return legacy
}

// Unmarshal helpers

// ToPaymentPayloadV1 unmarshals bytes to a legacy payment payload
func ToPaymentPayloadV1(data []byte) (*PaymentPayloadV1, error) {
	var payload PaymentPayloadV1
	if err := unmarshalPreservingNumbers(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ToPaymentRequirementsV1 unmarshals bytes to legacy payment requirements
func ToPaymentRequirementsV1(data []byte) (*PaymentRequirementsV1, error) {
	var requirements PaymentRequirementsV1
	if err := json.Unmarshal(data, &requirements); err != nil {
		return nil, err
	}
	return &requirements, nil
}

// ToPaymentRequiredV1 unmarshals bytes to a legacy payment required response
func ToPaymentRequiredV1(data []byte) (*PaymentRequiredV1, error) {
	var required PaymentRequiredV1
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, err
	}
	return &required, nil
}
