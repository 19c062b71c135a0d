package p402

import (
	"encoding/json"

	"github.com/p402-io/p402/types"
)

// The types package owns the wire model. The aliases below keep engine call
// sites on the root package, so most integrations never import types
// directly.
type (
	Network                  = types.Network
	PaymentRequirements      = types.PaymentRequirements
	PaymentPayload           = types.PaymentPayload
	PaymentRequired          = types.PaymentRequired
	ResourceInfo             = types.ResourceInfo
	PaymentRequirementsV1    = types.PaymentRequirementsV1
	PaymentPayloadV1         = types.PaymentPayloadV1
	PaymentRequiredV1        = types.PaymentRequiredV1
	VerifyResponse           = types.VerifyResponse
	SettleResponse           = types.SettleResponse
	SupportedKind            = types.SupportedKind
	SupportedResponse        = types.SupportedResponse
	Extension                = types.Extension
	ResourceServiceExtension = types.ResourceServiceExtension
)

// Price is a human-facing price in any accepted form: a money string such as
// "$0.01", a bare float, or an AssetAmount for full control. SchemeServer
// implementations decide which forms they accept.
type Price interface{}

// AssetAmount is a resolved price: an atomic-unit amount of a concrete asset.
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// ResourceConfig defines the payment configuration for one protected
// resource.
type ResourceConfig struct {
	Scheme            string  `json:"scheme"`
	PayTo             string  `json:"payTo"`
	Price             Price   `json:"price"`
	Network           Network `json:"network"`
	MaxTimeoutSeconds int     `json:"maxTimeoutSeconds,omitempty"`
}

// VerifyRequest is the body of a facilitator /verify call. Payload and
// requirements stay raw so the facilitator can route v1 and v2 shapes without
// committing to either.
type VerifyRequest struct {
	ProtocolVersion     int             `json:"protocolVersion"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

// SettleRequest is the body of a facilitator /settle call.
type SettleRequest struct {
	ProtocolVersion     int             `json:"protocolVersion"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

// DeepEqual compares two values structurally through JSON normalization.
// Numbers compare by literal, so amounts beyond float64 precision never
// collapse into equality.
func DeepEqual(a, b interface{}) bool {
	aJSON, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return false
	}
	equal, err := types.JSONEqual(aJSON, bJSON)
	if err != nil {
		return false
	}
	return equal
}
