package types

import "encoding/json"

// VerifyResponse reports the outcome of payment verification. Protocol-level
// rejections set IsValid false with a machine-readable reason; they are not
// errors.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse reports the outcome of payment settlement. Transaction is
// the settlement identifier on the underlying network, carried as a string
// so values beyond native integer precision survive the wire.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Transaction string  `json:"transaction,omitempty"`
	Network     Network `json:"network"`
	Payer       string  `json:"payer,omitempty"`
}

// SupportedKind advertises one (protocolVersion, scheme, network) combination
// a facilitator can verify and settle, with any facilitator-provided extra
// data such as a designated fee payer.
type SupportedKind struct {
	ProtocolVersion int                    `json:"protocolVersion"`
	Scheme          string                 `json:"scheme"`
	Network         Network                `json:"network"`
	Extra           map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is a facilitator capability snapshot. Signers maps a
// network pattern to the public addresses the facilitator settles from.
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions,omitempty"`
	Signers    map[string][]string `json:"signers,omitempty"`
}

// Unmarshal helpers

// ToVerifyResponse unmarshals bytes to a verify response
func ToVerifyResponse(data []byte) (*VerifyResponse, error) {
	var response VerifyResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// ToSettleResponse unmarshals bytes to a settle response
func ToSettleResponse(data []byte) (*SettleResponse, error) {
	var response SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// ToSupportedResponse unmarshals bytes to a supported response. Kinds carry
// open extra maps, so numbers are preserved literally.
func ToSupportedResponse(data []byte) (*SupportedResponse, error) {
	var response SupportedResponse
	if err := unmarshalPreservingNumbers(data, &response); err != nil {
		return nil, err
	}
	return &response, nil
}
