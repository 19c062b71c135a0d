package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PaymentRequirements describes one acceptable way to pay for a resource.
// Amount is a decimal string denominated in the asset's smallest atomic
// unit; human-readable money strings are converted before requirements are
// published.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Amount            string                 `json:"amount"`
	Asset             string                 `json:"asset"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentPayload carries a client's signed payment claim. Accepted is a copy
// of the exact requirements entry the client chose from a PaymentRequired,
// not a reference to it.
type PaymentPayload struct {
	ProtocolVersion int                    `json:"protocolVersion"`
	Payload         map[string]interface{} `json:"payload"`
	Accepted        PaymentRequirements    `json:"accepted"`
	Resource        *ResourceInfo          `json:"resource,omitempty"`
	Extensions      map[string]interface{} `json:"extensions,omitempty"`
}

// PaymentRequired is the body of a 402 response offering payment options.
// Accepts is ordered; earlier entries are preferred by the server.
type PaymentRequired struct {
	ProtocolVersion int                    `json:"protocolVersion"`
	Error           string                 `json:"error,omitempty"`
	Resource        *ResourceInfo          `json:"resource,omitempty"`
	Accepts         []PaymentRequirements  `json:"accepts"`
	Extensions      map[string]interface{} `json:"extensions,omitempty"`
}

// ResourceInfo describes the resource being paid for. It is hoisted out of
// the individual requirements so it appears once per response.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Website     string `json:"website,omitempty"`
}

// Unmarshal helpers

// unmarshalPreservingNumbers decodes wire JSON keeping numbers inside open
// maps (payload, extra, extensions) as json.Number. A plain json.Unmarshal
// routes them through float64, which corrupts integers beyond 2^53 before
// the mechanism or a re-encode ever sees them.
func unmarshalPreservingNumbers(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// ToPaymentPayload unmarshals bytes to a current-version payment payload
func ToPaymentPayload(data []byte) (*PaymentPayload, error) {
	var payload PaymentPayload
	if err := unmarshalPreservingNumbers(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ToPaymentRequirements unmarshals bytes to current-version payment requirements
func ToPaymentRequirements(data []byte) (*PaymentRequirements, error) {
	var requirements PaymentRequirements
	if err := unmarshalPreservingNumbers(data, &requirements); err != nil {
		return nil, err
	}
	return &requirements, nil
}

// ToPaymentRequired unmarshals bytes to a current-version payment required response
func ToPaymentRequired(data []byte) (*PaymentRequired, error) {
	var required PaymentRequired
	if err := unmarshalPreservingNumbers(data, &required); err != nil {
		return nil, err
	}
	return &required, nil
}
