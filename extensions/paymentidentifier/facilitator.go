package paymentidentifier

import (
	"encoding/json"
	"fmt"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/extensions"
	"github.com/p402-io/p402/types"
)

// IsExtension reports whether a value has the payment-identifier envelope
// structure: an info object carrying a required flag. The id format is not
// checked.
func IsExtension(value interface{}) bool {
	if value == nil {
		return false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	var probe struct {
		Info *struct {
			Required *bool `json:"required"`
		} `json:"info"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Info != nil && probe.Info.Required != nil
}

// Validate checks a payment-identifier envelope: structure plus id format
// when an id is present.
func Validate(value interface{}) extensions.ValidationResult {
	if value == nil {
		return extensions.ValidationResult{
			Valid:  false,
			Errors: []string{"extension must be an object"},
		}
	}
	ext, err := parseEnvelope(value)
	if err != nil {
		return extensions.ValidationResult{
			Valid:  false,
			Errors: []string{err.Error()},
		}
	}
	if ext.Info.ID != "" && !IsValidPaymentID(ext.Info.ID) {
		return extensions.ValidationResult{
			Valid:  false,
			Errors: []string{invalidIDMessage()},
		}
	}
	return extensions.ValidationResult{Valid: true}
}

// ExtractID pulls the payment id out of a payload, or returns "" when the
// extension or id is absent. With validate set, a present id that fails the
// format check is an error.
func ExtractID(payload p402.PaymentPayload, validate bool) (string, error) {
	if payload.Extensions == nil {
		return "", nil
	}
	value, ok := payload.Extensions[Key]
	if !ok {
		return "", nil
	}

	ext, err := parseEnvelope(value)
	if err != nil {
		return "", err
	}
	if ext.Info.ID == "" {
		return "", nil
	}
	if validate && !IsValidPaymentID(ext.Info.ID) {
		return "", fmt.Errorf("invalid payment id format")
	}
	return ext.Info.ID, nil
}

// ExtractIDFromBytes pulls the payment id out of raw payload bytes, for
// facilitators working at the network boundary. Version 1 payloads carry no
// extensions and always yield "".
func ExtractIDFromBytes(payloadBytes []byte, validate bool) (string, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return "", err
	}
	switch version {
	case p402.ProtocolVersionV1:
		return "", nil
	case p402.ProtocolVersion:
		payload, err := types.ToPaymentPayload(payloadBytes)
		if err != nil {
			return "", err
		}
		return ExtractID(*payload, validate)
	default:
		return "", fmt.Errorf("unsupported protocol version: %d", version)
	}
}

// ExtractAndValidateID extracts the payment id and validates the envelope
// in one step. An absent extension is valid with an empty id.
func ExtractAndValidateID(payload p402.PaymentPayload) (string, extensions.ValidationResult) {
	if payload.Extensions == nil {
		return "", extensions.ValidationResult{Valid: true}
	}
	value, ok := payload.Extensions[Key]
	if !ok {
		return "", extensions.ValidationResult{Valid: true}
	}

	if result := Validate(value); !result.Valid {
		return "", result
	}

	id, err := ExtractID(payload, false)
	if err != nil {
		return "", extensions.ValidationResult{Valid: false, Errors: []string{err.Error()}}
	}
	return id, extensions.ValidationResult{Valid: true}
}

// Has reports whether a payload carries the payment-identifier extension.
func Has(payload p402.PaymentPayload) bool {
	if payload.Extensions == nil {
		return false
	}
	_, ok := payload.Extensions[Key]
	return ok
}

// IsRequired reports whether a declaration marks the payment id as
// required.
func IsRequired(value interface{}) bool {
	if value == nil {
		return false
	}
	ext, err := parseEnvelope(value)
	if err != nil {
		return false
	}
	return ext.Info.Required
}

// ValidateRequirement checks that a payload satisfies the server's
// payment-identifier requirement: when the server requires an id, one must
// be present and well formed.
func ValidateRequirement(payload p402.PaymentPayload, serverRequired bool) extensions.ValidationResult {
	if !serverRequired {
		return extensions.ValidationResult{Valid: true}
	}

	id, err := ExtractID(payload, false)
	if err != nil {
		return extensions.ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("failed to extract payment identifier: %v", err)},
		}
	}
	if id == "" {
		return extensions.ValidationResult{
			Valid:  false,
			Errors: []string{"server requires a payment identifier but none was provided"},
		}
	}
	if !IsValidPaymentID(id) {
		return extensions.ValidationResult{
			Valid:  false,
			Errors: []string{invalidIDMessage()},
		}
	}
	return extensions.ValidationResult{Valid: true}
}

// RequiredFromPaymentRequired reports whether a raw 402 response declares
// the payment id as required, for clients deciding whether to inject one.
// Version 1 responses carry no extensions.
func RequiredFromPaymentRequired(requiredBytes []byte) (bool, error) {
	version, err := types.DetectVersion(requiredBytes)
	if err != nil {
		return false, err
	}
	switch version {
	case p402.ProtocolVersionV1:
		return false, nil
	case p402.ProtocolVersion:
		required, err := types.ToPaymentRequired(requiredBytes)
		if err != nil {
			return false, err
		}
		if required.Extensions == nil {
			return false, nil
		}
		value, ok := required.Extensions[Key]
		if !ok {
			return false, nil
		}
		return IsRequired(value), nil
	default:
		return false, fmt.Errorf("unsupported protocol version: %d", version)
	}
}

func parseEnvelope(value interface{}) (*Extension, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extension: %w", err)
	}
	var ext Extension
	if err := json.Unmarshal(raw, &ext); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extension: %w", err)
	}
	return &ext, nil
}

func invalidIDMessage() string {
	return fmt.Sprintf("invalid payment id: must be %d to %d characters of letters, digits, hyphens and underscores",
		MinIDLength, MaxIDLength)
}
