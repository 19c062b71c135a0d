package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
)

// Base64 regex pattern - requires at least one character
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// HeaderError reports a malformed payment header. Every malformed input maps
// to this one type so handlers can branch with errors.As instead of matching
// message text.
type HeaderError struct {
	Header string
	Reason string
}

func (e *HeaderError) Error() string {
	if e.Header != "" {
		return fmt.Sprintf("invalid %s header: %s", e.Header, e.Reason)
	}
	return fmt.Sprintf("invalid payment header: %s", e.Reason)
}

func newHeaderError(header, reason string) *HeaderError {
	return &HeaderError{Header: header, Reason: reason}
}

// ValidateAndDecodePaymentHeader validates and decodes a payment header
// string into raw payload bytes, reporting the detected protocol version.
// It checks base64 format, JSON structure, and the required fields of the
// detected version before handing the bytes on.
func ValidateAndDecodePaymentHeader(headerName, paymentHeader string) ([]byte, int, error) {
	if paymentHeader == "" {
		return nil, 0, newHeaderError(headerName, "header is empty")
	}

	if !base64Regex.MatchString(paymentHeader) {
		return nil, 0, newHeaderError(headerName, "not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(paymentHeader)
	if err != nil {
		return nil, 0, newHeaderError(headerName, "base64 decoding failed")
	}

	var rawPayload map[string]interface{}
	if err := json.Unmarshal(decoded, &rawPayload); err != nil {
		return nil, 0, newHeaderError(headerName, "not valid JSON")
	}

	versionValue, exists := rawPayload["protocolVersion"]
	if !exists {
		return nil, 0, newHeaderError(headerName, "missing required field: protocolVersion")
	}
	versionNumber, ok := versionValue.(float64)
	if !ok {
		return nil, 0, newHeaderError(headerName, "protocolVersion must be a number")
	}
	version := int(versionNumber)
	if version < 1 {
		return nil, 0, newHeaderError(headerName, "protocolVersion must be at least 1")
	}

	if _, exists := rawPayload["payload"]; !exists {
		return nil, 0, newHeaderError(headerName, "missing required field: payload")
	}
	if _, ok := rawPayload["payload"].(map[string]interface{}); !ok {
		return nil, 0, newHeaderError(headerName, "payload must be an object")
	}

	switch version {
	case 1:
		if _, ok := rawPayload["scheme"].(string); !ok {
			return nil, 0, newHeaderError(headerName, "scheme must be a string")
		}
		if _, ok := rawPayload["network"].(string); !ok {
			return nil, 0, newHeaderError(headerName, "network must be a string")
		}
	default:
		if _, exists := rawPayload["accepted"]; !exists {
			return nil, 0, newHeaderError(headerName, "missing required field: accepted")
		}
		if _, ok := rawPayload["accepted"].(map[string]interface{}); !ok {
			return nil, 0, newHeaderError(headerName, "accepted must be an object")
		}
		if resource, exists := rawPayload["resource"]; exists {
			resourceMap, ok := resource.(map[string]interface{})
			if !ok {
				return nil, 0, newHeaderError(headerName, "resource must be an object")
			}
			if _, ok := resourceMap["url"].(string); !ok {
				return nil, 0, newHeaderError(headerName, "resource.url must be a string")
			}
		}
	}

	return decoded, version, nil
}

// DecodeResponseHeader strictly decodes a base64 response header into raw
// JSON bytes. Used for settlement and payment-required headers where the
// payload-level field checks above do not apply.
func DecodeResponseHeader(headerName, value string) ([]byte, error) {
	if value == "" {
		return nil, newHeaderError(headerName, "header is empty")
	}
	if !base64Regex.MatchString(value) {
		return nil, newHeaderError(headerName, "not valid base64")
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, newHeaderError(headerName, "base64 decoding failed")
	}
	if !json.Valid(decoded) {
		return nil, newHeaderError(headerName, "not valid JSON")
	}
	return decoded, nil
}
