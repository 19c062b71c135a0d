package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func encodeTestPayload(t *testing.T, payload map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func TestValidateAndDecodePaymentHeader(t *testing.T) {
	t.Run("Empty/Invalid Base64", func(t *testing.T) {
		tests := []struct {
			name           string
			header         string
			expectedReason string
		}{
			{
				name:           "empty string",
				header:         "",
				expectedReason: "header is empty",
			},
			{
				name:           "invalid base64 characters",
				header:         "invalid@#$%",
				expectedReason: "not valid base64",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := ValidateAndDecodePaymentHeader(HeaderPaymentSignature, tt.header)
				var headerErr *HeaderError
				if !errors.As(err, &headerErr) {
					t.Fatalf("expected HeaderError, got %v", err)
				}
				if headerErr.Reason != tt.expectedReason {
					t.Errorf("expected reason %q, got %q", tt.expectedReason, headerErr.Reason)
				}
				if headerErr.Header != HeaderPaymentSignature {
					t.Errorf("expected header name carried, got %q", headerErr.Header)
				}
			})
		}
	})

	t.Run("Valid Base64 but Invalid JSON", func(t *testing.T) {
		for _, content := range []string{"not json at all", "{invalid json}"} {
			encoded := base64.StdEncoding.EncodeToString([]byte(content))
			_, _, err := ValidateAndDecodePaymentHeader(HeaderPaymentSignature, encoded)
			var headerErr *HeaderError
			if !errors.As(err, &headerErr) {
				t.Fatalf("expected HeaderError, got %v", err)
			}
			if headerErr.Reason != "not valid JSON" {
				t.Errorf("expected JSON reason, got %q", headerErr.Reason)
			}
		}
	})

	t.Run("Missing Required Fields", func(t *testing.T) {
		tests := []struct {
			name           string
			payload        map[string]interface{}
			expectedReason string
		}{
			{
				name: "missing protocolVersion",
				payload: map[string]interface{}{
					"accepted": map[string]interface{}{},
					"payload":  map[string]interface{}{},
				},
				expectedReason: "missing required field: protocolVersion",
			},
			{
				name: "missing payload",
				payload: map[string]interface{}{
					"protocolVersion": 2,
					"accepted":        map[string]interface{}{},
				},
				expectedReason: "missing required field: payload",
			},
			{
				name: "missing accepted",
				payload: map[string]interface{}{
					"protocolVersion": 2,
					"payload":         map[string]interface{}{},
				},
				expectedReason: "missing required field: accepted",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := ValidateAndDecodePaymentHeader(HeaderPaymentSignature, encodeTestPayload(t, tt.payload))
				var headerErr *HeaderError
				if !errors.As(err, &headerErr) {
					t.Fatalf("expected HeaderError, got %v", err)
				}
				if headerErr.Reason != tt.expectedReason {
					t.Errorf("expected reason %q, got %q", tt.expectedReason, headerErr.Reason)
				}
			})
		}
	})

	t.Run("Invalid Field Types", func(t *testing.T) {
		tests := []struct {
			name           string
			payload        map[string]interface{}
			expectedReason string
		}{
			{
				name: "protocolVersion as string",
				payload: map[string]interface{}{
					"protocolVersion": "2",
					"accepted":        map[string]interface{}{},
					"payload":         map[string]interface{}{},
				},
				expectedReason: "protocolVersion must be a number",
			},
			{
				name: "protocolVersion zero",
				payload: map[string]interface{}{
					"protocolVersion": 0,
					"accepted":        map[string]interface{}{},
					"payload":         map[string]interface{}{},
				},
				expectedReason: "protocolVersion must be at least 1",
			},
			{
				name: "payload as string",
				payload: map[string]interface{}{
					"protocolVersion": 2,
					"accepted":        map[string]interface{}{},
					"payload":         "not an object",
				},
				expectedReason: "payload must be an object",
			},
			{
				name: "accepted as array",
				payload: map[string]interface{}{
					"protocolVersion": 2,
					"accepted":        []interface{}{},
					"payload":         map[string]interface{}{},
				},
				expectedReason: "accepted must be an object",
			},
			{
				name: "resource as string",
				payload: map[string]interface{}{
					"protocolVersion": 2,
					"accepted":        map[string]interface{}{},
					"payload":         map[string]interface{}{},
					"resource":        "not an object",
				},
				expectedReason: "resource must be an object",
			},
			{
				name: "legacy scheme missing",
				payload: map[string]interface{}{
					"protocolVersion": 1,
					"network":         "eip155:1",
					"payload":         map[string]interface{}{},
				},
				expectedReason: "scheme must be a string",
			},
			{
				name: "legacy network missing",
				payload: map[string]interface{}{
					"protocolVersion": 1,
					"scheme":          "exact",
					"payload":         map[string]interface{}{},
				},
				expectedReason: "network must be a string",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := ValidateAndDecodePaymentHeader(HeaderPaymentSignature, encodeTestPayload(t, tt.payload))
				var headerErr *HeaderError
				if !errors.As(err, &headerErr) {
					t.Fatalf("expected HeaderError, got %v", err)
				}
				if headerErr.Reason != tt.expectedReason {
					t.Errorf("expected reason %q, got %q", tt.expectedReason, headerErr.Reason)
				}
			})
		}
	})

	t.Run("Valid Current Payload", func(t *testing.T) {
		payload := map[string]interface{}{
			"protocolVersion": 2,
			"resource": map[string]interface{}{
				"url":         "http://test.com/api",
				"description": "Test API",
				"mimeType":    "application/json",
			},
			"accepted": map[string]interface{}{
				"scheme":            "exact",
				"network":           "eip155:84532",
				"asset":             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				"amount":            "10000",
				"payTo":             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				"maxTimeoutSeconds": 60,
			},
			"payload": map[string]interface{}{
				"signature": "0x123",
			},
		}

		decoded, version, err := ValidateAndDecodePaymentHeader(HeaderPaymentSignature, encodeTestPayload(t, payload))
		if err != nil {
			t.Fatalf("expected no error but got: %v", err)
		}
		if version != 2 {
			t.Errorf("expected version 2, got %d", version)
		}
		var roundTrip map[string]interface{}
		if err := json.Unmarshal(decoded, &roundTrip); err != nil {
			t.Fatalf("decoded bytes not JSON: %v", err)
		}
		if roundTrip["protocolVersion"].(float64) != 2 {
			t.Error("expected decoded bytes to carry the original document")
		}
	})

	t.Run("Valid Legacy Payload", func(t *testing.T) {
		payload := map[string]interface{}{
			"protocolVersion": 1,
			"scheme":          "exact",
			"network":         "eip155:1",
			"payload": map[string]interface{}{
				"signature": "0xlegacy",
			},
		}

		_, version, err := ValidateAndDecodePaymentHeader(HeaderPaymentLegacy, encodeTestPayload(t, payload))
		if err != nil {
			t.Fatalf("expected no error but got: %v", err)
		}
		if version != 1 {
			t.Errorf("expected version 1, got %d", version)
		}
	})
}

func TestDecodeResponseHeader(t *testing.T) {
	valid := base64.StdEncoding.EncodeToString([]byte(`{"success":true}`))
	decoded, err := DecodeResponseHeader(HeaderPaymentResponse, valid)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(decoded) != `{"success":true}` {
		t.Errorf("Unexpected decoded bytes: %s", decoded)
	}

	for _, bad := range []string{"", "!!!", base64.StdEncoding.EncodeToString([]byte("not json"))} {
		_, err := DecodeResponseHeader(HeaderPaymentResponse, bad)
		var headerErr *HeaderError
		if !errors.As(err, &headerErr) {
			t.Fatalf("expected HeaderError for %q, got %v", bad, err)
		}
	}
}
