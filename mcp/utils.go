package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	p402 "github.com/p402-io/p402"
)

// ExtractPaymentFromMeta extracts a payment payload from MCP request _meta.
// A missing or malformed payment yields (nil, nil); the server treats both
// as "no payment attached".
func ExtractPaymentFromMeta(params map[string]interface{}) (*p402.PaymentPayload, error) {
	meta, ok := params["_meta"].(map[string]interface{})
	if !ok {
		return nil, nil
	}

	paymentData, ok := meta[MCP_PAYMENT_META_KEY]
	if !ok {
		return nil, nil
	}

	paymentBytes, err := json.Marshal(paymentData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment data: %w", err)
	}

	var payload p402.PaymentPayload
	if err := json.Unmarshal(paymentBytes, &payload); err != nil {
		return nil, nil //nolint:nilerr // invalid structure means "no payment", not an error
	}

	if payload.ProtocolVersion == 0 || payload.Payload == nil {
		return nil, nil
	}

	return &payload, nil
}

// AttachPaymentToMeta returns a copy of params with the payment payload
// placed under the payment meta key.
func AttachPaymentToMeta(params map[string]interface{}, payload p402.PaymentPayload) map[string]interface{} {
	result := make(map[string]interface{})
	for k, v := range params {
		result[k] = v
	}

	meta := make(map[string]interface{})
	if existingMeta, ok := result["_meta"].(map[string]interface{}); ok {
		for k, v := range existingMeta {
			meta[k] = v
		}
	}

	meta[MCP_PAYMENT_META_KEY] = payload
	result["_meta"] = meta

	return result
}

// ExtractPaymentResponseFromMeta extracts the settlement response from MCP
// result _meta.
func ExtractPaymentResponseFromMeta(result MCPToolResult) (*p402.SettleResponse, error) {
	if result.Meta == nil {
		return nil, nil
	}

	responseData, ok := result.Meta[MCP_PAYMENT_RESPONSE_META_KEY]
	if !ok {
		return nil, nil
	}

	// In-process servers store the struct directly; remote ones decode to a map.
	if settleResp, ok := responseData.(p402.SettleResponse); ok {
		return &settleResp, nil
	}

	responseBytes, err := json.Marshal(responseData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %w", err)
	}

	var response p402.SettleResponse
	if err := json.Unmarshal(responseBytes, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment response: %w", err)
	}

	return &response, nil
}

// AttachPaymentResponseToMeta attaches a settlement response to a result
func AttachPaymentResponseToMeta(result MCPToolResult, response p402.SettleResponse) MCPToolResult {
	if result.Meta == nil {
		result.Meta = make(map[string]interface{})
	}

	result.Meta[MCP_PAYMENT_RESPONSE_META_KEY] = response
	return result
}

// ExtractPaymentRequiredFromResult extracts a PaymentRequired response from
// a tool result. Both encodings are accepted: structuredContent (preferred)
// and a JSON object in the first text content item.
func ExtractPaymentRequiredFromResult(result MCPToolResult) (*p402.PaymentRequired, error) {
	if !result.IsError {
		return nil, nil
	}

	if result.StructuredContent != nil {
		if pr := extractPaymentRequiredFromObject(result.StructuredContent); pr != nil {
			return pr, nil
		}
	}

	if len(result.Content) > 0 {
		firstItem := result.Content[0]
		if firstItem.Type == "text" && firstItem.Text != "" {
			var parsed map[string]interface{}
			if err := json.Unmarshal([]byte(firstItem.Text), &parsed); err == nil {
				if pr := extractPaymentRequiredFromObject(parsed); pr != nil {
					return pr, nil
				}
			}
		}
	}

	return nil, nil
}

func extractPaymentRequiredFromObject(obj map[string]interface{}) *p402.PaymentRequired {
	if _, hasVersion := obj["protocolVersion"]; !hasVersion {
		return nil
	}

	accepts, ok := obj["accepts"].([]interface{})
	if !ok || len(accepts) == 0 {
		return nil
	}

	bytes, err := json.Marshal(obj)
	if err != nil {
		return nil
	}

	var pr p402.PaymentRequired
	if err := json.Unmarshal(bytes, &pr); err != nil {
		return nil
	}

	return &pr
}

// CreateToolResourceUrl creates a resource URL for an MCP tool
func CreateToolResourceUrl(toolName string, customUrl string) string {
	if customUrl != "" {
		return customUrl
	}
	return "mcp://tool/" + toolName
}

// IsObject checks if a value is a non-null object (map[string]interface{}).
func IsObject(value interface{}) bool {
	if value == nil {
		return false
	}
	_, ok := value.(map[string]interface{})
	return ok
}

// CreatePaymentRequiredError creates a PaymentRequiredError with the given
// message and payment required data.
func CreatePaymentRequiredError(message string, paymentRequired *p402.PaymentRequired) *PaymentRequiredError {
	return &PaymentRequiredError{
		Code:            MCP_PAYMENT_REQUIRED_CODE,
		Message:         message,
		PaymentRequired: paymentRequired,
	}
}

// IsPaymentRequiredError checks if an error is a PaymentRequiredError
func IsPaymentRequiredError(err error) bool {
	if err == nil {
		return false
	}
	var target *PaymentRequiredError
	return errors.As(err, &target)
}

// ExtractPaymentRequiredFromError extracts PaymentRequired from an MCP
// JSON-RPC error object with code 402.
func ExtractPaymentRequiredFromError(err interface{}) (*p402.PaymentRequired, error) {
	if !IsObject(err) {
		return nil, nil
	}

	errObj := err.(map[string]interface{})

	code, ok := errObj["code"]
	if !ok {
		return nil, nil
	}
	codeFloat, ok := code.(float64)
	if !ok || int(codeFloat) != MCP_PAYMENT_REQUIRED_CODE {
		return nil, nil
	}

	dataObj, ok := errObj["data"].(map[string]interface{})
	if !ok {
		return nil, nil
	}

	return extractPaymentRequiredFromObject(dataObj), nil
}
