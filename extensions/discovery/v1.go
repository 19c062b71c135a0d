package discovery

import (
	"encoding/json"
	"strings"

	"github.com/p402-io/p402/types"
)

// ExtractLegacyInfo recovers a discovery declaration from a legacy
// requirements entry. Legacy servers embed the endpoint shape in
// outputSchema under loosely standardized field names, so extraction is
// tolerant: recognized aliases are normalized into the current form and
// anything unusable yields nil. Entries that set discoverable to false
// opted out and also yield nil.
func ExtractLegacyInfo(requirements types.PaymentRequirementsV1) *Info {
	if requirements.OutputSchema == nil {
		return nil
	}
	var outputSchema map[string]interface{}
	if err := json.Unmarshal(*requirements.OutputSchema, &outputSchema); err != nil {
		return nil
	}

	input, ok := outputSchema["input"].(map[string]interface{})
	if !ok {
		return nil
	}
	if inputType, _ := input["type"].(string); inputType != "http" {
		return nil
	}
	method, ok := input["method"].(string)
	if !ok {
		return nil
	}
	if discoverable, ok := input["discoverable"].(bool); ok && !discoverable {
		return nil
	}
	method = strings.ToUpper(method)

	headers := legacyHeaders(input)

	var output *OutputInfo
	if outputRaw, ok := outputSchema["output"]; ok && outputRaw != nil {
		output = &OutputInfo{Type: "json", Example: outputRaw}
	}

	switch {
	case IsQueryMethod(method):
		return &Info{
			Input: QueryInput{
				Type:        "http",
				Method:      method,
				QueryParams: legacyQueryParams(input),
				Headers:     headers,
			},
			Output: output,
		}
	case IsBodyMethod(method):
		body, bodyType := legacyBody(input)
		return &Info{
			Input: BodyInput{
				Type:        "http",
				Method:      method,
				BodyType:    bodyType,
				Body:        body,
				QueryParams: legacyQueryParams(input),
				Headers:     headers,
			},
			Output: output,
		}
	}
	return nil
}

// Header declarations appear either as a schema keyed by field name or as a
// flat name-to-value map. Schema forms only carry the keys.
func legacyHeaders(input map[string]interface{}) map[string]string {
	for _, field := range []string{"headerFields", "header_fields"} {
		if fields, ok := input[field].(map[string]interface{}); ok {
			headers := make(map[string]string, len(fields))
			for k := range fields {
				headers[k] = ""
			}
			return headers
		}
	}
	if raw, ok := input["headers"].(map[string]interface{}); ok {
		headers := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
		return headers
	}
	return nil
}

func legacyQueryParams(input map[string]interface{}) map[string]interface{} {
	for _, field := range []string{"queryParams", "query_params", "query", "params"} {
		if params, ok := input[field].(map[string]interface{}); ok {
			return params
		}
	}
	return nil
}

func legacyBody(input map[string]interface{}) (interface{}, BodyType) {
	bodyType := BodyTypeJSON
	for _, field := range []string{"bodyType", "body_type"} {
		if s, ok := input[field].(string); ok {
			bodyType = normalizeBodyType(s)
			break
		}
	}

	var body interface{} = map[string]interface{}{}
	for _, field := range []string{"bodyFields", "body_fields", "bodyParams", "body", "data", "properties"} {
		if value, ok := input[field]; ok && value != nil {
			body = value
			break
		}
	}
	return body, bodyType
}

func normalizeBodyType(s string) BodyType {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "form") || strings.Contains(s, "multipart"):
		return BodyTypeFormData
	case strings.Contains(s, "text") || strings.Contains(s, "plain"):
		return BodyTypeText
	}
	return BodyTypeJSON
}
