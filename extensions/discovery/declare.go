package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/p402-io/p402/extensions"
	"github.com/p402-io/p402/types"
)

// Declare builds the discovery envelope for a paid endpoint. For query
// methods input is an example set of query parameters; for body methods it
// is an example request body and bodyType names its encoding, defaulting to
// json. inputSchema constrains the declared inputs and output is optional.
//
// The returned envelope carries both the declaration and a JSON Schema
// describing it, so facilitators can validate what they catalog.
func Declare(method string, input interface{}, inputSchema JSONSchema, bodyType BodyType, output *OutputConfig) (*types.Extension, error) {
	method = strings.ToUpper(method)
	switch {
	case IsQueryMethod(method):
		return queryDeclaration(method, input, inputSchema, output)
	case IsBodyMethod(method):
		if bodyType == "" {
			bodyType = BodyTypeJSON
		}
		return bodyDeclaration(method, input, inputSchema, bodyType, output)
	}
	return nil, fmt.Errorf("unsupported HTTP method: %s", method)
}

func queryDeclaration(method string, input interface{}, inputSchema JSONSchema, output *OutputConfig) (*types.Extension, error) {
	queryParams, _ := input.(map[string]interface{})

	info := Info{
		Input: QueryInput{
			Type:        "http",
			Method:      method,
			QueryParams: queryParams,
		},
	}
	if output != nil && output.Example != nil {
		info.Output = &OutputInfo{Type: "json", Example: output.Example}
	}

	if inputSchema == nil {
		inputSchema = JSONSchema{"properties": map[string]interface{}{}}
	}
	queryParamsSchema := map[string]interface{}{"type": "object"}
	for k, v := range inputSchema {
		queryParamsSchema[k] = v
	}

	schemaProperties := map[string]interface{}{
		"input": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type":        map[string]interface{}{"type": "string", "const": "http"},
				"method":      map[string]interface{}{"type": "string", "enum": []string{method}},
				"queryParams": queryParamsSchema,
			},
			"required":             []string{"type", "method"},
			"additionalProperties": false,
		},
	}
	if outputSchema := declaredOutputSchema(output); outputSchema != nil {
		schemaProperties["output"] = outputSchema
	}

	return declaration(info, schemaProperties)
}

func bodyDeclaration(method string, input interface{}, inputSchema JSONSchema, bodyType BodyType, output *OutputConfig) (*types.Extension, error) {
	info := Info{
		Input: BodyInput{
			Type:     "http",
			Method:   method,
			BodyType: bodyType,
			Body:     input,
		},
	}
	if output != nil && output.Example != nil {
		info.Output = &OutputInfo{Type: "json", Example: output.Example}
	}

	if inputSchema == nil {
		inputSchema = JSONSchema{"properties": map[string]interface{}{}}
	}

	schemaProperties := map[string]interface{}{
		"input": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type":   map[string]interface{}{"type": "string", "const": "http"},
				"method": map[string]interface{}{"type": "string", "enum": []string{method}},
				"bodyType": map[string]interface{}{
					"type": "string",
					"enum": []string{string(BodyTypeJSON), string(BodyTypeFormData), string(BodyTypeText)},
				},
				"body": map[string]interface{}(inputSchema),
			},
			"required":             []string{"type", "method", "bodyType", "body"},
			"additionalProperties": false,
		},
	}
	if outputSchema := declaredOutputSchema(output); outputSchema != nil {
		schemaProperties["output"] = outputSchema
	}

	return declaration(info, schemaProperties)
}

func declaration(info Info, schemaProperties map[string]interface{}) (*types.Extension, error) {
	doc, err := infoDocument(info)
	if err != nil {
		return nil, err
	}
	schema := JSONSchema{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": schemaProperties,
		"required":   []string{"input"},
	}
	return extensions.NewExtensionDeclaration(doc, schema), nil
}

// declaredOutputSchema builds the schema constraining a declared output, or
// nil when the declaration has none.
func declaredOutputSchema(output *OutputConfig) map[string]interface{} {
	if output == nil || output.Example == nil {
		return nil
	}
	example := map[string]interface{}{"type": "object"}
	for k, v := range output.Schema {
		example[k] = v
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"type":    map[string]interface{}{"type": "string"},
			"example": example,
		},
		"required": []string{"type"},
	}
}

func infoDocument(info Info) (map[string]interface{}, error) {
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode discovery info: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode discovery info: %w", err)
	}
	return doc, nil
}
