// Package discovery implements the resource discovery extension. Resource
// servers declare how a paid endpoint is called (method, inputs, output
// shape) on their 402 responses; facilitators extract and validate those
// declarations from payments to build a catalog of paid resources.
package discovery

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key is the extension key discovery declarations travel under.
const Key = "discovery"

// HTTP methods whose inputs travel as query parameters.
const (
	MethodGET    = "GET"
	MethodHEAD   = "HEAD"
	MethodDELETE = "DELETE"
)

// HTTP methods whose inputs travel in the request body.
const (
	MethodPOST  = "POST"
	MethodPUT   = "PUT"
	MethodPATCH = "PATCH"
)

// BodyType names the encoding of a declared request body.
type BodyType string

const (
	BodyTypeJSON     BodyType = "json"
	BodyTypeFormData BodyType = "form-data"
	BodyTypeText     BodyType = "text"
)

// JSONSchema is a JSON Schema document in decoded form.
type JSONSchema = map[string]interface{}

// QueryInput declares an endpoint whose inputs are query parameters.
type QueryInput struct {
	Type        string                 `json:"type"`
	Method      string                 `json:"method"`
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// BodyInput declares an endpoint whose inputs travel in the request body.
// Some endpoints take query parameters alongside the body, so both slots
// exist here.
type BodyInput struct {
	Type        string                 `json:"type"`
	Method      string                 `json:"method"`
	BodyType    BodyType               `json:"bodyType"`
	Body        interface{}            `json:"body"`
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// OutputInfo describes what a paid endpoint returns.
type OutputInfo struct {
	Type    string      `json:"type"`
	Example interface{} `json:"example,omitempty"`
}

// OutputConfig configures the output half of a declaration. Example is the
// advertised response example; Schema, when set, is merged into the schema
// constraining that example.
type OutputConfig struct {
	Example interface{}
	Schema  map[string]interface{}
}

// Info is a discovery declaration in typed form. Input holds a QueryInput
// or BodyInput depending on the declared method.
type Info struct {
	Input  interface{} `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// UnmarshalJSON decodes Input into the concrete shape for its method. An
// input with an unrecognized method stays a generic map.
func (i *Info) UnmarshalJSON(data []byte) error {
	var raw struct {
		Input  json.RawMessage `json:"input"`
		Output *OutputInfo     `json:"output,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	i.Output = raw.Output
	i.Input = nil
	if len(raw.Input) == 0 || string(raw.Input) == "null" {
		return nil
	}

	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw.Input, &probe); err != nil {
		return err
	}

	switch method := strings.ToUpper(probe.Method); {
	case IsQueryMethod(method):
		var input QueryInput
		if err := json.Unmarshal(raw.Input, &input); err != nil {
			return err
		}
		i.Input = input
	case IsBodyMethod(method):
		var input BodyInput
		if err := json.Unmarshal(raw.Input, &input); err != nil {
			return err
		}
		i.Input = input
	default:
		var input map[string]interface{}
		if err := json.Unmarshal(raw.Input, &input); err != nil {
			return err
		}
		i.Input = input
	}
	return nil
}

// Method returns the HTTP method the declared input expects, or "" when the
// input is not a recognized shape.
func (i Info) Method() string {
	switch input := i.Input.(type) {
	case QueryInput:
		return input.Method
	case BodyInput:
		return input.Method
	}
	return ""
}

// ParseInfo decodes an envelope info document into a typed Info.
func ParseInfo(doc map[string]interface{}) (*Info, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("malformed discovery info: %w", err)
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("malformed discovery info: %w", err)
	}
	return &info, nil
}

// IsQueryMethod reports whether inputs for the method travel as query
// parameters.
func IsQueryMethod(method string) bool {
	switch strings.ToUpper(method) {
	case MethodGET, MethodHEAD, MethodDELETE:
		return true
	}
	return false
}

// IsBodyMethod reports whether inputs for the method travel in the request
// body.
func IsBodyMethod(method string) bool {
	switch strings.ToUpper(method) {
	case MethodPOST, MethodPUT, MethodPATCH:
		return true
	}
	return false
}
