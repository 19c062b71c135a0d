package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DetectVersion reads the protocol version discriminator from raw message
// bytes without committing to a version-specific structure.
func DetectVersion(data []byte) (int, error) {
	var probe struct {
		ProtocolVersion int `json:"protocolVersion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("cannot detect protocol version: %w", err)
	}
	if probe.ProtocolVersion < 1 {
		return 0, fmt.Errorf("invalid protocol version: %d", probe.ProtocolVersion)
	}
	return probe.ProtocolVersion, nil
}

// RequirementsInfo carries the routing fields shared by every requirements
// version.
type RequirementsInfo struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// ExtractRequirementsInfo pulls scheme and network out of raw requirements
// bytes for capability routing, regardless of version.
func ExtractRequirementsInfo(data []byte) (*RequirementsInfo, error) {
	var info RequirementsInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("cannot extract requirements info: %w", err)
	}
	if info.Scheme == "" || info.Network == "" {
		return nil, fmt.Errorf("requirements missing scheme or network")
	}
	return &info, nil
}

// MatchPayloadToRequirements reports whether a raw payload claims the given
// raw requirements. Version 2 payloads are matched by deep equality against
// the payload's accepted copy (object key order immaterial); version 1
// payloads carry no copy and match on scheme plus network only.
func MatchPayloadToRequirements(version int, payloadBytes, requirementsBytes []byte) (bool, error) {
	switch version {
	case 1:
		payload, err := ToPaymentPayloadV1(payloadBytes)
		if err != nil {
			return false, err
		}
		info, err := ExtractRequirementsInfo(requirementsBytes)
		if err != nil {
			return false, err
		}
		return payload.Scheme == info.Scheme && payload.Network == info.Network, nil
	case 2:
		var probe struct {
			Accepted json.RawMessage `json:"accepted"`
		}
		if err := json.Unmarshal(payloadBytes, &probe); err != nil {
			return false, err
		}
		if len(probe.Accepted) == 0 {
			return false, nil
		}
		return JSONEqual(probe.Accepted, requirementsBytes)
	default:
		return false, fmt.Errorf("unsupported protocol version: %d", version)
	}
}

// JSONEqual compares two JSON documents structurally. Numbers are compared by
// literal so amounts beyond float64 precision never collapse.
func JSONEqual(a, b []byte) (bool, error) {
	aNorm, err := normalizeJSON(a)
	if err != nil {
		return false, err
	}
	bNorm, err := normalizeJSON(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(aNorm, bNorm), nil
}

// normalizeJSON re-encodes a document with sorted object keys and literal
// number preservation.
func normalizeJSON(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return json.Marshal(value)
}
