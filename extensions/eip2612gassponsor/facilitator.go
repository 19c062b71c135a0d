package eip2612gassponsor

import (
	"encoding/json"
	"fmt"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/types"
)

// ExtractInfo pulls the permit out of a payment payload's extensions map.
// It returns nil without error when the extension is absent or the client
// left the permit unpopulated, so callers can treat the payment as an
// ordinary unsponsored one.
func ExtractInfo(exts map[string]interface{}) (*Info, error) {
	if exts == nil {
		return nil, nil
	}
	value, ok := exts[Key]
	if !ok {
		return nil, nil
	}

	ext, err := types.ParseExtension(value)
	if err != nil {
		return nil, fmt.Errorf("malformed %s extension: %w", Key, err)
	}

	infoJSON, err := json.Marshal(ext.Info)
	if err != nil {
		return nil, fmt.Errorf("malformed %s info: %w", Key, err)
	}
	var info Info
	if err := json.Unmarshal(infoJSON, &info); err != nil {
		return nil, fmt.Errorf("malformed %s info: %w", Key, err)
	}

	if !info.complete() {
		return nil, nil
	}
	return &info, nil
}

// ExtractInfoFromBytes pulls the permit out of raw payment payload bytes.
// Legacy payloads carry no extensions, so they yield nil.
func ExtractInfoFromBytes(payloadBytes []byte) (*Info, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, err
	}

	switch version {
	case p402.ProtocolVersion:
		payload, err := types.ToPaymentPayload(payloadBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment payload: %w", err)
		}
		return ExtractInfo(payload.Extensions)
	case p402.ProtocolVersionV1:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported protocol version: %d", version)
}

// IsDeclared reports whether a 402 response advertises permit gas
// sponsoring, so clients know a permit will be honored.
func IsDeclared(required types.PaymentRequired) bool {
	_, ok := required.Extensions[Key]
	return ok
}
