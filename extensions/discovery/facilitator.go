package discovery

import (
	"errors"
	"fmt"
	"strings"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/extensions"
	"github.com/p402-io/p402/types"
)

// DiscoveredResource is one paid endpoint recovered from the wire.
type DiscoveredResource struct {
	ResourceURL     string
	Method          string
	ProtocolVersion int
	Info            *Info
}

// ExtractFromPayment pulls the discovery declaration out of a payment
// payload and the requirements it was verified against. Facilitators call
// this from their hooks to catalog paid endpoints. Current-version payments
// carry the declaration in the payload extensions; legacy payments embed it
// in the requirements outputSchema. A payment with no declaration returns
// nil without error.
func ExtractFromPayment(payloadBytes, requirementsBytes []byte, validate bool) (*DiscoveredResource, error) {
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
		value, ok := payload.Extensions[Key]
		if !ok {
			return nil, nil
		}
		info, err := infoFromEnvelope(value, validate)
		if err != nil {
			return nil, err
		}
		var resourceURL string
		if payload.Resource != nil {
			resourceURL = payload.Resource.URL
		}
		return discovered(version, resourceURL, info)

	case p402.ProtocolVersionV1:
		requirements, err := types.ToPaymentRequirementsV1(requirementsBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal legacy requirements: %w", err)
		}
		return discovered(version, requirements.Resource, ExtractLegacyInfo(*requirements))
	}
	return nil, fmt.Errorf("unsupported protocol version: %d", version)
}

// ExtractFromPaymentRequired pulls the discovery declaration out of a 402
// response, for crawlers that catalog endpoints without paying them. Legacy
// responses declare per requirements entry; the first entry wins.
func ExtractFromPaymentRequired(requiredBytes []byte, validate bool) (*DiscoveredResource, error) {
	version, err := types.DetectVersion(requiredBytes)
	if err != nil {
		return nil, err
	}

	switch version {
	case p402.ProtocolVersion:
		required, err := types.ToPaymentRequired(requiredBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment required: %w", err)
		}
		value, ok := required.Extensions[Key]
		if !ok {
			return nil, nil
		}
		info, err := infoFromEnvelope(value, validate)
		if err != nil {
			return nil, err
		}
		var resourceURL string
		if required.Resource != nil {
			resourceURL = required.Resource.URL
		}
		return discovered(version, resourceURL, info)

	case p402.ProtocolVersionV1:
		required, err := types.ToPaymentRequiredV1(requiredBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal legacy payment required: %w", err)
		}
		if len(required.Accepts) == 0 {
			return nil, nil
		}
		first := required.Accepts[0]
		return discovered(version, first.Resource, ExtractLegacyInfo(first))
	}
	return nil, fmt.Errorf("unsupported protocol version: %d", version)
}

func infoFromEnvelope(value interface{}, validate bool) (*Info, error) {
	ext, err := types.ParseExtension(value)
	if err != nil {
		return nil, fmt.Errorf("malformed discovery extension: %w", err)
	}
	if validate {
		if result := extensions.ValidateExtensionData(ext); !result.Valid {
			return nil, fmt.Errorf("discovery declaration failed validation: %s", strings.Join(result.Errors, "; "))
		}
	}
	return ParseInfo(ext.Info)
}

func discovered(version int, resourceURL string, info *Info) (*DiscoveredResource, error) {
	if info == nil {
		return nil, nil
	}
	method := info.Method()
	if method == "" {
		return nil, errors.New("discovery declaration has no usable method")
	}
	return &DiscoveredResource{
		ResourceURL:     resourceURL,
		Method:          method,
		ProtocolVersion: version,
		Info:            info,
	}, nil
}
