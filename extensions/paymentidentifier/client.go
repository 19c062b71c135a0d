package paymentidentifier

import (
	"context"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/types"
)

// ClientExtension injects a generated payment id into payloads whenever the
// server declares the payment-identifier extension. Register it with
// p402.WithClientExtension or P402Client.RegisterExtension.
type ClientExtension struct {
	generate func() string
}

var _ p402.ClientExtension = (*ClientExtension)(nil)

// NewClientExtension creates a client extension generating ids with the
// default "pay_" prefix.
func NewClientExtension() *ClientExtension {
	return &ClientExtension{generate: func() string { return GeneratePaymentID("") }}
}

// NewClientExtensionWithGenerator creates a client extension using a custom
// id generator. Generated ids must satisfy IsValidPaymentID.
func NewClientExtensionWithGenerator(generate func() string) *ClientExtension {
	return &ClientExtension{generate: generate}
}

func (e *ClientExtension) Key() string { return Key }

// EnrichPaymentPayload sets a fresh id inside the payload's
// payment-identifier envelope. An id already present is kept, so retries of
// the same logical payment stay correlated.
func (e *ClientExtension) EnrichPaymentPayload(ctx context.Context, payload p402.PaymentPayload, required p402.PaymentRequired) (p402.PaymentPayload, error) {
	if id, _ := ExtractID(payload, false); id != "" {
		return payload, nil
	}

	extensions := make(map[string]interface{}, len(payload.Extensions)+1)
	for key, value := range payload.Extensions {
		extensions[key] = value
	}
	extensions[Key] = withID(payload.Extensions[Key], e.generate())
	payload.Extensions = extensions
	return payload, nil
}

// withID copies the envelope with the id set inside info. The maps the
// server declared are never written to.
func withID(envelope interface{}, id string) map[string]interface{} {
	out := map[string]interface{}{}
	info := map[string]interface{}{}
	if parsed, err := types.ParseExtension(envelope); err == nil && parsed != nil {
		for key, value := range parsed.Info {
			info[key] = value
		}
		if parsed.Schema != nil {
			out["schema"] = parsed.Schema
		}
	}
	info["id"] = id
	out["info"] = info
	return out
}
