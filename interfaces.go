package p402

import "context"

// MoneyParser converts a decimal money amount into an AssetAmount for a
// network. Parsers are registered in order and tried until one returns a
// non-nil result; a parser that cannot handle the conversion returns
// (nil, nil) so the chain continues. A non-nil error fails the parse: the
// parser claimed the price but could not convert it, and falling back to
// the default conversion would silently misprice the resource. When every
// parser declines, the scheme's default conversion applies.
type MoneyParser func(amount float64, network Network) (*AssetAmount, error)

// Capability is the minimal surface shared by every scheme plugin family.
// The registry stores capabilities behind this interface and call sites
// assert to the concrete family they need.
type Capability interface {
	Scheme() string
}

// ============================================================================
// V1 Interfaces (Legacy - explicitly versioned)
// ============================================================================

// SchemeNetworkClientV1 is implemented by client-side payment mechanisms for
// the legacy protocol version.
type SchemeNetworkClientV1 interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements PaymentRequirementsV1) (PaymentPayloadV1, error)
}

// SchemeNetworkFacilitatorV1 is implemented by facilitator-side payment
// mechanisms for the legacy protocol version.
type SchemeNetworkFacilitatorV1 interface {
	Scheme() string

	// CaipFamily returns the CAIP family pattern this facilitator supports,
	// used to group signers in the supported response.
	//
	// Examples:
	//   - EVM facilitators return "eip155:*"
	//   - SVM facilitators return "solana:*"
	CaipFamily() string

	// GetExtra returns mechanism-specific extra data advertised with each
	// supported kind, or nil when there is none. SVM mechanisms use this to
	// publish the fee payer address.
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the signer addresses this facilitator settles from
	// on the given network. Multiple addresses support key rotation and load
	// balancing.
	GetSigners(network Network) []string

	Verify(ctx context.Context, payload PaymentPayloadV1, requirements PaymentRequirementsV1) (*VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayloadV1, requirements PaymentRequirementsV1) (*SettleResponse, error)
}

// Note: no SchemeNetworkServerV1. Resource servers never produce version 1
// requirements; only inbound v1 payloads are supported.

// ============================================================================
// V2 Interfaces (Current - default, no version suffix)
// ============================================================================

// SchemeNetworkClient is implemented by client-side payment mechanisms.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements) (PaymentPayload, error)
}

// ExtensionAwareClient is an optional interface for schemes that handle
// extensions themselves. When a scheme implements it, the client calls
// CreatePaymentPayloadWithExtensions instead of CreatePaymentPayload, passing
// the server-declared extensions so the scheme can enrich the payload.
type ExtensionAwareClient interface {
	SchemeNetworkClient
	CreatePaymentPayloadWithExtensions(ctx context.Context, requirements PaymentRequirements, extensions map[string]interface{}) (PaymentPayload, error)
}

// ClientExtension enriches payment payloads on the client side. Extensions
// run after the scheme creates the base payload but before it is returned,
// and only when their key appears in the server's PaymentRequired.Extensions.
type ClientExtension interface {
	// Key returns the unique extension identifier. Must match the extension
	// key used in PaymentRequired.Extensions.
	Key() string

	// EnrichPaymentPayload may add extension data to the payload. It must
	// never remove or alter entries the server declared.
	EnrichPaymentPayload(ctx context.Context, payload PaymentPayload, required PaymentRequired) (PaymentPayload, error)
}

// SchemeNetworkServer is implemented by server-side payment mechanisms. It
// prices a resource into requirements and may splice facilitator-provided
// data into them.
type SchemeNetworkServer interface {
	Scheme() string

	// ParsePrice converts a caller-supplied price into an atomic-unit
	// AssetAmount for the network.
	ParsePrice(price Price, network Network) (AssetAmount, error)

	// EnhancePaymentRequirements lets the scheme complete requirements with
	// data from the facilitator's advertised kind (for example a designated
	// fee payer) and from the supported extension keys.
	EnhancePaymentRequirements(
		ctx context.Context,
		requirements PaymentRequirements,
		supportedKind SupportedKind,
		extensions []string,
	) (PaymentRequirements, error)
}

// SchemeNetworkFacilitator is implemented by facilitator-side payment
// mechanisms.
type SchemeNetworkFacilitator interface {
	Scheme() string

	// CaipFamily returns the CAIP family pattern this facilitator supports,
	// used to group signers in the supported response.
	//
	// Examples:
	//   - EVM facilitators return "eip155:*"
	//   - SVM facilitators return "solana:*"
	CaipFamily() string

	// GetExtra returns mechanism-specific extra data advertised with each
	// supported kind, or nil when there is none.
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the signer addresses this facilitator settles from
	// on the given network.
	GetSigners(network Network) []string

	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)
}

// ============================================================================
// FacilitatorClient Interface (Network Boundary - uses bytes)
// ============================================================================

// FacilitatorClient is the surface a resource server brokers verify and
// settle calls through. It works on raw bytes at the network boundary; the
// implementation detects the protocol version and routes to typed mechanisms
// internally. Local wrappers around a Facilitator and remote HTTP clients
// both implement it.
type FacilitatorClient interface {
	// Verify a payment. The payload's protocol version is detected from the
	// bytes and routed internally.
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error)

	// Settle a payment.
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error)

	// GetSupported returns the facilitator's capability snapshot, one kinds
	// row per (protocolVersion, scheme, network) combination.
	GetSupported(ctx context.Context) (SupportedResponse, error)
}
