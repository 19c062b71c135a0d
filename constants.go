package p402

// Version is the library release version.
const Version = "0.2.1"

// Protocol versions carried in the protocolVersion discriminator field of
// every wire message.
const (
	// ProtocolVersion is the current protocol version. New messages are
	// produced with it unless a legacy peer forces version 1.
	ProtocolVersion = 2

	// ProtocolVersionV1 is the legacy protocol version, accepted end to end
	// for interoperability with existing integrations.
	ProtocolVersionV1 = 1
)

// DefaultFacilitatorURL is the well-known facilitator endpoint a resource
// server falls back to when constructed without any facilitator clients.
const DefaultFacilitatorURL = "https://facilitator.p402.io"
