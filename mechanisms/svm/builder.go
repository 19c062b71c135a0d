package svm

import (
	p402 "github.com/p402-io/p402"
)

// ClientBuilderConfig configures NewSvmClient. The scheme constructors are
// injected as factories because the exact subpackages import this one; the
// builder cannot import them back.
type ClientBuilderConfig struct {
	// Signer creates the token-owner signatures on payment transactions.
	Signer ClientSvmSigner

	// Selector overrides the default payment requirements selection.
	Selector p402.PaymentRequirementsSelector

	// Policies filter candidate requirements before selection.
	Policies []p402.PaymentPolicy

	// ClientConfig overrides how schemes reach the cluster. Nil means the
	// network default endpoints.
	ClientConfig *ClientConfig

	// NewClient builds the current-version scheme, registered for the
	// whole solana namespace:
	//
	//	func(s svm.ClientSvmSigner, c *svm.ClientConfig) p402.SchemeNetworkClient {
	//	    return client.NewExactSvmScheme(s, c)
	//	}
	NewClient func(ClientSvmSigner, *ClientConfig) p402.SchemeNetworkClient

	// NewClientV1 builds the legacy scheme, registered once per legacy
	// network name. Nil skips legacy support.
	NewClientV1 func(ClientSvmSigner, *ClientConfig) p402.SchemeNetworkClientV1
}

// NewSvmClient assembles a payment client configured for SVM payments: the
// current scheme under the solana:* wildcard, and when a legacy factory is
// given, the legacy scheme under every legacy network name.
func NewSvmClient(config ClientBuilderConfig) *p402.P402Client {
	opts := []p402.ClientOption{}
	if config.Selector != nil {
		opts = append(opts, p402.WithPaymentSelector(config.Selector))
	}
	for _, policy := range config.Policies {
		opts = append(opts, p402.WithPaymentPolicy(policy))
	}

	client := p402.NewP402Client(opts...)

	if config.NewClient != nil {
		client.RegisterScheme([]p402.Network{p402.Network(CaipFamily)}, config.NewClient(config.Signer, config.ClientConfig))
	}
	if config.NewClientV1 != nil {
		legacy := config.NewClientV1(config.Signer, config.ClientConfig)
		for _, network := range V1Networks {
			client.RegisterSchemeV1([]p402.Network{p402.Network(network)}, legacy)
		}
	}

	return client
}
