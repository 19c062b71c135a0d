package http

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"

	p402 "github.com/p402-io/p402"
)

// ============================================================================
// Paywall Configuration
// ============================================================================

// PaywallConfig customizes the browser-facing paywall page.
type PaywallConfig struct {
	AppName              string
	AppLogo              string
	WalletClientKey      string
	SessionTokenEndpoint string
	CurrentURL           string
	Testnet              bool
}

// ============================================================================
// Paywall Provider Interfaces
// ============================================================================

// PaywallProvider generates HTML for browser-facing 402 responses.
// Register a custom implementation via RegisterPaywallProvider to override
// the built-in EVM/SVM templates.
type PaywallProvider interface {
	GenerateHTML(paymentRequired p402.PaymentRequired, config *PaywallConfig) string
}

// PaywallNetworkHandler handles paywall HTML generation for a specific network family.
// Used with PaywallBuilder to compose network-specific handlers into a single PaywallProvider.
type PaywallNetworkHandler interface {
	// Supports returns true if this handler can generate HTML for the given payment requirement.
	Supports(requirement p402.PaymentRequirements) bool

	// GenerateHTML generates the paywall HTML for the given requirement.
	GenerateHTML(requirement p402.PaymentRequirements, paymentRequired p402.PaymentRequired, config *PaywallConfig) string
}

// ============================================================================
// Built-in Network Handlers
// ============================================================================

// EVMPaywallHandler generates paywall HTML for EVM-compatible networks (eip155:*).
type EVMPaywallHandler struct{}

// Supports returns true for EVM networks (eip155:* CAIP-2 identifiers).
func (h *EVMPaywallHandler) Supports(requirement p402.PaymentRequirements) bool {
	return strings.HasPrefix(string(requirement.Network), "eip155:")
}

// GenerateHTML generates paywall HTML using the built-in EVM template.
func (h *EVMPaywallHandler) GenerateHTML(_ p402.PaymentRequirements, paymentRequired p402.PaymentRequired, config *PaywallConfig) string {
	return injectPaywallConfig(EVMPaywallTemplate, paymentRequired, config)
}

// SVMPaywallHandler generates paywall HTML for Solana networks (solana:*).
type SVMPaywallHandler struct{}

// Supports returns true for Solana networks (solana:* CAIP-2 identifiers).
func (h *SVMPaywallHandler) Supports(requirement p402.PaymentRequirements) bool {
	return strings.HasPrefix(string(requirement.Network), "solana:")
}

// GenerateHTML generates paywall HTML using the built-in SVM template.
func (h *SVMPaywallHandler) GenerateHTML(_ p402.PaymentRequirements, paymentRequired p402.PaymentRequired, config *PaywallConfig) string {
	return injectPaywallConfig(SVMPaywallTemplate, paymentRequired, config)
}

// ============================================================================
// Paywall Builder
// ============================================================================

// PaywallBuilder composes multiple PaywallNetworkHandlers into a single PaywallProvider.
// Use NewPaywallBuilder to create a builder, add network handlers, and call Build.
type PaywallBuilder struct {
	handlers []PaywallNetworkHandler
	config   *PaywallConfig
}

// NewPaywallBuilder creates a new PaywallBuilder.
func NewPaywallBuilder() *PaywallBuilder {
	return &PaywallBuilder{}
}

// WithNetwork adds a network handler to the builder.
func (b *PaywallBuilder) WithNetwork(handler PaywallNetworkHandler) *PaywallBuilder {
	b.handlers = append(b.handlers, handler)
	return b
}

// WithConfig sets default paywall configuration for the builder.
func (b *PaywallBuilder) WithConfig(config *PaywallConfig) *PaywallBuilder {
	b.config = config
	return b
}

// Build creates a PaywallProvider that dispatches to the first matching network handler.
func (b *PaywallBuilder) Build() PaywallProvider {
	return &compositePaywallProvider{
		handlers: b.handlers,
		config:   b.config,
	}
}

// compositePaywallProvider dispatches to the first handler that supports the payment requirement.
type compositePaywallProvider struct {
	handlers []PaywallNetworkHandler
	config   *PaywallConfig
}

func (p *compositePaywallProvider) GenerateHTML(paymentRequired p402.PaymentRequired, config *PaywallConfig) string {
	// Use builder config as fallback if no per-call config provided
	effectiveConfig := config
	if effectiveConfig == nil {
		effectiveConfig = p.config
	}

	for _, req := range paymentRequired.Accepts {
		for _, handler := range p.handlers {
			if handler.Supports(req) {
				return handler.GenerateHTML(req, paymentRequired, effectiveConfig)
			}
		}
	}

	return ""
}

// DefaultPaywallProvider creates a PaywallProvider with built-in EVM and SVM handlers.
func DefaultPaywallProvider() PaywallProvider {
	return NewPaywallBuilder().
		WithNetwork(&EVMPaywallHandler{}).
		WithNetwork(&SVMPaywallHandler{}).
		Build()
}

// ============================================================================
// Config Injection
// ============================================================================

// injectPaywallConfig inserts the window.p402 runtime config into a paywall
// template, immediately before the closing body tag. Config values are HTML
// escaped; the challenge itself is carried as JSON with HTML escaping
// applied by the encoder.
func injectPaywallConfig(template string, paymentRequired p402.PaymentRequired, config *PaywallConfig) string {
	if config == nil {
		config = &PaywallConfig{}
	}

	currentURL := config.CurrentURL
	if currentURL == "" && paymentRequired.Resource != nil {
		currentURL = paymentRequired.Resource.URL
	}

	requiredJSON, err := json.Marshal(paymentRequired)
	if err != nil {
		requiredJSON = []byte("null")
	}

	script := fmt.Sprintf(`<script>
  window.p402 = {
    amount: %g,
    paymentRequired: %s,
    currentUrl: %q,
    testnet: %t,
    appName: %q,
    appLogo: %q,
    walletClientKey: %q,
    sessionTokenEndpoint: %q
  };
</script>
`,
		getDisplayAmount(paymentRequired),
		requiredJSON,
		html.EscapeString(currentURL),
		config.Testnet,
		html.EscapeString(config.AppName),
		html.EscapeString(config.AppLogo),
		html.EscapeString(config.WalletClientKey),
		html.EscapeString(config.SessionTokenEndpoint),
	)

	if strings.Contains(template, "</body>") {
		return strings.Replace(template, "</body>", script+"</body>", 1)
	}
	return template + script
}

// getDisplayAmount converts the first accepted amount from atomic units to a
// display value, assuming the 6 decimal places of the default asset.
func getDisplayAmount(paymentRequired p402.PaymentRequired) float64 {
	if len(paymentRequired.Accepts) == 0 {
		return 0
	}
	atomic, err := strconv.ParseFloat(paymentRequired.Accepts[0].Amount, 64)
	if err != nil {
		return 0
	}
	return atomic / 1000000
}
