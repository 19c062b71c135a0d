package http

import (
	"context"
	"strings"
	"testing"

	p402 "github.com/p402-io/p402"
)

func paywallChallenge(network p402.Network) p402.PaymentRequired {
	return p402.PaymentRequired{
		ProtocolVersion: 2,
		Error:           "Payment required",
		Resource: &p402.ResourceInfo{
			URL:         "http://example.com/premium",
			Description: "Premium content",
		},
		Accepts: []p402.PaymentRequirements{
			{
				Scheme:            "exact",
				Network:           network,
				Amount:            "2500000",
				Asset:             "0xusdc",
				PayTo:             "0xrecipient",
				MaxTimeoutSeconds: 300,
			},
		},
	}
}

func TestInjectPaywallConfig(t *testing.T) {
	template := "<html><head></head><body><h1>Paywall</h1></body></html>"
	config := &PaywallConfig{
		AppName:         "My App",
		AppLogo:         "https://example.com/logo.png",
		WalletClientKey: "client-key-123",
		CurrentURL:      "https://example.com/article",
		Testnet:         true,
	}

	result := injectPaywallConfig(template, paywallChallenge("eip155:1"), config)

	if !strings.Contains(result, "window.p402") {
		t.Fatal("Expected injected config object")
	}
	if !strings.Contains(result, `appName: "My App"`) {
		t.Error("Expected app name in config")
	}
	if !strings.Contains(result, `walletClientKey: "client-key-123"`) {
		t.Error("Expected wallet client key in config")
	}
	if !strings.Contains(result, `currentUrl: "https://example.com/article"`) {
		t.Error("Expected configured URL in config")
	}
	if !strings.Contains(result, "testnet: true") {
		t.Error("Expected testnet flag in config")
	}
	if !strings.Contains(result, "amount: 2.5") {
		t.Error("Expected display amount in config")
	}
	if !strings.Contains(result, `"scheme":"exact"`) {
		t.Error("Expected challenge JSON in config")
	}

	// The script must land inside the document, before the closing body tag.
	scriptIdx := strings.Index(result, "window.p402")
	bodyIdx := strings.Index(result, "</body>")
	if scriptIdx == -1 || bodyIdx == -1 || scriptIdx > bodyIdx {
		t.Error("Expected config injected before closing body tag")
	}
}

func TestInjectPaywallConfigResourceFallback(t *testing.T) {
	result := injectPaywallConfig("<body></body>", paywallChallenge("eip155:1"), &PaywallConfig{})

	if !strings.Contains(result, `currentUrl: "http://example.com/premium"`) {
		t.Error("Expected resource URL fallback for currentUrl")
	}
}

func TestInjectPaywallConfigNilConfig(t *testing.T) {
	result := injectPaywallConfig("<body></body>", paywallChallenge("eip155:1"), nil)

	if !strings.Contains(result, "window.p402") {
		t.Error("Expected config injected with nil config")
	}
	if !strings.Contains(result, "testnet: false") {
		t.Error("Expected default testnet flag")
	}
}

func TestInjectPaywallConfigEscapesValues(t *testing.T) {
	config := &PaywallConfig{
		AppName: `<script>alert("xss")</script>`,
	}

	result := injectPaywallConfig("<body></body>", paywallChallenge("eip155:1"), config)

	if strings.Contains(result, `<script>alert`) {
		t.Error("Expected app name HTML escaped")
	}
	if !strings.Contains(result, "&lt;script&gt;") {
		t.Error("Expected escaped form present")
	}
}

func TestInjectPaywallConfigNoBodyTag(t *testing.T) {
	result := injectPaywallConfig("<div>fragment</div>", paywallChallenge("eip155:1"), nil)

	if !strings.HasSuffix(strings.TrimSpace(result), "</script>") {
		t.Error("Expected script appended when no body tag exists")
	}
	if !strings.HasPrefix(result, "<div>fragment</div>") {
		t.Error("Expected template preserved")
	}
}

func TestPaywallNetworkHandlerSupports(t *testing.T) {
	evm := &EVMPaywallHandler{}
	svm := &SVMPaywallHandler{}

	tests := []struct {
		network p402.Network
		wantEVM bool
		wantSVM bool
	}{
		{"eip155:1", true, false},
		{"eip155:8453", true, false},
		{"solana:mainnet", false, true},
		{"ton:mainnet", false, false},
	}

	for _, tt := range tests {
		req := p402.PaymentRequirements{Network: tt.network}
		if got := evm.Supports(req); got != tt.wantEVM {
			t.Errorf("EVM Supports(%s) = %v, want %v", tt.network, got, tt.wantEVM)
		}
		if got := svm.Supports(req); got != tt.wantSVM {
			t.Errorf("SVM Supports(%s) = %v, want %v", tt.network, got, tt.wantSVM)
		}
	}
}

func TestPaywallBuilder(t *testing.T) {
	provider := NewPaywallBuilder().
		WithNetwork(&EVMPaywallHandler{}).
		WithConfig(&PaywallConfig{AppName: "Builder App"}).
		Build()

	// EVM challenge hits the registered handler with the builder config.
	html := provider.GenerateHTML(paywallChallenge("eip155:1"), nil)
	if html == "" {
		t.Fatal("Expected HTML for supported network")
	}
	if !strings.Contains(html, "Builder App") {
		t.Error("Expected builder config applied")
	}

	// A per-call config wins over the builder default.
	html = provider.GenerateHTML(paywallChallenge("eip155:1"), &PaywallConfig{AppName: "Call App"})
	if !strings.Contains(html, "Call App") || strings.Contains(html, "Builder App") {
		t.Error("Expected per-call config to override builder config")
	}

	// No handler supports Solana here.
	if html := provider.GenerateHTML(paywallChallenge("solana:mainnet"), nil); html != "" {
		t.Error("Expected empty HTML for unsupported network")
	}
}

func TestDefaultPaywallProvider(t *testing.T) {
	provider := DefaultPaywallProvider()

	evmHTML := provider.GenerateHTML(paywallChallenge("eip155:1"), nil)
	if !strings.Contains(evmHTML, "Payment Required") {
		t.Error("Expected EVM paywall page")
	}
	if !strings.Contains(evmHTML, "window.ethereum") {
		t.Error("Expected EVM wallet integration")
	}

	svmHTML := provider.GenerateHTML(paywallChallenge("solana:mainnet"), nil)
	if !strings.Contains(svmHTML, "Payment Required") {
		t.Error("Expected SVM paywall page")
	}
	if !strings.Contains(svmHTML, "phantom") {
		t.Error("Expected Solana wallet integration")
	}
}

// Stub provider for server integration tests
type stubPaywallProvider struct {
	html string
}

func (p *stubPaywallProvider) GenerateHTML(paymentRequired p402.PaymentRequired, config *PaywallConfig) string {
	return p.html
}

func browserAdapter(path string) *mockHTTPAdapter {
	return &mockHTTPAdapter{
		method: "GET",
		path:   path,
		url:    "http://example.com" + path,
		accept: "text/html",
		agent:  "Mozilla/5.0",
	}
}

func TestRegisterPaywallProvider(t *testing.T) {
	ctx := context.Background()

	server := newTestServer(apiRoutes(), &mockFacilitatorClient{}).
		RegisterPaywallProvider(&stubPaywallProvider{html: "<html>custom paywall</html>"})
	server.Initialize(ctx)

	result := server.ProcessHTTPRequest(ctx, HTTPRequestContext{
		Adapter: browserAdapter("/api"),
		Path:    "/api",
		Method:  "GET",
	}, nil)

	if !result.Response.IsHTML {
		t.Fatal("Expected HTML response")
	}
	if result.Response.Body.(string) != "<html>custom paywall</html>" {
		t.Errorf("Expected custom provider HTML, got %s", result.Response.Body)
	}
}

func TestCustomPaywallHTMLOverridesProvider(t *testing.T) {
	ctx := context.Background()

	routes := RoutesConfig{
		"GET /api": {
			Accepts: PaymentOptions{
				{Scheme: "exact", PayTo: "0xtest", Price: "$1.00", Network: "eip155:1"},
			},
			CustomPaywallHTML: "<html>route paywall</html>",
		},
	}

	server := newTestServer(routes, &mockFacilitatorClient{}).
		RegisterPaywallProvider(&stubPaywallProvider{html: "<html>provider paywall</html>"})
	server.Initialize(ctx)

	result := server.ProcessHTTPRequest(ctx, HTTPRequestContext{
		Adapter: browserAdapter("/api"),
		Path:    "/api",
		Method:  "GET",
	}, nil)

	if result.Response.Body.(string) != "<html>route paywall</html>" {
		t.Errorf("Expected route HTML to win, got %s", result.Response.Body)
	}
}
