package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/types"
)

// ============================================================================
// Route Configuration
// ============================================================================

// HTTPAdapter abstracts the incoming request so the same payment processing
// runs under any framework.
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string
	GetAcceptHeader() string
	GetUserAgent() string
}

// PaymentOption configures one acceptable payment for a route. PayTo and
// Price may be static values or per-request functions; the function wins
// when both are set.
type PaymentOption struct {
	Scheme            string
	Network           p402.Network
	PayTo             string
	PayToFunc         func(adapter HTTPAdapter) string
	Price             p402.Price
	PriceFunc         func(adapter HTTPAdapter) p402.Price
	MaxTimeoutSeconds int
}

// PaymentOptions is an ordered list of payment options; earlier entries are
// advertised first.
type PaymentOptions []PaymentOption

// RouteConfig configures payment protection for one route pattern.
type RouteConfig struct {
	Accepts           PaymentOptions
	Description       string
	MimeType          string
	CustomPaywallHTML string

	// UnpaidBody overrides the JSON body of a 402 response. The challenge
	// header is set either way.
	UnpaidBody func(required p402.PaymentRequired) interface{}
}

// RoutesConfig maps route patterns to payment configuration. A pattern is
// "VERB /path" where the verb is optional, "*" matches any suffix and
// "[param]" matches a single path segment.
type RoutesConfig map[string]RouteConfig

// resourceConfigs resolves the route's payment options against the incoming
// request, applying any dynamic payTo or price functions.
func (c RouteConfig) resourceConfigs(adapter HTTPAdapter) []p402.ResourceConfig {
	configs := make([]p402.ResourceConfig, 0, len(c.Accepts))
	for _, option := range c.Accepts {
		payTo := option.PayTo
		if option.PayToFunc != nil {
			payTo = option.PayToFunc(adapter)
		}
		price := option.Price
		if option.PriceFunc != nil {
			price = option.PriceFunc(adapter)
		}
		configs = append(configs, p402.ResourceConfig{
			Scheme:            option.Scheme,
			PayTo:             payTo,
			Price:             price,
			Network:           option.Network,
			MaxTimeoutSeconds: option.MaxTimeoutSeconds,
		})
	}
	return configs
}

// compiledRoute is a route pattern compiled for matching.
type compiledRoute struct {
	pattern string
	verb    string
	regex   *regexp.Regexp
	config  RouteConfig
}

// routeParamPattern matches "[param]" segments after QuoteMeta escaping.
var routeParamPattern = regexp.MustCompile(`\\\[[^/]+?\\\]`)

// parseRoutePattern splits a route pattern into its verb and a compiled
// path matcher.
func parseRoutePattern(pattern string) (string, *regexp.Regexp) {
	verb := "*"
	path := strings.TrimSpace(pattern)

	if parts := strings.SplitN(path, " ", 2); len(parts) == 2 {
		verb = strings.ToUpper(strings.TrimSpace(parts[0]))
		path = strings.TrimSpace(parts[1])
	}

	if path == "*" {
		return verb, regexp.MustCompile(`^.*$`)
	}

	quoted := regexp.QuoteMeta(normalizePath(path))
	quoted = strings.ReplaceAll(quoted, `\*`, ".*?")
	quoted = routeParamPattern.ReplaceAllString(quoted, `[^/]+`)

	return verb, regexp.MustCompile("^" + quoted + "$")
}

// normalizePath canonicalizes a request path for matching: query and
// fragment stripped, percent escapes decoded, duplicate slashes collapsed,
// no trailing slash.
func normalizePath(path string) string {
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

// ============================================================================
// P402HTTPResourceServer
// ============================================================================

// P402HTTPResourceServer applies route-based payment protection on top of
// the core resource server. Framework adapters feed it requests through
// HTTPAdapter and carry out the response instructions it returns.
type P402HTTPResourceServer struct {
	*p402.P402ResourceServer
	compiledRoutes  []compiledRoute
	paywallProvider PaywallProvider
}

// NewP402HTTPResourceServer creates an HTTP resource server for the given
// routes. Longer patterns match before shorter ones, so specific routes
// shadow wildcards.
func NewP402HTTPResourceServer(routes RoutesConfig, opts ...p402.ResourceServerOption) *P402HTTPResourceServer {
	server := &P402HTTPResourceServer{
		P402ResourceServer: p402.NewP402ResourceServer(opts...),
	}

	for pattern, config := range routes {
		verb, regex := parseRoutePattern(pattern)
		server.compiledRoutes = append(server.compiledRoutes, compiledRoute{
			pattern: pattern,
			verb:    verb,
			regex:   regex,
			config:  config,
		})
	}
	sort.SliceStable(server.compiledRoutes, func(i, j int) bool {
		a, b := server.compiledRoutes[i].pattern, server.compiledRoutes[j].pattern
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})

	return server
}

// RegisterPaywallProvider overrides the built-in paywall templates for
// browser-facing 402 responses. Returns the server for chaining.
func (s *P402HTTPResourceServer) RegisterPaywallProvider(provider PaywallProvider) *P402HTTPResourceServer {
	s.paywallProvider = provider
	return s
}

// findRoute returns the first compiled route matching the request, or nil.
func (s *P402HTTPResourceServer) findRoute(method, path string) *compiledRoute {
	normalized := normalizePath(path)
	method = strings.ToUpper(method)

	for i := range s.compiledRoutes {
		route := &s.compiledRoutes[i]
		if route.verb != "*" && route.verb != method {
			continue
		}
		if route.regex.MatchString(normalized) {
			return route
		}
	}
	return nil
}

// ============================================================================
// Request Processing
// ============================================================================

// HTTPRequestContext carries one request through payment processing.
type HTTPRequestContext struct {
	Adapter HTTPAdapter
	Path    string
	Method  string
}

// HTTPProcessResultType classifies the outcome of ProcessHTTPRequest.
type HTTPProcessResultType string

const (
	// ResultNoPaymentRequired means the route is not payment protected.
	ResultNoPaymentRequired HTTPProcessResultType = "no_payment_required"
	// ResultPaymentVerified means a valid payment was presented.
	ResultPaymentVerified HTTPProcessResultType = "payment_verified"
	// ResultPaymentError means payment is required and was missing or bad.
	ResultPaymentError HTTPProcessResultType = "payment_error"
)

// ResponseInstruction tells the framework adapter what to send.
type ResponseInstruction struct {
	Status  int
	Headers map[string]string
	Body    interface{}
	IsHTML  bool
}

// HTTPProcessResult is the outcome of processing one request. On
// ResultPaymentVerified, PayloadBytes and RequirementsBytes are what
// ProcessSettlement needs after the protected handler runs.
type HTTPProcessResult struct {
	Type                HTTPProcessResultType
	Response            *ResponseInstruction
	PayloadBytes        []byte
	RequirementsBytes   []byte
	PaymentPayload      *p402.PaymentPayload
	PaymentRequirements *p402.PaymentRequirements
	VerifyResponse      *p402.VerifyResponse
}

// ProcessHTTPRequest runs payment processing for one request: route lookup,
// requirement building, payment header validation, matching and
// verification. Settlement stays with the caller so the protected handler
// can run in between.
func (s *P402HTTPResourceServer) ProcessHTTPRequest(ctx context.Context, reqCtx HTTPRequestContext, paywall *PaywallConfig) *HTTPProcessResult {
	route := s.findRoute(reqCtx.Method, reqCtx.Path)
	if route == nil || len(route.config.Accepts) == 0 {
		return &HTTPProcessResult{Type: ResultNoPaymentRequired}
	}

	adapter := reqCtx.Adapter

	requirements, err := s.BuildPaymentRequirementsForRoute(ctx, route.config.resourceConfigs(adapter))
	if err != nil {
		return errorResult(500, fmt.Sprintf("failed to build payment requirements: %v", err))
	}
	if len(requirements) == 0 {
		return errorResult(500, "no payment requirements could be built for this route")
	}

	resourceInfo := p402.ResourceInfo{
		URL:         adapter.GetURL(),
		Description: route.config.Description,
		MimeType:    route.config.MimeType,
	}

	// The resource URL rides along in each requirement's extra data so
	// facilitators can attribute payments without parsing the payload.
	for i := range requirements {
		if requirements[i].Extra == nil {
			requirements[i].Extra = map[string]interface{}{}
		}
		if _, exists := requirements[i].Extra["resourceUrl"]; !exists {
			requirements[i].Extra["resourceUrl"] = resourceInfo.URL
		}
	}

	extensions := s.BuildExtensions(&resourceInfo, requirements)

	headerName := HeaderPaymentSignature
	paymentHeader := adapter.GetHeader(HeaderPaymentSignature)
	if paymentHeader == "" {
		headerName = HeaderPaymentLegacy
		paymentHeader = adapter.GetHeader(HeaderPaymentLegacy)
	}

	if paymentHeader == "" {
		return s.respondPaymentRequired(route, requirements, resourceInfo, extensions, "", adapter, paywall)
	}

	payloadBytes, version, err := ValidateAndDecodePaymentHeader(headerName, paymentHeader)
	if err != nil {
		return s.respondPaymentRequired(route, requirements, resourceInfo, extensions, err.Error(), adapter, paywall)
	}

	matched := s.FindMatchingRequirements(requirements, payloadBytes)
	if matched == nil {
		return s.respondPaymentRequired(route, requirements, resourceInfo, extensions, "No matching payment requirements found", adapter, paywall)
	}

	requirementsBytes, err := marshalRequirementsForVersion(version, *matched, &resourceInfo)
	if err != nil {
		return errorResult(500, fmt.Sprintf("failed to encode payment requirements: %v", err))
	}

	verifyResponse, err := s.VerifyPayment(ctx, payloadBytes, requirementsBytes)
	if err != nil {
		return s.respondPaymentRequired(route, requirements, resourceInfo, extensions, fmt.Sprintf("Payment verification failed: %v", err), adapter, paywall)
	}
	if !verifyResponse.IsValid {
		reason := verifyResponse.InvalidReason
		if reason == "" {
			reason = "Payment verification failed"
		}
		return s.respondPaymentRequired(route, requirements, resourceInfo, extensions, reason, adapter, paywall)
	}

	result := &HTTPProcessResult{
		Type:                ResultPaymentVerified,
		PayloadBytes:        payloadBytes,
		RequirementsBytes:   requirementsBytes,
		PaymentRequirements: matched,
		VerifyResponse:      verifyResponse,
	}
	if version == p402.ProtocolVersion {
		if payload, err := types.ToPaymentPayload(payloadBytes); err == nil {
			result.PaymentPayload = payload
		}
	}
	return result
}

// ProcessSettlement settles a verified payment after the protected handler
// ran. Settlement only happens for success status codes; the returned
// headers carry the receipt and are nil when nothing was settled.
func (s *P402HTTPResourceServer) ProcessSettlement(ctx context.Context, payloadBytes, requirementsBytes []byte, statusCode int) (map[string]string, error) {
	if statusCode >= 400 {
		return nil, nil
	}

	settleResponse, err := s.SettlePayment(ctx, payloadBytes, requirementsBytes)
	if err != nil {
		return nil, err
	}
	if !settleResponse.Success {
		reason := settleResponse.ErrorReason
		if reason == "" {
			reason = p402.ErrCodeSettlementFailed
		}
		return nil, p402.NewSettleError(reason, settleResponse.Payer, settleResponse.Network, settleResponse.Transaction, "")
	}

	encoded, err := encodePaymentResponseHeader(*settleResponse)
	if err != nil {
		return nil, err
	}

	version, err := types.DetectVersion(payloadBytes)
	if err == nil && version == p402.ProtocolVersionV1 {
		return map[string]string{HeaderPaymentResponseLegacy: encoded}, nil
	}
	return map[string]string{HeaderPaymentResponse: encoded}, nil
}

// ============================================================================
// Response Building
// ============================================================================

func (s *P402HTTPResourceServer) respondPaymentRequired(
	route *compiledRoute,
	requirements []p402.PaymentRequirements,
	resourceInfo p402.ResourceInfo,
	extensions map[string]interface{},
	errorMsg string,
	adapter HTTPAdapter,
	paywall *PaywallConfig,
) *HTTPProcessResult {
	required := s.CreatePaymentRequiredResponse(requirements, resourceInfo, errorMsg, extensions)

	headers := map[string]string{}
	if encoded, err := encodePaymentRequiredHeader(required); err == nil {
		headers[HeaderPaymentRequired] = encoded
	}

	if isWebBrowser(adapter.GetAcceptHeader(), adapter.GetUserAgent()) {
		html := s.generatePaywallHTML(required, paywall, route.config.CustomPaywallHTML)
		if html != "" {
			headers["Content-Type"] = "text/html"
			return &HTTPProcessResult{
				Type: ResultPaymentError,
				Response: &ResponseInstruction{
					Status:  402,
					Headers: headers,
					Body:    html,
					IsHTML:  true,
				},
			}
		}
	}

	headers["Content-Type"] = "application/json"

	// Legacy clients read the challenge from the body; current clients read
	// the header set above. Serving both keeps one response compatible with
	// both generations.
	var body interface{}
	if route.config.UnpaidBody != nil {
		body = route.config.UnpaidBody(required)
	} else {
		body = required.ToLegacy()
	}

	return &HTTPProcessResult{
		Type: ResultPaymentError,
		Response: &ResponseInstruction{
			Status:  402,
			Headers: headers,
			Body:    body,
		},
	}
}

// generatePaywallHTML picks the paywall source in priority order: the
// route's custom HTML, then a registered provider, then the built-in
// templates.
func (s *P402HTTPResourceServer) generatePaywallHTML(required p402.PaymentRequired, config *PaywallConfig, customHTML string) string {
	if customHTML != "" {
		return customHTML
	}
	provider := s.paywallProvider
	if provider == nil {
		provider = DefaultPaywallProvider()
	}
	return provider.GenerateHTML(required, config)
}

// marshalRequirementsForVersion encodes the matched requirements in the
// shape the payload's protocol version expects.
func marshalRequirementsForVersion(version int, requirements p402.PaymentRequirements, resource *p402.ResourceInfo) ([]byte, error) {
	if version == p402.ProtocolVersionV1 {
		return json.Marshal(requirements.ToLegacy(resource))
	}
	return json.Marshal(requirements)
}

func errorResult(status int, message string) *HTTPProcessResult {
	return &HTTPProcessResult{
		Type: ResultPaymentError,
		Response: &ResponseInstruction{
			Status:  status,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    map[string]string{"error": message},
		},
	}
}

// isWebBrowser reports whether the request came from an interactive browser
// rather than a programmatic client.
func isWebBrowser(accept, userAgent string) bool {
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}
