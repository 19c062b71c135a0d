// Package stdlib provides payment middleware for net/http servers.
//
// The middleware wraps an http.Handler and protects the routes in a
// p402http.RoutesConfig: requests without a valid payment receive the 402
// challenge, verified requests run the wrapped handler and are settled
// afterwards with the receipt set on the PAYMENT-RESPONSE header.
package stdlib

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"

	p402 "github.com/p402-io/p402"
	p402http "github.com/p402-io/p402/http"
)

// MiddlewareOptions is the options for the PaymentMiddleware.
type MiddlewareOptions struct {
	FacilitatorConfig *p402http.FacilitatorConfig
	Paywall           *p402http.PaywallConfig
	ResourceServer    *p402http.P402HTTPResourceServer
	ServerOptions     []p402.ResourceServerOption
}

// Option is the type for the options for the PaymentMiddleware.
type Option func(*MiddlewareOptions)

// WithFacilitatorConfig is an option for the PaymentMiddleware to set the facilitator config.
func WithFacilitatorConfig(config *p402http.FacilitatorConfig) Option {
	return func(options *MiddlewareOptions) {
		options.FacilitatorConfig = config
	}
}

// WithPaywallConfig is an option for the PaymentMiddleware to customize the
// browser-facing paywall page.
func WithPaywallConfig(paywall *p402http.PaywallConfig) Option {
	return func(options *MiddlewareOptions) {
		options.Paywall = paywall
	}
}

// WithResourceServer is an option for the PaymentMiddleware to use an already
// configured resource server instead of constructing one.
func WithResourceServer(server *p402http.P402HTTPResourceServer) Option {
	return func(options *MiddlewareOptions) {
		options.ResourceServer = server
	}
}

// WithResourceServerOptions is an option for the PaymentMiddleware to pass
// options through to the constructed resource server.
func WithResourceServerOptions(opts ...p402.ResourceServerOption) Option {
	return func(options *MiddlewareOptions) {
		options.ServerOptions = append(options.ServerOptions, opts...)
	}
}

// requestAdapter adapts an http.Request to the payment engine.
type requestAdapter struct {
	r *http.Request
}

func (a *requestAdapter) GetHeader(name string) string {
	return a.r.Header.Get(name)
}

func (a *requestAdapter) GetMethod() string {
	return a.r.Method
}

func (a *requestAdapter) GetPath() string {
	return a.r.URL.Path
}

func (a *requestAdapter) GetURL() string {
	scheme := "http"
	if a.r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + a.r.Host + a.r.URL.Path
}

func (a *requestAdapter) GetAcceptHeader() string {
	return a.r.Header.Get("Accept")
}

func (a *requestAdapter) GetUserAgent() string {
	return a.r.UserAgent()
}

// PaymentMiddleware wraps a handler with payment protection for the routes
// in the config. Routes not present in the config pass through untouched.
func PaymentMiddleware(routes p402http.RoutesConfig, opts ...Option) func(http.Handler) http.Handler {
	options := &MiddlewareOptions{}
	for _, opt := range opts {
		opt(options)
	}

	server := options.ResourceServer
	if server == nil {
		serverOpts := options.ServerOptions
		if options.FacilitatorConfig != nil {
			serverOpts = append(serverOpts,
				p402.WithFacilitatorClient(p402http.NewFacilitatorClient(options.FacilitatorConfig)))
		}
		server = p402http.NewServer(routes, serverOpts...)
	}

	// Discovering facilitator capabilities needs a context, so it waits for
	// the first request. A failed discovery is not fatal: verification falls
	// back to trying each facilitator in turn.
	var initOnce sync.Once

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			initOnce.Do(func() {
				_ = server.Initialize(ctx)
			})

			result := server.ProcessHTTPRequest(ctx, p402http.HTTPRequestContext{
				Adapter: &requestAdapter{r: r},
				Path:    r.URL.Path,
				Method:  r.Method,
			}, options.Paywall)

			switch result.Type {
			case p402http.ResultNoPaymentRequired:
				next.ServeHTTP(w, r)
				return
			case p402http.ResultPaymentError:
				writeInstruction(w, result.Response)
				return
			}

			// Buffer the handler's response so the settlement receipt header
			// can still be set after the handler runs.
			recorder := &responseRecorder{
				header:     w.Header().Clone(),
				body:       &bytes.Buffer{},
				statusCode: http.StatusOK,
			}

			next.ServeHTTP(recorder, r)

			headers, err := server.ProcessSettlement(ctx, result.PayloadBytes, result.RequirementsBytes, recorder.statusCode)
			if err != nil {
				writeJSON(w, http.StatusPaymentRequired, map[string]string{
					"error": err.Error(),
				})
				return
			}

			for name, values := range recorder.header {
				w.Header()[name] = values
			}
			for name, value := range headers {
				w.Header().Set(name, value)
			}
			w.WriteHeader(recorder.statusCode)
			w.Write(recorder.body.Bytes())
		})
	}
}

// writeInstruction sends a response instruction produced by the engine.
func writeInstruction(w http.ResponseWriter, instruction *p402http.ResponseInstruction) {
	for name, value := range instruction.Headers {
		w.Header().Set(name, value)
	}
	if instruction.IsHTML {
		html, _ := instruction.Body.(string)
		w.WriteHeader(instruction.Status)
		w.Write([]byte(html))
		return
	}
	writeJSON(w, instruction.Status, instruction.Body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// responseRecorder captures the handler's response so it can be replayed
// after settlement.
type responseRecorder struct {
	header     http.Header
	body       *bytes.Buffer
	statusCode int
	written    bool
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}
