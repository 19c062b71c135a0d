// Package echo provides payment middleware for the Echo web framework.
//
// The middleware protects the routes in a p402http.RoutesConfig: requests
// without a valid payment receive the 402 challenge, verified requests run
// the protected handler and are settled afterwards with the receipt set on
// the PAYMENT-RESPONSE header.
package echo

import (
	"bytes"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

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

// echoAdapter adapts an echo request to the payment engine.
type echoAdapter struct {
	c echo.Context
}

func (a *echoAdapter) GetHeader(name string) string {
	return a.c.Request().Header.Get(name)
}

func (a *echoAdapter) GetMethod() string {
	return a.c.Request().Method
}

func (a *echoAdapter) GetPath() string {
	return a.c.Request().URL.Path
}

func (a *echoAdapter) GetURL() string {
	scheme := a.c.Scheme()
	return scheme + "://" + a.c.Request().Host + a.c.Request().URL.Path
}

func (a *echoAdapter) GetAcceptHeader() string {
	return a.c.Request().Header.Get("Accept")
}

func (a *echoAdapter) GetUserAgent() string {
	return a.c.Request().UserAgent()
}

// PaymentMiddleware is the Echo middleware for a resource server. Routes not
// present in the config pass through untouched.
func PaymentMiddleware(routes p402http.RoutesConfig, opts ...Option) echo.MiddlewareFunc {
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

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			initOnce.Do(func() {
				_ = server.Initialize(ctx)
			})

			result := server.ProcessHTTPRequest(ctx, p402http.HTTPRequestContext{
				Adapter: &echoAdapter{c: c},
				Path:    c.Request().URL.Path,
				Method:  c.Request().Method,
			}, options.Paywall)

			switch result.Type {
			case p402http.ResultNoPaymentRequired:
				return next(c)
			case p402http.ResultPaymentError:
				return writeInstruction(c, result.Response)
			}

			// Buffer the handler's response so the settlement receipt header
			// can still be set after the handler runs.
			response := c.Response()
			recorder := &responseRecorder{
				header:     response.Header().Clone(),
				body:       &bytes.Buffer{},
				statusCode: http.StatusOK,
			}
			original := response.Writer
			response.Writer = recorder

			err := next(c)

			response.Writer = original
			response.Committed = false
			if err != nil {
				// The error handler writes the response; nothing to settle.
				return err
			}

			headers, err := server.ProcessSettlement(ctx, result.PayloadBytes, result.RequirementsBytes, recorder.statusCode)
			if err != nil {
				return c.JSON(http.StatusPaymentRequired, map[string]string{
					"error": err.Error(),
				})
			}

			for name, values := range recorder.header {
				response.Header()[name] = values
			}
			for name, value := range headers {
				response.Header().Set(name, value)
			}
			response.WriteHeader(recorder.statusCode)
			_, writeErr := response.Write(recorder.body.Bytes())
			return writeErr
		}
	}
}

// writeInstruction sends a response instruction produced by the engine.
func writeInstruction(c echo.Context, instruction *p402http.ResponseInstruction) error {
	for name, value := range instruction.Headers {
		c.Response().Header().Set(name, value)
	}
	if instruction.IsHTML {
		html, _ := instruction.Body.(string)
		return c.HTML(instruction.Status, html)
	}
	return c.JSON(instruction.Status, instruction.Body)
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
