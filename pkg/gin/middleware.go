// Package gin provides payment middleware for the Gin web framework.
//
// The middleware protects the routes in a p402http.RoutesConfig: requests
// without a valid payment receive the 402 challenge, verified requests run
// the protected handler and are settled afterwards with the receipt set on
// the PAYMENT-RESPONSE header.
package gin

import (
	"bytes"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

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

// ginAdapter adapts a gin request to the payment engine.
type ginAdapter struct {
	c *gin.Context
}

func (a *ginAdapter) GetHeader(name string) string {
	return a.c.GetHeader(name)
}

func (a *ginAdapter) GetMethod() string {
	return a.c.Request.Method
}

func (a *ginAdapter) GetPath() string {
	return a.c.Request.URL.Path
}

func (a *ginAdapter) GetURL() string {
	scheme := "http"
	if a.c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + a.c.Request.Host + a.c.Request.URL.Path
}

func (a *ginAdapter) GetAcceptHeader() string {
	return a.c.GetHeader("Accept")
}

func (a *ginAdapter) GetUserAgent() string {
	return a.c.Request.UserAgent()
}

// PaymentMiddleware is the Gin middleware for a resource server. Routes not
// present in the config pass through untouched.
func PaymentMiddleware(routes p402http.RoutesConfig, opts ...Option) gin.HandlerFunc {
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

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		initOnce.Do(func() {
			_ = server.Initialize(ctx)
		})

		result := server.ProcessHTTPRequest(ctx, p402http.HTTPRequestContext{
			Adapter: &ginAdapter{c: c},
			Path:    c.Request.URL.Path,
			Method:  c.Request.Method,
		}, options.Paywall)

		switch result.Type {
		case p402http.ResultNoPaymentRequired:
			c.Next()
			return
		case p402http.ResultPaymentError:
			writeInstruction(c, result.Response)
			c.Abort()
			return
		}

		// Buffer the handler's response so the settlement receipt header can
		// still be set after the handler runs.
		writer := &bufferedWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}
		c.Writer = writer

		c.Next()

		c.Writer = writer.ResponseWriter

		headers, err := server.ProcessSettlement(ctx, result.PayloadBytes, result.RequirementsBytes, writer.statusCode)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error": err.Error(),
			})
			return
		}

		for name, value := range headers {
			c.Writer.Header().Set(name, value)
		}
		c.Writer.WriteHeader(writer.statusCode)
		c.Writer.Write(writer.body.Bytes())
	}
}

// writeInstruction sends a response instruction produced by the engine.
func writeInstruction(c *gin.Context, instruction *p402http.ResponseInstruction) {
	for name, value := range instruction.Headers {
		c.Header(name, value)
	}
	if instruction.IsHTML {
		html, _ := instruction.Body.(string)
		c.Data(instruction.Status, "text/html", []byte(html))
		return
	}
	c.JSON(instruction.Status, instruction.Body)
}

// bufferedWriter captures the handler's response so it can be replayed after
// settlement.
type bufferedWriter struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	written    bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	return w.statusCode
}
