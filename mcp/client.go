package mcp

import (
	"context"
	"fmt"

	p402 "github.com/p402-io/p402"
)

// P402MCPClient wraps an MCP client with automatic payment handling. Tool
// calls that come back payment-required are retried with a payment payload
// attached to the request _meta.
type P402MCPClient struct {
	mcpClient            MCPClientInterface
	paymentClient        *p402.P402Client
	options              Options
	paymentRequiredHooks []PaymentRequiredHook
	beforePaymentHooks   []BeforePaymentHook
	afterPaymentHooks    []AfterPaymentHook
}

// NewP402MCPClient creates a payment-aware MCP client around an existing
// payment client.
func NewP402MCPClient(
	mcpClient MCPClientInterface,
	paymentClient *p402.P402Client,
	options Options,
) *P402MCPClient {
	return &P402MCPClient{
		mcpClient:     mcpClient,
		paymentClient: paymentClient,
		options:       options,
	}
}

// NewP402MCPClientFromConfig creates a payment-aware MCP client from scheme
// registrations. A registration with ProtocolVersion 1 registers the legacy
// client; anything else registers the current one.
func NewP402MCPClientFromConfig(
	mcpClient MCPClientInterface,
	schemes []SchemeRegistration,
	options Options,
) *P402MCPClient {
	paymentClient := p402.NewP402Client()
	for _, reg := range schemes {
		if reg.ProtocolVersion == p402.ProtocolVersionV1 {
			if reg.ClientV1 != nil {
				paymentClient.RegisterSchemeV1([]p402.Network{reg.Network}, reg.ClientV1)
			}
		} else if reg.Client != nil {
			paymentClient.RegisterScheme([]p402.Network{reg.Network}, reg.Client)
		}
	}
	return NewP402MCPClient(mcpClient, paymentClient, options)
}

// WrapMCPClientWithPayment wraps an existing MCP client with payment
// handling. Alias for NewP402MCPClient kept for callers that read better
// with a verb.
func WrapMCPClientWithPayment(
	mcpClient MCPClientInterface,
	paymentClient *p402.P402Client,
	options Options,
) *P402MCPClient {
	return NewP402MCPClient(mcpClient, paymentClient, options)
}

// Client returns the underlying MCP client
func (c *P402MCPClient) Client() MCPClientInterface {
	return c.mcpClient
}

// PaymentClient returns the underlying payment client
func (c *P402MCPClient) PaymentClient() *p402.P402Client {
	return c.paymentClient
}

// OnPaymentRequired registers a hook for payment required events
func (c *P402MCPClient) OnPaymentRequired(hook PaymentRequiredHook) *P402MCPClient {
	c.paymentRequiredHooks = append(c.paymentRequiredHooks, hook)
	return c
}

// OnBeforePayment registers a hook before payment creation
func (c *P402MCPClient) OnBeforePayment(hook BeforePaymentHook) *P402MCPClient {
	c.beforePaymentHooks = append(c.beforePaymentHooks, hook)
	return c
}

// OnAfterPayment registers a hook after payment submission
func (c *P402MCPClient) OnAfterPayment(hook AfterPaymentHook) *P402MCPClient {
	c.afterPaymentHooks = append(c.afterPaymentHooks, hook)
	return c
}

func (c *P402MCPClient) autoPayment() bool {
	if c.options.AutoPayment == nil {
		return true
	}
	return *c.options.AutoPayment
}

// CallTool calls a tool with automatic payment handling. The first attempt
// carries no payment; if the result is a payment required response the hooks
// run, a payload is created and the call retried with payment attached.
func (c *P402MCPClient) CallTool(
	ctx context.Context,
	name string,
	args map[string]interface{},
) (*MCPToolCallResult, error) {
	callParams := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}

	result, err := c.mcpClient.CallTool(ctx, callParams)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}

	paymentRequired, err := ExtractPaymentRequiredFromResult(result)
	if err != nil {
		return nil, fmt.Errorf("failed to extract payment required: %w", err)
	}

	if paymentRequired == nil {
		// Successful paid calls carry the settlement in meta even when
		// IsError is false.
		settleResponse, err := ExtractPaymentResponseFromMeta(result)
		if err != nil {
			return nil, fmt.Errorf("failed to extract payment response: %w", err)
		}
		if settleResponse != nil {
			return &MCPToolCallResult{
				Content:         result.Content,
				IsError:         result.IsError,
				PaymentResponse: settleResponse,
				PaymentMade:     true,
			}, nil
		}

		// Free tool - return as-is
		return &MCPToolCallResult{
			Content:     result.Content,
			IsError:     result.IsError,
			PaymentMade: false,
		}, nil
	}

	paymentRequiredContext := PaymentRequiredContext{
		ToolName:        name,
		Arguments:       args,
		PaymentRequired: *paymentRequired,
	}

	// A hook may abort, supply its own payment, or decline to handle.
	for _, hook := range c.paymentRequiredHooks {
		hookResult, err := hook(paymentRequiredContext)
		if err != nil {
			return nil, fmt.Errorf("payment required hook error: %w", err)
		}
		if hookResult != nil {
			if hookResult.Abort {
				return nil, CreatePaymentRequiredError("Payment aborted by hook", paymentRequired)
			}
			if hookResult.Payment != nil {
				return c.CallToolWithPayment(ctx, name, args, *hookResult.Payment)
			}
		}
	}

	if !c.autoPayment() {
		return nil, CreatePaymentRequiredError("Payment required", paymentRequired)
	}

	if c.options.OnPaymentRequested != nil {
		approved, err := c.options.OnPaymentRequested(paymentRequiredContext)
		if err != nil {
			return nil, fmt.Errorf("payment request hook error: %w", err)
		}
		if !approved {
			return nil, CreatePaymentRequiredError("Payment request denied", paymentRequired)
		}
	}

	for _, hook := range c.beforePaymentHooks {
		if err := hook(paymentRequiredContext); err != nil {
			return nil, fmt.Errorf("before payment hook error: %w", err)
		}
	}

	payload, err := c.paymentClient.CreatePaymentForRequired(ctx, *paymentRequired)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment payload: %w", err)
	}

	return c.CallToolWithPayment(ctx, name, args, payload)
}

// CallToolWithPayment calls a tool with an explicit payment payload
func (c *P402MCPClient) CallToolWithPayment(
	ctx context.Context,
	name string,
	args map[string]interface{},
	payload p402.PaymentPayload,
) (*MCPToolCallResult, error) {
	callParams := AttachPaymentToMeta(
		map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
		payload,
	)

	result, err := c.mcpClient.CallTool(ctx, callParams)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool with payment: %w", err)
	}

	settleResponse, err := ExtractPaymentResponseFromMeta(result)
	if err != nil {
		return nil, fmt.Errorf("failed to extract payment response: %w", err)
	}

	afterContext := AfterPaymentContext{
		ToolName:       name,
		PaymentPayload: payload,
		Result:         result,
		SettleResponse: settleResponse,
	}
	for _, hook := range c.afterPaymentHooks {
		// After hooks observe; their errors never fail the call.
		_ = hook(afterContext)
	}

	return &MCPToolCallResult{
		Content:         result.Content,
		IsError:         result.IsError,
		PaymentResponse: settleResponse,
		PaymentMade:     true,
	}, nil
}

// GetToolPaymentRequirements probes a tool to discover its payment
// requirements.
// WARNING: This actually calls the tool, so it may have side effects.
func (c *P402MCPClient) GetToolPaymentRequirements(
	ctx context.Context,
	name string,
	args map[string]interface{},
) (*p402.PaymentRequired, error) {
	callParams := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}

	result, err := c.mcpClient.CallTool(ctx, callParams)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}

	return ExtractPaymentRequiredFromResult(result)
}

// Passthrough methods - forward to underlying MCP client

// Connect connects to an MCP server transport
func (c *P402MCPClient) Connect(ctx context.Context, transport interface{}) error {
	return c.mcpClient.Connect(ctx, transport)
}

// Close closes the MCP connection
func (c *P402MCPClient) Close(ctx context.Context) error {
	return c.mcpClient.Close(ctx)
}

// ListTools lists available tools from the server
func (c *P402MCPClient) ListTools(ctx context.Context) (interface{}, error) {
	return c.mcpClient.ListTools(ctx)
}

// ListResources lists available resources from the server
func (c *P402MCPClient) ListResources(ctx context.Context) (interface{}, error) {
	return c.mcpClient.ListResources(ctx)
}

// ReadResource reads a resource from the server
func (c *P402MCPClient) ReadResource(ctx context.Context, uri string) (interface{}, error) {
	return c.mcpClient.ReadResource(ctx, uri)
}

// ListResourceTemplates lists resource templates from the server
func (c *P402MCPClient) ListResourceTemplates(ctx context.Context) (interface{}, error) {
	return c.mcpClient.ListResourceTemplates(ctx)
}

// SubscribeResource subscribes to resource updates
func (c *P402MCPClient) SubscribeResource(ctx context.Context, uri string) error {
	return c.mcpClient.SubscribeResource(ctx, uri)
}

// UnsubscribeResource unsubscribes from resource updates
func (c *P402MCPClient) UnsubscribeResource(ctx context.Context, uri string) error {
	return c.mcpClient.UnsubscribeResource(ctx, uri)
}

// ListPrompts lists available prompts from the server
func (c *P402MCPClient) ListPrompts(ctx context.Context) (interface{}, error) {
	return c.mcpClient.ListPrompts(ctx)
}

// GetPrompt gets a specific prompt from the server
func (c *P402MCPClient) GetPrompt(ctx context.Context, name string) (interface{}, error) {
	return c.mcpClient.GetPrompt(ctx, name)
}

// Ping pings the server
func (c *P402MCPClient) Ping(ctx context.Context) error {
	return c.mcpClient.Ping(ctx)
}

// Complete requests completion suggestions
func (c *P402MCPClient) Complete(ctx context.Context, prompt string, cursor int) (interface{}, error) {
	return c.mcpClient.Complete(ctx, prompt, cursor)
}

// SetLoggingLevel sets the logging level on the server
func (c *P402MCPClient) SetLoggingLevel(ctx context.Context, level string) error {
	return c.mcpClient.SetLoggingLevel(ctx, level)
}

// GetServerCapabilities gets server capabilities after initialization
func (c *P402MCPClient) GetServerCapabilities(ctx context.Context) (interface{}, error) {
	return c.mcpClient.GetServerCapabilities(ctx)
}

// GetServerVersion gets server version information after initialization
func (c *P402MCPClient) GetServerVersion(ctx context.Context) (interface{}, error) {
	return c.mcpClient.GetServerVersion(ctx)
}

// GetInstructions gets server instructions after initialization
func (c *P402MCPClient) GetInstructions(ctx context.Context) (string, error) {
	return c.mcpClient.GetInstructions(ctx)
}

// SendRootsListChanged sends notification that roots list has changed
func (c *P402MCPClient) SendRootsListChanged(ctx context.Context) error {
	return c.mcpClient.SendRootsListChanged(ctx)
}
