package mcp

import (
	p402 "github.com/p402-io/p402"
)

// Protocol constants for MCP payment integration.
const (
	// MCP_PAYMENT_REQUIRED_CODE is the JSON-RPC error code for payment required
	MCP_PAYMENT_REQUIRED_CODE = 402

	// MCP_PAYMENT_META_KEY is the MCP _meta key for payment payload (client → server)
	MCP_PAYMENT_META_KEY = "p402/payment"

	// MCP_PAYMENT_RESPONSE_META_KEY is the MCP _meta key for payment response (server → client)
	MCP_PAYMENT_RESPONSE_META_KEY = "p402/payment-response"
)

// MCPToolContext provides context during tool execution
type MCPToolContext struct {
	ToolName  string
	Arguments map[string]interface{}
	Meta      map[string]interface{}
}

// PaymentRequiredContext is provided to onPaymentRequired hooks
type PaymentRequiredContext struct {
	ToolName        string
	Arguments       map[string]interface{}
	PaymentRequired p402.PaymentRequired
}

// PaymentRequiredHookResult is returned from payment required hooks
type PaymentRequiredHookResult struct {
	Payment *p402.PaymentPayload
	Abort   bool
}

// PaymentRequiredHook is called when a payment required response is received
type PaymentRequiredHook func(context PaymentRequiredContext) (*PaymentRequiredHookResult, error)

// BeforePaymentHook is called before payment is created
type BeforePaymentHook func(context PaymentRequiredContext) error

// AfterPaymentHook is called after payment is submitted
type AfterPaymentHook func(context AfterPaymentContext) error

// AfterPaymentContext is provided to after payment hooks
type AfterPaymentContext struct {
	ToolName       string
	PaymentPayload p402.PaymentPayload
	Result         MCPToolResult
	SettleResponse *p402.SettleResponse
}

// Options configures P402MCPClient behavior
type Options struct {
	// AutoPayment enables automatic payment handling when a tool requires
	// payment. When nil, defaults to true. Set to BoolPtr(false) to disable.
	AutoPayment *bool

	// OnPaymentRequested is called before creating a payment, allowing the
	// caller to approve or deny. Return (true, nil) to approve.
	OnPaymentRequested func(context PaymentRequiredContext) (bool, error)
}

// BoolPtr returns a pointer to the given bool value.
// This is a convenience helper for setting Options.AutoPayment.
func BoolPtr(b bool) *bool {
	return &b
}

// MCPToolResult represents an MCP tool call result
type MCPToolResult struct {
	Content           []MCPContentItem
	IsError           bool
	Meta              map[string]interface{}
	StructuredContent map[string]interface{}
}

// MCPContentItem represents an MCP content item
type MCPContentItem struct {
	Type string
	Text string
}

// MCPToolCallResult represents the result of a tool call with payment metadata
type MCPToolCallResult struct {
	Content         []MCPContentItem
	IsError         bool
	PaymentResponse *p402.SettleResponse
	PaymentMade     bool
}

// PaymentWrapperConfig configures payment wrapper behavior
type PaymentWrapperConfig struct {
	Accepts  []p402.PaymentRequirements
	Resource *ResourceInfo
	Hooks    *PaymentWrapperHooks
}

// ResourceInfo provides resource metadata
type ResourceInfo struct {
	URL         string
	Description string
	MimeType    string
}

// PaymentWrapperHooks provides server-side hooks
type PaymentWrapperHooks struct {
	OnBeforeExecution *BeforeExecutionHook
	OnAfterExecution  *AfterExecutionHook
	OnAfterSettlement *AfterSettlementHook
}

// ServerHookContext is provided to server-side hooks
type ServerHookContext struct {
	ToolName            string
	Arguments           map[string]interface{}
	PaymentRequirements p402.PaymentRequirements
	PaymentPayload      p402.PaymentPayload
}

// BeforeExecutionHook is called before tool execution (can abort)
type BeforeExecutionHook func(context ServerHookContext) (bool, error)

// AfterExecutionContext extends ServerHookContext with result
type AfterExecutionContext struct {
	ServerHookContext
	Result MCPToolResult
}

// AfterExecutionHook is called after tool execution
type AfterExecutionHook func(context AfterExecutionContext) error

// SettlementContext extends ServerHookContext with settlement
type SettlementContext struct {
	ServerHookContext
	Settlement p402.SettleResponse
}

// AfterSettlementHook is called after successful settlement
type AfterSettlementHook func(context SettlementContext) error

// PaymentRequiredError represents a payment required error
type PaymentRequiredError struct {
	Code            int
	Message         string
	PaymentRequired *p402.PaymentRequired
}

func (e *PaymentRequiredError) Error() string {
	return e.Message
}

// DynamicPayTo resolves a payTo address dynamically based on tool call context.
// Use this type for custom server implementations that need per-request
// recipient resolution.
type DynamicPayTo func(context MCPToolContext) (string, error)

// DynamicPrice resolves a price dynamically based on tool call context.
type DynamicPrice func(context MCPToolContext) (p402.Price, error)

// SchemeRegistration represents a payment scheme registration
type SchemeRegistration struct {
	Network         p402.Network
	Client          p402.SchemeNetworkClient
	ClientV1        p402.SchemeNetworkClientV1
	ProtocolVersion int // 1 or 2 (defaults to 2)
}
