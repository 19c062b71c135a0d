package mcp

import "context"

// MCPClientInterface is the session surface the payment client wraps.
// NewMCPClientAdapter satisfies it with the official Go SDK; tests
// inject fakes.
type MCPClientInterface interface {
	Connect(ctx context.Context, transport interface{}) error
	Close(ctx context.Context) error

	// CallTool invokes a tool; params carries "name" and "arguments".
	CallTool(ctx context.Context, params map[string]interface{}) (MCPToolResult, error)
	ListTools(ctx context.Context) (interface{}, error)

	ListResources(ctx context.Context) (interface{}, error)
	ReadResource(ctx context.Context, uri string) (interface{}, error)
	ListResourceTemplates(ctx context.Context) (interface{}, error)
	SubscribeResource(ctx context.Context, uri string) error
	UnsubscribeResource(ctx context.Context, uri string) error

	ListPrompts(ctx context.Context) (interface{}, error)
	GetPrompt(ctx context.Context, name string) (interface{}, error)

	GetServerCapabilities(ctx context.Context) (interface{}, error)
	GetServerVersion(ctx context.Context) (interface{}, error)
	GetInstructions(ctx context.Context) (string, error)

	Ping(ctx context.Context) error
	Complete(ctx context.Context, prompt string, cursor int) (interface{}, error)
	SetLoggingLevel(ctx context.Context, level string) error
	SendRootsListChanged(ctx context.Context) error
}
