// Package mcp provides MCP (Model Context Protocol) transport integration
// for the p402 payment protocol.
//
// This package enables paid tool calls in MCP servers and automatic payment
// handling in MCP clients. Payment travels in the request _meta field rather
// than HTTP headers, so any MCP transport works.
//
// # Client Usage
//
// Wrap an MCP session with payment handling:
//
//	import (
//	    "context"
//	    "github.com/p402-io/p402/mcp"
//	    mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
//	)
//
//	// Connect to MCP server using the official SDK
//	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "my-agent", Version: "1.0.0"}, nil)
//	session, _ := mcpClient.Connect(ctx, transport, nil)
//
//	// Wrap session with payment handling (AutoPayment defaults to true)
//	paidMcp := mcp.NewP402MCPClientFromConfig(mcp.NewMCPClientAdapter(mcpClient, session), []mcp.SchemeRegistration{
//	    {Network: "eip155:84532", Client: evmClientScheme},
//	}, mcp.Options{})
//
//	// Call tools - payment handled automatically
//	result, err := paidMcp.CallTool(ctx, "get_weather", map[string]interface{}{"city": "NYC"})
//
// # Server Usage
//
// Wrap tool handlers with payment:
//
//	import (
//	    "context"
//	    p402 "github.com/p402-io/p402"
//	    "github.com/p402-io/p402/mcp"
//	)
//
//	resourceServer := p402.NewP402ResourceServer(p402.WithFacilitatorClient(facilitatorClient))
//	resourceServer.Register([]p402.Network{"eip155:84532"}, evmServerScheme)
//
//	accepts, _ := resourceServer.BuildPaymentRequirements(ctx, config)
//
//	wrapper := mcp.CreatePaymentWrapper(resourceServer, mcp.PaymentWrapperConfig{
//	    Accepts: accepts,
//	})
//
//	paidHandler := wrapper(func(ctx context.Context, args map[string]interface{}, toolCtx mcp.MCPToolContext) (mcp.MCPToolResult, error) {
//	    return mcp.MCPToolResult{Content: []mcp.MCPContentItem{{Type: "text", Text: "result"}}}, nil
//	})
package mcp
