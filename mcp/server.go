package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	p402 "github.com/p402-io/p402"
)

// ToolHandler is the signature for MCP tool handlers
type ToolHandler func(ctx context.Context, args map[string]interface{}, context MCPToolContext) (MCPToolResult, error)

// CreatePaymentWrapper creates a payment wrapper for MCP tool handlers.
// The returned function wraps a handler with the payment flow: no payment
// yields a payment required result, an invalid payment yields the reason,
// a valid payment runs the handler and settles afterward. A handler error
// skips settlement.
func CreatePaymentWrapper(
	resourceServer *p402.P402ResourceServer,
	config PaymentWrapperConfig,
) func(handler ToolHandler) ToolHandler {
	if len(config.Accepts) == 0 {
		panic("PaymentWrapperConfig.Accepts must have at least one payment requirement")
	}

	return func(handler ToolHandler) ToolHandler {
		return func(ctx context.Context, args map[string]interface{}, toolContext MCPToolContext) (MCPToolResult, error) {
			meta := toolContext.Meta
			if meta == nil {
				meta = make(map[string]interface{})
			}

			toolName := toolContext.ToolName
			if toolName == "" {
				toolName = "paid_tool"
				if config.Resource != nil && strings.HasPrefix(config.Resource.URL, "mcp://tool/") {
					toolName = strings.TrimPrefix(config.Resource.URL, "mcp://tool/")
				}
			}

			paymentPayload, err := ExtractPaymentFromMeta(map[string]interface{}{
				"_meta": meta,
			})
			if err != nil || paymentPayload == nil {
				return createPaymentRequiredResult(resourceServer, toolName, config, "Payment required to access this tool")
			}

			paymentRequirements := selectRequirements(config.Accepts, *paymentPayload)

			payloadBytes, err := json.Marshal(paymentPayload)
			if err != nil {
				return MCPToolResult{}, fmt.Errorf("failed to marshal payment payload: %w", err)
			}
			requirementsBytes, err := json.Marshal(paymentRequirements)
			if err != nil {
				return MCPToolResult{}, fmt.Errorf("failed to marshal payment requirements: %w", err)
			}

			verifyResult, err := resourceServer.VerifyPayment(ctx, payloadBytes, requirementsBytes)
			if err != nil {
				return createPaymentRequiredResult(resourceServer, toolName, config, fmt.Sprintf("Payment verification error: %v", err))
			}
			if !verifyResult.IsValid {
				reason := verifyResult.InvalidReason
				if reason == "" {
					reason = "Payment verification failed"
				}
				return createPaymentRequiredResult(resourceServer, toolName, config, reason)
			}

			hookContext := ServerHookContext{
				ToolName:            toolName,
				Arguments:           args,
				PaymentRequirements: paymentRequirements,
				PaymentPayload:      *paymentPayload,
			}

			if config.Hooks != nil && config.Hooks.OnBeforeExecution != nil {
				proceed, err := (*config.Hooks.OnBeforeExecution)(hookContext)
				if err != nil {
					return createPaymentRequiredResult(resourceServer, toolName, config, err.Error())
				}
				if !proceed {
					return createPaymentRequiredResult(resourceServer, toolName, config, "Execution blocked by hook")
				}
			}

			result, err := handler(ctx, args, toolContext)
			if err != nil {
				return result, err
			}

			if config.Hooks != nil && config.Hooks.OnAfterExecution != nil {
				// Observation only; errors never fail the call.
				_ = (*config.Hooks.OnAfterExecution)(AfterExecutionContext{
					ServerHookContext: hookContext,
					Result:            result,
				})
			}

			// A failed tool never charges the caller.
			if result.IsError {
				return result, nil
			}

			settleResult, err := resourceServer.SettlePayment(ctx, payloadBytes, requirementsBytes)
			if err != nil {
				return createSettlementFailedResult(resourceServer, toolName, config, err.Error())
			}
			if !settleResult.Success {
				return createSettlementFailedResult(resourceServer, toolName, config, settleResult.ErrorReason)
			}

			if config.Hooks != nil && config.Hooks.OnAfterSettlement != nil {
				_ = (*config.Hooks.OnAfterSettlement)(SettlementContext{
					ServerHookContext: hookContext,
					Settlement:        *settleResult,
				})
			}

			// Stored as a value so serialization over the wire is stable.
			if result.Meta == nil {
				result.Meta = make(map[string]interface{})
			}
			result.Meta[MCP_PAYMENT_RESPONSE_META_KEY] = *settleResult

			return result, nil
		}
	}
}

// selectRequirements picks the accepted requirement matching the payload's
// declared scheme and network, falling back to the first entry.
func selectRequirements(accepts []p402.PaymentRequirements, payload p402.PaymentPayload) p402.PaymentRequirements {
	if payload.Accepted.Scheme != "" {
		for _, req := range accepts {
			if req.Scheme == payload.Accepted.Scheme && req.Network == payload.Accepted.Network {
				return req
			}
		}
	}
	return accepts[0]
}

func resolveResourceInfo(toolName string, config PaymentWrapperConfig) p402.ResourceInfo {
	if config.Resource != nil {
		return p402.ResourceInfo{
			URL:         CreateToolResourceUrl(toolName, config.Resource.URL),
			Description: config.Resource.Description,
			MimeType:    config.Resource.MimeType,
		}
	}
	return p402.ResourceInfo{
		URL: CreateToolResourceUrl(toolName, ""),
	}
}

// createPaymentRequiredResult creates a payment required tool result carrying
// the PaymentRequired response in both structuredContent and content text.
func createPaymentRequiredResult(
	resourceServer *p402.P402ResourceServer,
	toolName string,
	config PaymentWrapperConfig,
	errorMessage string,
) (MCPToolResult, error) {
	paymentRequired := resourceServer.CreatePaymentRequiredResponse(
		config.Accepts,
		resolveResourceInfo(toolName, config),
		errorMessage,
		nil,
	)

	paymentRequiredBytes, err := json.Marshal(paymentRequired)
	if err != nil {
		return MCPToolResult{}, fmt.Errorf("failed to marshal payment required: %w", err)
	}

	var structuredContent map[string]interface{}
	if err := json.Unmarshal(paymentRequiredBytes, &structuredContent); err != nil {
		return MCPToolResult{}, fmt.Errorf("failed to unmarshal structured content: %w", err)
	}

	return MCPToolResult{
		StructuredContent: structuredContent,
		Content: []MCPContentItem{
			{Type: "text", Text: string(paymentRequiredBytes)},
		},
		IsError: true,
	}, nil
}

// createSettlementFailedResult creates a payment required result that also
// carries the settlement failure under the payment response key.
func createSettlementFailedResult(
	resourceServer *p402.P402ResourceServer,
	toolName string,
	config PaymentWrapperConfig,
	errorMessage string,
) (MCPToolResult, error) {
	paymentRequired := resourceServer.CreatePaymentRequiredResponse(
		config.Accepts,
		resolveResourceInfo(toolName, config),
		fmt.Sprintf("Payment settlement failed: %s", errorMessage),
		nil,
	)

	settlementFailure := map[string]interface{}{
		"success":     false,
		"errorReason": errorMessage,
		"transaction": "",
		"network":     config.Accepts[0].Network,
	}

	paymentRequiredBytes, err := json.Marshal(paymentRequired)
	if err != nil {
		return MCPToolResult{}, fmt.Errorf("failed to marshal payment required: %w", err)
	}

	var errorData map[string]interface{}
	if err := json.Unmarshal(paymentRequiredBytes, &errorData); err != nil {
		return MCPToolResult{}, fmt.Errorf("failed to unmarshal error data: %w", err)
	}
	errorData[MCP_PAYMENT_RESPONSE_META_KEY] = settlementFailure

	contentTextBytes, err := json.Marshal(errorData)
	if err != nil {
		return MCPToolResult{}, fmt.Errorf("failed to marshal error data: %w", err)
	}

	return MCPToolResult{
		StructuredContent: errorData,
		Content: []MCPContentItem{
			{Type: "text", Text: string(contentTextBytes)},
		},
		IsError: true,
	}, nil
}
