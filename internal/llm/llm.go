// Package llm defines the minimal client contract the processor and
// orchestrator program against. Provider adapters live in the openai and
// anthropic subpackages; llmtest ships a scripted double for tests.
package llm

import (
	"context"

	"github.com/weftworks/loom/internal/session"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a prompt or reply.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCallID and Name are set on tool-role messages carrying a result.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`

	// ToolCalls is set on assistant messages that request tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is an assistant-requested tool invocation. Arguments is the raw
// JSON string as produced by the provider.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises a callable tool to the provider.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a provider-agnostic completion request.
type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float32
}

// Response is a provider-agnostic completion reply. ToolCalls is
// authoritative: an empty list means the assistant did not request tools.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     session.TokenUsage
	Model     string
}

// Client produces completions. Implementations must honor ctx cancellation.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
