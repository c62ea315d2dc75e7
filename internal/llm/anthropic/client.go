// Package anthropic adapts the Anthropic Claude Messages API to the loom llm
// contract using github.com/anthropics/anthropic-sdk-go. Tool_use blocks map
// to tool calls, tool-role messages map to tool_result blocks, and system
// messages lift into the system prompt.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/weftworks/loom/internal/llm"
	"github.com/weftworks/loom/internal/session"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter. It is satisfied by *sdk.MessageService so tests can pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
}

// Client implements llm.Client on top of Anthropic Claude Messages.
type Client struct {
	msg    MessagesClient
	model  string
	maxTok int
}

// New builds an adapter from the provided Messages client and options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 1024
	}
	return &Client{msg: msg, model: opts.DefaultModel, maxTok: maxTok}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a Messages.New request and translates the response.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}

	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg)
}

func encodeMessages(msgs []llm.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, 1)

	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case llm.RoleUser:
			if m.Content == "" {
				continue
			}
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, json.RawMessage(call.Function.Arguments), call.Function.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		case llm.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}

	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []llm.ToolDefinition) []sdk.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := sdk.ToolInputSchemaParam{ExtraFields: def.Parameters}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		tools = append(tools, u)
	}
	return tools
}

func translateResponse(msg *sdk.Message) (*llm.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}

	out := &llm.Response{Model: string(msg.Model)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		out.Usage = session.TokenUsage{
			PromptTokens:     int(u.InputTokens),
			CompletionTokens: int(u.OutputTokens),
			TotalTokens:      int(u.InputTokens + u.OutputTokens),
			Model:            string(msg.Model),
		}
	}
	return out, nil
}
