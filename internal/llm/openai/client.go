// Package openai adapts the OpenAI Chat Completions API to the loom llm
// contract using github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/weftworks/loom/internal/llm"
	"github.com/weftworks/loom/internal/session"
)

// ChatClient captures the subset of the go-openai client used by the adapter,
// so tests can substitute a mock.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures the adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements llm.Client via OpenAI Chat Completions.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an adapter from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	request := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    encodeMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       encodeTools(req.Tools),
	}

	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(response), nil
}

func encodeMessages(msgs []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func encodeTools(defs []llm.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.Parameters)
		if err != nil {
			continue
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools
}

func translateResponse(resp openai.ChatCompletionResponse) *llm.Response {
	out := &llm.Response{
		Model: resp.Model,
		Usage: session.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Model:            resp.Model,
		},
	}
	for _, choice := range resp.Choices {
		msg := choice.Message
		if msg.Content != "" {
			out.Content += msg.Content
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:   call.ID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
	}
	return out
}
