package processor

import (
	"context"

	"github.com/weftworks/loom/internal/llm"
	"github.com/weftworks/loom/internal/session"
	loomerrors "github.com/weftworks/loom/pkg/errors"
)

// retryInstruction is appended as a user message when the assistant reply
// carries no tool calls.
const retryInstruction = "Your previous reply did not include any tool calls. " +
	"Respond again using only tool calls to accomplish the task."

// MessageOptions tunes the LLM re-prompt loop.
type MessageOptions struct {
	// MaxLLMRetries is the number of re-prompts after a reply without tool
	// calls.
	MaxLLMRetries int
}

// ProcessMessage sends the prompt to the LLM and executes the tool calls in
// the reply. A reply without tool calls is re-prompted up to MaxLLMRetries
// times, each re-prompt recorded as a SUMMARY event; exhaustion fails with
// NoToolCallsError. On success a batch MESSAGE event roots the call events.
func (p *Processor) ProcessMessage(ctx context.Context, sess *session.Session, client llm.Client, req llm.Request, opts MessageOptions) (*llm.Response, []Result, error) {
	messages := append([]llm.Message(nil), req.Messages...)

	var resp *llm.Response
	attempts := opts.MaxLLMRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		req.Messages = messages
		var err error
		resp, err = client.Complete(ctx, req)
		if err != nil {
			return nil, nil, err
		}
		if len(resp.ToolCalls) > 0 {
			break
		}
		if attempt == attempts {
			return resp, nil, loomerrors.NewNoToolCallsError(attempts)
		}

		ev := session.NewEvent(session.TypeSummary, session.SourceSystem, "assistant reply carried no tool calls, re-prompting").
			WithMetadata("attempt", attempt).
			WithMetadata("retry", true)
		if err := sess.AddEventAndSave(ctx, p.store, ev); err != nil {
			return nil, nil, err
		}

		if resp.Content != "" {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: retryInstruction})
	}

	batch := session.NewEvent(session.TypeMessage, session.SourceLLM, map[string]any{
		"content":             resp.Content,
		"contains_tool_calls": true,
	})
	if resp.Usage.TotalTokens > 0 {
		batch = batch.WithUsage(resp.Usage)
	}
	if err := sess.AddEventAndSave(ctx, p.store, batch); err != nil {
		return resp, nil, err
	}

	results, err := p.Execute(ctx, sess, batch.ID, RequestsFromToolCalls(resp.ToolCalls))
	return resp, results, err
}
