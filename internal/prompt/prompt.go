// Package prompt assembles LLM message lists from session history. Each
// strategy trades context size against fidelity; Truncate enforces a token
// budget on whatever a strategy produced.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weftworks/loom/internal/llm"
	"github.com/weftworks/loom/internal/session"
)

// Strategy selects how much session history the prompt carries.
type Strategy string

const (
	// StrategyMinimal sends the latest user message plus the tool results of
	// the assistant batch that answered it, if one exists.
	StrategyMinimal Strategy = "minimal"
	// StrategyConversation sends every user/assistant message in order.
	StrategyConversation Strategy = "conversation"
	// StrategyHierarchical prefixes the conversation with one condensed
	// system line per ancestor session.
	StrategyHierarchical Strategy = "hierarchical"
	// StrategyToolFocused sends the latest user message followed by every
	// tool call rendered as a tool-role message.
	StrategyToolFocused Strategy = "tool_focused"
)

// ParseStrategy validates a configured strategy name. The empty string maps
// to StrategyConversation.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case StrategyMinimal, StrategyConversation, StrategyHierarchical, StrategyToolFocused:
		return Strategy(name), nil
	case "":
		return StrategyConversation, nil
	default:
		return "", fmt.Errorf("unknown prompt strategy %q", name)
	}
}

// Build renders the session's history as LLM messages under the given
// strategy. The store is only consulted for the hierarchical strategy, which
// walks ancestor sessions.
func Build(ctx context.Context, st session.Getter, sess *session.Session, strategy Strategy) ([]llm.Message, error) {
	switch strategy {
	case StrategyMinimal:
		return minimal(sess), nil
	case StrategyConversation, "":
		return conversation(sess), nil
	case StrategyHierarchical:
		return hierarchical(ctx, st, sess)
	case StrategyToolFocused:
		return toolFocused(sess), nil
	default:
		return nil, fmt.Errorf("unknown prompt strategy %q", strategy)
	}
}

func minimal(sess *session.Session) []llm.Message {
	events := sess.EventsSnapshot()

	userIdx := -1
	for i, ev := range events {
		if ev.Type == session.TypeMessage && ev.Source == session.SourceUser {
			userIdx = i
		}
	}
	if userIdx < 0 {
		return nil
	}

	msgs := []llm.Message{{Role: llm.RoleUser, Content: messageText(events[userIdx])}}

	// The most recent assistant batch after the user message brings its tool
	// results along.
	batchIdx := -1
	for i := userIdx + 1; i < len(events); i++ {
		if events[i].Type == session.TypeMessage && events[i].Source == session.SourceLLM {
			batchIdx = i
		}
	}
	if batchIdx < 0 {
		return msgs
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: messageText(events[batchIdx])})
	for _, child := range sess.ChildrenOf(events[batchIdx].ID) {
		if child.Type != session.TypeToolCall {
			continue
		}
		msgs = append(msgs, toolMessage(child))
	}
	return msgs
}

func conversation(sess *session.Session) []llm.Message {
	var msgs []llm.Message
	for _, ev := range sess.EventsSnapshot() {
		if ev.Type != session.TypeMessage {
			continue
		}
		switch ev.Source {
		case session.SourceUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: messageText(ev)})
		case session.SourceLLM:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: messageText(ev)})
		}
	}
	return msgs
}

func hierarchical(ctx context.Context, st session.Getter, sess *session.Session) ([]llm.Message, error) {
	ancestors, err := sess.Ancestors(ctx, st)
	if err != nil {
		return nil, err
	}

	// Ancestors come back nearest first; the prompt wants the root first.
	var msgs []llm.Message
	for i := len(ancestors) - 1; i >= 0; i-- {
		if line := condense(ancestors[i]); line != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: line})
		}
	}
	return append(msgs, conversation(sess)...), nil
}

// condense reduces an ancestor session to one line: its latest summary, or
// failing that its opening user message.
func condense(sess *session.Session) string {
	events := sess.EventsSnapshot()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == session.TypeSummary {
			return messageText(events[i])
		}
	}
	for _, ev := range events {
		if ev.Type == session.TypeMessage && ev.Source == session.SourceUser {
			return messageText(ev)
		}
	}
	return ""
}

func toolFocused(sess *session.Session) []llm.Message {
	events := sess.EventsSnapshot()

	var msgs []llm.Message
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == session.TypeMessage && events[i].Source == session.SourceUser {
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: messageText(events[i])})
			break
		}
	}
	for _, ev := range events {
		if ev.Type == session.TypeToolCall {
			msgs = append(msgs, toolMessage(ev))
		}
	}
	return msgs
}

// Truncate drops the oldest non-system messages until the estimated token
// total fits the budget. System messages always survive; a budget smaller
// than the system messages alone returns them unchanged.
func Truncate(msgs []llm.Message, maxTokens int) []llm.Message {
	if maxTokens <= 0 {
		return msgs
	}

	out := append([]llm.Message(nil), msgs...)
	for estimate(out) > maxTokens {
		dropped := false
		for i := range out {
			if out[i].Role != llm.RoleSystem {
				out = append(out[:i], out[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			break
		}
	}
	return out
}

func estimate(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += session.EstimateTokens(m.Content)
	}
	return total
}

// messageText extracts the human-readable text of an event. MESSAGE events
// written by the processor wrap their text in a map under "content".
func messageText(ev session.Event) string {
	switch msg := ev.Message.(type) {
	case string:
		return msg
	case map[string]any:
		if content, ok := msg["content"].(string); ok {
			return content
		}
	}
	data, err := json.Marshal(ev.Message)
	if err != nil {
		return fmt.Sprintf("%v", ev.Message)
	}
	return string(data)
}

// toolMessage renders a TOOL_CALL event as a tool-role message carrying the
// tool name and its serialized result, or the error text for failed calls.
func toolMessage(ev session.Event) llm.Message {
	out := llm.Message{Role: llm.RoleTool}

	msg, _ := ev.Message.(map[string]any)
	if name, ok := msg["tool"].(string); ok {
		out.Name = name
	}
	if id, ok := ev.Metadata["call_id"].(string); ok {
		out.ToolCallID = id
	}

	if errText, ok := msg["error"].(string); ok && errText != "" {
		out.Content = "error: " + errText
		return out
	}
	switch result := msg["result"].(type) {
	case string:
		out.Content = result
	case nil:
		out.Content = "null"
	default:
		data, err := json.Marshal(result)
		if err != nil {
			out.Content = fmt.Sprintf("%v", result)
		} else {
			out.Content = string(data)
		}
	}
	return out
}
