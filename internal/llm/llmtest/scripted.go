// Package llmtest provides a scripted llm.Client double for tests: it
// replays queued responses in order and records every request it sees.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/weftworks/loom/internal/llm"
)

// Scripted replays queued responses. Exhausting the queue is an error so
// tests notice unexpected extra calls.
type Scripted struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	Requests  []llm.Request
}

// NewScripted builds a double that will return the given responses in order.
func NewScripted(responses ...*llm.Response) *Scripted {
	s := &Scripted{}
	for _, r := range responses {
		s.responses = append(s.responses, r)
		s.errs = append(s.errs, nil)
	}
	return s
}

// Queue appends another scripted response.
func (s *Scripted) Queue(resp *llm.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	s.errs = append(s.errs, nil)
}

// QueueError appends a scripted failure.
func (s *Scripted) QueueError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, nil)
	s.errs = append(s.errs, err)
}

// Complete implements llm.Client.
func (s *Scripted) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("llmtest: no scripted response for request %d", len(s.Requests))
	}

	resp, err := s.responses[0], s.errs[0]
	s.responses = s.responses[1:]
	s.errs = s.errs[1:]
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CallCount returns how many requests the double has served.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// TextResponse builds a plain assistant reply.
func TextResponse(content string) *llm.Response {
	return &llm.Response{Content: content}
}

// ToolCallResponse builds an assistant reply requesting one tool call.
func ToolCallResponse(id, name, arguments string) *llm.Response {
	return &llm.Response{
		ToolCalls: []llm.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: llm.FunctionCall{Name: name, Arguments: arguments},
		}},
	}
}
