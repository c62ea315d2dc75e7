// Package processor executes tool-call requests against the registry with
// caching, retry, and hierarchical event logging into the session. Tool
// failures are consumed here: they surface as Results with Error set, never
// as errors from the batch call.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/weftworks/loom/internal/llm"
	"github.com/weftworks/loom/internal/logger"
	"github.com/weftworks/loom/internal/session"
	"github.com/weftworks/loom/internal/tool"
	loomerrors "github.com/weftworks/loom/pkg/errors"
)

// Request is one tool-call to execute. Args may be a decoded map or a raw
// JSON string as produced by an LLM.
type Request struct {
	ID   string
	Name string
	Args any
}

// Result is the outcome of one tool call.
type Result struct {
	Tool    string         `json:"tool"`
	CallID  string         `json:"call_id"`
	Args    map[string]any `json:"args"`
	Result  any            `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Cached  bool           `json:"cached,omitempty"`
	Attempt int            `json:"attempt,omitempty"`
}

// Failed reports whether the call ended with an error.
func (r Result) Failed() bool { return r.Error != "" }

// Options tunes processor behavior.
type Options struct {
	// CacheEnabled memoizes successful results per (tool, args).
	CacheEnabled bool
	// MaxRetries is the number of re-attempts after a failure; total
	// attempts are MaxRetries+1.
	MaxRetries int
	// RetryDelay is slept between attempts.
	RetryDelay time.Duration
	// Timeout bounds each tool invocation. Zero disables the deadline.
	Timeout time.Duration
	// Concurrency bounds parallel calls within one batch. Zero means 3.
	Concurrency int
}

// Processor runs tool calls and records them in the session.
type Processor struct {
	registry *tool.Registry
	store    session.Saver
	cache    *resultCache
	opts     Options
	log      *logger.Logger
}

// New builds a processor over the given registry and session store.
func New(registry *tool.Registry, store session.Saver, opts Options, log *logger.Logger) *Processor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	return &Processor{
		registry: registry,
		store:    store,
		cache:    newResultCache(),
		opts:     opts,
		log:      log.WithComponent("processor"),
	}
}

// Execute runs the requests with bounded parallelism and returns one Result
// per request, in request order. Every call appends at least one TOOL_CALL
// event under parentEventID. Only store failures are returned as errors.
func (p *Processor) Execute(ctx context.Context, sess *session.Session, parentEventID string, requests []Request) ([]Result, error) {
	results := make([]Result, len(requests))
	errs := make([]error, len(requests))

	sem := make(chan struct{}, p.opts.Concurrency)
	done := make(chan int, len(requests))

	for i := range requests {
		go func(i int) {
			defer func() { done <- i }()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i], errs[i] = p.abandonCall(ctx, sess, parentEventID, requests[i])
				return
			}
			results[i], errs[i] = p.executeCall(ctx, sess, parentEventID, requests[i])
		}(i)
	}
	for range requests {
		<-done
	}

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// executeCall drives one call through parse, cache probe, and the retry
// loop.
func (p *Processor) executeCall(ctx context.Context, sess *session.Session, parentEventID string, req Request) (Result, error) {
	args := parseArgs(req.Args)
	res := Result{Tool: req.Name, CallID: req.ID, Args: args}

	var cacheKey string
	if p.opts.CacheEnabled {
		key, err := p.cache.key(req.Name, args)
		if err == nil {
			cacheKey = key
			if cached, hit := p.cache.get(key); hit {
				res.Result = cached
				res.Cached = true
				res.Attempt = 1
				if err := p.appendToolCallEvent(ctx, sess, parentEventID, res); err != nil {
					return res, err
				}
				return res, nil
			}
		}
	}

	impl, err := p.registry.Get(req.Name)
	if err != nil {
		res.Error = err.Error()
		if evErr := p.appendToolCallEvent(ctx, sess, parentEventID, res); evErr != nil {
			return res, evErr
		}
		return res, nil
	}

	attempts := p.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempt = attempt

		value, callErr := p.invoke(ctx, impl, args)
		if callErr == nil {
			res.Result = value
			res.Error = ""
			if err := p.appendToolCallEvent(ctx, sess, parentEventID, res); err != nil {
				return res, err
			}
			// Cache only after the event append succeeded, so the cache
			// never holds a result the session does not record.
			if p.opts.CacheEnabled && cacheKey != "" {
				p.cache.put(cacheKey, value)
			}
			return res, nil
		}

		res.Error = callErr.Error()

		var cancelled *loomerrors.CancelledError
		if errors.As(callErr, &cancelled) {
			break
		}

		if attempt < attempts {
			p.log.WithFields(map[string]any{"tool": req.Name, "attempt": attempt}).Warn("tool call failed, retrying")
			if err := p.appendRetryEvent(ctx, sess, parentEventID, req.ID, attempt); err != nil {
				return res, err
			}
			if !sleepCtx(ctx, p.opts.RetryDelay) {
				res.Error = "cancelled"
				break
			}
		}
	}

	// The terminal event must outlive a cancelled context, same as
	// abandonCall, so the session still records how the call ended.
	if err := p.appendToolCallEvent(context.WithoutCancel(ctx), sess, parentEventID, res); err != nil {
		return res, err
	}
	return res, nil
}

// abandonCall records a call that never ran because the context was already
// cancelled when its slot came up.
func (p *Processor) abandonCall(ctx context.Context, sess *session.Session, parentEventID string, req Request) (Result, error) {
	res := Result{Tool: req.Name, CallID: req.ID, Args: parseArgs(req.Args), Error: "cancelled"}
	err := p.appendToolCallEvent(context.WithoutCancel(ctx), sess, parentEventID, res)
	return res, err
}

// invoke runs one attempt under the per-call timeout and normalizes timeout
// and cancellation errors to their terminal-event messages.
func (p *Processor) invoke(ctx context.Context, impl tool.Tool, args map[string]any) (any, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if p.opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	value, err := impl.Execute(callCtx, args)
	if err == nil {
		return value, nil
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, loomerrors.NewTimeoutError(impl.Metadata().Name, p.opts.Timeout)
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil, loomerrors.NewCancelledError(err)
	}
	return nil, err
}

func (p *Processor) appendToolCallEvent(ctx context.Context, sess *session.Session, parentEventID string, res Result) error {
	message := map[string]any{
		"tool":      res.Tool,
		"arguments": res.Args,
		"result":    res.Result,
		"cached":    res.Cached,
	}
	if res.Error != "" {
		message["error"] = res.Error
	}

	ev := session.NewEvent(session.TypeToolCall, session.SourceSystem, message).
		WithMetadata("call_id", res.CallID).
		WithMetadata("attempt", res.Attempt).
		WithMetadata("cached", res.Cached)
	if res.Error != "" {
		ev = ev.WithMetadata("failed", true)
	}
	if parentEventID != "" {
		ev = ev.WithParent(parentEventID)
	}
	return sess.AddEventAndSave(ctx, p.store, ev)
}

func (p *Processor) appendRetryEvent(ctx context.Context, sess *session.Session, parentEventID, callID string, attempt int) error {
	ev := session.NewEvent(session.TypeSummary, session.SourceSystem, fmt.Sprintf("retrying tool call (attempt %d)", attempt)).
		WithMetadata("call_id", callID).
		WithMetadata("attempt", attempt).
		WithMetadata("retry", true)
	if parentEventID != "" {
		ev = ev.WithParent(parentEventID)
	}
	return sess.AddEventAndSave(ctx, p.store, ev)
}

// CacheSize reports how many results the cache holds.
func (p *Processor) CacheSize() int {
	return p.cache.len()
}

// parseArgs normalizes request arguments to a map. Raw JSON strings are
// decoded; undecodable text is preserved under raw_arguments so nothing the
// LLM produced is lost.
func parseArgs(args any) map[string]any {
	switch v := args.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	case string:
		if v == "" {
			return map[string]any{}
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return map[string]any{"raw_arguments": v}
		}
		return decoded
	case json.RawMessage:
		return parseArgs(string(v))
	default:
		return map[string]any{"raw_arguments": fmt.Sprintf("%v", v)}
	}
}

// RequestsFromToolCalls converts assistant tool calls into processor
// requests.
func RequestsFromToolCalls(calls []llm.ToolCall) []Request {
	out := make([]Request, 0, len(calls))
	for _, call := range calls {
		out = append(out, Request{ID: call.ID, Name: call.Function.Name, Args: call.Function.Arguments})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
