// Package orchestrator drives a full goal-to-summary loop: it asks the LLM
// for a plan over the registered tools, persists and executes it, offers the
// LLM a re-planning pass over fresh search results, then reduces everything
// to a one-sentence summary on the session.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weftworks/loom/internal/engine"
	"github.com/weftworks/loom/internal/graph"
	"github.com/weftworks/loom/internal/llm"
	"github.com/weftworks/loom/internal/logger"
	"github.com/weftworks/loom/internal/plan"
	"github.com/weftworks/loom/internal/processor"
	"github.com/weftworks/loom/internal/prompt"
	"github.com/weftworks/loom/internal/session"
	"github.com/weftworks/loom/internal/tool"
)

// resultClip bounds how much of a tool result is quoted back to the LLM.
const resultClip = 4000

// Options tunes one orchestrator instance.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32

	// Strategy selects how session history enters the planning prompt.
	Strategy prompt.Strategy
	// PromptBudget truncates history to this many estimated tokens; zero
	// disables truncation.
	PromptBudget int
	// SearchTool names the tool whose results trigger re-planning.
	SearchTool string
	// MaxLLMRetries bounds corrective re-prompts after an undecodable or
	// invalid plan reply.
	MaxLLMRetries int

	// Execution is passed to the plan executor.
	Execution engine.Options

	// OnPlan, when set, receives the persisted plan's id and outline before
	// execution starts.
	OnPlan func(planID, outline string)
}

// Result is what one orchestration run produced.
type Result struct {
	SessionID string
	PlanID    string
	Summary   string
	Results   []processor.Result
}

// Orchestrator wires the LLM client, tool registry, graph, and executor into
// the run loop.
type Orchestrator struct {
	graph    graph.Graph
	store    session.GetSaver
	registry *tool.Registry
	client   llm.Client
	proc     *processor.Processor
	log      *logger.Logger
	opts     Options
}

// New builds an orchestrator.
func New(g graph.Graph, store session.GetSaver, reg *tool.Registry, client llm.Client, proc *processor.Processor, log *logger.Logger, opts Options) *Orchestrator {
	if opts.SearchTool == "" {
		opts.SearchTool = "search"
	}
	if opts.Strategy == "" {
		opts.Strategy = prompt.StrategyConversation
	}
	return &Orchestrator{
		graph:    g,
		store:    store,
		registry: reg,
		client:   client,
		proc:     proc,
		log:      log.WithComponent("orchestrator"),
		opts:     opts,
	}
}

// Run creates a fresh session and orchestrates the goal in it.
func (o *Orchestrator) Run(ctx context.Context, goal string) (*Result, error) {
	sess, err := session.Create(ctx, o.store)
	if err != nil {
		return nil, err
	}
	return o.RunSession(ctx, sess, goal)
}

// Resume loads an existing session and orchestrates the goal in it, so the
// prompt strategies see the prior history.
func (o *Orchestrator) Resume(ctx context.Context, sessionID, goal string) (*Result, error) {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return o.RunSession(ctx, sess, goal)
}

// RunSession appends the goal, plans, executes, re-plans over search
// results, and summarizes.
func (o *Orchestrator) RunSession(ctx context.Context, sess *session.Session, goal string) (*Result, error) {
	goalEv := session.NewEvent(session.TypeMessage, session.SourceUser, goal)
	if err := sess.AddEventAndSave(ctx, o.store, goalEv); err != nil {
		return nil, err
	}

	spec, err := o.requestPlan(ctx, sess)
	if err != nil {
		return nil, err
	}

	builder, err := o.persistPlan(ctx, goal, spec)
	if err != nil {
		return nil, err
	}
	o.log.Debug("plan persisted:\n" + builder.Outline())
	if o.opts.OnPlan != nil {
		o.opts.OnPlan(builder.ID(), builder.Outline())
	}

	firstOpts := o.opts.Execution
	firstOpts.MaxBatches = 1
	first := engine.NewExecutor(o.graph, o.store, o.proc, o.log, firstOpts)
	firstResult, err := first.ExecutePlan(ctx, sess, builder.ID())
	if err != nil {
		return nil, err
	}

	o.replan(ctx, sess, builder, firstResult)

	restOpts := o.opts.Execution
	restOpts.MaxBatches = 0
	rest := engine.NewExecutor(o.graph, o.store, o.proc, o.log, restOpts)
	restResult, err := rest.ExecutePlan(ctx, sess, builder.ID())
	if err != nil {
		return nil, err
	}

	results := mergeResults(firstResult, restResult)
	summary, err := o.summarize(ctx, sess, goal, results)
	if err != nil {
		return nil, err
	}

	return &Result{
		SessionID: sess.ID,
		PlanID:    builder.ID(),
		Summary:   summary,
		Results:   results,
	}, nil
}

// requestPlan asks for a plan and re-prompts with the validation failure
// when the reply cannot be decoded or names tools or arguments outside the
// allow-list.
func (o *Orchestrator) requestPlan(ctx context.Context, sess *session.Session) (*planSpec, error) {
	history, err := prompt.Build(ctx, o.store, sess, o.opts.Strategy)
	if err != nil {
		return nil, err
	}
	if o.opts.PromptBudget > 0 {
		history = prompt.Truncate(history, o.opts.PromptBudget)
	}

	messages := append([]llm.Message{{Role: llm.RoleSystem, Content: o.planSystemPrompt()}}, history...)

	attempts := o.opts.MaxLLMRetries + 1
	for attempt := 1; ; attempt++ {
		resp, err := o.client.Complete(ctx, llm.Request{
			Messages:    messages,
			Model:       o.opts.Model,
			MaxTokens:   o.opts.MaxTokens,
			Temperature: o.opts.Temperature,
		})
		if err != nil {
			return nil, err
		}
		if resp.Usage.TotalTokens > 0 {
			ev := session.NewEvent(session.TypeSummary, session.SourceLLM, "plan proposed").
				WithUsage(resp.Usage)
			if err := sess.AddEventAndSave(ctx, o.store, ev); err != nil {
				return nil, err
			}
		}

		spec, err := decodePlan(resp.Content)
		if err == nil {
			err = validatePlan(o.registry, spec.Steps)
		}
		if err == nil {
			return spec, nil
		}
		if attempt == attempts {
			return nil, err
		}

		o.log.Warn("plan rejected, re-prompting: " + err.Error())
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: "That plan was rejected: " + err.Error() +
				". Reply again with a corrected JSON plan using only the listed tools and their declared arguments."},
		)
	}
}

// persistPlan writes the plan tree and its tool calls to the graph. Steps
// are top-level and numbered in reply order, so depends_on positions map
// directly to indices.
func (o *Orchestrator) persistPlan(ctx context.Context, goal string, spec *planSpec) (*plan.Builder, error) {
	title := spec.Title
	if title == "" {
		title = goal
	}

	builder := plan.NewBuilder(title)
	for _, step := range spec.Steps {
		after := make([]string, 0, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			ix, err := depIndex(dep)
			if err != nil {
				return nil, err
			}
			after = append(after, ix)
		}
		builder.Step(step.Title, after...)
		builder.Up()
	}
	if err := builder.Save(ctx, o.graph); err != nil {
		return nil, err
	}

	for i, step := range spec.Steps {
		stepID, err := builder.StepID(fmt.Sprintf("%d", i+1))
		if err != nil {
			return nil, err
		}
		if _, err := plan.AttachToolCall(o.graph, stepID, step.Tool, step.Args); err != nil {
			return nil, err
		}
	}
	return builder, nil
}

// replan offers the LLM a follow-up pass for every successful search result
// of the first batch. A reply of "DONE" (or anything without a JSON object)
// adds nothing; a sub-plan attaches new steps under the originating one.
// Sub-plan failures are logged and skipped, never fatal.
func (o *Orchestrator) replan(ctx context.Context, sess *session.Session, builder *plan.Builder, first *engine.PlanResult) {
	for _, step := range first.Steps {
		for _, res := range step.Results {
			if res.Tool != o.opts.SearchTool || res.Failed() || isEmptyResult(res.Result) {
				continue
			}
			if err := o.followUp(ctx, sess, builder, step, res); err != nil {
				o.log.Warn("re-planning for step " + step.Index + " skipped: " + err.Error())
			}
		}
	}
}

func (o *Orchestrator) followUp(ctx context.Context, sess *session.Session, builder *plan.Builder, step engine.StepResult, res processor.Result) error {
	resp, err := o.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: o.planSystemPrompt()},
			{Role: llm.RoleUser, Content: fmt.Sprintf(
				"The step %q ran %s and returned:\n%s\n\n"+
					"If follow-up steps are warranted, reply with a JSON sub-plan "+
					`{"steps": [{"title": "...", "tool": "...", "args": {}, "depends_on": []}]}`+
					" where depends_on references earlier sub-plan steps by number. "+
					"If nothing more is needed, reply with exactly DONE.",
				step.Title, res.Tool, clip(renderResult(res.Result), resultClip))},
		},
		Model:       o.opts.Model,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
	})
	if err != nil {
		return err
	}
	if resp.Usage.TotalTokens > 0 {
		ev := session.NewEvent(session.TypeSummary, session.SourceLLM, "re-planning pass for step "+step.Index).
			WithUsage(resp.Usage)
		if err := sess.AddEventAndSave(ctx, o.store, ev); err != nil {
			return err
		}
	}

	if isDone(resp.Content) {
		return nil
	}
	spec, err := decodePlan(resp.Content)
	if err != nil {
		// No usable sub-plan in the reply; treat it like DONE.
		o.log.Debug("re-planning reply carried no sub-plan: " + err.Error())
		return nil
	}
	if err := validatePlan(o.registry, spec.Steps); err != nil {
		return err
	}

	// Sub-plan positions resolve to the indices AddStep hands back, so
	// depends_on among new steps becomes ordering edges between them.
	assigned := make([]string, 0, len(spec.Steps))
	for _, sub := range spec.Steps {
		after := make([]string, 0, len(sub.DependsOn))
		for _, dep := range sub.DependsOn {
			ix, err := depIndex(dep)
			if err != nil {
				return err
			}
			if n, numErr := positionOf(ix); numErr == nil && n >= 1 && n <= len(assigned) {
				ix = assigned[n-1]
			}
			after = append(after, ix)
		}

		stepID, index, err := builder.AddStep(ctx, o.graph, step.Index, sub.Title, after...)
		if err != nil {
			return err
		}
		if _, err := plan.AttachToolCall(o.graph, stepID, sub.Tool, sub.Args); err != nil {
			return err
		}
		assigned = append(assigned, index)
	}
	return nil
}

// summarize reduces the collected results to one sentence and appends it as
// the assistant's closing message. When every call failed the summary is
// composed locally; no LLM round-trip can improve on stating that.
func (o *Orchestrator) summarize(ctx context.Context, sess *session.Session, goal string, results []processor.Result) (string, error) {
	summary := ""
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}

	switch {
	case len(results) == 0:
		summary = "No tool calls were executed."
	case failed == len(results):
		summary = fmt.Sprintf("All %d tool calls failed; no results were collected.", len(results))
	default:
		var digest strings.Builder
		for _, r := range results {
			if r.Failed() {
				fmt.Fprintf(&digest, "- %s failed: %s\n", r.Tool, r.Error)
				continue
			}
			fmt.Fprintf(&digest, "- %s: %s\n", r.Tool, clip(renderResult(r.Result), 500))
		}

		resp, err := o.client.Complete(ctx, llm.Request{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "Summarize the tool execution results for the user in exactly one sentence."},
				{Role: llm.RoleUser, Content: "Goal: " + goal + "\n\nResults:\n" + digest.String()},
			},
			Model:       o.opts.Model,
			MaxTokens:   o.opts.MaxTokens,
			Temperature: o.opts.Temperature,
		})
		if err != nil {
			return "", err
		}
		summary = firstSentence(resp.Content)
		if resp.Usage.TotalTokens > 0 {
			ev := session.NewEvent(session.TypeSummary, session.SourceLLM, "summary produced").
				WithUsage(resp.Usage)
			if err := sess.AddEventAndSave(ctx, o.store, ev); err != nil {
				return "", err
			}
		}
	}

	ev := session.NewEvent(session.TypeMessage, session.SourceLLM, map[string]any{"content": summary})
	if err := sess.AddEventAndSave(ctx, o.store, ev); err != nil {
		return "", err
	}
	return summary, nil
}

// planSystemPrompt advertises the registry and the required plan shape.
func (o *Orchestrator) planSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You orchestrate tools to accomplish the user's goal. Available tools:\n\n")
	for _, t := range o.registry.List() {
		meta := t.Metadata()
		fmt.Fprintf(&sb, "- %s: %s\n", meta.Name, meta.Description)
		for _, arg := range t.Schema().Args {
			required := "optional"
			if arg.Required {
				required = "required"
			}
			fmt.Fprintf(&sb, "    %s (%s, %s): %s\n", arg.Name, arg.Type, required, arg.Description)
		}
	}
	sb.WriteString("\nReply with a single JSON object, no prose and no code fences:\n")
	sb.WriteString(`{"title": "...", "steps": [{"title": "...", "tool": "...", "args": {}, "depends_on": []}]}` + "\n")
	sb.WriteString("depends_on lists the 1-based numbers of steps that must finish first. ")
	sb.WriteString("Use only the listed tools and their declared arguments.")
	return sb.String()
}

func mergeResults(runs ...*engine.PlanResult) []processor.Result {
	var out []processor.Result
	seen := make(map[string]bool)
	for _, run := range runs {
		for _, step := range run.Steps {
			for _, r := range step.Results {
				if r.CallID != "" && seen[r.CallID] {
					continue
				}
				seen[r.CallID] = true
				out = append(out, r)
			}
		}
	}
	return out
}

func isDone(text string) bool {
	t := strings.Trim(strings.TrimSpace(text), ".!")
	return strings.EqualFold(t, "done")
}

func isEmptyResult(result any) bool {
	switch v := result.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func renderResult(result any) string {
	switch v := result.(type) {
	case string:
		return v
	case nil:
		return "null"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func firstSentence(text string) string {
	t := strings.TrimSpace(text)
	for i := 0; i < len(t); i++ {
		switch t[i] {
		case '.', '!', '?':
			if i+1 == len(t) || t[i+1] == ' ' || t[i+1] == '\n' {
				return t[:i+1]
			}
		}
	}
	return t
}

// positionOf parses a bare step position like "3"; dotted indices fail.
func positionOf(index string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(index, "%d", &n); err != nil {
		return 0, err
	}
	if fmt.Sprintf("%d", n) != index {
		return 0, fmt.Errorf("not a bare position: %s", index)
	}
	return n, nil
}
