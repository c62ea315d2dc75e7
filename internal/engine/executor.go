package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weftworks/loom/internal/graph"
	"github.com/weftworks/loom/internal/logger"
	"github.com/weftworks/loom/internal/plan"
	"github.com/weftworks/loom/internal/processor"
	"github.com/weftworks/loom/internal/session"
)

// Step statuses reported through results and observer notifications.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// StepResult captures the outcome of executing a single plan step.
type StepResult struct {
	StepID   string
	Index    string
	Title    string
	Status   string
	Results  []processor.Result
	Err      string
	Duration time.Duration
}

// PlanResult is the outcome of one ExecutePlan invocation.
type PlanResult struct {
	PlanID     string
	RunID      string
	Batches    [][]string
	Steps      []StepResult
	Dispatched int
	Failed     int
}

// Notification is a step progress signal streamed to the observer.
type Notification struct {
	StepID string
	Index  string
	Title  string
	Status string
	Tools  int
	Error  string
}

// Observer receives step notifications as execution progresses.
type Observer func(Notification)

// Options tunes plan execution.
type Options struct {
	// MaxConcurrency bounds parallel steps within a batch. Zero means 3.
	MaxConcurrency int
	// ContinueOnFailure keeps executing later batches after a batch with
	// failed steps.
	ContinueOnFailure bool
	// MaxBatches limits how many batches this invocation runs. Zero runs
	// all. The orchestrator uses 1 before re-planning.
	MaxBatches int
	// Observer streams step notifications; nil disables them.
	Observer Observer
}

// Executor schedules and runs plans. It is safe to invoke repeatedly on the
// same plan: steps whose tool calls already carry results are skipped.
type Executor struct {
	graph graph.Graph
	store session.Saver
	proc  *processor.Processor
	log   *logger.Logger
	opts  Options
}

// NewExecutor builds an executor over the given graph, session store, and
// processor.
func NewExecutor(g graph.Graph, store session.Saver, proc *processor.Processor, log *logger.Logger, opts Options) *Executor {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 3
	}
	return &Executor{
		graph: g,
		store: store,
		proc:  proc,
		log:   log.WithComponent("executor"),
		opts:  opts,
	}
}

// ExecutePlan runs the plan's batches in order, each batch's steps in
// parallel. The run lifecycle and a hierarchical event trail are recorded in
// the session. Plan-level failures (cyclic dependencies, store errors)
// return an error; step-level tool failures are reported in the result.
func (e *Executor) ExecutePlan(ctx context.Context, sess *session.Session, planID string) (*PlanResult, error) {
	run := session.NewRun()
	sess.AddRun(run)
	if err := run.MarkRunning(); err != nil {
		return nil, err
	}

	rootEv := session.NewEvent(session.TypeSummary, session.SourceSystem, map[string]any{"plan_id": planID}).
		WithMetadata("description", "Plan execution started").
		WithTask(run.ID)
	if err := sess.AddEventAndSave(ctx, e.store, rootEv); err != nil {
		return nil, err
	}

	schedule, err := BuildSchedule(e.graph, planID)
	if err != nil {
		e.log.Error(err, "plan schedule failed")
		_ = run.MarkFailed()
		failEv := session.NewEvent(session.TypeSummary, session.SourceSystem, map[string]any{
			"plan_id": planID,
			"error":   err.Error(),
		}).WithParent(rootEv.ID).WithTask(run.ID)
		if evErr := sess.AddEventAndSave(ctx, e.store, failEv); evErr != nil {
			return nil, evErr
		}
		return nil, err
	}

	result := &PlanResult{PlanID: planID, RunID: run.ID, Batches: schedule.Batches}

	var storeErr error
	var storeErrOnce sync.Once

	batches := schedule.Batches
	if e.opts.MaxBatches > 0 && len(batches) > e.opts.MaxBatches {
		batches = batches[:e.opts.MaxBatches]
	}

	for _, batch := range batches {
		stepResults := make([]StepResult, len(batch))

		sem := make(chan struct{}, e.opts.MaxConcurrency)
		var wg sync.WaitGroup
		for i, stepID := range batch {
			wg.Add(1)
			go func(i int, stepID string) {
				defer wg.Done()

				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					step := schedule.Steps[stepID]
					stepResults[i] = StepResult{StepID: stepID, Index: step.Index, Title: step.Title, Status: StatusFailed, Err: "cancelled"}
					return
				}

				res, err := e.executeStep(ctx, sess, schedule.Steps[stepID], rootEv.ID, run.ID)
				if err != nil {
					storeErrOnce.Do(func() { storeErr = err })
					res.Status = StatusFailed
					if res.Err == "" {
						res.Err = err.Error()
					}
				}
				stepResults[i] = res
			}(i, stepID)
		}
		wg.Wait()

		batchFailed := false
		for _, sr := range stepResults {
			result.Steps = append(result.Steps, sr)
			result.Dispatched += len(sr.Results)
			for _, r := range sr.Results {
				if r.Failed() {
					result.Failed++
				}
			}
			if sr.Status == StatusFailed {
				batchFailed = true
			}
		}

		// Cancellation wins over any store failure it provoked; the run
		// settles as cancelled in finish.
		if ctx.Err() != nil {
			break
		}
		if storeErr != nil {
			_ = run.MarkFailed()
			_ = e.store.Save(ctx, sess)
			return result, storeErr
		}
		if batchFailed && !e.opts.ContinueOnFailure {
			break
		}
	}

	return result, e.finish(ctx, sess, run, rootEv.ID, planID, result)
}

// finish settles the run state and appends the plan-end event.
func (e *Executor) finish(ctx context.Context, sess *session.Session, run *session.Run, rootEventID, planID string, result *PlanResult) error {
	status := "completed"
	switch {
	case ctx.Err() != nil:
		status = "cancelled"
		_ = run.MarkCancelled()
	case result.Dispatched > 0 && result.Failed == result.Dispatched:
		status = "failed"
		_ = run.MarkFailed()
		errEv := session.NewEvent(session.TypeSummary, session.SourceSystem, map[string]any{
			"plan_id": planID,
			"error":   fmt.Sprintf("all %d tool calls failed", result.Dispatched),
		}).WithParent(rootEventID).WithTask(run.ID)
		if err := sess.AddEventAndSave(context.WithoutCancel(ctx), e.store, errEv); err != nil {
			return err
		}
	default:
		_ = run.MarkCompleted()
	}

	endEv := session.NewEvent(session.TypeSummary, session.SourceSystem, map[string]any{
		"plan_id":        planID,
		"status":         status,
		"steps_executed": len(result.Steps),
	}).WithParent(rootEventID).WithTask(run.ID)
	return sess.AddEventAndSave(context.WithoutCancel(ctx), e.store, endEv)
}

// executeStep runs one step: a started event, every linked tool call through
// the processor, node write-back, and a completed event.
func (e *Executor) executeStep(ctx context.Context, sess *session.Session, step plan.Step, rootEventID, runID string) (StepResult, error) {
	start := time.Now()
	res := StepResult{StepID: step.ID, Index: step.Index, Title: step.Title}

	calls := e.toolCallsOf(step.ID)

	if len(calls) > 0 && allExecuted(calls) {
		res.Status = StatusSkipped
		e.notify(Notification{StepID: step.ID, Index: step.Index, Title: step.Title, Status: StatusSkipped})
		return res, nil
	}

	if ctx.Err() != nil {
		res.Status = StatusFailed
		res.Err = "cancelled"
		e.notify(Notification{StepID: step.ID, Index: step.Index, Title: step.Title, Status: StatusFailed, Error: res.Err})
		return res, nil
	}

	e.notify(Notification{StepID: step.ID, Index: step.Index, Title: step.Title, Status: StatusRunning})

	startEv := session.NewEvent(session.TypeSummary, session.SourceSystem, map[string]any{
		"step_id":     step.ID,
		"description": step.Title,
		"status":      "started",
	}).WithParent(rootEventID).WithTask(runID)
	if err := sess.AddEventAndSave(ctx, e.store, startEv); err != nil {
		return res, err
	}

	requests := make([]processor.Request, 0, len(calls))
	for _, call := range calls {
		if call.data.Executed() {
			continue
		}
		requests = append(requests, processor.Request{ID: call.id, Name: call.data.Name, Args: call.data.Args})
	}

	results, procErr := e.proc.Execute(ctx, sess, startEv.ID, requests)
	res.Results = results
	res.Duration = time.Since(start)

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
		if err := e.writeBack(r); err != nil {
			e.log.Error(err, "tool call write-back failed")
		}
	}

	res.Status = StatusSuccess
	if failed > 0 || procErr != nil {
		res.Status = StatusFailed
	}
	if failed > 0 {
		res.Err = fmt.Sprintf("%d of %d tool calls failed", failed, len(results))
	}

	endEv := session.NewEvent(session.TypeSummary, session.SourceSystem, map[string]any{
		"step_id":        step.ID,
		"status":         res.Status,
		"tools_executed": len(results),
	}).WithParent(rootEventID).WithTask(runID)
	if err := sess.AddEventAndSave(context.WithoutCancel(ctx), e.store, endEv); err != nil {
		return res, err
	}

	e.notify(Notification{StepID: step.ID, Index: step.Index, Title: step.Title, Status: res.Status, Tools: len(results), Error: res.Err})
	return res, procErr
}

type toolCallRef struct {
	id   string
	data graph.ToolCallData
}

func (e *Executor) toolCallsOf(stepID string) []toolCallRef {
	var calls []toolCallRef
	for _, edge := range graph.From(e.graph, stepID, graph.EdgePlanLink) {
		node, ok := e.graph.Node(edge.Dst)
		if !ok || node.Kind != graph.KindToolCall {
			continue
		}
		calls = append(calls, toolCallRef{id: node.ID, data: node.Data.(graph.ToolCallData)})
	}
	return calls
}

func allExecuted(calls []toolCallRef) bool {
	for _, c := range calls {
		if !c.data.Executed() {
			return false
		}
	}
	return true
}

// writeBack records a processor result on the TOOL_CALL node and attaches a
// TASK_RUN child capturing the outcome.
func (e *Executor) writeBack(r processor.Result) error {
	node, ok := e.graph.Node(r.CallID)
	if !ok || node.Kind != graph.KindToolCall {
		return nil
	}
	data := node.Data.(graph.ToolCallData)
	data.Result = r.Result
	data.Error = r.Error
	data.Cached = r.Cached
	data.Done = true
	if err := e.graph.UpdateNode(r.CallID, data); err != nil {
		return err
	}

	taskNode := graph.NewNode(graph.TaskRunData{
		Success:    !r.Failed(),
		Error:      r.Error,
		FinishedAt: time.Now().UTC(),
	})
	if err := e.graph.AddNode(taskNode); err != nil {
		return err
	}
	return e.graph.AddEdge(graph.Edge{Src: r.CallID, Dst: taskNode.ID, Kind: graph.EdgeParentChild})
}

func (e *Executor) notify(n Notification) {
	if e.opts.Observer != nil {
		e.opts.Observer(n)
	}
}
