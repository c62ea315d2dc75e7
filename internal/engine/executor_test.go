package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftworks/loom/internal/graph"
	"github.com/weftworks/loom/internal/plan"
	"github.com/weftworks/loom/internal/processor"
	"github.com/weftworks/loom/internal/session"
	"github.com/weftworks/loom/internal/session/store"
	"github.com/weftworks/loom/internal/tool"
	loomerrors "github.com/weftworks/loom/pkg/errors"
)

type fixture struct {
	graph *graph.Store
	store *store.Memory
	reg   *tool.Registry
	sess  *session.Session
}

func newEngineFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemory()
	sess, err := session.Create(context.Background(), st)
	require.NoError(t, err)

	return &fixture{
		graph: graph.NewStore(),
		store: st,
		reg:   tool.NewRegistry(),
		sess:  sess,
	}
}

func (f *fixture) executor(t *testing.T, opts Options) *Executor {
	t.Helper()
	proc := processor.New(f.reg, f.store, processor.Options{}, nil)
	return NewExecutor(f.graph, f.store, proc, nil, opts)
}

func (f *fixture) registerEcho(t *testing.T, calls *atomic.Int64) {
	t.Helper()
	err := f.reg.RegisterFunc(
		tool.Metadata{Name: "echo"},
		tool.Schema{Args: []tool.Arg{{Name: "msg", Type: "string"}}},
		func(_ context.Context, args map[string]any) (any, error) {
			if calls != nil {
				calls.Add(1)
			}
			return map[string]any{"echo": args}, nil
		},
	)
	require.NoError(t, err)
}

func (f *fixture) registerBroken(t *testing.T) {
	t.Helper()
	err := f.reg.RegisterFunc(tool.Metadata{Name: "broken"}, tool.Schema{},
		func(context.Context, map[string]any) (any, error) {
			return nil, fmt.Errorf("always fails")
		})
	require.NoError(t, err)
}

// savePlan builds a two-step sequential plan with one echo call per step.
func (f *fixture) savePlan(t *testing.T) (planID string, callIDs []string) {
	t.Helper()

	b := plan.NewBuilder("echo twice")
	b.Step("first echo").Up().
		Step("second echo", "1")
	require.NoError(t, b.Save(context.Background(), f.graph))

	for _, ix := range []string{"1", "2"} {
		stepID, err := b.StepID(ix)
		require.NoError(t, err)
		callID, err := plan.AttachToolCall(f.graph, stepID, "echo", map[string]any{"msg": ix})
		require.NoError(t, err)
		callIDs = append(callIDs, callID)
	}
	return b.ID(), callIDs
}

func TestExecutePlanRunsStepsAndWritesBack(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.registerEcho(t, nil)
	planID, callIDs := f.savePlan(t)

	exec := f.executor(t, Options{ContinueOnFailure: true})
	result, err := exec.ExecutePlan(context.Background(), f.sess, planID)
	require.NoError(t, err)
	require.Equal(t, 2, result.Dispatched)
	require.Equal(t, 0, result.Failed)
	require.Len(t, result.Steps, 2)
	for _, sr := range result.Steps {
		require.Equal(t, StatusSuccess, sr.Status)
	}

	// Tool call nodes carry the results and a TASK_RUN child each.
	for _, callID := range callIDs {
		node, ok := f.graph.Node(callID)
		require.True(t, ok)
		data := node.Data.(graph.ToolCallData)
		require.NotNil(t, data.Result)
		require.Empty(t, data.Error)
		require.True(t, data.Executed())

		children := graph.From(f.graph, callID, graph.EdgeParentChild)
		require.Len(t, children, 1)
		child, ok := f.graph.Node(children[0].Dst)
		require.True(t, ok)
		require.Equal(t, graph.KindTaskRun, child.Kind)
		require.True(t, child.Data.(graph.TaskRunData).Success)
	}

	runs := f.sess.Runs
	require.Len(t, runs, 1)
	require.Equal(t, session.RunCompleted, runs[0].Status)
}

func TestExecutePlanParallelFanIn(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.registerEcho(t, nil)
	err := f.reg.RegisterFunc(
		tool.Metadata{Name: "sum"},
		tool.Schema{Args: []tool.Arg{{Name: "values", Type: "array"}}},
		func(_ context.Context, args map[string]any) (any, error) {
			var total float64
			for _, v := range args["values"].([]any) {
				total += v.(float64)
			}
			return map[string]any{"sum": total}, nil
		},
	)
	require.NoError(t, err)

	b := plan.NewBuilder("gather and total")
	b.Step("first source").Up().
		Step("second source").Up().
		Step("third source").Up().
		Step("total", "1", "2", "3")
	require.NoError(t, b.Save(context.Background(), f.graph))

	for _, ix := range []string{"1", "2", "3"} {
		stepID, err := b.StepID(ix)
		require.NoError(t, err)
		_, err = plan.AttachToolCall(f.graph, stepID, "echo", map[string]any{"msg": ix})
		require.NoError(t, err)
	}
	joinID, err := b.StepID("4")
	require.NoError(t, err)
	sumCallID, err := plan.AttachToolCall(f.graph, joinID, "sum",
		map[string]any{"values": []any{10.0, 20.0, 30.0}})
	require.NoError(t, err)

	exec := f.executor(t, Options{MaxConcurrency: 3})
	result, err := exec.ExecutePlan(context.Background(), f.sess, b.ID())
	require.NoError(t, err)
	require.Equal(t, 4, result.Dispatched)
	require.Zero(t, result.Failed)

	// The three sources share a batch; the join runs after all of them.
	require.Len(t, result.Batches, 2)
	require.Len(t, result.Batches[0], 3)
	require.Len(t, result.Batches[1], 1)

	node, ok := f.graph.Node(sumCallID)
	require.True(t, ok)
	res := node.Data.(graph.ToolCallData).Result.(map[string]any)
	require.Equal(t, 60.0, res["sum"])

	require.Equal(t, session.RunCompleted, f.sess.Runs[0].Status)
}

func TestExecutePlanEventTrail(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.registerEcho(t, nil)
	planID, _ := f.savePlan(t)

	exec := f.executor(t, Options{})
	result, err := exec.ExecutePlan(context.Background(), f.sess, planID)
	require.NoError(t, err)

	var rootID string
	stepStatuses := map[string]int{}
	for _, ev := range f.sess.EventsSnapshot() {
		if ev.Type != session.TypeSummary {
			continue
		}
		msg, ok := ev.Message.(map[string]any)
		if !ok {
			continue
		}
		if ev.Metadata["description"] == "Plan execution started" {
			rootID = ev.ID
			require.Equal(t, planID, msg["plan_id"])
			require.Equal(t, result.RunID, ev.TaskID)
		}
		if status, ok := msg["status"].(string); ok && msg["step_id"] != nil {
			stepStatuses[status]++
			require.Equal(t, rootID, ev.ParentEventID())
		}
	}
	require.NotEmpty(t, rootID)
	require.Equal(t, 2, stepStatuses["started"])
	require.Equal(t, 2, stepStatuses["success"])
}

func TestExecutePlanEmptyPlan(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	b := plan.NewBuilder("empty")
	require.NoError(t, b.Save(context.Background(), f.graph))

	exec := f.executor(t, Options{})
	result, err := exec.ExecutePlan(context.Background(), f.sess, b.ID())
	require.NoError(t, err)
	require.Empty(t, result.Steps)
	require.Zero(t, result.Dispatched)

	runs := f.sess.Runs
	require.Len(t, runs, 1)
	require.Equal(t, session.RunCompleted, runs[0].Status)
}

func TestExecutePlanCyclicFailsRun(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.registerEcho(t, nil)

	b := plan.NewBuilder("deadlock")
	b.Step("a", "2").Up().Step("b", "1")
	require.NoError(t, b.Save(context.Background(), f.graph))

	exec := f.executor(t, Options{})
	_, err := exec.ExecutePlan(context.Background(), f.sess, b.ID())
	var cyclic *loomerrors.CyclicPlanError
	require.ErrorAs(t, err, &cyclic)

	runs := f.sess.Runs
	require.Len(t, runs, 1)
	require.Equal(t, session.RunFailed, runs[0].Status)

	for _, ev := range f.sess.EventsSnapshot() {
		require.NotEqual(t, session.TypeToolCall, ev.Type)
	}
}

func TestExecutePlanSkipsExecutedSteps(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	var calls atomic.Int64
	f.registerEcho(t, &calls)
	planID, _ := f.savePlan(t)

	exec := f.executor(t, Options{})
	first, err := exec.ExecutePlan(context.Background(), f.sess, planID)
	require.NoError(t, err)
	require.Equal(t, int64(2), calls.Load())

	second, err := exec.ExecutePlan(context.Background(), f.sess, planID)
	require.NoError(t, err)
	require.Equal(t, int64(2), calls.Load(), "executed steps must not run again")
	require.Zero(t, second.Dispatched)
	for _, sr := range second.Steps {
		require.Equal(t, StatusSkipped, sr.Status)
	}
	require.NotEqual(t, first.RunID, second.RunID)

	runs := f.sess.Runs
	require.Len(t, runs, 2)
	require.Equal(t, session.RunCompleted, runs[1].Status)
}

func TestExecutePlanSkipsNullResultCalls(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	var calls atomic.Int64
	err := f.reg.RegisterFunc(tool.Metadata{Name: "fire_and_forget"}, tool.Schema{},
		func(context.Context, map[string]any) (any, error) {
			calls.Add(1)
			return nil, nil
		})
	require.NoError(t, err)

	b := plan.NewBuilder("side effect only")
	b.Step("notify")
	require.NoError(t, b.Save(context.Background(), f.graph))
	stepID, err := b.StepID("1")
	require.NoError(t, err)
	callID, err := plan.AttachToolCall(f.graph, stepID, "fire_and_forget", nil)
	require.NoError(t, err)

	exec := f.executor(t, Options{})
	_, err = exec.ExecutePlan(context.Background(), f.sess, b.ID())
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	node, ok := f.graph.Node(callID)
	require.True(t, ok)
	data := node.Data.(graph.ToolCallData)
	require.Nil(t, data.Result)
	require.True(t, data.Executed(), "a null result still counts as executed")

	second, err := exec.ExecutePlan(context.Background(), f.sess, b.ID())
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load(), "null-result calls must not run again")
	require.Equal(t, StatusSkipped, second.Steps[0].Status)
}

func TestExecutePlanAllFailedMarksRunFailed(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.registerBroken(t)

	b := plan.NewBuilder("doomed")
	b.Step("only step")
	require.NoError(t, b.Save(context.Background(), f.graph))
	stepID, err := b.StepID("1")
	require.NoError(t, err)
	_, err = plan.AttachToolCall(f.graph, stepID, "broken", nil)
	require.NoError(t, err)

	exec := f.executor(t, Options{ContinueOnFailure: true})
	result, err := exec.ExecutePlan(context.Background(), f.sess, b.ID())
	require.NoError(t, err)
	require.Equal(t, 1, result.Dispatched)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, StatusFailed, result.Steps[0].Status)

	runs := f.sess.Runs
	require.Equal(t, session.RunFailed, runs[0].Status)

	var sawError bool
	for _, ev := range f.sess.EventsSnapshot() {
		if msg, ok := ev.Message.(map[string]any); ok {
			if errText, ok := msg["error"].(string); ok && errText == "all 1 tool calls failed" {
				sawError = true
			}
		}
	}
	require.True(t, sawError)
}

func TestExecutePlanStopsAfterFailedBatch(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	var calls atomic.Int64
	f.registerEcho(t, &calls)
	f.registerBroken(t)

	b := plan.NewBuilder("halt on failure")
	b.Step("breaks").Up().Step("never runs", "1")
	require.NoError(t, b.Save(context.Background(), f.graph))
	firstID, err := b.StepID("1")
	require.NoError(t, err)
	secondID, err := b.StepID("2")
	require.NoError(t, err)
	_, err = plan.AttachToolCall(f.graph, firstID, "broken", nil)
	require.NoError(t, err)
	_, err = plan.AttachToolCall(f.graph, secondID, "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)

	exec := f.executor(t, Options{ContinueOnFailure: false})
	result, err := exec.ExecutePlan(context.Background(), f.sess, b.ID())
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	require.Zero(t, calls.Load())
}

func TestExecutePlanContinuesPastFailedBatch(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	var calls atomic.Int64
	f.registerEcho(t, &calls)
	f.registerBroken(t)

	b := plan.NewBuilder("push through")
	b.Step("breaks").Up().Step("still runs", "1")
	require.NoError(t, b.Save(context.Background(), f.graph))
	firstID, err := b.StepID("1")
	require.NoError(t, err)
	secondID, err := b.StepID("2")
	require.NoError(t, err)
	_, err = plan.AttachToolCall(f.graph, firstID, "broken", nil)
	require.NoError(t, err)
	_, err = plan.AttachToolCall(f.graph, secondID, "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)

	exec := f.executor(t, Options{ContinueOnFailure: true})
	result, err := exec.ExecutePlan(context.Background(), f.sess, b.ID())
	require.NoError(t, err)
	require.Len(t, result.Steps, 2)
	require.Equal(t, int64(1), calls.Load())
	require.Equal(t, StatusSuccess, result.Steps[1].Status)

	// Mixed outcome is not a failed run.
	runs := f.sess.Runs
	require.Equal(t, session.RunCompleted, runs[0].Status)
}

func TestExecutePlanMaxBatches(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	var calls atomic.Int64
	f.registerEcho(t, &calls)
	planID, _ := f.savePlan(t)

	exec := f.executor(t, Options{MaxBatches: 1})
	result, err := exec.ExecutePlan(context.Background(), f.sess, planID)
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	require.Equal(t, int64(1), calls.Load())
	require.Len(t, result.Batches, 2, "full schedule is still reported")

	runs := f.sess.Runs
	require.Equal(t, session.RunCompleted, runs[0].Status)
}

func TestExecutePlanObserverNotifications(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.registerEcho(t, nil)
	planID, _ := f.savePlan(t)

	var mu sync.Mutex
	statuses := map[string][]string{}
	exec := f.executor(t, Options{Observer: func(n Notification) {
		mu.Lock()
		statuses[n.Index] = append(statuses[n.Index], n.Status)
		mu.Unlock()
	}})

	_, err := exec.ExecutePlan(context.Background(), f.sess, planID)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{StatusRunning, StatusSuccess}, statuses["1"])
	require.Equal(t, []string{StatusRunning, StatusSuccess}, statuses["2"])
}

func TestExecutePlanCancellation(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	err := f.reg.RegisterFunc(tool.Metadata{Name: "wait"}, tool.Schema{},
		func(ctx context.Context, _ map[string]any) (any, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		})
	require.NoError(t, err)

	b := plan.NewBuilder("interrupted")
	b.Step("hangs").Up().Step("never reached", "1")
	require.NoError(t, b.Save(context.Background(), f.graph))
	firstID, err := b.StepID("1")
	require.NoError(t, err)
	_, err = plan.AttachToolCall(f.graph, firstID, "wait", nil)
	require.NoError(t, err)

	exec := f.executor(t, Options{ContinueOnFailure: true})
	result, err := exec.ExecutePlan(ctx, f.sess, b.ID())
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)

	runs := f.sess.Runs
	require.Equal(t, session.RunCancelled, runs[0].Status)
}

// deadlineSaver refuses saves once the context is done, the way a
// network-backed session store would.
type deadlineSaver struct{ inner session.Saver }

func (s deadlineSaver) Save(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.Save(ctx, sess)
}

func TestExecutePlanCancellationWithContextAwareStore(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	err := f.reg.RegisterFunc(tool.Metadata{Name: "wait"}, tool.Schema{},
		func(ctx context.Context, _ map[string]any) (any, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		})
	require.NoError(t, err)

	b := plan.NewBuilder("interrupted mid-call")
	b.Step("hangs")
	require.NoError(t, b.Save(context.Background(), f.graph))
	stepID, err := b.StepID("1")
	require.NoError(t, err)
	_, err = plan.AttachToolCall(f.graph, stepID, "wait", nil)
	require.NoError(t, err)

	saver := deadlineSaver{inner: f.store}
	proc := processor.New(f.reg, saver, processor.Options{}, nil)
	exec := NewExecutor(f.graph, saver, proc, nil, Options{})

	result, err := exec.ExecutePlan(ctx, f.sess, b.ID())
	require.NoError(t, err, "cancellation must not surface as a store failure")
	require.Len(t, result.Steps, 1)

	require.Equal(t, session.RunCancelled, f.sess.Runs[0].Status)

	// The in-flight call still gets its terminal event, recorded past the
	// cancelled context.
	var sawCancelled bool
	for _, ev := range f.sess.EventsSnapshot() {
		if ev.Type != session.TypeToolCall {
			continue
		}
		if msg, ok := ev.Message.(map[string]any); ok && msg["error"] == "cancelled" {
			sawCancelled = true
		}
	}
	require.True(t, sawCancelled)
}
