package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftworks/loom/internal/graph"
	loomerrors "github.com/weftworks/loom/pkg/errors"
)

func TestBuilderAssignsDepthFirstIndices(t *testing.T) {
	t.Parallel()

	g := graph.NewStore()
	b := NewBuilder("research plan")
	b.Step("gather sources").
		Step("search the web").Up().
		Step("read papers").Up().
		Up().
		Step("write summary", "1")

	require.NoError(t, b.Save(context.Background(), g))

	steps := StepsOf(g, b.ID())
	indices := make([]string, 0, len(steps))
	titles := make(map[string]string, len(steps))
	for _, s := range steps {
		indices = append(indices, s.Index)
		titles[s.Index] = s.Title
	}
	require.Equal(t, []string{"1", "1.1", "1.2", "2"}, indices)
	require.Equal(t, "search the web", titles["1.1"])
	require.Equal(t, "write summary", titles["2"])
}

func TestBuilderIndexTracesParentChildPath(t *testing.T) {
	t.Parallel()

	g := graph.NewStore()
	b := NewBuilder("nested")
	b.Step("a").Step("b").Step("c")
	require.NoError(t, b.Save(context.Background(), g))

	// Walking PARENT_CHILD from the plan root along the index segments must
	// arrive at the step carrying that index.
	deepID, err := b.StepID("1.1.1")
	require.NoError(t, err)

	current := b.ID()
	for i := 0; i < 3; i++ {
		edges := graph.From(g, current, graph.EdgeParentChild)
		require.Len(t, edges, 1)
		current = edges[0].Dst
	}
	require.Equal(t, deepID, current)
}

func TestBuilderPersistsStepOrderEdges(t *testing.T) {
	t.Parallel()

	g := graph.NewStore()
	b := NewBuilder("ordered")
	b.Step("one").Up().Step("two").Up().Step("join", "1", "2")
	require.NoError(t, b.Save(context.Background(), g))

	joinID, err := b.StepID("3")
	require.NoError(t, err)

	deps := graph.To(g, joinID, graph.EdgeStepOrder)
	require.Len(t, deps, 2)
}

func TestBuilderForwardAfterReferenceResolves(t *testing.T) {
	t.Parallel()

	g := graph.NewStore()
	b := NewBuilder("forward")
	b.Step("one", "2").Up().Step("two")
	require.NoError(t, b.Save(context.Background(), g))

	oneID, err := b.StepID("1")
	require.NoError(t, err)
	require.Len(t, graph.To(g, oneID, graph.EdgeStepOrder), 1)
}

func TestBuilderUnresolvedDependency(t *testing.T) {
	t.Parallel()

	g := graph.NewStore()
	b := NewBuilder("broken")
	b.Step("one", "7")

	err := b.Save(context.Background(), g)
	var unresolved *loomerrors.UnresolvedDependencyError
	require.ErrorAs(t, err, &unresolved)
	require.Equal(t, "7", unresolved.After)
}

func TestAddStepAfterSave(t *testing.T) {
	t.Parallel()

	g := graph.NewStore()
	b := NewBuilder("growing")
	b.Step("search")
	require.NoError(t, b.Save(context.Background(), g))

	id, index, err := b.AddStep(context.Background(), g, "1", "visit first result")
	require.NoError(t, err)
	require.Equal(t, "1.1", index)

	node, ok := g.Node(id)
	require.True(t, ok)
	require.Equal(t, graph.KindPlanStep, node.Kind)

	parentID, err := b.StepID("1")
	require.NoError(t, err)
	children := graph.From(g, parentID, graph.EdgeParentChild)
	require.Len(t, children, 1)
	require.Equal(t, id, children[0].Dst)

	_, index2, err := b.AddStep(context.Background(), g, "1", "visit second result", "1.1")
	require.NoError(t, err)
	require.Equal(t, "1.2", index2)
}

func TestAddStepUnknownParent(t *testing.T) {
	t.Parallel()

	g := graph.NewStore()
	b := NewBuilder("p")
	b.Step("only")
	require.NoError(t, b.Save(context.Background(), g))

	_, _, err := b.AddStep(context.Background(), g, "9", "orphan")
	var invalid *loomerrors.InvalidReferenceError
	require.ErrorAs(t, err, &invalid)
}

func TestAttachToolCall(t *testing.T) {
	t.Parallel()

	g := graph.NewStore()
	b := NewBuilder("tools")
	b.Step("fetch weather")
	require.NoError(t, b.Save(context.Background(), g))

	stepID, err := b.StepID("1")
	require.NoError(t, err)

	callID, err := AttachToolCall(g, stepID, "weather", map[string]any{"location": "Lisbon"})
	require.NoError(t, err)

	links := graph.From(g, stepID, graph.EdgePlanLink)
	require.Len(t, links, 1)
	require.Equal(t, callID, links[0].Dst)

	node, ok := g.Node(callID)
	require.True(t, ok)
	data := node.Data.(graph.ToolCallData)
	require.Equal(t, "weather", data.Name)
	require.False(t, data.Executed())
}

func TestOutlineRendersTree(t *testing.T) {
	t.Parallel()

	g := graph.NewStore()
	b := NewBuilder("demo")
	b.Step("first").Step("nested").Up().Up().Step("second", "1")
	require.NoError(t, b.Save(context.Background(), g))

	out := b.Outline()
	require.Contains(t, out, "demo")
	require.Contains(t, out, "1. first")
	require.Contains(t, out, "1.1. nested")
	require.Contains(t, out, "2. second [after: 1]")
}

func TestCompareIndexNumericSegments(t *testing.T) {
	t.Parallel()

	require.Negative(t, CompareIndex("1.9", "1.10"))
	require.Negative(t, CompareIndex("1", "1.1"))
	require.Positive(t, CompareIndex("2", "1.5"))
	require.Zero(t, CompareIndex("1.2.3", "1.2.3"))
}
