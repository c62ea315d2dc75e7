package plan

import (
	"sort"

	"github.com/google/uuid"

	"github.com/weftworks/loom/internal/graph"
)

// AttachToolCall creates a TOOL_CALL node for the named tool and links it to
// the step via PLAN_LINK. Returns the new call node id.
func AttachToolCall(g graph.Graph, stepID, toolName string, args map[string]any) (string, error) {
	callID := "call-" + uuid.NewString()
	if err := g.AddNode(graph.NewNodeWithID(callID, graph.ToolCallData{Name: toolName, Args: args})); err != nil {
		return "", err
	}
	if err := g.AddEdge(graph.Edge{Src: stepID, Dst: callID, Kind: graph.EdgePlanLink}); err != nil {
		return "", err
	}
	return callID, nil
}

// Step is a plan step as read back from the graph.
type Step struct {
	ID    string
	Title string
	Index string
}

// StepsOf gathers every PLAN_STEP descendant of the plan node, sorted by
// hierarchical index.
func StepsOf(g graph.Graph, planID string) []Step {
	var steps []Step
	var walk func(id string)
	walk = func(id string) {
		for _, e := range graph.From(g, id, graph.EdgeParentChild) {
			node, ok := g.Node(e.Dst)
			if !ok || node.Kind != graph.KindPlanStep {
				continue
			}
			data := node.Data.(graph.PlanStepData)
			steps = append(steps, Step{ID: node.ID, Title: data.Title, Index: data.Index})
			walk(node.ID)
		}
	}
	walk(planID)

	sort.Slice(steps, func(i, j int) bool { return CompareIndex(steps[i].Index, steps[j].Index) < 0 })
	return steps
}
