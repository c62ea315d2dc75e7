// Package graph holds the typed node/edge model shared by plans, plan steps,
// tool calls, and their structural relationships, plus the in-memory store
// that indexes them.
package graph

import (
	"time"

	"github.com/google/uuid"
)

// NodeKind discriminates the payload carried by a Node.
type NodeKind string

const (
	KindSession   NodeKind = "SESSION"
	KindUserMsg   NodeKind = "USER_MSG"
	KindAssistMsg NodeKind = "ASSIST_MSG"
	KindPlan      NodeKind = "PLAN"
	KindPlanStep  NodeKind = "PLAN_STEP"
	KindToolCall  NodeKind = "TOOL_CALL"
	KindTaskRun   NodeKind = "TASK_RUN"
	KindSummary   NodeKind = "SUMMARY"
)

// NodeData is the kind-specific payload of a node. Payloads are treated as
// immutable once stored; writers replace the whole payload via UpdateNode
// rather than mutating maps in place.
type NodeData interface {
	NodeKind() NodeKind
}

// Node is an immutable id plus a kind-tagged payload.
type Node struct {
	ID   string
	Kind NodeKind
	Data NodeData
}

// NewNode builds a node with a generated id for the given payload.
func NewNode(data NodeData) Node {
	return NewNodeWithID("node-"+uuid.NewString(), data)
}

// NewNodeWithID builds a node with a caller-chosen id. Callers that mint
// domain-specific ids (plan-, step-, call-) use this constructor.
func NewNodeWithID(id string, data NodeData) Node {
	return Node{ID: id, Kind: data.NodeKind(), Data: data}
}

// PlanData is the payload of a PLAN node.
type PlanData struct {
	Title string
}

// NodeKind implements NodeData.
func (PlanData) NodeKind() NodeKind { return KindPlan }

// PlanStepData is the payload of a PLAN_STEP node. Index is the dotted
// hierarchical label ("1", "1.2") assigned when the plan is saved.
type PlanStepData struct {
	Title string
	Index string
}

// NodeKind implements NodeData.
func (PlanStepData) NodeKind() NodeKind { return KindPlanStep }

// ToolCallData is the payload of a TOOL_CALL node. Result, Error, Cached and
// Done are written back after execution.
type ToolCallData struct {
	Name   string
	Args   map[string]any
	Result any
	Error  string
	Cached bool
	// Done marks that the call was dispatched, regardless of what it
	// returned. A tool may legitimately return null.
	Done bool
}

// NodeKind implements NodeData.
func (ToolCallData) NodeKind() NodeKind { return KindToolCall }

// Executed reports whether the call already ran. The executor skips steps
// whose calls have all executed, which is what makes re-invoking it on the
// same plan safe.
func (d ToolCallData) Executed() bool {
	return d.Done || d.Result != nil || d.Error != ""
}

// TaskRunData records the outcome of executing one tool call, attached as a
// TASK_RUN child of the TOOL_CALL node.
type TaskRunData struct {
	Success    bool
	Error      string
	FinishedAt time.Time
}

// NodeKind implements NodeData.
func (TaskRunData) NodeKind() NodeKind { return KindTaskRun }

// UserMessageData is the payload of a USER_MSG node.
type UserMessageData struct {
	Text string
}

// NodeKind implements NodeData.
func (UserMessageData) NodeKind() NodeKind { return KindUserMsg }

// AssistantMessageData is the payload of an ASSIST_MSG node.
type AssistantMessageData struct {
	Text string
}

// NodeKind implements NodeData.
func (AssistantMessageData) NodeKind() NodeKind { return KindAssistMsg }

// SummaryData is the payload of a SUMMARY node.
type SummaryData struct {
	Text string
}

// NodeKind implements NodeData.
func (SummaryData) NodeKind() NodeKind { return KindSummary }

// SessionData anchors a graph to the session it belongs to.
type SessionData struct {
	SessionID string
}

// NodeKind implements NodeData.
func (SessionData) NodeKind() NodeKind { return KindSession }
