package graph

// EdgeKind is the closed set of relationship types between nodes.
type EdgeKind string

const (
	// EdgeParentChild links a container to a member (plan to step, step to
	// sub-step, tool call to its task run).
	EdgeParentChild EdgeKind = "PARENT_CHILD"
	// EdgeNext records temporal order between sibling nodes.
	EdgeNext EdgeKind = "NEXT"
	// EdgePlanLink links a plan step to a tool call it owns.
	EdgePlanLink EdgeKind = "PLAN_LINK"
	// EdgeStepOrder declares that src must complete before dst starts.
	EdgeStepOrder EdgeKind = "STEP_ORDER"
	// EdgeCustom is reserved for callers layering their own relations.
	EdgeCustom EdgeKind = "CUSTOM"
)

// Edge is a directed, typed link between two node ids.
type Edge struct {
	Src  string
	Dst  string
	Kind EdgeKind
}

// EdgeQuery filters edges by any combination of src, dst, and kind. Zero
// fields match everything.
type EdgeQuery struct {
	Src  string
	Dst  string
	Kind EdgeKind
}

func (q EdgeQuery) matches(e Edge) bool {
	if q.Src != "" && e.Src != q.Src {
		return false
	}
	if q.Dst != "" && e.Dst != q.Dst {
		return false
	}
	if q.Kind != "" && e.Kind != q.Kind {
		return false
	}
	return true
}
