// Package plan provides the builder DSL that authors PLAN and PLAN_STEP
// nodes in the graph, assigns stable hierarchical indices, and records
// inter-step ordering constraints.
package plan

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/weftworks/loom/internal/graph"
	loomerrors "github.com/weftworks/loom/pkg/errors"
)

type step struct {
	id       string
	title    string
	index    string
	after    []string
	children []*step
	parent   *step
}

// Builder authors a plan tree with a cursor. Step adds a child under the
// cursor and descends; Up ascends. Save persists the whole tree and assigns
// depth-first indices; steps added afterwards persist immediately.
type Builder struct {
	id      string
	title   string
	roots   []*step
	cursor  *step
	byIndex map[string]*step
	saved   bool
}

// NewBuilder starts a plan with the given title.
func NewBuilder(title string) *Builder {
	return &Builder{
		id:      "plan-" + uuid.NewString(),
		title:   title,
		byIndex: make(map[string]*step),
	}
}

// ID returns the plan node id.
func (b *Builder) ID() string { return b.id }

// Title returns the plan title.
func (b *Builder) Title() string { return b.title }

// Step adds a step under the cursor and descends into it. The after list
// names hierarchical indices of steps that must complete first; references
// resolve at save time, so forward references are allowed.
func (b *Builder) Step(title string, after ...string) *Builder {
	s := &step{
		id:     "step-" + uuid.NewString(),
		title:  title,
		after:  append([]string(nil), after...),
		parent: b.cursor,
	}
	if b.cursor == nil {
		b.roots = append(b.roots, s)
	} else {
		b.cursor.children = append(b.cursor.children, s)
	}
	b.cursor = s
	return b
}

// Up moves the cursor to the parent step. At the top it stays at the root.
func (b *Builder) Up() *Builder {
	if b.cursor != nil {
		b.cursor = b.cursor.parent
	}
	return b
}

// Save assigns depth-first indices, persists the PLAN node, every PLAN_STEP
// node, the PARENT_CHILD hierarchy, and the STEP_ORDER edges resolved from
// after references.
func (b *Builder) Save(ctx context.Context, g graph.Graph) error {
	if b.saved {
		return fmt.Errorf("plan %s already saved", b.id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.assignIndices()

	if err := g.AddNode(graph.NewNodeWithID(b.id, graph.PlanData{Title: b.title})); err != nil {
		return err
	}

	var persist func(parentID string, steps []*step) error
	persist = func(parentID string, steps []*step) error {
		for _, s := range steps {
			if err := g.AddNode(graph.NewNodeWithID(s.id, graph.PlanStepData{Title: s.title, Index: s.index})); err != nil {
				return err
			}
			if err := g.AddEdge(graph.Edge{Src: parentID, Dst: s.id, Kind: graph.EdgeParentChild}); err != nil {
				return err
			}
			if err := persist(s.id, s.children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := persist(b.id, b.roots); err != nil {
		return err
	}

	if err := b.persistOrdering(g); err != nil {
		return err
	}

	b.saved = true
	return nil
}

func (b *Builder) assignIndices() {
	var walk func(prefix string, steps []*step)
	walk = func(prefix string, steps []*step) {
		for i, s := range steps {
			if prefix == "" {
				s.index = fmt.Sprintf("%d", i+1)
			} else {
				s.index = fmt.Sprintf("%s.%d", prefix, i+1)
			}
			b.byIndex[s.index] = s
			walk(s.index, s.children)
		}
	}
	walk("", b.roots)
}

func (b *Builder) persistOrdering(g graph.Graph) error {
	indices := make([]string, 0, len(b.byIndex))
	for ix := range b.byIndex {
		indices = append(indices, ix)
	}
	sort.Slice(indices, func(i, j int) bool { return CompareIndex(indices[i], indices[j]) < 0 })

	for _, ix := range indices {
		s := b.byIndex[ix]
		for _, dep := range s.after {
			target, ok := b.byIndex[dep]
			if !ok {
				return loomerrors.NewUnresolvedDependencyError(s.index, dep)
			}
			if err := g.AddEdge(graph.Edge{Src: target.id, Dst: s.id, Kind: graph.EdgeStepOrder}); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddStep appends a step under the named parent index after the plan has
// been saved, assigning the next available child index and persisting
// immediately. An empty parent index adds a top-level step. The after list
// resolves against the whole plan. Returns the new step's id and index.
func (b *Builder) AddStep(ctx context.Context, g graph.Graph, parentIndex, title string, after ...string) (string, string, error) {
	if !b.saved {
		return "", "", fmt.Errorf("plan %s is not saved yet", b.id)
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	parentID := b.id
	prefix := ""
	siblings := len(b.roots)
	var parent *step
	if parentIndex != "" {
		var ok bool
		parent, ok = b.byIndex[parentIndex]
		if !ok {
			return "", "", loomerrors.NewInvalidReferenceError(parentIndex)
		}
		parentID = parent.id
		prefix = parent.index + "."
		siblings = len(parent.children)
	}

	s := &step{
		id:     "step-" + uuid.NewString(),
		title:  title,
		index:  fmt.Sprintf("%s%d", prefix, siblings+1),
		after:  append([]string(nil), after...),
		parent: parent,
	}

	for _, dep := range s.after {
		if _, ok := b.byIndex[dep]; !ok {
			return "", "", loomerrors.NewUnresolvedDependencyError(s.index, dep)
		}
	}

	if err := g.AddNode(graph.NewNodeWithID(s.id, graph.PlanStepData{Title: s.title, Index: s.index})); err != nil {
		return "", "", err
	}
	if err := g.AddEdge(graph.Edge{Src: parentID, Dst: s.id, Kind: graph.EdgeParentChild}); err != nil {
		return "", "", err
	}
	for _, dep := range s.after {
		target := b.byIndex[dep]
		if err := g.AddEdge(graph.Edge{Src: target.id, Dst: s.id, Kind: graph.EdgeStepOrder}); err != nil {
			return "", "", err
		}
	}

	if parent == nil {
		b.roots = append(b.roots, s)
	} else {
		parent.children = append(parent.children, s)
	}
	b.byIndex[s.index] = s
	return s.id, s.index, nil
}

// StepID resolves a hierarchical index to its node id.
func (b *Builder) StepID(index string) (string, error) {
	s, ok := b.byIndex[index]
	if !ok {
		return "", loomerrors.NewInvalidReferenceError(index)
	}
	return s.id, nil
}

// Outline renders the indented plan tree with dependency annotations.
func (b *Builder) Outline() string {
	var sb strings.Builder
	sb.WriteString(b.title)
	sb.WriteString("\n")

	var walk func(steps []*step, depth int)
	walk = func(steps []*step, depth int) {
		for _, s := range steps {
			sb.WriteString(strings.Repeat("  ", depth+1))
			sb.WriteString(s.index)
			sb.WriteString(". ")
			sb.WriteString(s.title)
			if len(s.after) > 0 {
				sb.WriteString(" [after: ")
				sb.WriteString(strings.Join(s.after, ", "))
				sb.WriteString("]")
			}
			sb.WriteString("\n")
			walk(s.children, depth+1)
		}
	}
	walk(b.roots, 0)
	return sb.String()
}
