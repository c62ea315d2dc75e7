// Package engine turns a saved plan into dependency-ordered batches and
// executes them with bounded parallelism, recording progress as session
// events.
package engine

import (
	"sort"

	"github.com/weftworks/loom/internal/graph"
	"github.com/weftworks/loom/internal/plan"
	loomerrors "github.com/weftworks/loom/pkg/errors"
)

// Schedule is an ordered list of batches; each batch holds step ids that may
// run in parallel because their prerequisites all landed in earlier batches.
type Schedule struct {
	PlanID  string
	Batches [][]string
	Steps   map[string]plan.Step
}

// StepCount reports the total number of scheduled steps.
func (s *Schedule) StepCount() int {
	n := 0
	for _, b := range s.Batches {
		n += len(b)
	}
	return n
}

// BuildSchedule computes the execution batches for a plan via Kahn's
// algorithm over STEP_ORDER edges. Steps sort by hierarchical index within a
// batch. A dependency cycle fails with CyclicPlanError; STEP_ORDER edges
// touching nodes outside this plan are ignored, so a stalled schedule always
// means a cycle.
func BuildSchedule(g graph.Graph, planID string) (*Schedule, error) {
	steps := plan.StepsOf(g, planID)
	schedule := &Schedule{PlanID: planID, Steps: make(map[string]plan.Step, len(steps))}
	if len(steps) == 0 {
		return schedule, nil
	}

	member := make(map[string]bool, len(steps))
	for _, s := range steps {
		member[s.ID] = true
		schedule.Steps[s.ID] = s
	}

	// prereqs[dst] = set of src steps that must complete before dst.
	prereqs := make(map[string]map[string]bool, len(steps))
	for _, s := range steps {
		for _, e := range graph.To(g, s.ID, graph.EdgeStepOrder) {
			if !member[e.Src] {
				continue
			}
			if prereqs[s.ID] == nil {
				prereqs[s.ID] = make(map[string]bool)
			}
			prereqs[s.ID][e.Src] = true
		}
	}

	done := make(map[string]bool, len(steps))
	remaining := len(steps)

	for remaining > 0 {
		var batch []string
		for _, s := range steps {
			if done[s.ID] {
				continue
			}
			ready := true
			for dep := range prereqs[s.ID] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, s.ID)
			}
		}

		if len(batch) == 0 {
			return nil, loomerrors.NewCyclicPlanError(planID)
		}

		sort.Slice(batch, func(i, j int) bool {
			return plan.CompareIndex(schedule.Steps[batch[i]].Index, schedule.Steps[batch[j]].Index) < 0
		})

		for _, id := range batch {
			done[id] = true
		}
		remaining -= len(batch)
		schedule.Batches = append(schedule.Batches, batch)
	}

	return schedule, nil
}
