package engine

import (
	"fmt"
	"strings"
)

// ExecutionPlan is the ordered list of levels for one run.
type ExecutionPlan struct {
	Levels []ExecutionLevel
	graph  *Graph
}

// ExecutionLevel is a set of resources that may run concurrently.
type ExecutionLevel struct {
	ResourceIDs []string
}

// GeneratePlan converts a DAG into an execution plan.
func GeneratePlan(graph *Graph) (*ExecutionPlan, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}
	levels := make([]ExecutionLevel, 0, len(graph.Levels))
	for _, ids := range graph.Levels {
		levels = append(levels, ExecutionLevel{ResourceIDs: append([]string(nil), ids...)})
	}
	return &ExecutionPlan{Levels: levels, graph: graph}, nil
}

// Size is the number of resources in the plan.
func (p *ExecutionPlan) Size() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, level := range p.Levels {
		n += len(level.ResourceIDs)
	}
	return n
}

// String renders the plan one level per line.
func (p *ExecutionPlan) String() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	for i, level := range p.Levels {
		fmt.Fprintf(&b, "Level %d (%d resources): %s\n", i, len(level.ResourceIDs), strings.Join(level.ResourceIDs, ", "))
	}
	return b.String()
}
