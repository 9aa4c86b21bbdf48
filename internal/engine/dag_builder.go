package engine

import (
	"fmt"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// BuildDAG builds the graph of enabled resources. A dependency on a disabled
// resource is treated as already satisfied.
func BuildDAG(resources []config.Resource) (*Graph, error) {
	graph := NewGraph()
	disabled := make(map[string]bool)

	for i := range resources {
		res := &resources[i]
		if !res.Enabled {
			disabled[res.ID] = true
			continue
		}
		if _, err := graph.AddNode(res); err != nil {
			return nil, err
		}
	}

	for _, res := range resources {
		if !res.Enabled {
			continue
		}
		for _, dep := range res.DependsOn {
			if disabled[dep] {
				continue
			}
			if _, ok := graph.Nodes[dep]; !ok {
				return nil, devopserrors.NewValidationError("resources", fmt.Sprintf("resource %q depends on unknown resource %q", res.ID, dep), nil)
			}
			if err := graph.AddEdge(dep, res.ID); err != nil {
				return nil, err
			}
		}
	}

	if err := graph.TopologicalSort(); err != nil {
		return nil, err
	}
	return graph, nil
}
