package engine

import (
	"fmt"
	"sort"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Node is one resource in the dependency graph.
type Node struct {
	ID         string
	Resource   *config.Resource
	DependsOn  []*Node
	Dependents []*Node
}

// Graph is the resource DAG plus its topological levels.
type Graph struct {
	Nodes  map[string]*Node
	Levels [][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{Nodes: make(map[string]*Node)}
}

// AddNode inserts a resource.
func (g *Graph) AddNode(res *config.Resource) (*Node, error) {
	if res == nil {
		return nil, fmt.Errorf("resource cannot be nil")
	}
	if g.Nodes == nil {
		g.Nodes = make(map[string]*Node)
	}
	if _, exists := g.Nodes[res.ID]; exists {
		return nil, devopserrors.NewValidationError("resources", fmt.Sprintf("duplicate resource id %q", res.ID), nil)
	}
	node := &Node{ID: res.ID, Resource: res}
	g.Nodes[res.ID] = node
	return node, nil
}

// AddEdge records that to depends on from.
func (g *Graph) AddEdge(from, to string) error {
	source, ok := g.Nodes[from]
	if !ok {
		return devopserrors.NewValidationError("resources", fmt.Sprintf("unknown dependency %q", from), nil)
	}
	target, ok := g.Nodes[to]
	if !ok {
		return devopserrors.NewValidationError("resources", fmt.Sprintf("unknown dependency target %q", to), nil)
	}
	source.Dependents = append(source.Dependents, target)
	target.DependsOn = append(target.DependsOn, source)
	return nil
}

// TopologicalSort computes the levels with Kahn's algorithm. Ids within a
// level are sorted.
func (g *Graph) TopologicalSort() error {
	indegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		indegree[id] = len(node.DependsOn)
	}

	var queue []string
	for id, degree := range indegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	var levels [][]string
	for len(queue) > 0 {
		sort.Strings(queue)
		levels = append(levels, queue)

		var next []string
		for _, id := range queue {
			processed++
			for _, dependent := range g.Nodes[id].Dependents {
				indegree[dependent.ID]--
				if indegree[dependent.ID] == 0 {
					next = append(next, dependent.ID)
				}
			}
		}
		queue = next
	}

	if processed != len(g.Nodes) {
		return devopserrors.NewValidationError("resources", "dependency cycle detected", nil)
	}
	g.Levels = levels
	return nil
}

// Dependents returns every node reachable from id, sorted.
func (g *Graph) Dependents(id string) []string {
	seen := map[string]bool{}
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, d := range n.Dependents {
			if !seen[d.ID] {
				seen[d.ID] = true
				walk(d)
			}
		}
	}
	if node, ok := g.Nodes[id]; ok {
		walk(node)
	}
	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}
