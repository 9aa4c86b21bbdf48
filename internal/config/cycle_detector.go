package config

import (
	"slices"
	"sort"
)

// detectCycle returns the ids participating in a dependency cycle among
// enabled resources, or nil if there is none.
func detectCycle(resources []Resource) []string {
	graph := make(map[string][]string, len(resources))
	for _, res := range resources {
		if res.Enabled {
			graph[res.ID] = nil
		}
	}
	for _, res := range resources {
		if !res.Enabled {
			continue
		}
		for _, dep := range res.DependsOn {
			if _, ok := graph[dep]; ok {
				graph[res.ID] = append(graph[res.ID], dep)
			}
		}
	}

	visiting := make(map[string]bool, len(graph))
	visited := make(map[string]bool, len(graph))
	var stack, cycle []string

	var dfs func(string) bool
	dfs = func(node string) bool {
		visiting[node] = true
		stack = append(stack, node)

		for _, dep := range graph[node] {
			if visited[dep] {
				continue
			}
			if visiting[dep] {
				if idx := slices.Index(stack, dep); idx >= 0 {
					cycle = append(append([]string{}, stack[idx:]...), dep)
				}
				return true
			}
			if dfs(dep) {
				return true
			}
		}

		visiting[node] = false
		visited[node] = true
		stack = stack[:len(stack)-1]
		return false
	}

	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !visited[id] && dfs(id) {
			break
		}
	}
	return cycle
}
