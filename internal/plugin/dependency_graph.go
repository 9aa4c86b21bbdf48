package plugin

import "sort"

// dependencyGraph records which kinds rely on which.
type dependencyGraph struct {
	deps map[string]map[string]struct{}
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{deps: make(map[string]map[string]struct{})}
}

func (g *dependencyGraph) add(name string, deps ...string) {
	if g.deps[name] == nil {
		g.deps[name] = make(map[string]struct{})
	}
	for _, d := range deps {
		g.deps[name][d] = struct{}{}
		if g.deps[d] == nil {
			g.deps[d] = make(map[string]struct{})
		}
	}
}

func (g *dependencyGraph) names() []string {
	out := make([]string, 0, len(g.deps))
	for n := range g.deps {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// order returns the kinds with dependencies before dependents, leaving out
// skipped kinds. Ties are broken alphabetically.
func (g *dependencyGraph) order(skip map[string]bool) ([]string, error) {
	pending := make(map[string]int, len(g.deps))
	dependents := make(map[string][]string, len(g.deps))
	total := 0
	for _, n := range g.names() {
		if skip[n] {
			continue
		}
		total++
		for d := range g.deps[n] {
			if skip[d] {
				continue
			}
			pending[n]++
			dependents[d] = append(dependents[d], n)
		}
	}

	var ready, out []string
	for _, n := range g.names() {
		if !skip[n] && pending[n] == 0 {
			ready = append(ready, n)
		}
	}
	for len(ready) > 0 {
		sort.Strings(ready)
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)
		for _, dep := range dependents[n] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(out) != total {
		return nil, ErrCircularDependency{Cycle: g.cycle()}
	}
	return out, nil
}

// cycle returns one dependency cycle, or nil.
func (g *dependencyGraph) cycle() []string {
	const (
		unseen = iota
		active
		done
	)
	mark := make(map[string]int, len(g.deps))
	var path, found []string

	var visit func(string) bool
	visit = func(n string) bool {
		mark[n] = active
		path = append(path, n)
		deps := make([]string, 0, len(g.deps[n]))
		for d := range g.deps[n] {
			deps = append(deps, d)
		}
		sort.Strings(deps)
		for _, d := range deps {
			switch mark[d] {
			case active:
				for i := len(path) - 1; i >= 0; i-- {
					if path[i] == d {
						found = append([]string{}, path[i:]...)
						return true
					}
				}
			case unseen:
				if visit(d) {
					return true
				}
			}
		}
		mark[n] = done
		path = path[:len(path)-1]
		return false
	}

	for _, n := range g.names() {
		if mark[n] == unseen && visit(n) {
			return found
		}
	}
	return nil
}
