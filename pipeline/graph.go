package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Graph declares stages and the links between them.
type Graph struct {
	Nodes map[string]struct{}
	Edges []Edge
}

// Edge represents a dependency: To consumes what From produces.
type Edge struct {
	From string
	To   string
}

// BuildLevels uses Kahn's algorithm to group stages by dependency level.
// Level 0 holds the sources. Stages within a level are sorted by name.
// Returns an error if a cycle is detected.
func BuildLevels(g *Graph) ([][]string, error) {
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for name := range g.Nodes {
		inDegree[name] = 0
	}

	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			return nil, fmt.Errorf("pipeline: link references unknown stage %q", e.From)
		}
		if _, ok := g.Nodes[e.To]; !ok {
			return nil, fmt.Errorf("pipeline: link references unknown stage %q", e.To)
		}
		inDegree[e.To]++
		dependents[e.From] = append(dependents[e.From], e.To)
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	var levels [][]string
	visited := 0

	for len(queue) > 0 {
		sort.Strings(queue)
		levels = append(levels, queue)
		visited += len(queue)

		var next []string
		for _, name := range queue {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if visited != len(g.Nodes) {
		var stuck []string
		for name, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("pipeline: cycle detected through %s", strings.Join(stuck, ", "))
	}

	return levels, nil
}

// flatten returns the stages of levels in order.
func flatten(levels [][]string) []string {
	var out []string
	for _, level := range levels {
		out = append(out, level...)
	}
	return out
}
