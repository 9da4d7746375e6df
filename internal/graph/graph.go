// Package graph holds a small dependency graph keyed by name. It is used for
// suite, test-case and plugin ordering.
package graph

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports a dependency loop.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	if e == nil || len(e.Cycle) == 0 {
		return "dependency cycle detected"
	}
	sequence := append(append([]string{}, e.Cycle...), e.Cycle[0])
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(sequence, " -> "))
}

// Graph records "dependent -> dependency" edges. Node order is the order of
// first insertion and every traversal honours it.
type Graph struct {
	index    map[string]int
	nodes    []string
	outgoing map[string][]string
	incoming map[string][]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		index:    make(map[string]int),
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
	}
}

// AddNode registers name if it is not known yet.
func (g *Graph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// AddEdge records that dependent requires dependency. Duplicate edges are ignored.
func (g *Graph) AddEdge(dependent, dependency string) {
	g.AddNode(dependent)
	g.AddNode(dependency)

	for _, existing := range g.outgoing[dependent] {
		if existing == dependency {
			return
		}
	}
	g.outgoing[dependent] = append(g.outgoing[dependent], dependency)
	g.incoming[dependency] = append(g.incoming[dependency], dependent)
}

// Has reports whether the node exists.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Dependencies returns the direct dependencies of name.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.outgoing[name]...)
}

// Dependents returns the nodes that directly require name.
func (g *Graph) Dependents(name string) []string {
	return append([]string(nil), g.incoming[name]...)
}

// Cycle returns one dependency loop, or nil when the graph is acyclic.
func (g *Graph) Cycle() []string {
	visited := make(map[string]bool, len(g.nodes))
	onPath := make(map[string]bool, len(g.nodes))
	var path, cycle []string

	var visit func(node string) bool
	visit = func(node string) bool {
		visited[node] = true
		onPath[node] = true
		path = append(path, node)

		for _, dep := range g.outgoing[node] {
			if onPath[dep] {
				for i := len(path) - 1; i >= 0; i-- {
					if path[i] == dep {
						cycle = append([]string{}, path[i:]...)
						return true
					}
				}
			}
			if !visited[dep] && visit(dep) {
				return true
			}
		}

		onPath[node] = false
		path = path[:len(path)-1]
		return false
	}

	for _, node := range g.nodes {
		if !visited[node] && visit(node) {
			return cycle
		}
	}
	return nil
}

// Order returns all nodes with dependencies first. Among nodes whose
// dependencies are satisfied, the earlier inserted node comes first.
func (g *Graph) Order() ([]string, error) {
	pending := make(map[string]int, len(g.nodes))
	for _, node := range g.nodes {
		pending[node] = len(g.outgoing[node])
	}

	ready := make([]string, 0, len(g.nodes))
	for _, node := range g.nodes {
		if pending[node] == 0 {
			ready = append(ready, node)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, dependent := range g.incoming[current] {
			pending[dependent]--
			if pending[dependent] == 0 {
				ready = g.insertSorted(ready, dependent)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, &CycleError{Cycle: g.Cycle()}
	}
	return order, nil
}

// Levels groups nodes so that each level only depends on earlier levels.
// Nodes within a level are sorted by name.
func (g *Graph) Levels() ([][]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	var current []string
	for _, node := range g.nodes {
		indegree[node] = len(g.outgoing[node])
		if indegree[node] == 0 {
			current = append(current, node)
		}
	}

	processed := 0
	var levels [][]string
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)

		var next []string
		for _, node := range current {
			processed++
			for _, dependent := range g.incoming[node] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(g.nodes) {
		return nil, &CycleError{Cycle: g.Cycle()}
	}
	return levels, nil
}

func (g *Graph) insertSorted(queue []string, node string) []string {
	pos := sort.Search(len(queue), func(i int) bool {
		return g.index[queue[i]] > g.index[node]
	})
	queue = append(queue, "")
	copy(queue[pos+1:], queue[pos:])
	queue[pos] = node
	return queue
}
