package graph

import (
	"fmt"
	"slices"
)

// Graph is a validated, acyclic set of service nodes.
type Graph struct {
	nodes      map[string]*ServiceNode
	declared   []string
	deps       map[string][]string
	dependents map[string][]string
	order      []string
	levels     [][]string
}

// Build validates nodes and computes a deterministic execution order.
// On any error no graph is returned.
func Build(nodes []ServiceNode) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]*ServiceNode, len(nodes)),
		declared:   make([]string, 0, len(nodes)),
		deps:       make(map[string][]string, len(nodes)),
		dependents: make(map[string][]string, len(nodes)),
	}

	for i := range nodes {
		node := nodes[i]
		if node.Identity == "" {
			return nil, ErrEmptyIdentity
		}
		if _, exists := g.nodes[node.Identity]; exists {
			return nil, &DuplicateNodeError{Identity: node.Identity}
		}
		node.DependsOn = dedupe(node.DependsOn)
		node.Actions = slices.Clone(node.Actions)
		g.nodes[node.Identity] = &node
		g.declared = append(g.declared, node.Identity)
	}

	for _, id := range g.declared {
		for _, dep := range g.nodes[id].DependsOn {
			if dep == id {
				return nil, &CycleError{Path: []string{id, id}}
			}
			if _, exists := g.nodes[dep]; !exists {
				return nil, &UnknownDependencyError{Node: id, Dependency: dep}
			}
			g.deps[id] = append(g.deps[id], dep)
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	if err := g.sort(); err != nil {
		return nil, err
	}
	return g, nil
}

// sort runs Kahn's algorithm level by level. Within a level nodes keep
// their declaration order.
func (g *Graph) sort() error {
	inDegree := make(map[string]int, len(g.declared))
	for _, id := range g.declared {
		inDegree[id] = len(g.deps[id])
	}

	current := make([]string, 0)
	for _, id := range g.declared {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	position := make(map[string]int, len(g.declared))
	for i, id := range g.declared {
		position[id] = i
	}

	for len(current) > 0 {
		g.levels = append(g.levels, current)
		g.order = append(g.order, current...)

		next := make([]string, 0)
		for _, id := range current {
			for _, dependent := range g.dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		slices.SortFunc(next, func(a, b string) int {
			return position[a] - position[b]
		})
		current = next
	}

	if len(g.order) != len(g.declared) {
		return &CycleError{Path: g.findCycle(inDegree)}
	}
	return nil
}

// findCycle walks dependency edges among the nodes Kahn could not order
// until it revisits one, and returns that loop.
func (g *Graph) findCycle(inDegree map[string]int) []string {
	var start string
	for _, id := range g.declared {
		if inDegree[id] > 0 {
			start = id
			break
		}
	}

	seen := make(map[string]int)
	path := make([]string, 0)
	current := start
	for {
		if idx, ok := seen[current]; ok {
			return append(slices.Clone(path[idx:]), current)
		}
		seen[current] = len(path)
		path = append(path, current)

		next := ""
		for _, dep := range g.deps[current] {
			if inDegree[dep] > 0 {
				next = dep
				break
			}
		}
		if next == "" {
			// Unreachable for a graph Kahn rejected; keep the partial path.
			return path
		}
		current = next
	}
}

// ExecutionOrder returns identities in a topological order that respects
// every dependency edge.
func (g *Graph) ExecutionOrder() []string {
	return slices.Clone(g.order)
}

// Levels groups identities into batches whose members do not depend on
// each other.
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, level := range g.levels {
		out[i] = slices.Clone(level)
	}
	return out
}

// DependenciesOf returns the direct dependencies of id.
func (g *Graph) DependenciesOf(id string) []string {
	return slices.Clone(g.deps[id])
}

// DependentsOf returns the nodes that directly depend on id.
func (g *Graph) DependentsOf(id string) []string {
	return slices.Clone(g.dependents[id])
}

// Node returns the node with the given identity.
func (g *Graph) Node(id string) (ServiceNode, bool) {
	node, ok := g.nodes[id]
	if !ok {
		return ServiceNode{}, false
	}
	return *node, true
}

// Nodes returns every node in execution order.
func (g *Graph) Nodes() []ServiceNode {
	out := make([]ServiceNode, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.nodes[id])
	}
	return out
}

// Sinks returns the nodes nothing depends on, in execution order.
func (g *Graph) Sinks() []string {
	out := make([]string, 0)
	for _, id := range g.order {
		if len(g.dependents[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Len reports the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

func (g *Graph) String() string {
	return fmt.Sprintf("graph(%d nodes, %d levels)", len(g.order), len(g.levels))
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
