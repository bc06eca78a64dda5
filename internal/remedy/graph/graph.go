// SPDX-License-Identifier: Apache-2.0

// Package graph derives execution order from the dependencies declared
// between the actions of a plan.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kusari-oss/remedy/internal/core/models"
)

// CircularDependencyError names the members of a dependency cycle
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnknownDependencyError reports a dependency id that is not in the plan
type UnknownDependencyError struct {
	ActionID     string
	DependencyID string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("action '%s' depends on non-existent action '%s'", e.ActionID, e.DependencyID)
}

// DuplicateActionError reports an action id declared more than once
type DuplicateActionError struct {
	ActionID string
}

func (e *DuplicateActionError) Error() string {
	return fmt.Sprintf("duplicate action id '%s'", e.ActionID)
}

// Edge is a dependency from an action to one of its dependencies
type Edge struct {
	From     string
	To       string
	Coupling models.CouplingType
}

// Graph is an immutable, validated dependency graph
type Graph struct {
	ids        []string // declaration order
	index      map[string]int
	priority   map[string]int
	deps       map[string][]string
	dependents map[string][]string
	edges      []Edge
	order      []string
	position   map[string]int
}

// Build validates the actions and computes a topological order. Actions with
// equal standing are ordered by priority, then by declaration order.
func Build(actions []models.RemediationAction) (*Graph, error) {
	g := &Graph{
		ids:        make([]string, 0, len(actions)),
		index:      make(map[string]int, len(actions)),
		priority:   make(map[string]int, len(actions)),
		deps:       make(map[string][]string, len(actions)),
		dependents: make(map[string][]string, len(actions)),
	}

	for i, a := range actions {
		if _, dup := g.index[a.ID]; dup {
			return nil, &DuplicateActionError{ActionID: a.ID}
		}
		g.ids = append(g.ids, a.ID)
		g.index[a.ID] = i
		g.priority[a.ID] = a.Priority
	}

	for i := range actions {
		a := &actions[i]
		seen := make(map[string]bool, len(a.Dependencies))
		for _, dep := range a.Dependencies {
			if _, ok := g.index[dep]; !ok {
				return nil, &UnknownDependencyError{ActionID: a.ID, DependencyID: dep}
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[a.ID] = append(g.deps[a.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], a.ID)
			g.edges = append(g.edges, Edge{From: a.ID, To: dep, Coupling: a.CouplingTo(dep)})
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CircularDependencyError{Cycle: cycle}
	}

	g.order = g.topologicalOrder()
	g.position = make(map[string]int, len(g.order))
	for i, id := range g.order {
		g.position[id] = i
	}
	return g, nil
}

// findCycle runs a depth-first search keeping the current path on a stack.
// Revisiting a node on the stack yields the cycle, closed on its first member.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)
	mark := make(map[string]int, len(g.ids))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		mark[id] = onStack
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			switch mark[dep] {
			case onStack:
				start := len(stack) - 1
				for stack[start] != dep {
					start--
				}
				cycle := append([]string(nil), stack[start:]...)
				return append(cycle, dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		mark[id] = done
		return nil
	}

	for _, id := range g.ids {
		if mark[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *Graph) topologicalOrder() []string {
	remaining := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		remaining[id] = len(g.deps[id])
	}

	var ready []string
	for _, id := range g.ids {
		if remaining[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.ids))
	for len(ready) > 0 {
		g.sortByPriority(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dependent := range g.dependents[id] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return order
}

func (g *Graph) sortByPriority(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		pi, pj := g.priority[ids[i]], g.priority[ids[j]]
		if pi != pj {
			return pi < pj
		}
		return g.index[ids[i]] < g.index[ids[j]]
	})
}

// Len returns the number of actions
func (g *Graph) Len() int { return len(g.ids) }

// Has reports whether id is part of the graph
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Order returns a topological order: every action appears after all of its
// dependencies
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Reverse returns the subset of ids in reverse topological order, so
// dependents come before the actions they depend on. Unknown ids are dropped.
func (g *Graph) Reverse(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if g.Has(id) {
			out = append(out, id)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return g.position[out[i]] > g.position[out[j]]
	})
	return out
}

// Waves groups the actions into waves. Every action in a wave depends only
// on actions from earlier waves, so a wave may run concurrently.
func (g *Graph) Waves() [][]string {
	level := make(map[string]int, len(g.order))
	var levels [][]string
	for _, id := range g.order {
		l := 0
		for _, dep := range g.deps[id] {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[id] = l
		if l == len(levels) {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	return levels
}

// Dependencies returns the direct dependencies of id
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the actions that directly depend on id
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Edges returns all dependency edges with their coupling
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Ready returns the actions not in skip whose dependencies all satisfy
// satisfied, ordered by priority then declaration order
func (g *Graph) Ready(satisfied func(id string) bool, skip func(id string) bool) []string {
	var ready []string
	for _, id := range g.ids {
		if skip != nil && skip(id) {
			continue
		}
		ok := true
		for _, dep := range g.deps[id] {
			if !satisfied(dep) {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	g.sortByPriority(ready)
	return ready
}
