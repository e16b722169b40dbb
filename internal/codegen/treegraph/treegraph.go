// Package treegraph condenses a block's dependency graph into maximal
// single-use subtrees and computes the topological schedule the emitter
// walks: dependencies first, the block's terminator last.
package treegraph

import (
	"fmt"
	"sort"

	"stackify/internal/codegen/depgraph"
)

// Root is one tree-graph node: the root of a maximal subtree in which every
// internal member has exactly one dependent.
type Root struct {
	NodeID       int
	ProgramIndex int // tie-break key; 0 for a Stack-rooted tree
}

// Graph is the tree-graph condensation of one block's dependency graph.
type Graph struct {
	dg    *depgraph.Graph
	roots map[int]*Root   // depgraph node id -> owning root, keyed by root id
	owner map[int]int     // every depgraph node id -> its root's node id
	order []int           // root node ids in discovery order, for deterministic iteration
	cross map[int][]int   // root id -> root ids it depends on (cross-tree, deduped)
	users map[int][]int   // root id -> root ids that depend on it
}

// Build condenses dg: a node becomes a root iff it has zero or two-or-more
// in-block dependents; the rest are absorbed into their unique dependent's
// tree.
func Build(dg *depgraph.Graph) *Graph {
	g := &Graph{
		dg:    dg,
		roots: make(map[int]*Root),
		owner: make(map[int]int),
		cross: make(map[int][]int),
		users: make(map[int][]int),
	}

	for _, n := range dg.Nodes {
		if dg.NumDependents(n) != 1 {
			g.roots[n.ID] = &Root{NodeID: n.ID, ProgramIndex: n.ProgramIndex}
			g.order = append(g.order, n.ID)
		}
	}

	memo := make(map[int]int)
	var rootOf func(id int) int
	rootOf = func(id int) int {
		if r, ok := memo[id]; ok {
			return r
		}
		if _, isRoot := g.roots[id]; isRoot {
			memo[id] = id
			return id
		}
		deps := dg.Dependents(dg.Node(id))
		if len(deps) != 1 {
			// Defensive: treat as its own root rather than looping forever.
			memo[id] = id
			return id
		}
		r := rootOf(deps[0].From)
		memo[id] = r
		return r
	}
	for _, n := range dg.Nodes {
		g.owner[n.ID] = rootOf(n.ID)
	}

	seen := make(map[[2]int]bool)
	for _, n := range dg.Nodes {
		fromRoot := g.owner[n.ID]
		for _, e := range dg.Dependencies(n) {
			toRoot := g.owner[e.To]
			if toRoot == fromRoot {
				continue
			}
			key := [2]int{fromRoot, toRoot}
			if seen[key] {
				continue
			}
			seen[key] = true
			g.cross[fromRoot] = append(g.cross[fromRoot], toRoot)
			g.users[toRoot] = append(g.users[toRoot], fromRoot)
		}
	}

	return g
}

// RootOf returns the tree root owning depgraph node id.
func (g *Graph) RootOf(id int) int { return g.owner[id] }

// IsMemberOf reports whether node id's tree is rooted at root.
func (g *Graph) IsMemberOf(id, root int) bool { return g.owner[id] == root }

// NumDependents counts cross-tree incoming edges for node id, plus one if
// the node is a non-root member (to account for its in-tree parent).
func (g *Graph) NumDependents(id int) int {
	n := len(g.users[id])
	if _, isRoot := g.roots[id]; !isRoot {
		n++
	}
	return n
}

// Predecessors returns the other roots whose trees contain a use of root's
// defining instruction.
func (g *Graph) Predecessors(root int) []int {
	return g.users[root]
}

// IsRoot reports whether depgraph node id is itself a tree-graph root,
// rather than an absorbed interior member of some other tree.
func (g *Graph) IsRoot(id int) bool {
	_, ok := g.roots[id]
	return ok
}

// CrossEdge names one dependency-graph edge whose two endpoints belong to
// different trees: DependentNode reads DependencyNode's value.
type CrossEdge struct {
	DependentNode   int
	DependencyNode  int
}

// CrossEdges returns every dependency-graph edge whose dependent lies in
// fromRoot's tree and whose dependency lies in toRoot's tree. The last-use
// oracle (isLastDependentVisited in internal/codegen/stackify) uses this to
// find every other in-tree reference to a cross-tree producer.
func (g *Graph) CrossEdges(fromRoot, toRoot int) []CrossEdge {
	var out []CrossEdge
	for _, n := range g.dg.Nodes {
		if g.owner[n.ID] != fromRoot {
			continue
		}
		for _, e := range g.dg.Dependencies(n) {
			if g.owner[e.To] == toRoot {
				out = append(out, CrossEdge{DependentNode: n.ID, DependencyNode: e.To})
			}
		}
	}
	return out
}

// Schedule computes a topological order over the tree roots: dependencies
// precede dependents, ties broken by ascending program index, and the
// block's terminator root sorted last unconditionally (it is a pure sink).
func (g *Graph) Schedule() ([]int, error) {
	termNode := g.dg.Terminator()
	var termRoot int
	hasTerm := false
	if termNode != nil {
		termRoot = g.owner[termNode.ID]
		hasTerm = true
	}

	inDegree := make(map[int]int, len(g.roots))
	for id := range g.roots {
		inDegree[id] = len(g.cross[id])
	}

	var ready []int
	for _, id := range g.order {
		if hasTerm && id == termRoot {
			continue
		}
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var out []int
	remaining := len(g.roots)
	if hasTerm {
		remaining--
	}
	for len(out) < remaining {
		if len(ready) == 0 {
			return nil, fmt.Errorf("treegraph: cyclic dependency graph in block %q", g.dg.Block.Label)
		}
		sort.SliceStable(ready, func(i, j int) bool {
			ri, rj := g.roots[ready[i]], g.roots[ready[j]]
			if ri.ProgramIndex != rj.ProgramIndex {
				return ri.ProgramIndex < rj.ProgramIndex
			}
			return ri.NodeID < rj.NodeID
		})
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)

		for _, user := range g.users[next] {
			if hasTerm && user == termRoot {
				continue
			}
			inDegree[user]--
			if inDegree[user] == 0 {
				ready = append(ready, user)
			}
		}
	}
	if hasTerm {
		out = append(out, termRoot)
	}
	return out, nil
}
