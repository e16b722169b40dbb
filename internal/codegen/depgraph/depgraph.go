// Package depgraph builds the per-block dependency graph the stackifier
// schedules from: a DAG over one block's instructions, with edges running
// from a use to its definition, plus dead-code elimination over the result.
package depgraph

import (
	"stackify/internal/analysis"
	"stackify/internal/ir"
)

// Kind tags a Graph node as either an in-block instruction or a value that
// simply arrives on the operand stack.
type Kind int

const (
	// KindInst is an instruction defined in the block being graphed.
	KindInst Kind = iota
	// KindStack is a value that enters the block already on the stack: a
	// block parameter, or a value defined strictly earlier in the function.
	KindStack
)

// Node is one vertex of the dependency graph: an in-block instruction
// tagged with its original program order, or a value arriving on the stack.
type Node struct {
	ID           int
	Kind         Kind
	Inst         ir.Instruction // set when Kind == KindInst
	Value        *ir.Value      // set when Kind == KindStack; for KindInst, Inst's result (may be nil)
	ProgramIndex int            // 1-based original order; 0 for Stack nodes
}

// ValueUse names one value referenced across a dependency edge and how many
// times the dependent instruction references it.
type ValueUse struct {
	Value *ir.Value
	Count int
}

// Edge runs from a dependent node to one of its dependencies, carrying the
// merged list of values the dependent reads from it.
type Edge struct {
	From, To int
	Uses     []ValueUse
}

// Graph is the dependency graph for a single basic block.
type Graph struct {
	Block *ir.BasicBlock
	Nodes []*Node

	outEdges map[int][]*Edge // dependent -> edges to its dependencies
	inEdges  map[int][]*Edge // dependency -> edges from its dependents

	nodeByInst  map[ir.Instruction]int
	nodeByValue map[*ir.Value]int
	nodeByID    map[int]*Node // stable id -> node; Nodes' slice order shifts after DCE, ids don't
}

// Build constructs the dependency graph for block, given the function it
// belongs to and the liveness oracle DCE consults.
func Build(block *ir.BasicBlock, fn *ir.Function, live *analysis.LivenessAnalysis) *Graph {
	g := &Graph{
		Block:       block,
		outEdges:    make(map[int][]*Edge),
		inEdges:     make(map[int][]*Edge),
		nodeByInst:  make(map[ir.Instruction]int),
		nodeByValue: make(map[*ir.Value]int),
		nodeByID:    make(map[int]*Node),
	}

	idx := 1
	for _, inst := range block.Instructions {
		g.addInstNode(inst, idx)
		idx++
	}
	if t := block.Terminator; t != nil {
		g.addInstNode(t, idx)
	}

	for _, inst := range block.Instructions {
		g.addUses(inst, operandsOf(inst))
	}
	if t := block.Terminator; t != nil {
		g.addUses(t, operandsOf(t))
	}

	g.eliminateDeadCode(live)
	return g
}

func (g *Graph) addInstNode(inst ir.Instruction, programIndex int) {
	n := &Node{ID: len(g.Nodes), Kind: KindInst, Inst: inst, Value: inst.GetResult(), ProgramIndex: programIndex}
	g.Nodes = append(g.Nodes, n)
	g.nodeByInst[inst] = n.ID
	g.nodeByID[n.ID] = n
}

func (g *Graph) stackNode(v *ir.Value) int {
	if id, ok := g.nodeByValue[v]; ok {
		return id
	}
	n := &Node{ID: len(g.Nodes), Kind: KindStack, Value: v}
	g.Nodes = append(g.Nodes, n)
	g.nodeByValue[v] = n.ID
	g.nodeByID[n.ID] = n
	return n.ID
}

func (g *Graph) addUses(dependent ir.Instruction, operands []*ir.Value) {
	from := g.nodeByInst[dependent]
	counts := make(map[int]map[*ir.Value]int)
	order := []int{}
	for _, v := range operands {
		if v == nil {
			continue
		}
		to := g.targetNode(v)
		if counts[to] == nil {
			counts[to] = make(map[*ir.Value]int)
			order = append(order, to)
		}
		counts[to][v]++
	}
	for _, to := range order {
		var uses []ValueUse
		for v, c := range counts[to] {
			uses = append(uses, ValueUse{Value: v, Count: c})
		}
		e := &Edge{From: from, To: to, Uses: uses}
		g.outEdges[from] = append(g.outEdges[from], e)
		g.inEdges[to] = append(g.inEdges[to], e)
	}
}

// targetNode resolves a used value to the node that defines it: the
// instruction's node if it is defined by an instruction in this block, or a
// Stack node otherwise (block parameter, or defined in a dominator).
func (g *Graph) targetNode(v *ir.Value) int {
	if v.DefInst != nil && v.DefBlock == g.Block {
		if id, ok := g.nodeByInst[v.DefInst]; ok {
			return id
		}
	}
	return g.stackNode(v)
}

// NodeForValue resolves v to the dependency-graph node it is produced by:
// the Inst node defining it in this block, or its Stack node. It is the
// exported counterpart to targetNode, for callers (the emitter) that need
// to resolve an operand to a node without adding a new edge.
func (g *Graph) NodeForValue(v *ir.Value) *Node {
	return g.nodeByID[g.targetNode(v)]
}

// OperandsOf returns every value inst reads, in original argument order,
// including a branch's outgoing block-argument lists - those are just as
// much a use as any instruction operand. The emitter walks this list in
// reverse to schedule dependencies and to position them on the simulated
// stack so that argument 0 ends up on top.
func OperandsOf(inst ir.Instruction) []*ir.Value {
	return operandsOf(inst)
}

// operandsOf returns every value inst reads, including a branch's outgoing
// block-argument lists - those are just as much a use as any instruction
// operand, and must be represented as dependency edges.
func operandsOf(inst ir.Instruction) []*ir.Value {
	ops := append([]*ir.Value{}, inst.GetOperands()...)
	switch t := inst.(type) {
	case *ir.BranchTerminator:
		ops = append(ops, t.TrueArgs...)
		ops = append(ops, t.FalseArgs...)
	case *ir.JumpTerminator:
		ops = append(ops, t.Args...)
	}
	return ops
}

// eliminateDeadCode removes pure instructions with no in-block dependents
// whose result is not needed past this block, then recursively orphans
// whatever those instructions alone kept alive.
func (g *Graph) eliminateDeadCode(live *analysis.LivenessAnalysis) {
	removed := make(map[int]bool)
	var worklist []int
	for _, n := range g.Nodes {
		if n.Kind == KindInst && g.isDeadCandidate(n, live, removed) {
			worklist = append(worklist, n.ID)
		}
	}

	for len(worklist) > 0 {
		id := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if removed[id] {
			continue
		}
		n := g.nodeByID[id]
		if n.Kind != KindInst || !g.isDeadCandidate(n, live, removed) {
			continue
		}
		removed[id] = true

		for _, e := range g.outEdges[id] {
			if removed[e.To] {
				continue
			}
			dep := g.nodeByID[e.To]
			if dep.Kind == KindInst && g.isDeadCandidate(dep, live, removed) {
				worklist = append(worklist, e.To)
			}
		}
	}

	if len(removed) == 0 {
		return
	}
	kept := make([]*Node, 0, len(g.Nodes)-len(removed))
	for _, n := range g.Nodes {
		if removed[n.ID] {
			delete(g.nodeByID, n.ID)
			continue
		}
		kept = append(kept, n)
	}
	g.Nodes = kept

	// Prune the edge maps too, so no later caller (the tree graph's
	// dependent counts in particular) can observe an edge to or from a
	// deleted node id.
	for id := range removed {
		delete(g.outEdges, id)
		delete(g.inEdges, id)
	}
	for id, edges := range g.inEdges {
		g.inEdges[id] = filterEdges(edges, func(e *Edge) bool { return !removed[e.From] })
	}
	for id, edges := range g.outEdges {
		g.outEdges[id] = filterEdges(edges, func(e *Edge) bool { return !removed[e.To] })
	}
}

func filterEdges(edges []*Edge, keep func(*Edge) bool) []*Edge {
	out := edges[:0]
	for _, e := range edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Node looks up a node by its stable id (stable across DCE, unlike an index
// into Nodes).
func (g *Graph) Node(id int) *Node { return g.nodeByID[id] }

func (g *Graph) liveInEdges(id int, removed map[int]bool) []*Edge {
	var out []*Edge
	for _, e := range g.inEdges[id] {
		if !removed[e.From] {
			out = append(out, e)
		}
	}
	return out
}

// isDeadCandidate reports whether n could be removed right now: pure, no
// result needed past the block, and no dependent other than nodes already in
// removed - counting against the raw edge map would let an edge from a
// just-removed dependent pin its orphaned dependencies alive forever.
func (g *Graph) isDeadCandidate(n *Node, live *analysis.LivenessAnalysis, removed map[int]bool) bool {
	if ir.HasSideEffects(n.Inst) {
		return false
	}
	if len(g.liveInEdges(n.ID, removed)) > 0 {
		return false
	}
	result := n.Inst.GetResult()
	if result == nil {
		return true
	}
	// With no remaining in-block dependent, the result is needed only if it
	// is live out of the block; IsLiveAfter would still count uses by
	// instructions already in removed.
	return !live.LiveOutOfBlock(g.Block)[result]
}

// NumDependents returns the number of distinct in-block instructions that
// depend on n, counting only edges still present after DCE.
func (g *Graph) NumDependents(n *Node) int {
	return len(g.inEdges[n.ID])
}

// Dependents returns the edges incoming to n (i.e. from each of its users).
func (g *Graph) Dependents(n *Node) []*Edge {
	return g.inEdges[n.ID]
}

// Dependencies returns the edges outgoing from n (i.e. to each value it
// uses), in the order they were first encountered.
func (g *Graph) Dependencies(n *Node) []*Edge {
	return g.outEdges[n.ID]
}

// Terminator returns the node wrapping the block's terminator.
func (g *Graph) Terminator() *Node {
	t := g.Block.LastInst()
	id, ok := g.nodeByInst[t]
	if !ok {
		return nil
	}
	return g.nodeByID[id]
}
