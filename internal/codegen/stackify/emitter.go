package stackify

import (
	"stackify/internal/analysis"
	"stackify/internal/codegen/depgraph"
	"stackify/internal/codegen/linker"
	"stackify/internal/codegen/masm"
	"stackify/internal/codegen/opstack"
	"stackify/internal/codegen/treegraph"
	"stackify/internal/ir"
)

// emitter drives the lowering of one SSA function. It holds the analyses
// the pass consumes as external inputs (liveness, loop, dominance) and the
// stack-machine function being built; everything else is threaded through
// blockCtx, one instance per CFG block visited.
type emitter struct {
	fn     *ir.Function
	linker *linker.Table
	live   *analysis.LivenessAnalysis
	loops  *analysis.LoopAnalysis
	dt     *analysis.DominatorTree
	out    *masm.Function

	// headerCache memoizes a loop header's dependency graph, tree graph and
	// schedule so a back-edge revisit reuses them instead of rebuilding.
	headerCache map[*ir.BasicBlock]*headerEntry
}

type headerEntry struct {
	dg       *depgraph.Graph
	tg       *treegraph.Graph
	schedule []int

	// entryStack is the simulated stack the header was first emitted under,
	// snapshotted after its parameters were bound. Every back edge must
	// reconverge on this exact shape; emitEdge checks it before continuing
	// the loop.
	entryStack *opstack.Stack
}

// blockCtx bundles everything threaded through one block's emission.
type blockCtx struct {
	block    *ir.BasicBlock
	out      *masm.Block
	stack    *opstack.Stack
	dg       *depgraph.Graph
	tg       *treegraph.Graph
	schedule []int

	// visited tracks which Inst nodes have already been lowered in this
	// block visit. An instruction is lowered exactly once: at whichever
	// reference reaches it first, whether that is its own schedule slot or
	// a cross-tree dependent found while walking some other root's operands.
	visited map[int]bool

	// loopChain lists every while.true frame currently open around this point
	// of emission, outermost first, innermost (the loop header being lowered,
	// or whose body we are still inside) last. Empty outside any loop.
	loopChain []*ir.BasicBlock
}

// dependentCtx names the single consumer of a dependency-graph edge that is
// about to be resolved and which elision rules apply to the fetch.
type dependentCtx struct {
	node int
	// value is the specific value the consumer reads. It usually equals the
	// producing node's primary result, but a multi-result instruction's
	// dependent may be after a secondary result instead.
	value *ir.Value
	// commutative is set only while staging the final operand of a
	// commutative binary consumer: at that point its sibling already sits on
	// top, so either of the top two slots serves and a swap between them can
	// be elided.
	commutative bool
	// hasLaterOccurrence is true when another, not-yet-staged operand of the
	// very same instruction references this same value. A repeated use
	// within a single instruction's own operand list is always copied for
	// every occurrence but the last one staged; only that one falls through
	// to the ordinary cross-tree/liveness last-use check.
	hasLaterOccurrence bool
}

// emitBlock lowers SSA block b into out, given the operand stack simulated
// on entry. It builds (or reuses, for a loop header) the block's dependency
// graph, tree graph and schedule, then walks the schedule: dependencies
// come before their dependents and the terminator's tree is pinned to the
// end, so every multiply-used value is materialized before any consumer
// looks for it and the terminator's ops close out the block.
func (e *emitter) emitBlock(b *ir.BasicBlock, out *masm.Block, stack *opstack.Stack, loopChain []*ir.BasicBlock) {
	bindBlockParams(stack, b)

	var dg *depgraph.Graph
	var tg *treegraph.Graph
	var schedule []int

	if cached, ok := e.headerCache[b]; ok {
		dg, tg, schedule = cached.dg, cached.tg, cached.schedule
	} else {
		dg = depgraph.Build(b, e.fn, e.live)
		tg = treegraph.Build(dg)
		sched, err := tg.Schedule()
		if err != nil {
			panic(errInvariant("block %q: %v", b.Label, err))
		}
		schedule = sched
		if _, isHeader := e.loops.IsLoopHeader(b); isHeader {
			e.headerCache[b] = &headerEntry{dg: dg, tg: tg, schedule: schedule, entryStack: stack.Clone()}
		}
	}

	ctx := &blockCtx{
		block:     b,
		out:       out,
		stack:     stack,
		dg:        dg,
		tg:        tg,
		schedule:  schedule,
		visited:   make(map[int]bool),
		loopChain: loopChain,
	}

	for _, root := range schedule {
		e.emitNode(ctx, root, nil)
	}
}

// bindBlockParams rebinds the simulated stack's top len(b.Params) slots
// to b's own Param values: a predecessor's stack arrives holding the
// predecessor's argument values by identity, and must be rebound to the
// names this block's own instructions reference.
func bindBlockParams(stack *opstack.Stack, b *ir.BasicBlock) {
	for i, p := range b.Params {
		stack.Rename(i, p)
	}
}

// emitNode lowers the tree-graph root (or, recursively, tree member) node,
// given the single consumer resolving it (nil at the top of the schedule
// walk). Exactly one physical emission happens per Inst node, the first
// time any reference reaches it; every later reference only repositions
// the already-computed result.
func (e *emitter) emitNode(ctx *blockCtx, nodeID int, dep *dependentCtx) {
	n := ctx.dg.Node(nodeID)
	if n.Kind == depgraph.KindStack {
		e.emitStackNode(ctx, n, dep)
		return
	}

	if ctx.visited[nodeID] {
		if dep == nil {
			// Nothing to do at a schedule slot whose instruction some
			// earlier reference already forced out.
			return
		}
		e.positionValue(ctx, n, dep)
		return
	}

	ctx.visited[nodeID] = true
	e.emitInst(ctx, n)
	if dep != nil {
		e.positionValue(ctx, n, dep)
	}
}

// emitStackNode handles a value that simply arrives on the stack (a block
// parameter, or a value from a dominator). With no consumer it is either
// dropped (nothing in this block reads it and it is dead past the block) or
// left alone (still needed downstream without having been touched here);
// with a consumer it is copied or moved into position like any other
// dependency.
func (e *emitter) emitStackNode(ctx *blockCtx, n *depgraph.Node, dep *dependentCtx) {
	if dep == nil {
		if len(ctx.dg.Dependents(n)) == 0 && !e.live.LiveOutOfBlock(ctx.block)[n.Value] {
			pos := ctx.stack.MustFind(n.Value)
			dropOperandAtPosition(ctx.out.Emit, ctx.stack, pos)
		}
		return
	}
	e.positionValue(ctx, n, dep)
}

// emitInst physically lowers one Inst node: its dependencies first, then
// the instruction itself.
//
// A terminator only needs its in-block producers to have run - placement,
// copying, and dropping of the values it hands over are owned entirely by
// the terminator lowering (condition handling, drop-unused, and
// prepare-arguments), which consults args and liveness directly.
//
// Any other instruction has its operands staged so that argument 0 ends up
// on top of the stack: operands are processed in reverse argument order and
// each one is emitted or fetched to the top, so every later-staged operand
// lands above the earlier ones and no positional bookkeeping is needed -
// the layout is correct by construction no matter how deep each value
// started out or whether producing one pushed fresh results.
func (e *emitter) emitInst(ctx *blockCtx, n *depgraph.Node) {
	operands := depgraph.OperandsOf(n.Inst)

	if n.Inst.IsTerminator() {
		for i := len(operands) - 1; i >= 0; i-- {
			v := operands[i]
			if v == nil {
				continue
			}
			dep := ctx.dg.NodeForValue(v)
			if dep.Kind == depgraph.KindInst && !ctx.visited[dep.ID] {
				e.emitNode(ctx, dep.ID, nil)
			}
		}
		e.emitTerminator(ctx, n.Inst.(ir.Terminator))
		return
	}

	commutative := ir.IsCommutative(n.Inst) && len(operands) == 2
	if e.operandsInPlace(ctx, n, operands, commutative) {
		e.emitOp(ctx, n)
		return
	}

	// Inline assembly is the one family that consumes its argument list the
	// other way around (argument 0 deepest), so its operands are staged in
	// forward order instead.
	_, argsReversed := n.Inst.(*ir.InlineAsmInstruction)
	total := len(operands)
	operandAt := func(k int) int {
		if argsReversed {
			return k
		}
		return total - 1 - k
	}
	for k := 0; k < total; k++ {
		v := operands[operandAt(k)]
		if v == nil {
			continue
		}
		hasLater := false
		for kk := k + 1; kk < total; kk++ {
			if operands[operandAt(kk)] == v {
				hasLater = true
				break
			}
		}
		depNode := ctx.dg.NodeForValue(v)
		e.emitNode(ctx, depNode.ID, &dependentCtx{
			node:               n.ID,
			value:              v,
			commutative:        commutative && k == total-1,
			hasLaterOccurrence: hasLater,
		})
	}
	e.emitOp(ctx, n)
}

// operandsInPlace reports whether every operand already sits in its final
// slot - operand i at position i, or either order across the top two for a
// commutative binary - with each occupancy being that value's last use and
// no operand still awaiting emission. When it holds the instruction can
// consume the stack as-is, with no staging ops at all.
func (e *emitter) operandsInPlace(ctx *blockCtx, n *depgraph.Node, operands []*ir.Value, commutative bool) bool {
	if len(operands) == 0 {
		return true
	}
	exact := true
	for i, v := range operands {
		if v == nil {
			return false
		}
		pos, ok := ctx.stack.Find(v)
		if !ok {
			return false
		}
		if pos != i {
			exact = false
		}
		dep := ctx.dg.NodeForValue(v)
		if dep.Kind == depgraph.KindInst && !ctx.visited[dep.ID] {
			return false
		}
		if !e.isLastUse(ctx, dep.ID, &dependentCtx{node: n.ID, value: v}) {
			return false
		}
	}
	if exact {
		return true
	}
	if !commutative {
		return false
	}
	p0, ok0 := ctx.stack.Find(operands[0])
	p1, ok1 := ctx.stack.Find(operands[1])
	return ok0 && ok1 && p0 == 1 && p1 == 0
}

// positionValue resolves one dependency reference: find the value's current
// stack position, decide copy vs move, and bring it to the top for its
// consumer's staging.
func (e *emitter) positionValue(ctx *blockCtx, n *depgraph.Node, dep *dependentCtx) {
	v := dep.value
	if v == nil {
		v = n.Value
	}
	pos := ctx.stack.MustFind(v)
	last := !dep.hasLaterOccurrence && e.isLastUse(ctx, n.ID, dep)
	if last {
		moveOperandToPosition(ctx.out.Emit, ctx.stack, pos, 0, dep.commutative)
	} else {
		copyOperandToPosition(ctx.out.Emit, ctx.stack, pos, 0, dep.commutative)
	}
}

// isLastUse is the copy-vs-move oracle: dep's reference to the value
// produced by dependencyNode is a move rather than a copy iff the value is
// not live past this block, no not-yet-scheduled tree root still depends on
// it, and dep is the last in-tree reference to it.
func (e *emitter) isLastUse(ctx *blockCtx, dependencyNode int, dep *dependentCtx) bool {
	v := dep.value
	if v == nil {
		v = ctx.dg.Node(dependencyNode).Value
	}
	if e.live.LiveOutOfBlock(ctx.block)[v] {
		return false
	}

	dependencyTree := ctx.tg.RootOf(dependencyNode)
	dependentTree := ctx.tg.RootOf(dep.node)

	if dependencyTree != dependentTree {
		if hasRemainingConsumer(ctx, dependencyTree, dependentTree) {
			return false
		}
	}
	return isLastDependentVisited(ctx, dep.node, dependencyNode, dependentTree, dependencyTree)
}

// hasRemainingConsumer reports whether some tree root other than
// dependentTree, scheduled after it and so not yet reached by the walk,
// also depends on dependencyTree.
func hasRemainingConsumer(ctx *blockCtx, dependencyTree, dependentTree int) bool {
	pos := -1
	for i, r := range ctx.schedule {
		if r == dependentTree {
			pos = i
			break
		}
	}
	remaining := make(map[int]bool)
	if pos >= 0 {
		for _, r := range ctx.schedule[pos+1:] {
			remaining[r] = true
		}
	}
	for _, user := range ctx.tg.Predecessors(dependencyTree) {
		if user == dependentTree {
			continue
		}
		if remaining[user] {
			return true
		}
	}
	return false
}
