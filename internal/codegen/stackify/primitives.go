package stackify

import (
	"stackify/internal/codegen/depgraph"
	"stackify/internal/codegen/masm"
	"stackify/internal/codegen/opstack"
	"stackify/internal/ir"
)

// copyOperandToPosition duplicates the token at position n onto the top,
// then relocates the duplicate to position m - a swap for m == 1, a
// move-down anywhere deeper. The relocation is skipped when m is already 0
// (dup alone suffices) or when m is 1 and the consumer is a commutative
// binary op (either operand order computes the same result, so there is
// nothing to arrange).
func copyOperandToPosition(emit func(masm.Op), stack *opstack.Stack, n, m int, commutative bool) {
	emit(masm.Dup(n))
	stack.Dup(n)
	if m == 0 {
		return
	}
	if m == 1 {
		if commutative {
			return
		}
		emit(masm.Swap(1))
		stack.Swap(1)
		return
	}
	emit(masm.MoveDown(m))
	stack.MoveDown(m)
}

// moveOperandToPosition relocates the token at position n to position m
// without leaving a duplicate behind. Between the top two positions a
// single swap does it, and for a commutative binary consumer even that is
// elided (either of the top two slots serves).
func moveOperandToPosition(emit func(masm.Op), stack *opstack.Stack, n, m int, commutative bool) {
	if n == m {
		return
	}
	if (n == 0 && m == 1) || (n == 1 && m == 0) {
		if commutative {
			return
		}
		emit(masm.Swap(1))
		stack.Swap(1)
		return
	}
	if n == 1 {
		emit(masm.Swap(1))
		stack.Swap(1)
	} else if n > 1 {
		emit(masm.MoveUp(n))
		stack.MoveUp(n)
	}
	switch {
	case m == 0:
	case m == 1:
		if commutative {
			return
		}
		emit(masm.Swap(1))
		stack.Swap(1)
	default:
		emit(masm.MoveDown(m))
		stack.MoveDown(m)
	}
}

// dropOperandAtPosition discards the token at position n: a plain drop at
// the top, a swap-then-drop at position 1, or a move-up-then-drop anywhere
// deeper.
func dropOperandAtPosition(emit func(masm.Op), stack *opstack.Stack, n int) {
	switch {
	case n == 0:
		emit(masm.Drop())
		stack.Pop()
	case n == 1:
		emit(masm.Swap(1))
		stack.Swap(1)
		emit(masm.Drop())
		stack.Pop()
	default:
		emit(masm.MoveUp(n))
		stack.MoveUp(n)
		emit(masm.Drop())
		stack.Pop()
	}
}

// emitDrops discards n items from the top of the stack, fusing every run of
// four into a single drop-word.
func emitDrops(emit func(masm.Op), stack *opstack.Stack, n int) {
	for n >= 4 {
		emit(masm.DropWord())
		stack.DropWord()
		n -= 4
	}
	for i := 0; i < n; i++ {
		emit(masm.Drop())
		stack.Pop()
	}
}

// truncateStack drops items from the top until only keep remain.
func truncateStack(emit func(masm.Op), stack *opstack.Stack, keep int) {
	excess := stack.Size() - keep
	if excess <= 0 {
		return
	}
	emitDrops(emit, stack, excess)
}

// dropUnusedOperandsAt scans the stack top-down and removes every token
// that is neither needed by the upcoming terminator nor live past the
// block, and every repeated occurrence of an already-kept value (only a
// duplicated value's first occurrence survives this pass; prepareStackArguments
// re-duplicates it if the argument list itself needs it twice). Runs of
// plain top-of-stack drops produced this way are collected and fused into
// drop-words before being appended to out.
func dropUnusedOperandsAt(out *masm.Block, stack *opstack.Stack, needed map[*ir.Value]bool) {
	var buf []masm.Op
	sink := func(op masm.Op) { buf = append(buf, op) }

	seen := make(map[*ir.Value]bool)
	i := 0
	for i < stack.Size() {
		v := stack.Peek(i).Value
		if needed[v] && !seen[v] {
			seen[v] = true
			i++
			continue
		}
		dropOperandAtPosition(sink, stack, i)
	}

	appendFused(out, buf)
}

// appendFused appends ops to out, collapsing any run of four consecutive
// plain drops it contains into a single drop-word.
func appendFused(out *masm.Block, ops []masm.Op) {
	run := 0
	flush := func() {
		for run >= 4 {
			out.Emit(masm.DropWord())
			run -= 4
		}
		for run > 0 {
			out.Emit(masm.Drop())
			run--
		}
	}
	for _, op := range ops {
		if op.Kind == masm.KindDrop {
			run++
			continue
		}
		flush()
		out.Emit(op)
	}
	flush()
}

// prepareStackArguments arranges args on top of the stack so args[0] ends
// up on top, args[1] next, and so on - the layout a branch target's Params
// expect. Each argument still needed again after this point (because it
// recurs later in args, or because liveness says it survives past the
// block) is duplicated into place; an argument used for the last time here
// is moved instead.
func (e *emitter) prepareStackArguments(ctx *blockCtx, args []*ir.Value) {
	liveOut := e.live.LiveOutOfBlock(ctx.block)
	for j, v := range args {
		if v == nil {
			continue
		}
		hasLater := false
		for k := j + 1; k < len(args); k++ {
			if args[k] == v {
				hasLater = true
				break
			}
		}
		pos := ctx.stack.MustFind(v)
		if hasLater || liveOut[v] {
			copyOperandToPosition(ctx.out.Emit, ctx.stack, pos, j, false)
		} else {
			moveOperandToPosition(ctx.out.Emit, ctx.stack, pos, j, false)
		}
	}
}

// treeVisitOrder assigns an increasing finish index to every node in root's
// tree, in the exact postorder the real emitter's reverse-argument-order
// descent produces: for an Inst node, every in-tree operand dependency
// finishes before the node itself does.
func treeVisitOrder(ctx *blockCtx, root int) map[int]int {
	order := make(map[int]int)
	visited := make(map[int]bool)
	counter := 0

	var visit func(id int)
	visit = func(id int) {
		if visited[id] {
			return
		}
		visited[id] = true
		n := ctx.dg.Node(id)
		if n.Kind == depgraph.KindInst {
			operands := depgraph.OperandsOf(n.Inst)
			for i := len(operands) - 1; i >= 0; i-- {
				v := operands[i]
				if v == nil {
					continue
				}
				dep := ctx.dg.NodeForValue(v)
				if ctx.tg.RootOf(dep.ID) == root {
					visit(dep.ID)
				}
			}
		}
		order[id] = counter
		counter++
	}
	visit(root)
	return order
}

// isLastDependentVisited is the tree-local half of the last-use oracle: is
// dependentNode the last in-tree reference to dependencyNode? Two nodes in
// the same tree have exactly one path between them by construction, so the
// single in-tree case is trivially last. Across trees, when the same
// dependent tree references one producer more than once, only the literal
// last reference in visit order counts as last; every earlier one is a
// copy. Moving at the provably-last point and nowhere earlier can never
// consume a value a still-pending sibling reference needs.
func isLastDependentVisited(ctx *blockCtx, dependentNode, dependencyNode, dependentTree, dependencyTree int) bool {
	if dependentTree == dependencyTree {
		return true
	}
	crossEdges := ctx.tg.CrossEdges(dependentTree, dependencyTree)
	var toThisDependency []int
	for _, ce := range crossEdges {
		if ce.DependencyNode == dependencyNode {
			toThisDependency = append(toThisDependency, ce.DependentNode)
		}
	}
	if len(toThisDependency) <= 1 {
		return true
	}

	order := treeVisitOrder(ctx, dependentTree)
	myIndex, ok := order[dependentNode]
	if !ok {
		return true
	}
	for _, other := range toThisDependency {
		if other == dependentNode {
			continue
		}
		if idx, ok := order[other]; ok && idx > myIndex {
			return false
		}
	}
	return true
}
