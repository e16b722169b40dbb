// Package analysis supplies the control-flow, loop, and liveness oracles
// that internal/codegen/stackify treats as borrowed, externally-computed
// inputs: who dominates whom, which blocks are loop headers and at what
// nesting depth, and whether a value is still needed past a given program
// point.
package analysis

import "stackify/internal/ir"

// ReversePostorder returns fn's blocks ordered so that, for every reachable
// block, all of its predecessors (other than loop back-edges) precede it.
// This is the traversal order internal/codegen/stackify's emitter driver
// walks the CFG in.
func ReversePostorder(fn *ir.Function) []*ir.BasicBlock {
	var order []*ir.BasicBlock
	seen := make(map[*ir.BasicBlock]bool, len(fn.Blocks))

	var visit func(b *ir.BasicBlock)
	visit = func(b *ir.BasicBlock) {
		if b == nil || seen[b] {
			return
		}
		seen[b] = true
		for _, succ := range b.Successors {
			visit(succ)
		}
		order = append(order, b)
	}
	visit(fn.Entry)

	// Reverse the postorder in place.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}
