package analysis

import "stackify/internal/ir"

// DominatorTree holds the immediate-dominator relation for one function's
// reachable blocks, computed once and consulted by LoopAnalysis to find
// back edges.
type DominatorTree struct {
	idom map[*ir.BasicBlock]*ir.BasicBlock
	rpo  []*ir.BasicBlock
	num  map[*ir.BasicBlock]int // index into rpo, for the intersect walk
}

// BuildDominatorTree computes dominators with the Cooper-Harvey-Kennedy
// iterative algorithm and mirrors the result onto BasicBlock.DominatedBy /
// BasicBlock.Dominates for callers that prefer to read it off the IR
// directly.
func BuildDominatorTree(fn *ir.Function) *DominatorTree {
	rpo := ReversePostorder(fn)
	num := make(map[*ir.BasicBlock]int, len(rpo))
	for i, b := range rpo {
		num[b] = i
	}

	idom := make(map[*ir.BasicBlock]*ir.BasicBlock, len(rpo))
	if len(rpo) == 0 {
		return &DominatorTree{idom: idom, rpo: rpo, num: num}
	}
	entry := rpo[0]
	idom[entry] = entry

	changed := true
	for changed {
		changed = false
		for _, b := range rpo[1:] {
			var newIdom *ir.BasicBlock
			for _, pred := range b.Predecessors {
				if idom[pred] == nil {
					continue
				}
				if newIdom == nil {
					newIdom = pred
					continue
				}
				newIdom = intersect(newIdom, pred, idom, num)
			}
			if newIdom != nil && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	delete(idom, entry) // entry has no dominator of its own

	dt := &DominatorTree{idom: idom, rpo: rpo, num: num}
	dt.mirror(fn)
	return dt
}

func intersect(a, b *ir.BasicBlock, idom map[*ir.BasicBlock]*ir.BasicBlock, num map[*ir.BasicBlock]int) *ir.BasicBlock {
	for a != b {
		for num[a] > num[b] {
			a = idom[a]
		}
		for num[b] > num[a] {
			b = idom[b]
		}
	}
	return a
}

// mirror writes the computed relation onto the IR's own DominatedBy/
// Dominates fields, which the rest of the compiler (and the printer) reads.
func (dt *DominatorTree) mirror(fn *ir.Function) {
	for _, b := range fn.Blocks {
		b.DominatedBy = nil
		b.Dominates = nil
	}
	for _, b := range dt.rpo {
		idom := dt.idom[b]
		if idom == nil || idom == b {
			continue
		}
		b.DominatedBy = idom
		idom.Dominates = append(idom.Dominates, b)
	}
}

// Dominates reports whether a dominates b (reflexively: a dominates a).
func (dt *DominatorTree) Dominates(a, b *ir.BasicBlock) bool {
	if a == b {
		return true
	}
	cur := dt.idom[b]
	for cur != nil {
		if cur == a {
			return true
		}
		next := dt.idom[cur]
		if next == cur {
			break
		}
		cur = next
	}
	return false
}

// IDom returns b's immediate dominator, or nil for the entry block.
func (dt *DominatorTree) IDom(b *ir.BasicBlock) *ir.BasicBlock {
	return dt.idom[b]
}
