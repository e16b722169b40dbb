package analysis

import "stackify/internal/ir"

// ProgramPoint names a position inside a function: either the entry of a
// block (Inst == nil, meaning "after parameters are bound, before the first
// instruction") or immediately before a specific instruction (which may be
// the block's terminator).
type ProgramPoint struct {
	Block *ir.BasicBlock
	Inst  ir.Instruction
}

// LivenessAnalysis answers, for any value and program point, whether that
// value is still needed - the oracle internal/codegen/stackify's emitter
// consults to decide whether a use is the value's last (and so may consume
// it from the stack) or not (and so must duplicate it first).
type LivenessAnalysis struct {
	liveIn  map[*ir.BasicBlock]map[*ir.Value]bool
	liveOut map[*ir.BasicBlock]map[*ir.Value]bool

	// before[inst]/after[inst] are the live sets immediately before and
	// after inst executes; entry[block] is the live set at block entry,
	// after parameters bind.
	before map[ir.Instruction]map[*ir.Value]bool
	after  map[ir.Instruction]map[*ir.Value]bool
	entry  map[*ir.BasicBlock]map[*ir.Value]bool
}

// BuildLivenessAnalysis computes liveness for fn with the standard iterative
// backward dataflow, treating a block's Params as definitions at its entry
// and a branching terminator's argument lists as uses (they must be live to
// be handed to the successor's Params).
func BuildLivenessAnalysis(fn *ir.Function) *LivenessAnalysis {
	la := &LivenessAnalysis{
		liveIn:  make(map[*ir.BasicBlock]map[*ir.Value]bool),
		liveOut: make(map[*ir.BasicBlock]map[*ir.Value]bool),
		before:  make(map[ir.Instruction]map[*ir.Value]bool),
		after:   make(map[ir.Instruction]map[*ir.Value]bool),
		entry:   make(map[*ir.BasicBlock]map[*ir.Value]bool),
	}
	for _, b := range fn.Blocks {
		la.liveIn[b] = map[*ir.Value]bool{}
		la.liveOut[b] = map[*ir.Value]bool{}
	}

	order := ReversePostorder(fn)
	changed := true
	for changed {
		changed = false
		for i := len(order) - 1; i >= 0; i-- {
			b := order[i]
			out := map[*ir.Value]bool{}
			for _, s := range b.Successors {
				params := paramSet(s)
				for v := range la.liveIn[s] {
					if !params[v] {
						out[v] = true
					}
				}
			}
			in, before, after, entry := backwardSweep(b, out)
			if !sameSet(in, la.liveIn[b]) {
				la.liveIn[b] = in
				changed = true
			}
			la.liveOut[b] = out
			for inst, set := range before {
				la.before[inst] = set
			}
			for inst, set := range after {
				la.after[inst] = set
			}
			la.entry[b] = entry
		}
	}
	return la
}

// backwardSweep walks b's instructions (and terminator) in reverse from a
// given live-out set, returning the live-in set for the block, the
// live-before set for every instruction, and the live set at block entry
// (after Params are bound).
func backwardSweep(b *ir.BasicBlock, liveOut map[*ir.Value]bool) (liveIn map[*ir.Value]bool, before, after map[ir.Instruction]map[*ir.Value]bool, entry map[*ir.Value]bool) {
	live := cloneSet(liveOut)
	before = make(map[ir.Instruction]map[*ir.Value]bool)
	after = make(map[ir.Instruction]map[*ir.Value]bool)

	if term := b.Terminator; term != nil {
		after[term] = cloneSet(live)
		for _, v := range fullOperands(term) {
			live[v] = true
		}
		if result := term.GetResult(); result != nil {
			delete(live, result)
		}
		before[term] = cloneSet(live)
	}

	for i := len(b.Instructions) - 1; i >= 0; i-- {
		inst := b.Instructions[i]
		after[inst] = cloneSet(live)
		if result := inst.GetResult(); result != nil {
			delete(live, result)
		}
		for _, v := range inst.GetOperands() {
			live[v] = true
		}
		before[inst] = cloneSet(live)
	}

	entry = cloneSet(live)
	params := paramSet(b)
	liveIn = map[*ir.Value]bool{}
	for v := range live {
		if !params[v] {
			liveIn[v] = true
		}
	}
	return liveIn, before, after, entry
}

// fullOperands returns every value a terminator reads, including the extra
// argument lists a branch or jump passes to its successor's Params.
func fullOperands(term ir.Terminator) []*ir.Value {
	ops := append([]*ir.Value{}, term.GetOperands()...)
	switch t := term.(type) {
	case *ir.BranchTerminator:
		ops = append(ops, t.TrueArgs...)
		ops = append(ops, t.FalseArgs...)
	case *ir.JumpTerminator:
		ops = append(ops, t.Args...)
	}
	return ops
}

func paramSet(b *ir.BasicBlock) map[*ir.Value]bool {
	set := make(map[*ir.Value]bool, len(b.Params))
	for _, p := range b.Params {
		set[p] = true
	}
	return set
}

func cloneSet(s map[*ir.Value]bool) map[*ir.Value]bool {
	out := make(map[*ir.Value]bool, len(s))
	for v := range s {
		out[v] = true
	}
	return out
}

func sameSet(a, b map[*ir.Value]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for v := range a {
		if !b[v] {
			return false
		}
	}
	return true
}

// IsLiveAt reports whether value is needed at pp - for Inst == nil, at the
// entry of pp.Block (after Params bind); otherwise immediately before
// pp.Inst executes.
func (la *LivenessAnalysis) IsLiveAt(value *ir.Value, pp ProgramPoint) bool {
	if pp.Inst == nil {
		return la.entry[pp.Block][value]
	}
	return la.before[pp.Inst][value]
}

// IsLiveAfter reports whether value is needed after pp.Inst has executed.
func (la *LivenessAnalysis) IsLiveAfter(value *ir.Value, pp ProgramPoint) bool {
	if pp.Inst == nil {
		return la.entry[pp.Block][value]
	}
	return la.after[pp.Inst][value]
}

// LiveOutOfBlock returns the set of values live across an edge out of b, for
// callers that need the whole set rather than a single value's status.
func (la *LivenessAnalysis) LiveOutOfBlock(b *ir.BasicBlock) map[*ir.Value]bool {
	return la.liveOut[b]
}
