package ir

// This file implements the prior-normalization shaping the stackification
// pass (internal/codegen/stackify) requires of its input and treats as
// already established: critical-edge splitting, acyclic single-predecessor
// shaping except at loop headers, and inlining of trivial unconditional
// edges. It runs after SSA construction
// and the EVM-era optimization passes in optimizations.go have settled on a
// final block shape, following the same OptimizationPass/Apply(program) bool
// convention those passes use.

import "fmt"

// NewNormalizationPipeline returns the pipeline that shapes a program's CFG
// ahead of stackify.Run: critical-edge splitting first (so trivial-jump
// inlining never has to reason about a still-critical edge), then trivial
// unconditional-jump inlining to fold away the single-predecessor/
// single-successor chains the edge split and earlier passes tend to leave
// behind.
func NewNormalizationPipeline() *OptimizationPipeline {
	p := &OptimizationPipeline{}
	p.AddPass(&CriticalEdgeSplitting{})
	p.AddPass(&TrivialJumpInlining{})
	return p
}

// RecomputeEdges rebuilds every block's Predecessors/Successors in fn from
// its terminators, the source of truth for CFG shape. The normalization
// passes in this file call it after every structural edit rather than
// trying to keep the denormalized edge lists updated incrementally.
func RecomputeEdges(fn *Function) {
	for _, b := range fn.Blocks {
		b.Predecessors = nil
		b.Successors = nil
	}
	for _, b := range fn.Blocks {
		if b.Terminator == nil {
			continue
		}
		for _, s := range b.Terminator.GetSuccessors() {
			if s == nil {
				continue
			}
			b.Successors = append(b.Successors, s)
			s.Predecessors = append(s.Predecessors, b)
		}
	}
}

// backEdgeTargets finds every block that is the destination of a back edge
// by DFS from the entry, flagging an edge whose target is still on the
// current DFS stack. This is the same test a full dominator-based loop
// search (internal/analysis.LoopAnalysis) ultimately relies on, done here
// without a dependency on that package (which itself depends on ir) purely
// to decide which blocks trivial-jump inlining must never fold away: a loop
// header has to remain its own block for the emitter to revisit along the
// back edge, regardless of how many ordinary predecessors it has.
func backEdgeTargets(fn *Function) map[*BasicBlock]bool {
	targets := make(map[*BasicBlock]bool)
	onStack := make(map[*BasicBlock]bool)
	visited := make(map[*BasicBlock]bool)

	var visit func(b *BasicBlock)
	visit = func(b *BasicBlock) {
		if b == nil || visited[b] {
			return
		}
		visited[b] = true
		onStack[b] = true
		if b.Terminator != nil {
			for _, s := range b.Terminator.GetSuccessors() {
				if s == nil {
					continue
				}
				if onStack[s] {
					targets[s] = true
				} else {
					visit(s)
				}
			}
		}
		onStack[b] = false
	}
	visit(fn.Entry)
	return targets
}

// CriticalEdgeSplitting inserts an empty forwarding block on every edge whose
// source has more than one successor and whose target has more than one
// predecessor - a critical edge. Splitting these is what lets the emitter
// clone its simulated operand stack once per arm of a conditional branch
// without one arm's drops and argument shuffling ever
// being observed by a sibling predecessor feeding the same join point.
type CriticalEdgeSplitting struct{}

func (c *CriticalEdgeSplitting) Name() string { return "Critical Edge Splitting" }

func (c *CriticalEdgeSplitting) Description() string {
	return "Inserts a forwarding block on every edge whose source branches and whose target joins"
}

func (c *CriticalEdgeSplitting) Apply(program *Program) bool {
	changed := false
	for _, fn := range program.Functions {
		if splitCriticalEdges(fn, program) {
			changed = true
		}
	}
	return changed
}

func splitCriticalEdges(fn *Function, program *Program) bool {
	RecomputeEdges(fn)
	changed := false
	counter := 0

	// Snapshot fn.Blocks before mutating it: new forwarding blocks are
	// appended as we go and must not themselves be revisited as sources.
	for _, b := range append([]*BasicBlock{}, fn.Blocks...) {
		branch, ok := b.Terminator.(*BranchTerminator)
		if !ok || branch.TrueBlock == branch.FalseBlock {
			continue
		}
		if len(branch.TrueBlock.Predecessors) > 1 {
			branch.TrueBlock = splitEdge(fn, program, b, branch.TrueBlock, branch.TrueArgs, &counter)
			branch.TrueArgs = nil
			changed = true
		}
		if len(branch.FalseBlock.Predecessors) > 1 {
			branch.FalseBlock = splitEdge(fn, program, b, branch.FalseBlock, branch.FalseArgs, &counter)
			branch.FalseArgs = nil
			changed = true
		}
	}

	if changed {
		RecomputeEdges(fn)
	}
	return changed
}

// splitEdge inserts a fresh block between from and to that does nothing but
// jump straight on to to with args, then points from's arm at the new block
// instead. The new block needs no Params of its own: with exactly one
// predecessor there is nothing to join, so it simply forwards the values
// from's arm already computed.
func splitEdge(fn *Function, program *Program, from, to *BasicBlock, args []*Value, counter *int) *BasicBlock {
	*counter++
	label := fmt.Sprintf("%s.split.%s.%d", from.Label, to.Label, *counter)
	jmp := &JumpTerminator{ID: freshInstID(fn), Target: to, Args: args}
	blk := &BasicBlock{
		Label:      label,
		Terminator: jmp,
		LiveIn:     make(map[string]*Value),
		LiveOut:    make(map[string]*Value),
	}
	jmp.Block = blk
	fn.Blocks = append(fn.Blocks, blk)
	if program != nil && program.Blocks != nil {
		program.Blocks[label] = blk
	}
	return blk
}

// TrivialJumpInlining merges a block ending in an unconditional jump into
// its target whenever the target has no other predecessor: the two blocks
// always execute one after the other, so there is nothing structural the
// jump itself still needs to express, and inlining it removes a schedule
// boundary (and the block-parameter renaming at it) the stackifier would
// otherwise have to thread a value through for no reason. A block that is
// itself a loop header - the target of some back edge - is never folded
// away: the emitter needs it to remain addressable so a later back-edge
// revisit can re-enter it.
type TrivialJumpInlining struct{}

func (t *TrivialJumpInlining) Name() string { return "Trivial Jump Inlining" }

func (t *TrivialJumpInlining) Description() string {
	return "Folds a block into its sole unconditional-jump predecessor's successor"
}

func (t *TrivialJumpInlining) Apply(program *Program) bool {
	changed := false
	for _, fn := range program.Functions {
		for inlineTrivialJumps(fn, program) {
			changed = true
		}
	}
	return changed
}

// inlineTrivialJumps performs one merge and reports whether it did so; the
// caller loops it to a fixpoint since folding one edge can expose another
// (a chain of three blocks each jumping to the next collapses in three
// successive calls rather than needing lookahead).
func inlineTrivialJumps(fn *Function, program *Program) bool {
	RecomputeEdges(fn)
	headers := backEdgeTargets(fn)

	for _, a := range fn.Blocks {
		jmp, ok := a.Terminator.(*JumpTerminator)
		if !ok || jmp.Target == a {
			continue
		}
		b := jmp.Target
		if len(b.Predecessors) != 1 || headers[b] {
			continue
		}
		mergeBlocks(fn, program, a, jmp, b)
		return true
	}
	return false
}

// mergeBlocks folds b's body into a, rebinding every reference to one of b's
// Params to the corresponding value a's jump was already passing it.
func mergeBlocks(fn *Function, program *Program, a *BasicBlock, jmp *JumpTerminator, b *BasicBlock) {
	for i, p := range b.Params {
		if i >= len(jmp.Args) || jmp.Args[i] == nil {
			continue
		}
		substituteInBlock(b, p, jmp.Args[i])
	}

	for _, inst := range b.Instructions {
		for _, v := range resultsOf(inst) {
			v.DefBlock = a
		}
	}

	a.Instructions = append(a.Instructions, b.Instructions...)
	a.Terminator = b.Terminator

	remaining := make([]*BasicBlock, 0, len(fn.Blocks)-1)
	for _, blk := range fn.Blocks {
		if blk != b {
			remaining = append(remaining, blk)
		}
	}
	fn.Blocks = remaining
	if program != nil && program.Blocks != nil {
		delete(program.Blocks, b.Label)
	}
	RecomputeEdges(fn)
}

// resultsOf returns every value inst defines - GetResult alone only ever
// names the first of a multi-result instruction's outputs.
func resultsOf(inst Instruction) []*Value {
	switch i := inst.(type) {
	case *PrimOpInstruction:
		return i.Results
	case *PrimOpImmInstruction:
		return i.Results
	case *InlineAsmInstruction:
		return i.Results
	case *CheckedArithInstruction:
		return []*Value{i.ResultVal, i.ResultOk}
	case *ABIEncU256Instruction:
		return []*Value{i.ResultData, i.ResultLen}
	default:
		if r := inst.GetResult(); r != nil {
			return []*Value{r}
		}
		return nil
	}
}

// freshInstID returns an id not already used by any instruction or
// terminator in fn, for the synthetic jump a critical-edge split inserts.
func freshInstID(fn *Function) int {
	max := 0
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			if id := inst.GetID(); id > max {
				max = id
			}
		}
		if b.Terminator != nil {
			if id := b.Terminator.GetID(); id > max {
				max = id
			}
		}
	}
	return max + 1
}

// substituteInBlock replaces every operand reference to old with new across
// b's instructions and terminator.
func substituteInBlock(b *BasicBlock, old, repl *Value) {
	for _, inst := range b.Instructions {
		substituteOperand(inst, old, repl)
	}
	if b.Terminator != nil {
		substituteOperand(b.Terminator, old, repl)
	}
}

// substituteOperand rewrites every field of inst that names old to instead
// name new. It covers every instruction and terminator kind defined in this
// package, not just the subset CommonSubexpressionElimination's own narrower
// replaceInInstruction handles, since the values trivial-jump inlining
// rebinds may have arrived through any instruction family.
func substituteOperand(inst Instruction, old, repl *Value) {
	sub := func(v *Value) *Value {
		if v == old {
			return repl
		}
		return v
	}
	replSlice := func(vs []*Value) {
		for i, v := range vs {
			if v == old {
				vs[i] = repl
			}
		}
	}

	switch i := inst.(type) {
	case *PhiInstruction:
		for k, v := range i.Inputs {
			if v == old {
				i.Inputs[k] = repl
			}
		}
	case *LoadInstruction:
		i.Address = sub(i.Address)
	case *StoreInstruction:
		i.Address = sub(i.Address)
		i.Value = sub(i.Value)
	case *StorageLoadInstruction:
		i.Slot = sub(i.Slot)
	case *StorageStoreInstruction:
		i.Slot = sub(i.Slot)
		i.Value = sub(i.Value)
	case *KeyedStorageLoadInstruction:
		i.Key = sub(i.Key)
	case *KeyedStorageStoreInstruction:
		i.Key = sub(i.Key)
		i.Value = sub(i.Value)
	case *BinaryInstruction:
		i.Left = sub(i.Left)
		i.Right = sub(i.Right)
	case *CallInstruction:
		replSlice(i.Args)
	case *ConstantInstruction:
		// No value operands.
	case *SenderInstruction:
		// No value operands.
	case *EmitInstruction:
		replSlice(i.Args)
	case *RequireInstruction:
		i.Condition = sub(i.Condition)
		i.Error = sub(i.Error)
	case *StorageAddrInstruction:
		replSlice(i.Keys)
	case *CheckedArithInstruction:
		i.Left = sub(i.Left)
		i.Right = sub(i.Right)
	case *AssumeInstruction:
		i.Predicate = sub(i.Predicate)
	case *LogInstruction:
		i.Signature = sub(i.Signature)
		replSlice(i.TopicArgs)
		i.DataPtr = sub(i.DataPtr)
		i.DataLen = sub(i.DataLen)
	case *TopicAddrInstruction:
		i.Address = sub(i.Address)
	case *ABIEncU256Instruction:
		i.Value = sub(i.Value)
	case *EventSignatureInstruction:
		// No value operands.
	case *RevertInstruction:
		// No value operands.
	case *GlobalValueInstruction:
		// No SSA value operands; addresses resolve through GlobalValue chains.
	case *UnaryOpInstruction:
		i.Operand = sub(i.Operand)
	case *UnaryOpImmInstruction:
		// Operand is an immediate, not an SSA value.
	case *BinaryOpImmInstruction:
		i.Left = sub(i.Left)
	case *TestInstruction:
		i.Left = sub(i.Left)
		i.Right = sub(i.Right)
	case *PrimOpInstruction:
		replSlice(i.Args)
	case *PrimOpImmInstruction:
		replSlice(i.Args)
	case *MemCpyInstruction:
		i.Dst = sub(i.Dst)
		i.Src = sub(i.Src)
		i.Len = sub(i.Len)
	case *InlineAsmInstruction:
		replSlice(i.Args)
	case *ReturnTerminator:
		i.Value = sub(i.Value)
	case *BranchTerminator:
		i.Condition = sub(i.Condition)
		replSlice(i.TrueArgs)
		replSlice(i.FalseArgs)
	case *JumpTerminator:
		replSlice(i.Args)
	}
}
