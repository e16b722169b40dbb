package stackify

import (
	"fmt"
	"strconv"

	"stackify/internal/analysis"
	"stackify/internal/codegen/depgraph"
	"stackify/internal/codegen/masm"
	"stackify/internal/codegen/opstack"
	"stackify/internal/ir"
)

// emitTerminator dispatches a block's terminator to its dedicated lowering.
// By the time this runs, emitInst has already forced out every in-block
// producer the terminator reads (branch/jump argument lists included), so
// some copy of each value it needs sits on the stack; what follows here
// only concerns itself with getting those values into the exact layout the
// terminator's own semantics require, and never triggers further
// instruction emission.
func (e *emitter) emitTerminator(ctx *blockCtx, term ir.Terminator) {
	if ret, ok := term.(*ir.ReturnTerminator); ok {
		e.emitReturn(ctx, ret)
		return
	}

	if _, ok := term.(*ir.RevertInstruction); ok {
		e.emitRevert(ctx)
		return
	}

	info := ir.AnalyzeBranch(term)
	switch info.Kind {
	case ir.KindJump:
		e.emitEdge(ctx, info.Destination, info.Args)
	case ir.KindBranch:
		e.emitBranch(ctx, term, info)
	default:
		panic(errInvariant("block %q: unsupported terminator %T (multi-way switches have no structured-control-flow lowering)", ctx.block.Label, term))
	}
}

// emitReturn isolates the return value at the bottom of the stack and
// truncates everything above it, then pushes one "stop" marker per while.true
// frame this return is unwinding through.
func (e *emitter) emitReturn(ctx *blockCtx, t *ir.ReturnTerminator) {
	level := e.openLoopDepth(ctx)

	if t.Value == nil {
		truncateStack(ctx.out.Emit, ctx.stack, 0)
	} else {
		pos := ctx.stack.MustFind(t.Value)
		bottom := ctx.stack.Size() - 1
		moveOperandToPosition(ctx.out.Emit, ctx.stack, pos, bottom, false)
		truncateStack(ctx.out.Emit, ctx.stack, 1)
	}

	for i := 0; i < level; i++ {
		ctx.out.Emit(masm.Push(0))
		ctx.stack.Push(nil)
	}
}

// emitRevert lowers an abort. Execution never continues past this point, so
// unlike emitReturn there is no surrounding while.true frame to keep going
// or unwind through - the stack is simply abandoned.
func (e *emitter) emitRevert(ctx *blockCtx) {
	truncateStack(ctx.out.Emit, ctx.stack, 0)
	ctx.out.Emit(masm.Compute("revert"))
}

// emitBranch lowers a conditional terminator into a two-way if.true,
// recursing independently into each arm with its own cloned stack.
func (e *emitter) emitBranch(ctx *blockCtx, term ir.Terminator, info ir.BranchInfo) {
	condition := term.(*ir.BranchTerminator).Condition
	condPos := ctx.stack.MustFind(condition)
	if e.conditionNeededAfterBranch(ctx, condition, info) {
		copyOperandToPosition(ctx.out.Emit, ctx.stack, condPos, 0, false)
	} else {
		moveOperandToPosition(ctx.out.Emit, ctx.stack, condPos, 0, false)
	}
	ctx.stack.Pop() // if.true itself consumes the top-of-stack condition

	thenID := e.out.NewBlock()
	elseID := e.out.NewBlock()
	ctx.out.Emit(masm.If(thenID, elseID))

	thenCtx := ctx.withBranch(e.out.Block(thenID), ctx.stack.Clone())
	e.emitEdge(thenCtx, info.Then, info.ThenArgs)

	elseCtx := ctx.withBranch(e.out.Block(elseID), ctx.stack.Clone())
	e.emitEdge(elseCtx, info.Else, info.ElseArgs)
}

// conditionNeededAfterBranch reports whether the branch condition's value
// outlives its consumption by the if.true: it recurs in one of the outgoing
// argument lists, or liveness carries it into a successor on the stack. In
// that case the if.true gets a duplicate and the original stays put.
func (e *emitter) conditionNeededAfterBranch(ctx *blockCtx, cond *ir.Value, info ir.BranchInfo) bool {
	for _, v := range info.ThenArgs {
		if v == cond {
			return true
		}
	}
	for _, v := range info.ElseArgs {
		if v == cond {
			return true
		}
	}
	return e.live.IsLiveAt(cond, analysis.ProgramPoint{Block: info.Then}) ||
		e.live.IsLiveAt(cond, analysis.ProgramPoint{Block: info.Else})
}

// withBranch derives a blockCtx for one arm of an if.true, keeping the same
// source SSA block (loop-level queries are about where the branch itself
// lives, not which synthetic sub-block is currently being filled) and the
// same dependency/tree graph and visited set.
func (c *blockCtx) withBranch(out *masm.Block, stack *opstack.Stack) *blockCtx {
	return &blockCtx{
		block:     c.block,
		out:       out,
		stack:     stack,
		dg:        c.dg,
		tg:        c.tg,
		schedule:  c.schedule,
		visited:   c.visited,
		loopChain: c.loopChain,
	}
}

// emitEdge lowers one outgoing control-flow edge: drop whatever this path no
// longer needs, arrange the surviving values as target's incoming
// parameters, then decide what structural form the edge takes - a loop
// continue (of this loop or any enclosing one), a fresh while.true, or a
// plain straight-line continuation into target's own body.
//
// Only an edge back to a loop header that is still open needs special
// framing: push(1) to keep that header's while.true going, plus one push(0)
// per open loop strictly inside it to unwind out of those. Any other edge -
// including one that leaves the innermost loop entirely for code after it -
// is a plain continuation: target is emitted right where we are, and
// whatever eventually terminates it (a return, or a further loop-continue)
// computes its own unwinding from however many loops are open at that point.
// Earlier revisions of this pass special-cased "target's loop level is
// lower than ours" as an unconditional break, which silently discarded
// target's own instructions whenever target was not itself an open loop
// header - loop-exit code must fall straight through into target, not be
// replaced by a bare zero-push.
func (e *emitter) emitEdge(ctx *blockCtx, target *ir.BasicBlock, args []*ir.Value) {
	needed := make(map[*ir.Value]bool, len(args))
	for _, v := range args {
		if v != nil {
			needed[v] = true
		}
	}
	// A value can also survive this edge without being an argument: target
	// (or a block it dominates) may read it straight off the stack.
	targetEntry := analysis.ProgramPoint{Block: target}
	for _, v := range ctx.stack.Values() {
		if v != nil && e.live.IsLiveAt(v, targetEntry) {
			needed[v] = true
		}
	}
	dropUnusedOperandsAt(ctx.out, ctx.stack, needed)
	e.prepareStackArguments(ctx, args)

	if idx := openLoopIndex(ctx.loopChain, target); idx >= 0 {
		e.checkJoinInvariant(ctx, target)
		ctx.out.Emit(masm.Push(1))
		ctx.stack.Push(nil)
		for i := 0; i < len(ctx.loopChain)-1-idx; i++ {
			ctx.out.Emit(masm.Push(0))
			ctx.stack.Push(nil)
		}
		return
	}

	if _, isHeader := e.loops.IsLoopHeader(target); isHeader {
		// Entering a fresh loop: the while.true consumes one boolean per
		// iteration, so the first iteration's "go" marker is pushed here and
		// every later one by the body's own continue/break framing.
		body := e.out.NewBlock()
		ctx.out.Emit(masm.Push(1))
		ctx.out.Emit(masm.While(body))
		chain := append(append([]*ir.BasicBlock{}, ctx.loopChain...), target)
		e.emitBlock(target, e.out.Block(body), ctx.stack.Clone(), chain)
		return
	}

	e.emitBlock(target, ctx.out, ctx.stack, ctx.loopChain)
}

// checkJoinInvariant asserts that a back edge reconverges on header with
// the same operand-stack state the header was first emitted under: after
// rebinding the top slots to header's parameters (exactly what emitBlock
// would do on re-entry), the stack must equal the cached entry snapshot
// position for position. A back edge is the one place this recursion-based
// driver legitimately revisits a block, so it is the one place two control
// paths can disagree; a disagreement means an earlier pass broke the
// join-point contract and the code already emitted for the header is wrong
// for this path.
func (e *emitter) checkJoinInvariant(ctx *blockCtx, header *ir.BasicBlock) {
	cached, ok := e.headerCache[header]
	if !ok || cached.entryStack == nil {
		return
	}
	if ctx.stack.Size() < len(header.Params) {
		panic(errInvariant("block %q: back edge from %q carries %d operands for loop header with %d parameters",
			header.Label, ctx.block.Label, ctx.stack.Size(), len(header.Params)))
	}
	retraced := ctx.stack.Clone()
	bindBlockParams(retraced, header)
	if !opstack.EqualModuloRenaming(retraced, cached.entryStack) {
		panic(errInvariant("block %q: back edge from %q reconverges with a different operand-stack state than the loop header was entered with",
			header.Label, ctx.block.Label))
	}
}

// openLoopIndex returns target's position in chain (outermost-first), or -1
// if target is not a currently open loop header.
func openLoopIndex(chain []*ir.BasicBlock, target *ir.BasicBlock) int {
	for i, h := range chain {
		if h == target {
			return i
		}
	}
	return -1
}

// openLoopDepth counts the while.true frames currently open around ctx,
// including the innermost one if we are still inside its own header or body
// - the count a return or loop-continue emitted right here must unwind
// through.
func (e *emitter) openLoopDepth(ctx *blockCtx) int {
	return len(ctx.loopChain)
}

// emitOp lowers a non-terminator instruction once the generic operand loop
// has positioned every SSA operand it reads. It only needs to emit the
// op(s) that compute the result(s) and reflect them on the simulated stack.
func (e *emitter) emitOp(ctx *blockCtx, n *depgraph.Node) {
	switch inst := n.Inst.(type) {
	case *ir.GlobalValueInstruction:
		e.lowerGlobalValue(ctx, inst)

	case *ir.ConstantInstruction:
		pushConstant(ctx, inst)

	case *ir.SenderInstruction:
		ctx.out.Emit(masm.Compute("sender"))
		ctx.stack.Push(inst.Result)

	case *ir.EventSignatureInstruction:
		ctx.out.Emit(masm.Compute("event_sig_" + inst.Event))
		ctx.stack.Push(inst.Result)

	case *ir.StorageAddrInstruction:
		ctx.out.Emit(masm.Compute(fmt.Sprintf("storage_addr_%d", inst.BaseSlot)))
		popN(ctx, len(inst.Keys))
		ctx.stack.Push(inst.Result)

	case *ir.StorageLoadInstruction:
		ctx.out.Emit(masm.Compute("storage_load"))
		ctx.stack.Pop()
		ctx.stack.Push(inst.Result)

	case *ir.StorageStoreInstruction:
		ctx.out.Emit(masm.Compute("storage_store"))
		ctx.stack.Pop()
		ctx.stack.Pop()

	case *ir.KeyedStorageLoadInstruction:
		ctx.out.Emit(masm.Compute(fmt.Sprintf("storage_load_map_%d", inst.BaseSlot)))
		ctx.stack.Pop()
		ctx.stack.Push(inst.Result)

	case *ir.KeyedStorageStoreInstruction:
		ctx.out.Emit(masm.Compute(fmt.Sprintf("storage_store_map_%d", inst.BaseSlot)))
		ctx.stack.Pop()
		ctx.stack.Pop()

	case *ir.LoadInstruction:
		ctx.out.Emit(masm.Compute("mem_load"))
		ctx.stack.Pop()
		ctx.stack.Push(inst.Result)

	case *ir.StoreInstruction:
		ctx.out.Emit(masm.Compute("mem_store"))
		ctx.stack.Pop()
		ctx.stack.Pop()

	case *ir.CheckedArithInstruction:
		ctx.out.Emit(masm.Compute(inst.Op))
		ctx.stack.Pop()
		ctx.stack.Pop()
		pushResults(ctx, []*ir.Value{inst.ResultVal, inst.ResultOk})

	case *ir.AssumeInstruction:
		ctx.out.Emit(masm.Compute("assume"))
		ctx.stack.Pop()

	case *ir.TopicAddrInstruction:
		ctx.out.Emit(masm.Compute("topic_addr"))
		ctx.stack.Pop()
		ctx.stack.Push(inst.Result)

	case *ir.ABIEncU256Instruction:
		ctx.out.Emit(masm.Compute("abi_enc_u256"))
		ctx.stack.Pop()
		pushResults(ctx, []*ir.Value{inst.ResultData, inst.ResultLen})

	case *ir.EmitInstruction:
		ctx.out.Emit(masm.Compute("emit_" + inst.Event))
		popN(ctx, len(inst.Args))

	case *ir.RequireInstruction:
		ctx.out.Emit(masm.Compute("require"))
		ctx.stack.Pop()
		ctx.stack.Pop()

	case *ir.LogInstruction:
		ctx.out.Emit(masm.Compute(fmt.Sprintf("log%d", inst.Topics)))
		popN(ctx, len(inst.GetOperands()))

	case *ir.BinaryInstruction:
		ctx.out.Emit(masm.Compute(inst.Op))
		ctx.stack.Pop()
		ctx.stack.Pop()
		ctx.stack.Push(inst.Result)

	case *ir.CallInstruction:
		// The target VM has no indirect-call op; every callee is known
		// statically, so a call lowers to a Compute op naming it directly,
		// same as any other fixed-arity primitive.
		ctx.out.Emit(masm.Compute(inst.Function))
		for range inst.Args {
			ctx.stack.Pop()
		}
		ctx.stack.Push(inst.Result)

	case *ir.UnaryOpInstruction:
		ctx.out.Emit(masm.Compute(inst.Op))
		ctx.stack.Pop()
		ctx.stack.Push(inst.Result)

	case *ir.UnaryOpImmInstruction:
		pushImmediate(ctx, inst.Imm)
		ctx.out.Emit(masm.Compute(inst.Op))
		ctx.stack.Pop()
		ctx.stack.Push(inst.Result)

	case *ir.BinaryOpImmInstruction:
		pushImmediate(ctx, inst.Imm)
		ctx.out.Emit(masm.Compute(inst.Op))
		ctx.stack.Pop()
		ctx.stack.Pop()
		ctx.stack.Push(inst.Result)

	case *ir.TestInstruction:
		ctx.out.Emit(masm.Compute(inst.Op))
		ctx.stack.Pop()
		if inst.Right != nil {
			ctx.stack.Pop()
		}
		ctx.stack.Push(inst.Result)

	case *ir.PrimOpInstruction:
		ctx.out.Emit(masm.Compute(inst.Op))
		for range inst.Args {
			ctx.stack.Pop()
		}
		pushResults(ctx, inst.Results)

	case *ir.PrimOpImmInstruction:
		pushImmediate(ctx, inst.Imm)
		ctx.out.Emit(masm.Compute(inst.Op))
		for range inst.Args {
			ctx.stack.Pop()
		}
		ctx.stack.Pop() // the immediate just pushed
		pushResults(ctx, inst.Results)

	case *ir.MemCpyInstruction:
		ctx.out.Emit(masm.Compute("mem_copy"))
		ctx.stack.Pop()
		ctx.stack.Pop()
		ctx.stack.Pop()

	case *ir.InlineAsmInstruction:
		for _, op := range inst.Ops {
			ctx.out.Emit(masm.Compute(op))
		}
		for range inst.Args {
			ctx.stack.Pop()
		}
		pushResults(ctx, inst.Results)

	default:
		panic(errInvariant("block %q: no lowering for instruction %T", ctx.block.Label, n.Inst))
	}
}

// pushResults pushes a multi-result instruction's outputs so results[0] ends
// up on top, last-in-first-out.
func pushResults(ctx *blockCtx, results []*ir.Value) {
	for i := len(results) - 1; i >= 0; i-- {
		ctx.stack.Push(results[i])
	}
}

// popN drops n values already consumed by an op just emitted.
func popN(ctx *blockCtx, n int) {
	for i := 0; i < n; i++ {
		ctx.stack.Pop()
	}
}

// lowerGlobalValue materializes the address g.GV describes. A chain whose
// outermost link is GVLoad reads through a statically-resolved base address
// (mem_load_imm); every other chain resolves to a compile-time constant and
// is simply pushed.
func (e *emitter) lowerGlobalValue(ctx *blockCtx, g *ir.GlobalValueInstruction) {
	data := e.fn.GlobalValueData(g.GV)
	if data.Kind == ir.GVLoad {
		addr := e.resolveStaticAddress(data.Base)
		ctx.out.Emit(masm.MemLoadImm(addr))
	} else {
		addr := e.resolveStaticAddress(g.GV)
		ctx.out.Emit(masm.Push(addr))
	}
	ctx.stack.Push(g.Result)
}

// resolveStaticAddress folds a global-value chain down to a single
// compile-time address. It must never bottom out on a GVLoad: a load can
// only be the outermost link of the chain a GlobalValueInstruction
// materializes, never an intermediate step within a further-foldable chain.
func (e *emitter) resolveStaticAddress(gv ir.GlobalValue) uint32 {
	data := e.fn.GlobalValueData(gv)
	switch data.Kind {
	case ir.GVSymbol:
		sym, err := e.linker.Find(data.Name)
		if err != nil {
			panic(errLinker("%v", err))
		}
		return e.linker.OffsetOf(sym)
	case ir.GVIAddImm:
		return uint32(int64(e.resolveStaticAddress(data.Base)) + data.Offset)
	default:
		panic(errInvariant("global value chain does not resolve to a static address (kind %d)", data.Kind))
	}
}

// pushImmediate encodes imm per the target VM's external interface: bool
// and the unsigned widths up to 32 bits push a single felt; a 64-bit
// unsigned value pushes its two halves with the high half ending up on top;
// a native field element pushes directly. Signed and floating-point
// immediates have no encoding and are a fatal, not a recoverable, error.
func pushImmediate(ctx *blockCtx, imm ir.Immediate) {
	emitImmediate(ctx, imm)
	ctx.stack.Push(nil)
}

// emitImmediate is pushImmediate's encoding step without the stack push,
// shared with pushConstant which tracks a real SSA result rather than an
// anonymous operand-position placeholder.
func emitImmediate(ctx *blockCtx, imm ir.Immediate) {
	switch imm.Kind {
	case ir.ImmBool, ir.ImmU8, ir.ImmU16, ir.ImmU32:
		ctx.out.Emit(masm.Push(uint32(imm.Bits)))
	case ir.ImmU64:
		ctx.out.Emit(masm.Push2(uint32(imm.Bits), uint32(imm.Bits>>32)))
	case ir.ImmFelt:
		ctx.out.Emit(masm.PushFelt(imm.Felt))
	default:
		panic(errUnsupportedImmediate("immediate kind %d has no target-VM encoding", imm.Kind))
	}
}

// pushConstant lowers a literal built by the front end's buildConstant:
// booleans and integer literal text (see constantImmediate for the accepted
// shapes) are re-encoded as an Immediate and pushed the same way a
// stack-machine-native immediate operand would be, then tracked under the
// constant's own SSA result rather than discarded.
func pushConstant(ctx *blockCtx, inst *ir.ConstantInstruction) {
	emitImmediate(ctx, constantImmediate(inst))
	ctx.stack.Push(inst.Result)
}

// constantImmediate re-derives an Immediate from a ConstantInstruction's
// untyped Value, which the builder only ever populates with a bool or a
// base-10 (or, for the zero address literal, base-16) literal string. Width
// is taken from the constant's declared IntType where one is narrower than
// 64 bits; anything else - including a literal too wide to fit 64 bits, or a
// non-numeric string such as a module path constant - has no target-VM
// encoding and is a fatal error, not a silent truncation.
func constantImmediate(inst *ir.ConstantInstruction) ir.Immediate {
	if b, ok := inst.Value.(bool); ok {
		bits := uint64(0)
		if b {
			bits = 1
		}
		return ir.Immediate{Kind: ir.ImmBool, Bits: bits}
	}

	s, ok := inst.Value.(string)
	if !ok {
		panic(errInvariant("constant %d: value of type %T has no target-VM encoding", inst.ID, inst.Value))
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		panic(errUnsupportedImmediate("constant %d: literal %q has no target-VM immediate encoding", inst.ID, s))
	}

	switch width := constantWidth(inst.Type); {
	case width <= 8:
		return ir.Immediate{Kind: ir.ImmU8, Bits: n}
	case width <= 16:
		return ir.Immediate{Kind: ir.ImmU16, Bits: n}
	case width <= 32:
		return ir.Immediate{Kind: ir.ImmU32, Bits: n}
	default:
		return ir.Immediate{Kind: ir.ImmU64, Bits: n}
	}
}

// constantWidth reports the bit width of t's IntType, or 64 for any other
// type (the widest unsigned immediate kind the target VM has).
func constantWidth(t ir.Type) int {
	if it, ok := t.(*ir.IntType); ok {
		return it.Bits
	}
	return 64
}
