package ir

import "testing"

// diamond builds entry -branch-> (left, right) -> join, where join has two
// predecessors - a textbook critical edge on both arms.
func diamond() *Function {
	entry := &BasicBlock{Label: "entry"}
	left := &BasicBlock{Label: "left"}
	right := &BasicBlock{Label: "right"}
	join := &BasicBlock{Label: "join", Params: []*Value{{Name: "x"}}}

	leftVal := &Value{Name: "left_val"}
	rightVal := &Value{Name: "right_val"}

	entry.Terminator = &BranchTerminator{
		ID:         1,
		Condition:  &Value{Name: "cond"},
		TrueBlock:  left,
		FalseBlock: right,
		TrueArgs:   []*Value{leftVal},
		FalseArgs:  []*Value{rightVal},
	}
	left.Terminator = &JumpTerminator{ID: 2, Target: join, Args: []*Value{leftVal}}
	right.Terminator = &JumpTerminator{ID: 3, Target: join, Args: []*Value{rightVal}}
	join.Terminator = &ReturnTerminator{ID: 4, Value: join.Params[0]}

	fn := &Function{
		Name:   "diamond",
		Entry:  entry,
		Blocks: []*BasicBlock{entry, left, right, join},
	}
	RecomputeEdges(fn)
	return fn
}

func TestRecomputeEdges(t *testing.T) {
	fn := diamond()

	entry := fn.Blocks[0]
	join := fn.Blocks[3]

	if len(entry.Successors) != 2 {
		t.Fatalf("entry should have 2 successors, got %d", len(entry.Successors))
	}
	if len(join.Predecessors) != 2 {
		t.Fatalf("join should have 2 predecessors, got %d", len(join.Predecessors))
	}
}

func TestCriticalEdgeSplitting_InsertsForwardingBlocks(t *testing.T) {
	fn := diamond()
	program := &Program{Functions: []*Function{fn}, Blocks: map[string]*BasicBlock{}}
	for _, b := range fn.Blocks {
		program.Blocks[b.Label] = b
	}

	pass := &CriticalEdgeSplitting{}
	if !pass.Apply(program) {
		t.Fatal("expected CriticalEdgeSplitting to report a change")
	}

	if len(fn.Blocks) != 6 {
		t.Fatalf("expected 2 new forwarding blocks (6 total), got %d", len(fn.Blocks))
	}

	branch := fn.Blocks[0].Terminator.(*BranchTerminator)
	if branch.TrueBlock == fn.Blocks[1] || branch.FalseBlock == fn.Blocks[2] {
		t.Fatal("branch arms should now target the inserted forwarding blocks, not join directly")
	}
	if len(branch.TrueArgs) != 0 || len(branch.FalseArgs) != 0 {
		t.Fatal("branch arms into a forwarding block carry no args - the forwarding block's own jump carries them")
	}

	join := fn.Blocks[3]
	if len(join.Predecessors) != 2 {
		t.Fatalf("join should still have exactly 2 predecessors (now the forwarding blocks), got %d", len(join.Predecessors))
	}
	for _, p := range join.Predecessors {
		if p == fn.Blocks[1] || p == fn.Blocks[2] {
			t.Fatal("join's predecessors should be the new forwarding blocks, not left/right directly")
		}
	}
}

func TestCriticalEdgeSplitting_NoOpWhenNoCriticalEdges(t *testing.T) {
	entry := &BasicBlock{Label: "entry"}
	next := &BasicBlock{Label: "next"}
	entry.Terminator = &JumpTerminator{ID: 1, Target: next}
	next.Terminator = &ReturnTerminator{ID: 2}

	fn := &Function{Name: "straight", Entry: entry, Blocks: []*BasicBlock{entry, next}}
	program := &Program{Functions: []*Function{fn}}

	pass := &CriticalEdgeSplitting{}
	if pass.Apply(program) {
		t.Fatal("expected no change: there is no branch in this function")
	}
	if len(fn.Blocks) != 2 {
		t.Fatalf("block count should be unchanged, got %d", len(fn.Blocks))
	}
}

// chain builds a -> b -> c, each an unconditional jump, b and c having
// exactly one predecessor.
func chain() *Function {
	a := &BasicBlock{Label: "a"}
	bVal := &Value{Name: "b_in"}
	b := &BasicBlock{Label: "b", Params: []*Value{bVal}}
	cVal := &Value{Name: "c_in"}
	c := &BasicBlock{Label: "c", Params: []*Value{cVal}}

	aOut := &Value{Name: "a_out"}
	a.Terminator = &JumpTerminator{ID: 1, Target: b, Args: []*Value{aOut}}

	addResult := &Value{Name: "b_result"}
	b.Instructions = []Instruction{
		&BinaryInstruction{ID: 2, Op: "add", Left: bVal, Right: bVal, Result: addResult},
	}
	b.Terminator = &JumpTerminator{ID: 3, Target: c, Args: []*Value{addResult}}

	c.Terminator = &ReturnTerminator{ID: 4, Value: cVal}

	fn := &Function{Name: "chain", Entry: a, Blocks: []*BasicBlock{a, b, c}}
	RecomputeEdges(fn)
	return fn
}

func TestTrivialJumpInlining_FoldsChain(t *testing.T) {
	fn := chain()
	program := &Program{Functions: []*Function{fn}, Blocks: map[string]*BasicBlock{}}
	for _, b := range fn.Blocks {
		program.Blocks[b.Label] = b
	}

	pass := &TrivialJumpInlining{}
	if !pass.Apply(program) {
		t.Fatal("expected TrivialJumpInlining to report a change")
	}

	if len(fn.Blocks) != 1 {
		t.Fatalf("the whole chain should collapse into entry, got %d blocks", len(fn.Blocks))
	}
	entry := fn.Blocks[0]
	if len(entry.Instructions) != 1 {
		t.Fatalf("expected the merged binary instruction to survive, got %d instructions", len(entry.Instructions))
	}

	bin := entry.Instructions[0].(*BinaryInstruction)
	aOut := bin.Left
	if bin.Left != bin.Right || bin.Left != aOut {
		t.Fatal("b's operand should have been rebound to a's jump argument")
	}

	ret, ok := entry.Terminator.(*ReturnTerminator)
	if !ok {
		t.Fatalf("expected merged terminator to be c's return, got %T", entry.Terminator)
	}
	if ret.Value != bin.Result {
		t.Fatal("c's return value should have been rebound to b's computed result")
	}
	if ret.Value.DefBlock != entry {
		t.Fatal("the merged instruction's result should now be defined in the surviving block")
	}

	if _, present := program.Blocks["b"]; present {
		t.Fatal("b should have been removed from the program's block index")
	}
	if _, present := program.Blocks["c"]; present {
		t.Fatal("c should have been removed from the program's block index")
	}
}

func TestTrivialJumpInlining_PreservesLoopHeader(t *testing.T) {
	// entry -> header; header -> body (on true) or exit (on false);
	// body -> header (back edge). header has two predecessors (entry and
	// body), so no jump into it is eligible and it must never be folded away.
	entry := &BasicBlock{Label: "entry"}
	header := &BasicBlock{Label: "header", Params: []*Value{{Name: "i"}}}
	body := &BasicBlock{Label: "body"}
	exit := &BasicBlock{Label: "exit"}

	entry.Terminator = &JumpTerminator{ID: 1, Target: header, Args: []*Value{{Name: "zero"}}}
	header.Terminator = &BranchTerminator{ID: 2, Condition: &Value{Name: "cond"}, TrueBlock: body, FalseBlock: exit}
	body.Terminator = &JumpTerminator{ID: 3, Target: header, Args: []*Value{{Name: "next"}}}
	exit.Terminator = &ReturnTerminator{ID: 4}

	fn := &Function{Name: "loop", Entry: entry, Blocks: []*BasicBlock{entry, header, body, exit}}
	program := &Program{Functions: []*Function{fn}}
	RecomputeEdges(fn)

	pass := &TrivialJumpInlining{}
	changed := pass.Apply(program)

	if changed {
		// Neither entry->header nor body->header is eligible: header has
		// two predecessors and is a loop header, so it must survive.
		for _, b := range fn.Blocks {
			if b.Label == "header" {
				t.Fatal("loop header must never be folded into its sole non-back-edge predecessor")
			}
		}
	}

	found := false
	for _, b := range fn.Blocks {
		if b.Label == "header" {
			found = true
		}
	}
	if !found {
		t.Fatal("header block must still exist after normalization")
	}
}

func TestBackEdgeTargets(t *testing.T) {
	entry := &BasicBlock{Label: "entry"}
	header := &BasicBlock{Label: "header"}
	body := &BasicBlock{Label: "body"}
	exit := &BasicBlock{Label: "exit"}

	entry.Terminator = &JumpTerminator{ID: 1, Target: header}
	header.Terminator = &BranchTerminator{ID: 2, TrueBlock: body, FalseBlock: exit}
	body.Terminator = &JumpTerminator{ID: 3, Target: header}
	exit.Terminator = &ReturnTerminator{ID: 4}

	fn := &Function{Name: "loop", Entry: entry, Blocks: []*BasicBlock{entry, header, body, exit}}

	targets := backEdgeTargets(fn)
	if !targets[header] {
		t.Fatal("header should be identified as a back-edge target")
	}
	if targets[body] || targets[entry] || targets[exit] {
		t.Fatal("only header is the destination of a back edge in this function")
	}
}

func TestNewNormalizationPipeline(t *testing.T) {
	pipeline := NewNormalizationPipeline()
	if pipeline == nil {
		t.Fatal("NewNormalizationPipeline should not return nil")
	}
	if len(pipeline.passes) != 2 {
		t.Fatalf("expected 2 passes, got %d", len(pipeline.passes))
	}
}
