package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackify/internal/analysis"
	"stackify/internal/ir"
)

// straightLineAddFunction builds: entry(v0, v1): v2 = add v0, v1; ret v2.
func straightLineAddFunction() (*ir.Function, *ir.BasicBlock) {
	block := &ir.BasicBlock{Label: "entry"}
	v0 := &ir.Value{Name: "v0", IsBlockParam: true}
	v1 := &ir.Value{Name: "v1", IsBlockParam: true}
	block.Params = []*ir.Value{v0, v1}

	add := &ir.BinaryInstruction{ID: 1, Op: "add", Left: v0, Right: v1}
	v2 := &ir.Value{Name: "v2", DefInst: add, DefBlock: block}
	add.Result = v2
	block.Instructions = []ir.Instruction{add}
	block.Terminator = &ir.ReturnTerminator{ID: 2, Value: v2}

	fn := &ir.Function{Name: "f", Entry: block, Blocks: []*ir.BasicBlock{block}}
	return fn, block
}

func TestBuild_EveryInstructionRepresentedOnce(t *testing.T) {
	fn, block := straightLineAddFunction()
	live := analysis.BuildLivenessAnalysis(fn)
	g := Build(block, fn, live)

	var instNodes int
	for _, n := range g.Nodes {
		if n.Kind == KindInst {
			instNodes++
		}
	}
	// add + terminator, neither dead (terminator is pinned, add feeds it)
	assert.Equal(t, 2, instNodes)
}

func TestBuild_BlockParamsAreStackNodes(t *testing.T) {
	fn, block := straightLineAddFunction()
	live := analysis.BuildLivenessAnalysis(fn)
	g := Build(block, fn, live)

	n := g.NodeForValue(block.Params[0])
	require.NotNil(t, n)
	assert.Equal(t, KindStack, n.Kind)
}

func TestBuild_DuplicateUseMergesIntoOneEdgeWithCount(t *testing.T) {
	// v2 = add v0, v0; ret v2 - the two reads of v0 must merge into a
	// single edge carrying a use-count of 2, not two separate edges.
	block := &ir.BasicBlock{Label: "entry"}
	v0 := &ir.Value{Name: "v0", IsBlockParam: true}
	block.Params = []*ir.Value{v0}

	add := &ir.BinaryInstruction{ID: 1, Op: "add", Left: v0, Right: v0}
	v2 := &ir.Value{Name: "v2", DefInst: add, DefBlock: block}
	add.Result = v2
	block.Instructions = []ir.Instruction{add}
	block.Terminator = &ir.ReturnTerminator{ID: 2, Value: v2}
	fn := &ir.Function{Name: "f", Entry: block, Blocks: []*ir.BasicBlock{block}}

	live := analysis.BuildLivenessAnalysis(fn)
	g := Build(block, fn, live)

	addNode := g.NodeForValue(v2)
	deps := g.Dependencies(addNode)
	require.Len(t, deps, 1, "both reads of v0 must merge into one edge")
	require.Len(t, deps[0].Uses, 1)
	assert.Equal(t, 2, deps[0].Uses[0].Count)
}

func TestEliminateDeadCode_RemovesUnusedPureInstruction(t *testing.T) {
	// entry(v0): v1 = add v0, v0 (dead, unused); ret v0
	block := &ir.BasicBlock{Label: "entry"}
	v0 := &ir.Value{Name: "v0", IsBlockParam: true}
	block.Params = []*ir.Value{v0}

	dead := &ir.BinaryInstruction{ID: 1, Op: "add", Left: v0, Right: v0}
	v1 := &ir.Value{Name: "v1", DefInst: dead, DefBlock: block}
	dead.Result = v1
	block.Instructions = []ir.Instruction{dead}
	block.Terminator = &ir.ReturnTerminator{ID: 2, Value: v0}
	fn := &ir.Function{Name: "f", Entry: block, Blocks: []*ir.BasicBlock{block}}

	live := analysis.BuildLivenessAnalysis(fn)
	g := Build(block, fn, live)

	for _, n := range g.Nodes {
		assert.NotEqual(t, dead, n.Inst, "dead add instruction must be eliminated")
	}
	// the terminator (a sink) must always survive
	require.NotNil(t, g.Terminator())
}

func TestEliminateDeadCode_RemovesChainOfDeadInstructions(t *testing.T) {
	// entry(v0): v1 = add v0, v0 (dead); v2 = mul v1, v1 (dead); ret v0.
	// Removing v2 orphans v1, whose only dependent was v2 itself - the
	// worklist must see v1's dependent count with v2's edge gone, not pin
	// v1 alive behind a stale edge from the node just deleted.
	block := &ir.BasicBlock{Label: "entry"}
	v0 := &ir.Value{Name: "v0", IsBlockParam: true}
	block.Params = []*ir.Value{v0}

	add := &ir.BinaryInstruction{ID: 1, Op: "add", Left: v0, Right: v0}
	v1 := &ir.Value{Name: "v1", DefInst: add, DefBlock: block}
	add.Result = v1

	mul := &ir.BinaryInstruction{ID: 2, Op: "mul", Left: v1, Right: v1}
	v2 := &ir.Value{Name: "v2", DefInst: mul, DefBlock: block}
	mul.Result = v2

	block.Instructions = []ir.Instruction{add, mul}
	block.Terminator = &ir.ReturnTerminator{ID: 3, Value: v0}
	fn := &ir.Function{Name: "f", Entry: block, Blocks: []*ir.BasicBlock{block}}

	live := analysis.BuildLivenessAnalysis(fn)
	g := Build(block, fn, live)

	for _, n := range g.Nodes {
		assert.NotEqual(t, add, n.Inst, "orphaned dead add must be eliminated along with its dead dependent")
		assert.NotEqual(t, mul, n.Inst, "dead mul must be eliminated")
	}
	require.NotNil(t, g.Terminator())

	// The surviving graph must carry no edges to or from the deleted nodes:
	// v0 is left with the terminator as its one dependent, which is also
	// what the tree graph's root classification reads.
	v0Node := g.NodeForValue(v0)
	require.NotNil(t, v0Node)
	assert.Equal(t, KindStack, v0Node.Kind)
	assert.Equal(t, 1, g.NumDependents(v0Node))
}

func TestEliminateDeadCode_NeverRemovesSideEffectingInstructions(t *testing.T) {
	block := &ir.BasicBlock{Label: "entry"}
	v0 := &ir.Value{Name: "v0", IsBlockParam: true}
	v1 := &ir.Value{Name: "v1", IsBlockParam: true}
	block.Params = []*ir.Value{v0, v1}

	store := &ir.StoreInstruction{ID: 1, Address: v0, Value: v1}
	block.Instructions = []ir.Instruction{store}
	block.Terminator = &ir.ReturnTerminator{ID: 2}
	fn := &ir.Function{Name: "f", Entry: block, Blocks: []*ir.BasicBlock{block}}

	live := analysis.BuildLivenessAnalysis(fn)
	g := Build(block, fn, live)

	found := false
	for _, n := range g.Nodes {
		if n.Inst == store {
			found = true
		}
	}
	assert.True(t, found, "a store has side effects and must never be DCE'd")
}

func TestTerminatorHasNoOutgoingDependents(t *testing.T) {
	fn, block := straightLineAddFunction()
	live := analysis.BuildLivenessAnalysis(fn)
	g := Build(block, fn, live)

	term := g.Terminator()
	require.NotNil(t, term)
	assert.Empty(t, g.Dependents(term), "the terminator is a sink: nothing depends on it")
}
