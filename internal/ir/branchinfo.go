package ir

// BranchInfo classifies a terminator by how many destinations it has and
// what block arguments flow along each edge. The stackification pass (see
// internal/codegen/stackify) uses this instead of inspecting terminator
// types directly, so that dependency-graph construction and code emission
// share one place that knows about block-argument edges.
type BranchInfo struct {
	Kind        BranchKind
	Destination *BasicBlock   // set for KindJump
	Args        []*Value      // set for KindJump
	Then        *BasicBlock   // set for KindBranch
	ThenArgs    []*Value      // set for KindBranch
	Else        *BasicBlock   // set for KindBranch
	ElseArgs    []*Value      // set for KindBranch
}

type BranchKind int

const (
	NotABranch BranchKind = iota
	KindJump
	KindBranch
)

// AnalyzeBranch classifies a block's terminator for the stackifier.
func AnalyzeBranch(term Terminator) BranchInfo {
	switch t := term.(type) {
	case *JumpTerminator:
		return BranchInfo{Kind: KindJump, Destination: t.Target, Args: t.Args}
	case *BranchTerminator:
		return BranchInfo{
			Kind:     KindBranch,
			Then:     t.TrueBlock,
			ThenArgs: t.TrueArgs,
			Else:     t.FalseBlock,
			ElseArgs: t.FalseArgs,
		}
	default:
		return BranchInfo{Kind: NotABranch}
	}
}
