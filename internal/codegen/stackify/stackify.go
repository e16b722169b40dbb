// Package stackify implements the stackification pass: it lowers one SSA
// function, block by block, into a structured stack-machine function with
// no arbitrary jumps, recovering if.true/while.true control flow from the
// unstructured CFG and emitting the operand-stack choreography (dup, swap,
// move-up, move-down, drop) that keeps the target VM's single operand
// stack balanced throughout.
//
// The pass is a total transformation: it either produces a complete
// masm.Function or fails with one of the *Error categories in errors.go.
// There is nothing to retry or partially recover from, so every internal
// inconsistency (a value missing from the simulated stack, a cyclic
// dependency graph, a join point whose predecessors disagree) panics with
// an *Error, and Run recovers it at the top.
package stackify

import (
	"strings"

	"stackify/internal/analysis"
	"stackify/internal/codegen/linker"
	"stackify/internal/codegen/masm"
	"stackify/internal/codegen/opstack"
	"stackify/internal/ir"
)

// Run lowers every function in prog into a stack-machine program, resolving
// global-value addresses against lt.
func Run(prog *ir.Program, lt *linker.Table) (out *masm.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*Error); ok {
				out, err = nil, e
				return
			}
			// The simulated stack reports its own inconsistencies (a value
			// not present, an out-of-bounds position) as string panics.
			if s, ok := r.(string); ok && strings.HasPrefix(s, "opstack:") {
				out, err = nil, errInvariant("%s", s)
				return
			}
			panic(r)
		}
	}()

	out = masm.NewProgram()
	for _, fn := range prog.Functions {
		out.Add(compileFunction(fn, lt))
	}
	return out, nil
}

// compileFunction lowers a single SSA function. It panics with an *Error on
// any internal failure; Run is the only recover point.
func compileFunction(fn *ir.Function, lt *linker.Table) *masm.Function {
	if fn.Entry == nil {
		panic(errPrerequisite("function %q has no entry block", fn.Name))
	}

	dt := analysis.BuildDominatorTree(fn)
	e := &emitter{
		fn:          fn,
		linker:      lt,
		live:        analysis.BuildLivenessAnalysis(fn),
		loops:       analysis.BuildLoopAnalysis(fn, dt),
		dt:          dt,
		out:         masm.NewFunction(fn.Name),
		headerCache: make(map[*ir.BasicBlock]*headerEntry),
	}

	stack := opstack.New(fn.Entry.Params...)
	e.emitBlock(fn.Entry, e.out.Block(e.out.Entry), stack, nil)
	return e.out
}
