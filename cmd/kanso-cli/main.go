// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"github.com/alecthomas/participle/v2"
	"github.com/fatih/color"
	"stackify/internal/codegen/linker"
	"stackify/internal/codegen/masm"
	"stackify/internal/codegen/stackify"
	"stackify/internal/ir"
	"stackify/internal/parser"
	"stackify/internal/semantic"
	"os"
	"strings"
)

func main() {
	args := os.Args[1:]

	emitMasm := false
	var path string
	for _, arg := range args {
		if arg == "-emit-masm" {
			emitMasm = true
			continue
		}
		path = arg
	}

	if path == "" {
		fmt.Println("Usage: kanso [-emit-masm] <file.ka>")
		os.Exit(1)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Errorf("failed to read file: %w", err)
		os.Exit(1)
	}

	if emitMasm {
		compile(path, string(source))
		return
	}

	grammarAST, err := parser.ParseGrammarSource(path, string(source))
	if err != nil {
		reportParseError(string(source), err)
		os.Exit(1)
	}

	fmt.Println(grammarAST.String())

	color.Green("✅ Successfully processed %s", path)
}

// compile drives the real front end to back end pipeline end to end:
// parser -> semantic analysis -> IR construction -> CFG normalization ->
// stackification, printing the resulting stack-machine program. This is
// the integration point proving the IR the front end builds is actually
// consumable by the stackifier, rather than the two only ever meeting in
// unit tests.
func compile(path, source string) {
	contract, parseErrors, scanErrors := parser.ParseSource(path, source)
	if len(scanErrors) > 0 || len(parseErrors) > 0 {
		for _, e := range scanErrors {
			fmt.Printf("scan error: %s\n", e.Message)
		}
		for _, e := range parseErrors {
			fmt.Printf("parse error: %s\n", e.Message)
		}
		os.Exit(1)
	}

	analyzer := semantic.NewAnalyzer()
	if semErrors := analyzer.Analyze(contract); len(semErrors) > 0 {
		for _, e := range semErrors {
			fmt.Printf("semantic error: %s\n", e.Message)
		}
		os.Exit(1)
	}

	builder := ir.NewBuilder(semantic.NewContextRegistry())
	program := builder.Build(contract)

	ir.NewNormalizationPipeline().Run(program)

	globalNames := make([]string, len(program.Globals))
	globalSizes := make([]uint32, len(program.Globals))
	for i, g := range program.Globals {
		globalNames[i] = g.Name
		globalSizes[i] = g.Size
	}
	lt := linker.Build(globalNames, globalSizes, uint32(len(program.Storage)))

	out, err := stackify.Run(program, lt)
	if err != nil {
		fmt.Printf("stackify error: %v\n", err)
		os.Exit(1)
	}

	printMasmProgram(out)
	color.Green("✅ Compiled %s to %d function(s)", path, len(out.Functions))
}

// printMasmProgram renders a compiled program in the same block/op-listing
// shape masm.Op.String already gives individual ops, one function and
// block at a time in declaration order.
func printMasmProgram(prog *masm.Program) {
	for _, fn := range prog.Functions {
		fmt.Printf("function %s (entry=b%d)\n", fn.Name, fn.Entry)
		for id := masm.BlockID(0); int(id) < len(fn.Blocks); id++ {
			block := fn.Block(id)
			if block == nil {
				continue
			}
			fmt.Printf("  b%d:\n", block.ID)
			for _, op := range block.Ops {
				fmt.Printf("    %s\n", op.String())
			}
		}
	}
}

// reportParseError prints a friendly caret-style parse error message.
func reportParseError(src string, err error) {
	pe, ok := err.(participle.Error)
	if !ok {
		color.Red("Unexpected error: %s", err)
		return
	}

	pos := pe.Position()
	lines := strings.Split(src, "\n")
	if pos.Line <= 0 || pos.Line > len(lines) {
		color.Red("Syntax error at unknown location: %s", err)
		return
	}

	line := lines[pos.Line-1]
	caret := strings.Repeat(" ", pos.Column-1) + "^"

	color.Red("❌ Syntax error in %s at line %d, column %d:", pos.Filename, pos.Line, pos.Column)
	fmt.Println(line)
	color.HiRed(caret)
	fmt.Printf("→ %s\n", pe.Message())
}
