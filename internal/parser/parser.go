package parser

import (
	"fmt"
	"github.com/alecthomas/participle/v2"
	"stackify/grammar"
	"os"
)

var parser = buildParser()

func buildParser() *participle.Parser[grammar.AST] {
	p, err := participle.Build[grammar.AST](
		participle.Lexer(grammar.KansoLexer),
		participle.Elide("Whitespace"),
		participle.UseLookahead(3),
	)
	if err != nil {
		panic(fmt.Errorf("failed to build parser: %w", err))
	}

	return p
}

// ParseGrammarFile and ParseGrammarSource build the participle-backed
// grammar.AST used by the LSP's semantic-token walker (internal/lsp). This
// is a separate front end from ParseSource/ParseContract's hand-written
// scanner+recursive-descent parser, which produces the ast.Contract that
// feeds semantic analysis and IR construction.
func ParseGrammarFile(path string) (*grammar.AST, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return ParseGrammarSource(path, string(source))
}

func ParseGrammarSource(sourceName string, source string) (*grammar.AST, error) {
	ast, err := parser.ParseString(sourceName, source)
	return ast, err
}
