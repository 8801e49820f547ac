// Package parser extracts top-level declarations from Go source files using
// the standard go/parser and go/ast packages.
//
// # Basic Usage
//
//	p := parser.New()
//	result := p.ParseSource("repo/store.go", src)
//	for _, d := range result.Declarations {
//	    fmt.Printf("%s %s lines %d-%d\n", d.Kind, d.Name, d.StartLine, d.EndLine)
//	}
//
// # Mapping
//
// Declarations are reported with chunk kinds so the chunker can use them
// directly:
//   - func without receiver: FUNCTION
//   - method: METHOD, Parent set to the receiver type name
//   - type spec: CLASS (one per spec inside grouped type blocks)
//   - const and var blocks: TOP_LEVEL
//
// Line ranges are 1-based and inclusive and start at the leading doc comment
// when one exists.
//
// # Error Handling
//
// Syntax errors never fail ParseSource. They are recorded in
// ParseResult.Errors and any declarations recovered from the partial AST are
// still returned; callers decide whether partial results are usable.
package parser
