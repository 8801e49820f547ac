package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"strings"

	"github.com/dshills/coderag/pkg/types"
)

// Parser handles AST-based parsing of Go source files. It keeps no state
// between calls: each parse gets its own FileSet, released with the result.
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// ParseFile reads and parses a Go source file
func (p *Parser) ParseFile(filePath string) (*types.ParseResult, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseSource(filePath, content), nil
}

// ParseSource extracts top-level declarations from Go source.
// Syntax errors are recorded on the result; declarations found in the
// partial AST are still returned.
func (p *Parser) ParseSource(filePath string, src []byte) *types.ParseResult {
	result := &types.ParseResult{}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, src, parser.ParseComments)
	if err != nil {
		result.AddError(filePath, 0, 0, fmt.Sprintf("syntax error: %v", err))
	}
	if file == nil {
		return result
	}

	if file.Name != nil {
		result.PackageName = file.Name.Name
	}

	e := &declExtractor{fset: fset}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}
	result.Declarations = e.decls

	return result
}

type declExtractor struct {
	fset  *token.FileSet
	decls []types.Declaration
}

// extractFunction extracts function and method declarations
func (e *declExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	decl := types.Declaration{
		Name:      funcDecl.Name.Name,
		Kind:      types.ChunkFunction,
		Signature: e.extractFunctionSignature(funcDecl),
		StartLine: e.startLine(funcDecl.Doc, funcDecl.Pos()),
		EndLine:   e.line(funcDecl.End()),
	}

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		decl.Kind = types.ChunkMethod
		decl.Parent = e.extractReceiverType(funcDecl.Recv.List[0].Type)
	}

	e.decls = append(e.decls, decl)
}

// extractGenDecl extracts type, const, and var declarations.
// Imports are left to the caller as top-level text.
func (e *declExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	switch genDecl.Tok {
	case token.TYPE:
		grouped := genDecl.Lparen.IsValid()
		for _, spec := range genDecl.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			decl := types.Declaration{
				Name:      ts.Name.Name,
				Kind:      types.ChunkClass,
				Signature: e.extractTypeSignature(ts),
			}
			if grouped {
				decl.StartLine = e.startLine(ts.Doc, ts.Pos())
				decl.EndLine = e.line(ts.End())
			} else {
				decl.StartLine = e.startLine(genDecl.Doc, genDecl.Pos())
				decl.EndLine = e.line(genDecl.End())
			}
			e.decls = append(e.decls, decl)
		}
	case token.CONST, token.VAR:
		var names []string
		for _, spec := range genDecl.Specs {
			if vs, ok := spec.(*ast.ValueSpec); ok {
				for _, n := range vs.Names {
					names = append(names, n.Name)
				}
			}
		}
		name := ""
		if len(names) > 0 {
			name = names[0]
		}
		e.decls = append(e.decls, types.Declaration{
			Name:      name,
			Kind:      types.ChunkTopLevel,
			Signature: fmt.Sprintf("%s %s", genDecl.Tok, strings.Join(names, ", ")),
			StartLine: e.startLine(genDecl.Doc, genDecl.Pos()),
			EndLine:   e.line(genDecl.End()),
		})
	}
}

// extractReceiverType extracts the receiver type name from a method
func (e *declExtractor) extractReceiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return e.extractReceiverType(t.X)
	case *ast.IndexExpr:
		return e.extractReceiverType(t.X)
	case *ast.IndexListExpr:
		return e.extractReceiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// extractFunctionSignature builds a function signature string
func (e *declExtractor) extractFunctionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(e.exprToString(funcDecl.Recv.List[0].Type))
		sig.WriteString(") ")
	}

	sig.WriteString(funcDecl.Name.Name)

	sig.WriteString("(")
	if funcDecl.Type.Params != nil {
		sig.WriteString(e.fieldListToString(funcDecl.Type.Params))
	}
	sig.WriteString(")")

	if funcDecl.Type.Results != nil {
		results := e.fieldListToString(funcDecl.Type.Results)
		if results != "" {
			if funcDecl.Type.Results.NumFields() > 1 || len(funcDecl.Type.Results.List[0].Names) > 0 {
				sig.WriteString(" (")
				sig.WriteString(results)
				sig.WriteString(")")
			} else {
				sig.WriteString(" ")
				sig.WriteString(results)
			}
		}
	}

	return sig.String()
}

// extractTypeSignature builds a short type header
func (e *declExtractor) extractTypeSignature(ts *ast.TypeSpec) string {
	switch t := ts.Type.(type) {
	case *ast.StructType:
		return fmt.Sprintf("type %s struct", ts.Name.Name)
	case *ast.InterfaceType:
		return fmt.Sprintf("type %s interface", ts.Name.Name)
	default:
		return fmt.Sprintf("type %s %s", ts.Name.Name, e.exprToString(t))
	}
}

// fieldListToString converts a field list to a string representation
func (e *declExtractor) fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := e.exprToString(field.Type)
		if len(field.Names) > 0 {
			for _, name := range field.Names {
				parts = append(parts, fmt.Sprintf("%s %s", name.Name, typeStr))
			}
		} else {
			parts = append(parts, typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts an expression to a string representation
func (e *declExtractor) exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + e.exprToString(t.X)
	case *ast.ArrayType:
		return "[]" + e.exprToString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", e.exprToString(t.Key), e.exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + e.exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.SelectorExpr:
		return e.exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + e.exprToString(t.Elt)
	case *ast.IndexExpr:
		return e.exprToString(t.X) + "[" + e.exprToString(t.Index) + "]"
	default:
		return "..."
	}
}

// startLine returns the first line of a declaration including its doc comment
func (e *declExtractor) startLine(doc *ast.CommentGroup, pos token.Pos) int {
	if doc != nil && doc.Pos().IsValid() && doc.Pos() < pos {
		return e.line(doc.Pos())
	}
	return e.line(pos)
}

func (e *declExtractor) line(pos token.Pos) int {
	return e.fset.Position(pos).Line
}
