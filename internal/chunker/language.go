package chunker

import (
	"path/filepath"
	"sort"
	"strings"
)

// language describes the lexical rules the brace scanner needs for one
// family of source files.
type language struct {
	Name string

	// Lexical rules for masking
	SingleQuoteStrings bool // 'abc' is a string, not a char literal
	BacktickStrings    bool // `template ${x}` literals
	TripleQuotes       bool // """raw""" blocks
	CharLiterals       bool // 'a', '\n'; anything else is a lifetime or label

	// Declaration rules
	MethodHeads     bool // members may be declared without a keyword (Java, C#, TS)
	BareMethodHeads bool // keyword-less members need no modifier or return type (TS, JS)
	ArrowFunctions  bool // const f = (...) => ...

	// UseGoParser routes the file to the go/ast parser instead of the scanner
	UseGoParser bool
}

var (
	langGo = &language{Name: "go", UseGoParser: true}

	langKotlin = &language{Name: "kotlin", TripleQuotes: true, CharLiterals: true}
	langJava   = &language{Name: "java", TripleQuotes: true, CharLiterals: true, MethodHeads: true}
	langCSharp = &language{Name: "csharp", CharLiterals: true, MethodHeads: true}
	langScala  = &language{Name: "scala", TripleQuotes: true, CharLiterals: true}
	langSwift  = &language{Name: "swift", TripleQuotes: true}
	langRust   = &language{Name: "rust", CharLiterals: true}

	langTypeScript = &language{
		Name:               "typescript",
		SingleQuoteStrings: true,
		BacktickStrings:    true,
		MethodHeads:        true,
		BareMethodHeads:    true,
		ArrowFunctions:     true,
	}
)

var languagesByExt = map[string]*language{
	".go":    langGo,
	".kt":    langKotlin,
	".kts":   langKotlin,
	".java":  langJava,
	".cs":    langCSharp,
	".scala": langScala,
	".swift": langSwift,
	".rs":    langRust,
	".ts":    langTypeScript,
	".tsx":   langTypeScript,
	".js":    langTypeScript,
	".jsx":   langTypeScript,
	".mjs":   langTypeScript,
	".cjs":   langTypeScript,
}

// languageFor returns the language for a file path, or nil when the
// extension is not recognized.
func languageFor(path string) *language {
	return languagesByExt[strings.ToLower(filepath.Ext(path))]
}

// SupportedExtensions returns every file extension the chunker understands
// declarations for, without the leading dot.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(languagesByExt))
	for ext := range languagesByExt {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	sort.Strings(exts)
	return exts
}
