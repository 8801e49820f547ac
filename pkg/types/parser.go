package types

// Declaration is a source declaration located by a language parser
type Declaration struct {
	Name      string
	Kind      ChunkType
	Parent    string // Enclosing type, empty at top level
	Signature string

	// Location, 1-based inclusive; StartLine includes leading doc comments
	StartLine int
	EndLine   int
}

// ParseResult represents the output of parsing one source file
type ParseResult struct {
	Declarations []Declaration
	PackageName  string

	// Errors encountered during parsing
	Errors []ParseError
}

// ParseError represents an error that occurred during parsing
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return pe.Message
}

// HasErrors returns true if any parsing errors occurred
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError adds a parsing error to the result
func (pr *ParseResult) AddError(file string, line, col int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{
		File:    file,
		Line:    line,
		Column:  col,
		Message: msg,
	})
}
