// Package chunker divides source files into semantic chunks for embedding and search.
//
// Chunks follow declaration boundaries rather than arbitrary line windows so
// each embedding describes one function, method, class segment or block of
// top-level code.
//
// # Basic Usage
//
//	c := chunker.New()
//	chunks, err := c.ChunkFile("app/src/main/kotlin/Repo.kt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, chunk := range chunks {
//	    fmt.Printf("%s %s lines %d-%d\n",
//	        chunk.ChunkType, chunk.Name, chunk.StartLine, chunk.EndLine)
//	}
//
// # Languages
//
// Go files are parsed with go/ast through the parser package. Brace-delimited
// languages (Kotlin, Java, C#, Scala, Swift, Rust, TypeScript and JavaScript)
// go through a structural scanner that blanks out string literals and
// comments, tracks brace depth and recognizes declarations by keyword. Doc
// comments and annotations directly above a declaration belong to it.
//
// # Chunking Strategy
//
//   - Functions at top level: FUNCTION
//   - Members of a class, object, impl or struct: METHOD with ParentName set
//   - Class-like containers: CLASS, emitted for the header and any body
//     segments that are not covered by member chunks
//   - Code between declarations: TOP_LEVEL
//   - Files without declarations, with unbalanced braces or that fail to
//     parse: a single OTHER chunk for the whole file
//
// Each chunk's Content is the context header from types.ContextHeader
// followed by the exact source lines of its range.
//
// # Chunk Sizing
//
// Token estimation uses a simple heuristic (chars/4). Chunks above
// Options.MaxTokens are split into windows of Options.WindowLines lines that
// overlap by Options.OverlapLines and are named "<name>_partN".
package chunker
