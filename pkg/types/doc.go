// Package types provides shared type definitions for coderag.
//
// # Chunks
//
// Chunk is a semantically bounded span of source code (a function, a method,
// a class segment or a top-level block) together with its provenance:
//
//	chunk := types.Chunk{
//	    FilePath:   "app/src/Repo.kt",
//	    StartLine:  12,
//	    EndLine:    30,
//	    ChunkType:  types.ChunkMethod,
//	    Name:       "load",
//	    ParentName: types.StringPtr("Repo"),
//	    Content:    types.ContextHeader("app/src/Repo.kt", "Repo") + source,
//	}
//
// Content always starts with the context header built by ContextHeader so
// embedding models see where a snippet lives. Source and StripContextHeader
// return the raw code for display.
//
// # Declarations
//
// Declaration and ParseResult are the output of language parsers consumed by
// the chunker.
//
// # Search Results
//
// SearchResult carries the cosine distance of a hit and a relevance score in
// [0, 1] derived from it.
package types
