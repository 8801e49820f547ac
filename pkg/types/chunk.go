package types

import (
	"crypto/sha256"
	"strings"
)

// ChunkType represents the kind of declaration a chunk covers
type ChunkType string

const (
	ChunkFunction ChunkType = "FUNCTION"
	ChunkMethod   ChunkType = "METHOD"
	ChunkClass    ChunkType = "CLASS"
	ChunkTopLevel ChunkType = "TOP_LEVEL"
	ChunkOther    ChunkType = "OTHER"
)

// AllChunkTypes lists every valid chunk type in display order.
var AllChunkTypes = []ChunkType{ChunkClass, ChunkMethod, ChunkFunction, ChunkTopLevel, ChunkOther}

// Valid reports whether t is one of the known chunk types.
func (t ChunkType) Valid() bool {
	switch t {
	case ChunkFunction, ChunkMethod, ChunkClass, ChunkTopLevel, ChunkOther:
		return true
	default:
		return false
	}
}

// Chunk represents a semantically bounded span of source code plus provenance
type Chunk struct {
	// Location
	FilePath  string
	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive

	// Metadata
	ChunkType  ChunkType
	Name       string  // Empty for anonymous or top-level blocks
	ParentName *string // Enclosing class/object
	Signature  *string // Declaration header

	// Content is the context header followed by the exact source lines
	Content string
}

// Validate checks the chunk invariants
func (c *Chunk) Validate() error {
	if c.Content == "" {
		return ErrEmptyContent
	}

	if c.FilePath == "" {
		return ErrMissingFilePath
	}

	if c.StartLine <= 0 || c.EndLine <= 0 {
		return ErrInvalidLineRange
	}

	if c.StartLine > c.EndLine {
		return ErrInvalidLineRange
	}

	if !c.ChunkType.Valid() {
		return ErrInvalidChunkType
	}

	return nil
}

// Source returns the chunk content without the context header
func (c *Chunk) Source() string {
	return StripContextHeader(c.Content)
}

// TokenCount estimates the number of tokens in the chunk.
// Uses a simple heuristic: characters / 4
func (c *Chunk) TokenCount() int {
	return EstimateTokens(c.Content)
}

// ContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ContentHash() [32]byte {
	return sha256.Sum256([]byte(c.Content))
}

// Parent returns the parent name or an empty string
func (c *Chunk) Parent() string {
	if c.ParentName == nil {
		return ""
	}
	return *c.ParentName
}

// EstimateTokens approximates the token count of text as chars/4
func EstimateTokens(text string) int {
	return len(text) / 4
}

const (
	headerFilePrefix  = "// File: "
	headerClassPrefix = "// Class: "
)

// ContextHeader builds the locality header prepended to every chunk:
//
//	// File: internal/foo/bar.kt
//	// Class: Bar
//	<blank line>
//
// The class line is omitted when parent is empty.
func ContextHeader(filePath, parent string) string {
	var sb strings.Builder
	sb.WriteString(headerFilePrefix)
	sb.WriteString(filePath)
	sb.WriteByte('\n')
	if parent != "" {
		sb.WriteString(headerClassPrefix)
		sb.WriteString(parent)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return sb.String()
}

// StripContextHeader removes a header produced by ContextHeader.
// Content without a header is returned unchanged.
func StripContextHeader(content string) string {
	if !strings.HasPrefix(content, headerFilePrefix) {
		return content
	}

	rest := content
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return content
	}
	rest = rest[nl+1:]

	if strings.HasPrefix(rest, headerClassPrefix) {
		nl = strings.IndexByte(rest, '\n')
		if nl < 0 {
			return content
		}
		rest = rest[nl+1:]
	}

	if !strings.HasPrefix(rest, "\n") {
		return content
	}
	return rest[1:]
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
