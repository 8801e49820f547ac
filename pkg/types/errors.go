package types

import "errors"

// Domain errors for type validation
var (
	// Chunk errors
	ErrEmptyContent     = errors.New("content cannot be empty")
	ErrMissingFilePath  = errors.New("file path is required")
	ErrInvalidLineRange = errors.New("line range must be positive and ordered")
	ErrInvalidChunkType = errors.New("invalid chunk type")

	// Search result errors
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrInvalidDistance       = errors.New("distance must be non-negative")
)
