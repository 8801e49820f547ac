package types

// SearchResult represents a single search hit with its scores
type SearchResult struct {
	// Identification
	ID   int64
	Rank int // Position in result set (1-based)

	// Scoring
	Distance       float64 // Cosine distance, smaller is closer
	RelevanceScore float64 // Display score in [0, 1]

	Chunk Chunk
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Distance < 0 {
		return ErrInvalidDistance
	}

	if sr.RelevanceScore < 0 || sr.RelevanceScore > 1 {
		return ErrInvalidRelevanceScore
	}

	return sr.Chunk.Validate()
}
