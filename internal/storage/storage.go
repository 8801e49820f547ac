package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/coderag/pkg/types"
)

// MemoryPath opens an ephemeral store that vanishes on Close
const MemoryPath = ":memory:"

var (
	// ErrStorage is matched by every failure the store reports
	ErrStorage = errors.New("storage error")
	// ErrDimensionMismatch is returned when a vector's length differs from the store's
	ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", ErrStorage)
	// ErrInvalidLimit is returned by searches with limit < 1
	ErrInvalidLimit = fmt.Errorf("%w: limit must be >= 1", ErrStorage)
	// ErrClosed is returned by any call made after Close
	ErrClosed = fmt.Errorf("%w: store is closed", ErrStorage)
	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = fmt.Errorf("%w: not found", ErrStorage)
)

// Store is a persistent collection of embedded chunks supporting
// nearest-neighbour queries. A handle is owned by one caller at a time;
// hosts that share it must serialise writes against reads themselves.
type Store interface {
	// Insert appends all items atomically, assigning ids in input order
	Insert(ctx context.Context, items []Item) error

	// SearchSimilar returns the limit records closest to query,
	// ascending by distance with ties broken by ascending id
	SearchSimilar(ctx context.Context, query []float32, limit int) ([]SimilarityResult, error)

	// SearchSimilarFiltered is SearchSimilar restricted to records matching filters
	SearchSimilarFiltered(ctx context.Context, query []float32, limit int, filters *SearchFilters) ([]SimilarityResult, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)

	// Close releases the database handle
	Close() error
}

// Opener opens a Store for a target; the indexer takes one so tests can
// substitute an in-memory or failing store.
type Opener func(ctx context.Context, target Target) (Store, error)

// Target identifies where a store lives
type Target struct {
	Path string // File path, or MemoryPath

	// WipeOnInit clears existing records once, when the store is opened
	WipeOnInit bool
}

// Item is the unit of insertion: one chunk and its embedding
type Item struct {
	Chunk  types.Chunk
	Vector []float32
}

// Record is a stored item
type Record struct {
	ID        int64
	Chunk     types.Chunk
	Vector    []float32
	CreatedAt time.Time
}

// SimilarityResult is a record with its cosine distance to the query.
// Distance lies in [0, 2]; smaller is more similar.
type SimilarityResult struct {
	Record
	Distance float64
}

// Relevance maps distance onto a [0, 1] score for display
func (r SimilarityResult) Relevance() float64 {
	return min(max(1-r.Distance, 0), 1)
}

// SearchFilters narrows a similarity search. Zero values match everything.
type SearchFilters struct {
	ChunkTypes   []types.ChunkType // Only these chunk types
	FilePattern  string            // SQLite GLOB over the file path, e.g. "*/ui/*.kt"
	NameContains string            // Case-sensitive substring of the declaration name
}

// Status summarises a store for status reports
type Status struct {
	Count         int
	Dimension     int // 0 until the first insert
	ByType        map[types.ChunkType]int
	SchemaVersion string
	Driver        string
	BuildMode     string
}
