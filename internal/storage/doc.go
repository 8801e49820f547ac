// Package storage persists embedded code chunks in SQLite and answers
// nearest-neighbour queries over them.
//
// Each record holds a chunk's metadata, its content (context header
// included) and its vector as a little-endian float32 blob. The first
// insert pins the store's vector dimension; later inserts and queries of a
// different length fail with ErrDimensionMismatch.
//
// # Similarity
//
// SearchSimilar scans every stored vector (there is no index structure)
// and ranks by cosine distance, 1 - cos(q, v), which lies in [0, 2]. The
// best limit records are returned ascending by distance, ties broken by
// ascending id. SimilarityResult.Relevance clamps 1 - distance to [0, 1]
// for display.
//
// # Usage
//
//	store, err := storage.Open(ctx, storage.Target{Path: path, WipeOnInit: true})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.Insert(ctx, items); err != nil {
//	    return err
//	}
//	results, err := store.SearchSimilar(ctx, queryVector, 5)
//
// Insert runs in one transaction, so a failed or cancelled insert leaves
// the store exactly as it was.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with
// -tags sqlite_vec switches to github.com/mattn/go-sqlite3 (cgo).
package storage
