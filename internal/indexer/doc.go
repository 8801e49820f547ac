// Package indexer coordinates the end-to-end indexing pipeline for source
// repositories.
//
// # Basic Usage
//
//	client := embedder.NewClient(emb, embedder.ClientOptions{})
//	idx := indexer.New(client, storage.OpenStore())
//
//	result, err := idx.Index(ctx, "/path/to/project",
//	    storage.Target{Path: "/tmp/project.db", WipeOnInit: true},
//	    func(p indexer.Progress) {
//	        fmt.Printf("%s %d/%d %s\n", p.Phase, p.Current, p.Total, p.Message)
//	    })
//
// # Indexing Pipeline
//
// A run moves through a fixed sequence of phases:
//
//  1. SCANNING: walk the root, keep files with an indexed extension,
//     skip hidden directories and excluded paths
//  2. CHUNKING: split every file into declaration-level chunks
//  3. EMBEDDING: embed chunk contents in batches, in chunk order
//  4. STORING: open the target store, insert every chunk with its vector
//     in one transaction, and report the stored count
//
// It ends in COMPLETED or FAILED. A run with no files or no chunks
// completes early without calling the embedder or opening the store.
//
// # Errors
//
// A file or subdirectory that cannot be read is logged and listed in
// Result.FailedFiles; the run continues. Only an unreadable root fails
// the scan. Any embedding or storage failure aborts the run:
// Index returns the error and a Result in the FAILED phase whose Error
// field carries the message.
//
// Only one run may execute per Indexer. A second concurrent call fails
// fast with ErrIndexInProgress.
//
// # Tracing
//
// Each run produces an "index" span with one child span per phase. The
// global OpenTelemetry provider is used unless WithTracerProvider is given.
package indexer
