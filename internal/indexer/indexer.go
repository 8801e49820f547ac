package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/coderag/internal/chunker"
	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/storage"
	"github.com/dshills/coderag/pkg/types"
)

const tracerName = "github.com/dshills/coderag/indexer"

var (
	// ErrInvalidRoot is returned when the source root is not a readable directory
	ErrInvalidRoot = errors.New("invalid source root")
	// ErrIndexInProgress is returned when another run holds the index lock
	ErrIndexInProgress = errors.New("indexing already in progress")
)

// Phase is a step of an indexing run
type Phase string

const (
	PhaseScanning  Phase = "SCANNING"
	PhaseChunking  Phase = "CHUNKING"
	PhaseEmbedding Phase = "EMBEDDING"
	PhaseStoring   Phase = "STORING"
	PhaseCompleted Phase = "COMPLETED"
	PhaseFailed    Phase = "FAILED"
)

// Terminal reports whether no further phase follows
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Progress is reported at phase boundaries and as work advances
type Progress struct {
	Phase   Phase
	Current int
	Total   int
	Message string
}

// ProgressFunc receives progress updates. It runs on the indexing goroutine.
type ProgressFunc func(Progress)

// Config controls which files are indexed and how
type Config struct {
	// Extensions lists file extensions to index, without the dot
	Extensions []string

	// Exclude skips any file whose root-relative path, with a leading and
	// separating "/", contains one of these substrings
	Exclude []string

	// IncludeHidden indexes directories whose name starts with "."
	IncludeHidden bool

	// BatchSize is the number of texts per embedding call
	BatchSize int

	// Model overrides the embedder's default model
	Model string
}

// DefaultExtensions are the source languages indexed out of the box
var DefaultExtensions = []string{"kt", "kts", "java", "go", "ts", "tsx", "js", "jsx", "rs", "swift", "cs", "scala"}

// DefaultExclude skips build output and dependency trees
var DefaultExclude = []string{"/build/", "/.gradle/", "/generated/", "/node_modules/", "/vendor/", "/.git/"}

// DefaultConfig returns the default indexing configuration
func DefaultConfig() Config {
	return Config{
		Extensions: append([]string(nil), DefaultExtensions...),
		Exclude:    append([]string(nil), DefaultExclude...),
		BatchSize:  embedder.DefaultBatchSize,
	}
}

// Result describes a finished run
type Result struct {
	Phase          Phase
	FilesFound     int
	ChunksCreated  int
	StoredCount    int
	ChunkBreakdown map[types.ChunkType]int
	FailedFiles    []FileError
	Error          string
	Duration       time.Duration
}

// FileError records a file that could not be chunked
type FileError struct {
	Path  string
	Error string
}

// Indexer runs the scan, chunk, embed, store pipeline
type Indexer struct {
	chunker *chunker.Chunker
	client  *embedder.Client
	open    storage.Opener
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	lock    IndexLock
}

// Option configures an Indexer
type Option func(*Indexer)

// WithConfig replaces the default configuration
func WithConfig(cfg Config) Option {
	return func(idx *Indexer) { idx.cfg = cfg }
}

// WithChunker replaces the default chunker
func WithChunker(c *chunker.Chunker) Option {
	return func(idx *Indexer) { idx.chunker = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithTracerProvider traces runs with tp instead of the global provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(idx *Indexer) { idx.tracer = tp.Tracer(tracerName) }
}

// New creates an Indexer that embeds through client and writes to stores
// obtained from open.
func New(client *embedder.Client, open storage.Opener, opts ...Option) *Indexer {
	idx := &Indexer{
		chunker: chunker.New(),
		client:  client,
		open:    open,
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.cfg.BatchSize <= 0 {
		idx.cfg.BatchSize = embedder.DefaultBatchSize
	}
	return idx
}

// Running reports whether a run is in progress
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}

// Index runs one full indexing pass over sourceRoot into target. On failure
// the returned Result is in PhaseFailed and carries the error message.
// A store is opened only when there is something to write, and is always
// closed before Index returns.
func (idx *Indexer) Index(ctx context.Context, sourceRoot string, target storage.Target, onProgress ProgressFunc) (*Result, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer idx.lock.Release()

	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	ctx, span := idx.tracer.Start(ctx, "index", trace.WithAttributes(
		attribute.String("index.root", sourceRoot),
		attribute.String("index.target", target.Path),
	))
	defer span.End()

	r := &run{
		idx:      idx,
		root:     sourceRoot,
		target:   target,
		progress: onProgress,
		phase:    PhaseScanning,
		result:   &Result{ChunkBreakdown: make(map[types.ChunkType]int)},
	}

	start := time.Now()
	err := r.loop(ctx)
	r.result.Duration = time.Since(start)
	r.result.Phase = r.phase

	span.SetAttributes(
		attribute.Int("index.files", r.result.FilesFound),
		attribute.Int("index.chunks", r.result.ChunksCreated),
		attribute.Int("index.stored", r.result.StoredCount),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.result, err
	}

	idx.logger.Info("indexing completed",
		"root", sourceRoot,
		"files", r.result.FilesFound,
		"chunks", r.result.ChunksCreated,
		"stored", r.result.StoredCount,
		"failed_files", len(r.result.FailedFiles),
		"duration", r.result.Duration)
	return r.result, nil
}

// run holds the state carried between phases of one Index call
type run struct {
	idx      *Indexer
	root     string
	target   storage.Target
	progress ProgressFunc
	phase    Phase
	result   *Result

	files   []string
	chunks  []types.Chunk
	vectors [][]float32
}

// loop drives the phase state machine until a terminal phase
func (r *run) loop(ctx context.Context) error {
	for !r.phase.Terminal() {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}

		phase := r.phase
		r.idx.logger.Info("indexing phase", "phase", phase)

		phaseCtx, span := r.idx.tracer.Start(ctx, "index."+strings.ToLower(string(phase)))
		next, err := r.step(phaseCtx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if err != nil {
			return r.fail(fmt.Errorf("%s: %w", strings.ToLower(string(phase)), err))
		}
		r.phase = next
	}

	r.progress(Progress{
		Phase:   PhaseCompleted,
		Current: r.result.StoredCount,
		Total:   r.result.StoredCount,
		Message: fmt.Sprintf("Indexed %d files into %d chunks", r.result.FilesFound, r.result.ChunksCreated),
	})
	return nil
}

func (r *run) step(ctx context.Context) (Phase, error) {
	switch r.phase {
	case PhaseScanning:
		return r.scan(ctx)
	case PhaseChunking:
		return r.chunk(ctx)
	case PhaseEmbedding:
		return r.embed(ctx)
	case PhaseStoring:
		return r.store(ctx)
	}
	return PhaseFailed, fmt.Errorf("unexpected phase %s", r.phase)
}

func (r *run) fail(err error) error {
	r.phase = PhaseFailed
	r.result.Error = err.Error()
	r.idx.logger.Error("indexing failed", "root", r.root, "error", err)
	r.progress(Progress{Phase: PhaseFailed, Message: err.Error()})
	return err
}

func (r *run) scan(ctx context.Context) (Phase, error) {
	r.progress(Progress{Phase: PhaseScanning, Message: "Scanning repository..."})

	files, skipped, err := r.idx.discoverFiles(ctx, r.root)
	if err != nil {
		return PhaseFailed, err
	}
	r.result.FailedFiles = append(r.result.FailedFiles, skipped...)
	r.files = files
	r.result.FilesFound = len(files)

	r.idx.logger.Info("found source files", "count", len(files))
	r.progress(Progress{
		Phase:   PhaseScanning,
		Current: len(files),
		Total:   len(files),
		Message: fmt.Sprintf("Found %d files", len(files)),
	})

	if len(files) == 0 {
		return PhaseCompleted, nil
	}
	return PhaseChunking, nil
}

func (r *run) chunk(ctx context.Context) (Phase, error) {
	total := len(r.files)
	r.progress(Progress{Phase: PhaseChunking, Total: total, Message: "Chunking files..."})

	for i, path := range r.files {
		if err := ctx.Err(); err != nil {
			return PhaseFailed, err
		}

		rel := displayPath(r.root, path)
		chunks, err := r.idx.chunker.ChunkFileAs(path, rel)
		if err != nil {
			// One unreadable file must not block the whole index
			r.idx.logger.Warn("failed to chunk file", "path", rel, "error", err)
			r.result.FailedFiles = append(r.result.FailedFiles, FileError{Path: rel, Error: err.Error()})
		}
		for _, c := range chunks {
			r.result.ChunkBreakdown[c.ChunkType]++
		}
		r.chunks = append(r.chunks, chunks...)

		r.progress(Progress{
			Phase:   PhaseChunking,
			Current: i + 1,
			Total:   total,
			Message: "Chunking: " + filepath.Base(path),
		})
	}

	n := len(r.chunks)
	r.result.ChunksCreated = n
	r.idx.logger.Info("created chunks", "count", n)
	r.progress(Progress{Phase: PhaseChunking, Current: n, Total: n, Message: fmt.Sprintf("Created %d chunks", n)})

	if n == 0 {
		return PhaseCompleted, nil
	}
	return PhaseEmbedding, nil
}

func (r *run) embed(ctx context.Context) (Phase, error) {
	total := len(r.chunks)
	r.progress(Progress{Phase: PhaseEmbedding, Total: total, Message: "Generating embeddings..."})

	texts := make([]string, total)
	for i := range r.chunks {
		texts[i] = r.chunks[i].Content
	}

	vectors, err := r.idx.client.EmbedBatched(ctx, texts, r.idx.cfg.Model, r.idx.cfg.BatchSize, func(processed, total int) {
		r.progress(Progress{
			Phase:   PhaseEmbedding,
			Current: processed,
			Total:   total,
			Message: fmt.Sprintf("Embedding: %d/%d", processed, total),
		})
	})
	if err != nil {
		return PhaseFailed, err
	}
	if len(vectors) != total {
		return PhaseFailed, fmt.Errorf("%w: got %d vectors for %d chunks", embedder.ErrCountMismatch, len(vectors), total)
	}

	r.vectors = vectors
	r.idx.logger.Info("generated embeddings", "count", len(vectors))
	return PhaseStoring, nil
}

func (r *run) store(ctx context.Context) (next Phase, err error) {
	total := len(r.chunks)
	r.progress(Progress{Phase: PhaseStoring, Total: total, Message: "Storing in database..."})

	store, err := r.idx.open(ctx, r.target)
	if err != nil {
		return PhaseFailed, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			next, err = PhaseFailed, cerr
		}
	}()

	items := make([]storage.Item, total)
	for i := range r.chunks {
		items[i] = storage.Item{Chunk: r.chunks[i], Vector: r.vectors[i]}
	}
	if err := store.Insert(ctx, items); err != nil {
		return PhaseFailed, err
	}

	// Chunks are not kept once persisted
	r.chunks, r.vectors = nil, nil

	count, err := store.Count(ctx)
	if err != nil {
		return PhaseFailed, err
	}
	r.result.StoredCount = count

	r.idx.logger.Info("stored chunks", "count", count, "target", r.target.Path)
	r.progress(Progress{Phase: PhaseStoring, Current: count, Total: count, Message: "Indexing complete!"})
	return PhaseCompleted, nil
}

// discoverFiles walks root and returns indexable files in lexical order.
// Entries below root that cannot be read are skipped and returned as
// skipped; only an unreadable root fails the walk.
func (idx *Indexer) discoverFiles(ctx context.Context, root string) (files []string, skipped []FileError, err error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("%w %s: %w", ErrInvalidRoot, root, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%w %s: not a directory", ErrInvalidRoot, root)
	}

	exts := make(map[string]bool, len(idx.cfg.Extensions))
	for _, ext := range idx.cfg.Extensions {
		exts[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if path == root {
				return fmt.Errorf("%w %s: %w", ErrInvalidRoot, root, err)
			}
			rel := displayPath(root, path)
			idx.logger.Warn("skipping unreadable path", "path", rel, "error", err)
			skipped = append(skipped, FileError{Path: rel, Error: err.Error()})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && !idx.cfg.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if !exts[ext] {
			return nil
		}

		if idx.excluded(root, path) {
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return files, skipped, nil
}

// excluded matches exclude patterns against "/" + the root-relative path
func (idx *Indexer) excluded(root, path string) bool {
	rel := "/" + displayPath(root, path)
	for _, pattern := range idx.cfg.Exclude {
		if pattern != "" && strings.Contains(rel, pattern) {
			return true
		}
	}
	return false
}

// displayPath is path relative to root with forward slashes
func displayPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
