package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/coderag/internal/content"
	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/searcher"
	"github.com/dshills/coderag/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "coderag"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Options wires a Server to its components
type Options struct {
	Indexer  *indexer.Indexer
	Searcher *searcher.Searcher
	Parser   *content.Parser // Defaults to content.NewParser()

	// Target is the store every index run writes and every search reads.
	// It must be a file path: each run reopens it.
	Target storage.Target

	// Limits advertised in the search_code schema
	DefaultLimit int
	MaxLimit     int

	// Closers are released by Close after the store, e.g. the embedder
	Closers []io.Closer

	Logger *slog.Logger
}

// lastRun records the outcome of the most recent index_codebase call
type lastRun struct {
	root     string
	finished time.Time
	result   *indexer.Result
}

// Server wraps the MCP server with application dependencies.
//
// Index runs hold the write side of mu for their whole duration and
// searches the read side, so a search never sees a store mid-rebuild.
type Server struct {
	mcp      *server.MCPServer
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	parser   *content.Parser
	target   storage.Target
	closers  []io.Closer
	logger   *slog.Logger

	lock indexer.IndexLock // Rejects a second run without queueing behind mu

	mu    sync.RWMutex
	store *storage.SQLiteStore
	last  *lastRun
}

// New opens the store at opts.Target and registers the tools
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Indexer == nil || opts.Searcher == nil {
		return nil, errors.New("indexer and searcher are required")
	}
	if opts.Target.Path == "" || opts.Target.Path == storage.MemoryPath {
		return nil, fmt.Errorf("store target must be a file path, got %q", opts.Target.Path)
	}
	if opts.Parser == nil {
		opts.Parser = content.NewParser()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = searcher.DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = searcher.DefaultMaxLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		indexer:  opts.Indexer,
		searcher: opts.Searcher,
		parser:   opts.Parser,
		target:   opts.Target,
		closers:  opts.Closers,
		logger:   logger,
	}

	if err := s.reopen(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	s.registerTools(opts.DefaultLimit, opts.MaxLimit)
	return s, nil
}

// Serve runs the MCP server on stdio and blocks until the client
// disconnects. It does not close the server.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}

// Close releases the store and the configured closers
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
		s.store = nil
	}
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// reopen opens the target for reading and attaches it to the searcher.
// Callers hold mu for writing, or own s exclusively.
func (s *Server) reopen(ctx context.Context) error {
	store, err := storage.Open(ctx, storage.Target{Path: s.target.Path}, storage.WithLogger(s.logger))
	if err != nil {
		s.searcher.SetStore(nil)
		return err
	}
	s.store = store
	s.searcher.SetStore(store)
	return nil
}

// registerTools registers all MCP tools
func (s *Server) registerTools(defaultLimit, maxLimit int) {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(searchCodeTool(defaultLimit, maxLimit), s.handleSearchCode)
	s.mcp.AddTool(parseContentTool(), s.handleParseContent)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
