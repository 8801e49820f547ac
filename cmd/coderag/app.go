package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dshills/coderag/internal/chunker"
	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/content"
	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/searcher"
	"github.com/dshills/coderag/internal/storage"
)

// app holds the components shared by every subcommand
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	embedder embedder.Embedder
	client   *embedder.Client
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	parser   *content.Parser
	closers  []io.Closer
}

// globalFlags are the persistent root flags
type globalFlags struct {
	configPath string
	logLevel   string
	storePath  string
}

// newApp loads configuration and wires the pipeline. Configuration warnings
// go to stderr; they never stop the command.
func newApp(flags *globalFlags, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.storePath != "" {
		cfg.Store.Path = flags.storePath
	}

	logger := newLogger(cfg.Log, stderr)
	for _, w := range cfg.Validate() {
		logger.Warn("configuration", "warning", w)
	}

	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	clientOpts := cfg.ClientOptions()
	clientOpts.Logger = logger
	client := embedder.NewClient(emb, clientOpts)

	idx := indexer.New(client, storage.OpenStore(storage.WithLogger(logger)),
		indexer.WithConfig(cfg.IndexerConfig()),
		indexer.WithChunker(chunker.NewWithOptions(cfg.ChunkerOptions())),
		indexer.WithLogger(logger),
	)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		embedder: emb,
		client:   client,
		indexer:  idx,
		parser:   content.NewParser(content.WithLogger(logger)),
		closers:  []io.Closer{emb},
	}

	searchOpts := cfg.SearcherOptions()
	searchOpts.Logger = logger
	if r := cfg.Reranker(); r != nil {
		searchOpts.Reranker = r
		if c, ok := r.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
	}
	a.searcher = searcher.New(client, nil, searchOpts)

	logger.Debug("pipeline ready",
		"provider", emb.Provider(),
		"model", emb.Model(),
		"dimension", emb.Dimension(),
		"store", cfg.Store.Path,
		"driver", storage.DriverName,
	)

	return a, nil
}

// openStore opens the configured store for reading
func (a *app) openStore(ctx context.Context) (*storage.SQLiteStore, error) {
	target := a.cfg.StoreTarget()
	target.WipeOnInit = false
	return storage.Open(ctx, target, storage.WithLogger(a.logger))
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// newLogger builds the stderr logger; stdout is reserved for command output
// and the MCP protocol.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// readInput reads a file, or stdin when path is "" or "-"
func readInput(path string, stdin io.Reader) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}
