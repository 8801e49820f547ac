package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag/internal/content"
	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/mcp"
	"github.com/dshills/coderag/internal/searcher"
	"github.com/dshills/coderag/internal/storage"
	"github.com/dshills/coderag/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "coderag",
		Short:         "Semantic code search over a local vector index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file path (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flags.storePath, "store", "", "Vector store path, overrides store.path")

	rootCmd.AddCommand(
		newIndexCmd(flags),
		newSearchCmd(flags),
		newParseCmd(),
		newServeCmd(flags),
		newEmbedCmd(flags),
		newVersionCmd(),
	)
	return rootCmd
}

func newIndexCmd(flags *globalFlags) *cobra.Command {
	var (
		noWipe bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "index [root]",
		Short: "Chunk, embed and store a source tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			root, err := filepath.Abs(root)
			if err != nil {
				return err
			}

			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			target := a.cfg.StoreTarget()
			if noWipe {
				target.WipeOnInit = false
			}

			stderr := cmd.ErrOrStderr()
			result, err := a.indexer.Index(cmd.Context(), root, target, func(p indexer.Progress) {
				if p.Total > 0 {
					fmt.Fprintf(stderr, "[%s] %d/%d %s\n", p.Phase, p.Current, p.Total, p.Message)
					return
				}
				fmt.Fprintf(stderr, "[%s] %s\n", p.Phase, p.Message)
			})
			if result != nil {
				if asJSON {
					if jerr := writeJSON(cmd.OutOrStdout(), result); jerr != nil {
						return jerr
					}
				} else {
					printResult(cmd.OutOrStdout(), root, target.Path, result)
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&noWipe, "append", false, "Keep existing records instead of wiping the store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func printResult(w io.Writer, root, store string, r *indexer.Result) {
	fmt.Fprintf(w, "Indexed %s into %s\n", root, store)
	fmt.Fprintf(w, "  phase:    %s\n", r.Phase)
	fmt.Fprintf(w, "  files:    %d\n", r.FilesFound)
	fmt.Fprintf(w, "  chunks:   %d\n", r.ChunksCreated)
	fmt.Fprintf(w, "  stored:   %d\n", r.StoredCount)
	fmt.Fprintf(w, "  duration: %s\n", r.Duration.Round(time.Millisecond))

	kinds := make([]string, 0, len(r.ChunkBreakdown))
	for k := range r.ChunkBreakdown {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "    %-10s %d\n", k, r.ChunkBreakdown[types.ChunkType(k)])
	}
	for _, f := range r.FailedFiles {
		fmt.Fprintf(w, "  skipped %s: %s\n", f.Path, f.Error)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  error:    %s\n", r.Error)
	}
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		limit       int
		rerank      bool
		chunkTypes  []string
		filePattern string
		name        string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index with a natural language query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := buildFilters(chunkTypes, filePattern, name)
			if err != nil {
				return err
			}

			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			a.searcher.SetStore(store)

			resp, err := a.searcher.Search(cmd.Context(), searcher.Request{
				Query:   strings.Join(args, " "),
				Limit:   limit,
				Rerank:  rerank || a.cfg.Search.Rerank,
				Filters: filters,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp.Results)
			}
			printSearch(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "Rerank candidates with the Voyage reranker")
	cmd.Flags().StringSliceVarP(&chunkTypes, "type", "t", nil, "Restrict to chunk types (CLASS, METHOD, FUNCTION, TOP_LEVEL, OTHER)")
	cmd.Flags().StringVar(&filePattern, "file-pattern", "", "Restrict to files matching a glob, e.g. */data/*")
	cmd.Flags().StringVar(&name, "name", "", "Restrict to chunks whose name contains this text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

// buildFilters returns nil when no filter flag is set
func buildFilters(chunkTypes []string, filePattern, name string) (*storage.SearchFilters, error) {
	if len(chunkTypes) == 0 && filePattern == "" && name == "" {
		return nil, nil
	}
	f := &storage.SearchFilters{FilePattern: filePattern, NameContains: name}
	for _, s := range chunkTypes {
		t := types.ChunkType(strings.ToUpper(strings.TrimSpace(s)))
		if !t.Valid() {
			return nil, fmt.Errorf("unknown chunk type %q", s)
		}
		f.ChunkTypes = append(f.ChunkTypes, t)
	}
	return f, nil
}

func printSearch(w io.Writer, resp *searcher.Response) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}
	for _, r := range resp.Results {
		label := r.Chunk.Name
		if p := r.Chunk.Parent(); p != "" {
			label = p + "." + label
		}
		fmt.Fprintf(w, "%d. %s:%d-%d %s [%s] relevance=%.3f\n",
			r.Rank, r.Chunk.FilePath, r.Chunk.StartLine, r.Chunk.EndLine, label, r.Chunk.ChunkType, r.RelevanceScore)
	}
	if resp.Reranked {
		fmt.Fprintln(w, "(reranked)")
	}
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [file|-]",
		Short: "Split assistant output into text and widget blocks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			text, err := readInput(path, cmd.InOrStdin())
			if err != nil {
				return err
			}
			data, err := content.MarshalBlocks(content.Parse(text))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			srv, err := mcp.New(cmd.Context(), mcp.Options{
				Indexer:      a.indexer,
				Searcher:     a.searcher,
				Parser:       a.parser,
				Target:       a.cfg.StoreTarget(),
				DefaultLimit: a.cfg.Search.DefaultLimit,
				MaxLimit:     a.cfg.Search.MaxLimit,
				Closers:      []io.Closer{a},
				Logger:       a.logger,
			})
			if err != nil {
				_ = a.Close()
				return err
			}

			a.logger.Info("MCP server ready, listening on stdio", "version", version, "store", a.cfg.Store.Path)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve() }()

			select {
			case <-cmd.Context().Done():
				a.logger.Info("shutting down")
			case err = <-errCh:
			}
			return errors.Join(err, srv.Close())
		},
	}
}

// newEmbedCmd embeds one text with the configured provider. It is the
// quickest way to check credentials and the model's dimension.
func newEmbedCmd(flags *globalFlags) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "embed <text>",
		Short: "Embed a text with the configured provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			start := time.Now()
			vectors, err := a.client.Embed(cmd.Context(), []string{strings.Join(args, " ")}, a.cfg.Embedding.Model)
			if err != nil {
				return err
			}
			vec := vectors[0]

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "provider:  %s\n", a.embedder.Provider())
			fmt.Fprintf(w, "model:     %s\n", a.embedder.Model())
			fmt.Fprintf(w, "dimension: %d\n", len(vec))
			fmt.Fprintf(w, "duration:  %s\n", time.Since(start).Round(time.Millisecond))
			if !full {
				vec = vec[:min(len(vec), 8)]
			}
			fmt.Fprintf(w, "vector:    %v\n", vec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Print every vector component")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "coderag %s\n", version)
			fmt.Fprintf(w, "Build Time: %s\n", buildTime)
			fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
