package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/coderag/internal/content"
	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/searcher"
	"github.com/dshills/coderag/internal/storage"
	"github.com/dshills/coderag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Nothing has been indexed yet
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeIndexingFailed     = -32005 // The run ended in the FAILED phase
)

// maxReportedFailures caps the failed files listed in an index response
const maxReportedFailures = 5

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	if !s.lock.TryAcquire() {
		return nil, newMCPError(ErrorCodeIndexingInProgress, indexer.ErrIndexInProgress.Error(), nil)
	}
	defer s.lock.Release()

	target := s.target
	target.WipeOnInit = getBoolDefault(args, "wipe", s.target.WipeOnInit)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The run opens its own handle, possibly wiping the schema
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close store before indexing", "error", err)
		}
		s.store = nil
	}

	result, err := s.indexer.Index(ctx, path, target, func(p indexer.Progress) {
		s.logger.Debug("index progress", "phase", p.Phase, "current", p.Current, "total", p.Total, "message", p.Message)
	})

	if rerr := s.reopen(context.WithoutCancel(ctx)); rerr != nil {
		s.logger.Error("failed to reopen store after indexing", "error", rerr)
	}
	s.searcher.Invalidate()

	if errors.Is(err, indexer.ErrIndexInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, err.Error(), nil)
	}
	if result != nil {
		s.last = &lastRun{root: path, finished: time.Now(), result: result}
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeIndexingFailed, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(resultJSON(path, result))), nil
}

func resultJSON(root string, result *indexer.Result) map[string]interface{} {
	breakdown := make(map[string]int, len(result.ChunkBreakdown))
	for t, n := range result.ChunkBreakdown {
		breakdown[string(t)] = n
	}

	response := map[string]interface{}{
		"path":            root,
		"phase":           result.Phase,
		"files_found":     result.FilesFound,
		"chunks_created":  result.ChunksCreated,
		"stored_count":    result.StoredCount,
		"chunk_breakdown": breakdown,
		"duration_ms":     result.Duration.Milliseconds(),
	}
	if result.Error != "" {
		response["error"] = result.Error
	}

	if n := len(result.FailedFiles); n > 0 {
		shown := result.FailedFiles[:min(n, maxReportedFailures)]
		failures := make([]map[string]string, len(shown))
		for i, f := range shown {
			failures[i] = map[string]string{"path": f.Path, "error": f.Error}
		}
		response["failed_files"] = failures
		response["failed_count"] = n
	}
	return response
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	filters, err := parseFilters(args)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid chunk_types", map[string]interface{}{
			"param":   "chunk_types",
			"reason":  err.Error(),
			"allowed": chunkTypeNames,
		})
	}

	req := searcher.Request{
		Query:   query,
		Limit:   getIntDefault(args, "limit", 0),
		Rerank:  getBoolDefault(args, "rerank", false),
		Filters: filters,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	resp, err := s.searcher.Search(ctx, req)
	switch {
	case errors.Is(err, searcher.ErrEmptyQuery):
		return nil, newMCPError(ErrorCodeEmptyQuery, err.Error(), nil)
	case errors.Is(err, searcher.ErrInvalidLimit):
		return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), map[string]interface{}{"param": "limit"})
	case errors.Is(err, searcher.ErrNoStore):
		return nil, newMCPError(ErrorCodeNotIndexed, "no index available; use index_codebase first", nil)
	case errors.Is(err, storage.ErrDimensionMismatch):
		return nil, newMCPError(ErrorCodeNotIndexed, "index was built with a different embedding model; re-index", map[string]interface{}{
			"error": err.Error(),
		})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = searchResultJSON(r)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"query":       query,
		"results":     results,
		"total":       len(results),
		"reranked":    resp.Reranked,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	})), nil
}

func searchResultJSON(r types.SearchResult) map[string]interface{} {
	out := map[string]interface{}{
		"rank":       r.Rank,
		"id":         r.ID,
		"name":       r.Chunk.Name,
		"chunk_type": r.Chunk.ChunkType,
		"file":       r.Chunk.FilePath,
		"start_line": r.Chunk.StartLine,
		"end_line":   r.Chunk.EndLine,
		"distance":   r.Distance,
		"relevance":  r.RelevanceScore,
		"content":    r.Chunk.Source(),
	}
	if r.Chunk.Signature != nil {
		out["signature"] = *r.Chunk.Signature
	}
	if r.Chunk.ParentName != nil {
		out["parent"] = *r.Chunk.ParentName
	}
	return out
}

// parseFilters builds search filters from the optional arguments
func parseFilters(args map[string]interface{}) (*storage.SearchFilters, error) {
	filters := &storage.SearchFilters{
		FilePattern:  getStringDefault(args, "file_pattern", ""),
		NameContains: getStringDefault(args, "name_contains", ""),
	}

	if raw, ok := args["chunk_types"].([]interface{}); ok {
		for _, v := range raw {
			name, ok := v.(string)
			t := types.ChunkType(name)
			if !ok || !t.Valid() {
				return nil, fmt.Errorf("unknown chunk type %v", v)
			}
			filters.ChunkTypes = append(filters.ChunkTypes, t)
		}
	}

	if len(filters.ChunkTypes) == 0 && filters.FilePattern == "" && filters.NameContains == "" {
		return nil, nil
	}
	return filters, nil
}

// handleParseContent handles the parse_content tool invocation
func (s *Server) handleParseContent(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	text, ok := args["content"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "content parameter is required", map[string]interface{}{
			"param":  "content",
			"reason": "missing or not a string",
		})
	}

	out, err := content.MarshalBlocks(s.parser.Parse(text))
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to encode blocks", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(string(out)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.lock.Held() || s.indexer.Running() || !s.mu.TryRLock() {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"indexing": true,
			"store":    s.target.Path,
		})), nil
	}
	defer s.mu.RUnlock()

	response := map[string]interface{}{
		"indexing": false,
		"store":    s.target.Path,
	}

	if s.store == nil {
		response["indexed"] = false
		response["message"] = "Store unavailable. Use index_codebase to rebuild it."
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	status, err := s.store.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	byType := make(map[string]int, len(status.ByType))
	for t, n := range status.ByType {
		byType[string(t)] = n
	}

	response["indexed"] = status.Count > 0
	response["statistics"] = map[string]interface{}{
		"chunks_count":   status.Count,
		"dimension":      status.Dimension,
		"chunks_by_type": byType,
		"schema_version": status.SchemaVersion,
		"driver":         status.Driver,
		"build_mode":     status.BuildMode,
	}
	if status.Count == 0 {
		response["message"] = "Nothing indexed. Use index_codebase tool to index a repository."
	}

	if s.last != nil {
		last := resultJSON(s.last.root, s.last.result)
		last["finished_at"] = s.last.finished.Format(time.RFC3339)
		response["last_run"] = last
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
