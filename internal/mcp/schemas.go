package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/coderag/pkg/types"
)

var chunkTypeNames = []string{
	string(types.ChunkFunction),
	string(types.ChunkMethod),
	string(types.ChunkClass),
	string(types.ChunkTopLevel),
	string(types.ChunkOther),
}

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Index a source repository so it can be searched semantically",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository root",
				},
				"wipe": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, clear the existing index before storing (full rebuild). Defaults to the server setting",
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool(defaultLimit, maxLimit int) mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed code with a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What to look for, e.g. 'where are users loaded from the API'",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     defaultLimit,
					"minimum":     1,
					"maximum":     maxLimit,
				},
				"rerank": map[string]interface{}{
					"type":        "boolean",
					"description": "If true and a reranker is configured, reorder candidates by reranker relevance",
					"default":     false,
				},
				"chunk_types": map[string]interface{}{
					"type":        "array",
					"description": "Only return chunks of these kinds",
					"items": map[string]interface{}{
						"type": "string",
						"enum": chunkTypeNames,
					},
				},
				"file_pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob over indexed file paths (e.g., '*/data/*.kt')",
				},
				"name_contains": map[string]interface{}{
					"type":        "string",
					"description": "Only return declarations whose name contains this text",
				},
			},
			Required: []string{"query"},
		},
	}
}

// parseContentTool returns the tool definition for parse_content
func parseContentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "parse_content",
		Description: "Split model output into text and structured widget blocks (weather, bike)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Text that may embed widget JSON objects",
				},
			},
			Required: []string{"content"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and the outcome of the last indexing run",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
