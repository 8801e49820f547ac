// Package mcp exposes the code index over the Model Context Protocol.
//
// The server speaks JSON-RPC 2.0 on stdio and registers four tools:
//   - index_codebase: chunk, embed and store a source tree
//   - search_code: natural language search over the stored chunks
//   - parse_content: split assistant text into text and widget blocks
//   - get_status: store statistics and the outcome of the last run
//
// # Basic Usage
//
//	coderag serve
//
// # Tool: index_codebase
//
//	Request:
//	{
//	  "path": "/absolute/path/to/project",
//	  "wipe": true
//	}
//
//	Response:
//	{
//	  "path": "/absolute/path/to/project",
//	  "phase": "COMPLETED",
//	  "files_found": 42,
//	  "chunks_created": 318,
//	  "stored_count": 318,
//	  "chunk_breakdown": {"CLASS": 40, "METHOD": 210, "FUNCTION": 50, "TOP_LEVEL": 18},
//	  "duration_ms": 5234
//	}
//
// Only one index run proceeds at a time. A second request fails with
// ErrorCodeIndexingInProgress. Searches wait for a running index to finish
// because the store is closed and reopened around each run.
//
// # Tool: search_code
//
//	Request:
//	{
//	  "query": "load a user by id",
//	  "limit": 5,
//	  "rerank": false,
//	  "chunk_types": ["METHOD"],
//	  "file_pattern": "*/repository/*"
//	}
//
// Results are ordered by rank. Each carries the chunk location, its
// distance and relevance, and the chunk source without the context header.
//
// # Tool: parse_content
//
//	Request:  {"content": "Here you go: {\"type\":\"weather\", ...}"}
//	Response: [{"type":"text","text":"Here you go:"}, {"type":"weather", ...}]
//
// # Error Codes
//
//   - -32602: invalid params
//   - -32603: internal error
//   - -32002: indexing in progress
//   - -32003: not indexed or store unusable
//   - -32004: empty query
//   - -32005: indexing failed
package mcp
