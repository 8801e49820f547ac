package chunker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/coderag/internal/parser"
	"github.com/dshills/coderag/pkg/types"
)

const (
	// DefaultMaxTokens is the token estimate above which a chunk is split
	DefaultMaxTokens = 800

	// DefaultWindowLines is the window size used when splitting oversized chunks
	DefaultWindowLines = 60

	// DefaultOverlapLines is the number of lines consecutive windows share
	DefaultOverlapLines = 10
)

// ErrReadFile is returned when a source file cannot be read
var ErrReadFile = errors.New("failed to read file")

// errParse marks Go sources the AST parser rejected
var errParse = errors.New("parse error")

// Options controls chunk sizing
type Options struct {
	MaxTokens    int
	WindowLines  int
	OverlapLines int
}

// DefaultOptions returns the default chunk sizing
func DefaultOptions() Options {
	return Options{
		MaxTokens:    DefaultMaxTokens,
		WindowLines:  DefaultWindowLines,
		OverlapLines: DefaultOverlapLines,
	}
}

// Chunker creates semantic code chunks from source files
type Chunker struct {
	opts   Options
	parser *parser.Parser
}

// New creates a new Chunker with default options
func New() *Chunker {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions creates a Chunker; invalid values fall back to defaults
func NewWithOptions(opts Options) *Chunker {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.WindowLines <= 0 {
		opts.WindowLines = DefaultWindowLines
	}
	if opts.OverlapLines < 0 || opts.OverlapLines >= opts.WindowLines {
		opts.OverlapLines = 0
	}
	return &Chunker{
		opts:   opts,
		parser: parser.New(),
	}
}

// ChunkFile reads a source file and splits it into chunks labelled with path
func (c *Chunker) ChunkFile(path string) ([]types.Chunk, error) {
	return c.ChunkFileAs(path, path)
}

// ChunkFileAs reads the file at path and labels the chunks with displayPath,
// typically the path relative to the indexed root.
func (c *Chunker) ChunkFileAs(path, displayPath string) ([]types.Chunk, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrReadFile, path, err)
	}
	return c.ChunkSource(displayPath, content), nil
}

// ChunkSource splits source text into chunks in file order. It never fails:
// text without recognizable declarations, or whose structure cannot be
// resolved, becomes a single OTHER chunk covering the whole file.
func (c *Chunker) ChunkSource(path string, src []byte) []types.Chunk {
	if strings.TrimSpace(string(src)) == "" {
		return []types.Chunk{}
	}

	lines := splitLines(string(src))

	nodes, err := c.declarations(path, src, len(lines))
	if err != nil || len(nodes) == 0 {
		return c.wholeFile(path, lines)
	}

	return c.emit(path, lines, nodes)
}

// declarations locates the declaration tree for the file's language
func (c *Chunker) declarations(path string, src []byte, lineCount int) ([]*node, error) {
	lang := languageFor(path)
	if lang == nil {
		return nil, nil
	}

	if lang.UseGoParser {
		result := c.parser.ParseSource(path, src)
		if result.HasErrors() {
			return nil, errParse
		}
		nodes := make([]*node, 0, len(result.Declarations))
		for _, d := range result.Declarations {
			if d.StartLine < 1 || d.EndLine > lineCount || d.StartLine > d.EndLine {
				continue
			}
			nodes = append(nodes, &node{decl: d})
		}
		return nodes, nil
	}

	s, err := newScanner(lang, string(src), lineCount)
	if err != nil {
		return nil, err
	}
	return s.declarations(), nil
}

// emit turns the declaration tree into chunks and fills top-level gaps
func (c *Chunker) emit(path string, lines []string, nodes []*node) []types.Chunk {
	var chunks []types.Chunk

	covered := make([][2]int, 0, len(nodes))
	for _, n := range nodes {
		chunks = append(chunks, c.emitNode(path, lines, n)...)
		covered = append(covered, [2]int{n.decl.StartLine, n.decl.EndLine})
	}

	for _, seg := range uncovered(1, len(lines), covered) {
		chunks = append(chunks, c.segment(path, lines, seg, types.ChunkTopLevel, "", "", "")...)
	}

	if len(chunks) == 0 {
		return c.wholeFile(path, lines)
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].StartLine != chunks[j].StartLine {
			return chunks[i].StartLine < chunks[j].StartLine
		}
		return chunks[i].EndLine > chunks[j].EndLine
	})

	return chunks
}

// emitNode emits a declaration. Containers with members are emitted as
// their own non-member segments plus one chunk per member.
func (c *Chunker) emitNode(path string, lines []string, n *node) []types.Chunk {
	d := n.decl
	kind := d.Kind
	if kind == types.ChunkFunction && d.Parent != "" {
		kind = types.ChunkMethod
	}

	if len(n.children) == 0 {
		return c.build(path, lines, d.StartLine, d.EndLine, kind, d.Name, d.Parent, d.Signature)
	}

	var chunks []types.Chunk
	covered := make([][2]int, 0, len(n.children))
	for _, child := range n.children {
		chunks = append(chunks, c.emitNode(path, lines, child)...)
		covered = append(covered, [2]int{child.decl.StartLine, child.decl.EndLine})
	}

	for _, seg := range uncovered(d.StartLine, d.EndLine, covered) {
		chunks = append(chunks, c.segment(path, lines, seg, kind, d.Name, d.Parent, d.Signature)...)
	}

	return chunks
}

// segment emits a chunk for a gap range once blank edges are trimmed,
// skipping ranges that hold nothing but braces.
func (c *Chunker) segment(path string, lines []string, seg [2]int, kind types.ChunkType, name, parent, sig string) []types.Chunk {
	start, end := seg[0], seg[1]
	for start <= end && strings.TrimSpace(lines[start-1]) == "" {
		start++
	}
	for end >= start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if start > end || !meaningful(lines[start-1:end]) {
		return nil
	}
	return c.build(path, lines, start, end, kind, name, parent, sig)
}

// build creates the chunk for [start, end], splitting it into overlapping
// line windows when it exceeds the token budget.
func (c *Chunker) build(path string, lines []string, start, end int, kind types.ChunkType, name, parent, sig string) []types.Chunk {
	header := types.ContextHeader(path, parent)
	content := header + strings.Join(lines[start-1:end], "\n")

	window := c.opts.WindowLines
	if types.EstimateTokens(content) <= c.opts.MaxTokens || end-start+1 <= window {
		return []types.Chunk{newChunk(path, start, end, kind, name, parent, sig, content)}
	}

	base := name
	if base == "" {
		base = strings.ToLower(string(kind))
	}

	var chunks []types.Chunk
	step := window - c.opts.OverlapLines
	for part, from := 1, start; ; part, from = part+1, from+step {
		to := min(from+window-1, end)
		partContent := header + strings.Join(lines[from-1:to], "\n")
		partName := fmt.Sprintf("%s_part%d", base, part)
		chunks = append(chunks, newChunk(path, from, to, kind, partName, parent, sig, partContent))
		if to == end {
			break
		}
	}
	return chunks
}

// wholeFile returns the single OTHER chunk covering every line
func (c *Chunker) wholeFile(path string, lines []string) []types.Chunk {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return c.build(path, lines, 1, len(lines), types.ChunkOther, name, "", "")
}

func newChunk(path string, start, end int, kind types.ChunkType, name, parent, sig, content string) types.Chunk {
	return types.Chunk{
		FilePath:   path,
		StartLine:  start,
		EndLine:    end,
		ChunkType:  kind,
		Name:       name,
		ParentName: types.StringPtr(parent),
		Signature:  types.StringPtr(sig),
		Content:    content,
	}
}

// uncovered returns the sub-ranges of [from, to] not covered by the sorted,
// non-overlapping ranges in covered.
func uncovered(from, to int, covered [][2]int) [][2]int {
	var gaps [][2]int
	next := from
	for _, r := range covered {
		if r[0] > next {
			gaps = append(gaps, [2]int{next, min(r[0]-1, to)})
		}
		next = max(next, r[1]+1)
	}
	if next <= to {
		gaps = append(gaps, [2]int{next, to})
	}
	return gaps
}

// meaningful reports whether lines contain anything beyond braces and
// punctuation.
func meaningful(lines []string) bool {
	for _, l := range lines {
		if strings.Trim(l, " \t\r{}();,") != "" {
			return true
		}
	}
	return false
}

// splitLines splits text into lines; a trailing newline does not start a
// new line.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return types.EstimateTokens(text)
}
