package content

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// typeField finds "type": "<tag>" pairs anywhere in a candidate's raw text
var typeField = regexp.MustCompile(`"type"\s*:\s*"([^"\\]*)"`)

// Parser splits text into Text blocks and registered widget blocks
type Parser struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
	logger   *slog.Logger
}

// Option configures a Parser
type Option func(*Parser)

// WithLogger sets the logger used to report candidates that failed to decode
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewParser returns a parser that recognizes the weather and bike widgets
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		decoders: map[string]DecodeFunc{
			TypeWeather: DecodeWeather,
			TypeBike:    DecodeBike,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds or replaces the decoder for tag
func (p *Parser) Register(tag string, fn DecodeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decoders[tag] = fn
}

// Tags returns the registered widget tags
func (p *Parser) Tags() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tags := make([]string, 0, len(p.decoders))
	for tag := range p.decoders {
		tags = append(tags, tag)
	}
	return tags
}

// Parse splits content into an ordered, non-empty sequence of blocks.
//
// Balanced-brace objects whose text carries a registered "type" tag become
// widgets when they decode, or Text holding the trimmed object when they
// don't. Text around them is trimmed and dropped when blank. When there is
// no candidate at all the input is returned verbatim as one Text block.
func (p *Parser) Parse(content string) []Block {
	spans := p.candidates(content)
	if len(spans) == 0 {
		return []Block{Text{Text: content}}
	}

	blocks := make([]Block, 0, 2*len(spans)+1)
	last := 0
	for _, sp := range spans {
		if before := strings.TrimSpace(content[last:sp.start]); before != "" {
			blocks = append(blocks, Text{Text: before})
		}
		blocks = append(blocks, p.decode(content[sp.start:sp.end]))
		last = sp.end
	}
	if after := strings.TrimSpace(content[last:]); after != "" {
		blocks = append(blocks, Text{Text: after})
	}

	return blocks
}

// decode turns one candidate into a widget, falling back to Text
func (p *Parser) decode(raw string) Block {
	block, err := p.decodeWidget(raw)
	if err != nil {
		p.logger.Debug("widget kept as text", "error", err)
		return Text{Text: strings.TrimSpace(raw)}
	}
	return block
}

func (p *Parser) decodeWidget(raw string) (Block, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}

	p.mu.RLock()
	fn, ok := p.decoders[head.Type]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrSchemaMismatch, head.Type)
	}
	return fn([]byte(raw))
}

type span struct {
	start, end int // [start, end) byte offsets
}

// candidates scans left to right for balanced-brace objects. Braces inside
// quoted strings, including escaped quotes, do not count. A matched object
// is skipped as a whole, so objects nested in it are never candidates on
// their own. An unbalanced '{' consumes the rest of the input.
func (p *Parser) candidates(content string) []span {
	var spans []span

	i := 0
	for i < len(content) {
		if content[i] != '{' {
			i++
			continue
		}

		start := i
		depth := 1
		inString, escape := false, false
		i++

		for i < len(content) && depth > 0 {
			c := content[i]
			switch {
			case escape:
				escape = false
			case c == '\\' && inString:
				escape = true
			case c == '"':
				inString = !inString
			case !inString && c == '{':
				depth++
			case !inString && c == '}':
				depth--
			}
			i++
		}

		if depth == 0 && p.tagged(content[start:i]) {
			spans = append(spans, span{start: start, end: i})
		}
	}

	return spans
}

// tagged reports whether raw mentions a registered type tag
func (p *Parser) tagged(raw string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range typeField.FindAllStringSubmatch(raw, -1) {
		if _, ok := p.decoders[m[1]]; ok {
			return true
		}
	}
	return false
}

var defaultParser = NewParser()

// Parse splits content using the default parser
func Parse(content string) []Block {
	return defaultParser.Parse(content)
}

// Register adds a decoder to the default parser
func Register(tag string, fn DecodeFunc) {
	defaultParser.Register(tag, fn)
}
