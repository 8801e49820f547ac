package chunker

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/coderag/pkg/types"
)

// errUnbalancedBraces marks source whose structure cannot be trusted.
var errUnbalancedBraces = errors.New("unbalanced braces")

const (
	modifierPattern = `(?:public|private|protected|internal|open|abstract|sealed|data|inner|enum|annotation|` +
		`companion|override|suspend|inline|tailrec|operator|infix|external|static|final|const|lateinit|` +
		`export|default|async|pub(?:\([\w\s:]+\))?|unsafe|extern|virtual|readonly|partial|fileprivate|` +
		`mutating|actual|expect|value|native|synchronized|strictfp|declare|new|case|implicit|lazy|` +
		`required|convenience|noinline|crossinline|reified)`

	annotationPattern = `(?:@[\w.]+(?:\([^)]*\))?\s+)*`

	// declPrefix captures the modifier list as group 1
	declPrefix = `^\s*` + annotationPattern + `((?:` + modifierPattern + `\s+)*)`
)

var (
	companionRe = regexp.MustCompile(declPrefix + `companion\s+object(?:\s+([A-Za-z_]\w*))?`)
	implRe      = regexp.MustCompile(declPrefix + `impl(?:\s*<[^{]*?>)?\s+([\w:]+)(?:<[^{]*?>)?(?:\s+for\s+([\w:]+))?`)
	classRe     = regexp.MustCompile(declPrefix +
		`(?:class|interface|object|struct|trait|record|protocol|extension|enum|union)\s+([A-Za-z_$][\w$]*)`)
	namespaceRe = regexp.MustCompile(declPrefix + `(?:namespace|module|mod)\s+([\w.]+)\s*\{`)
	funcRe      = regexp.MustCompile(declPrefix + `(?:(?:fun|func|fn|def)\b|function\b\s*\*?)\s*(?:<[^>]*>\s*)?` +
		`((?:[A-Za-z_$][\w$]*(?:<[^>]*>)?\??\.)*[A-Za-z_$][\w$]*)\s*[(<\[:=]`)
	initRe   = regexp.MustCompile(declPrefix + `(init|constructor|deinit)\s*[?!]?\s*[(<{]`)
	methodRe = regexp.MustCompile(declPrefix + `(?:<[^>]*>\s*)?(?:([\w$.?]+(?:<[^()]*?>)?(?:\[\])*\??)\s+)?` +
		`([A-Za-z_$][\w$]*)\s*(?:<[^>]*>)?\s*\(`)
	arrowRe = regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*` +
		`(?::[^=]+)?=\s*(?:async\s+)?(?:function\b|\([^)]*\)\s*(?::[^=]*)?=>|[A-Za-z_$][\w$]*\s*=>)`)
)

// notMethodNames are words that look like a method head but start statements.
var notMethodNames = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true, "return": true,
	"new": true, "else": true, "throw": true, "do": true, "try": true, "synchronized": true,
	"using": true, "lock": true, "foreach": true, "when": true, "with": true, "super": true,
	"this": true, "await": true, "yield": true, "typeof": true, "sizeof": true, "case": true,
}

var (
	continuationSuffixes = []string{",", "(", "[", "=", ":", "->", "=>", ".", "+", "-", "*", "&&", "||", "?", "|", "&"}
	continuationPrefixes = []string{"{", ":", ".", "?.", "?:", "=", "->", "=>", "where", "throws", "extends",
		"implements", "&&", "||", "+", "|", ")", "]", "with ", "?"}
)

// node is a located declaration and, for class-like containers, its members.
type node struct {
	decl     types.Declaration
	children []*node
}

// declMatch is a declaration head recognized on one line.
type declMatch struct {
	name      string
	kind      types.ChunkType
	container bool // members are scanned inside the body
	namespace bool // transparent container, not emitted itself
}

// extent is the resolved span of a declaration.
type extent struct {
	end   int // 0-based line index
	open  int // byte offset of the body brace, -1 when there is no block body
	close int
}

// scanner locates declarations in brace-delimited languages. It works on a
// masked copy of the source in which string literals and comments are
// blanked out so braces inside them never affect structure.
type scanner struct {
	lang      *language
	src       string
	masked    string
	lineStart []int
	depthAt   []int
	match     map[int]int
}

func newScanner(lang *language, src string, lineCount int) (*scanner, error) {
	s := &scanner{
		lang:      lang,
		src:       src,
		masked:    maskSource(src, lang),
		lineStart: make([]int, 0, lineCount),
		depthAt:   make([]int, lineCount),
		match:     make(map[int]int),
	}

	s.lineStart = append(s.lineStart, 0)
	var stack []int
	line := 0
	for i := 0; i < len(s.masked); i++ {
		switch s.masked[i] {
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) == 0 {
				return nil, errUnbalancedBraces
			}
			s.match[stack[len(stack)-1]] = i
			stack = stack[:len(stack)-1]
		case '\n':
			line++
			if line < lineCount {
				s.lineStart = append(s.lineStart, i+1)
				s.depthAt[line] = len(stack)
			}
		}
	}
	if len(stack) > 0 {
		return nil, errUnbalancedBraces
	}

	return s, nil
}

// declarations returns the top-level declaration tree of the file.
func (s *scanner) declarations() []*node {
	return s.scan(0, len(s.lineStart)-1, 0, nil)
}

// scan finds declarations whose first line starts at the given brace depth
// within lines [from, to].
func (s *scanner) scan(from, to, depth int, container *node) []*node {
	var out []*node
	floor := from

	for i := from; i <= to; i++ {
		if s.depthAt[i] != depth {
			continue
		}
		m, ok := s.matchDecl(i, container)
		if !ok {
			continue
		}

		ext := s.extent(i)
		end := min(ext.end, to)
		start := s.backtrack(i, floor)

		n := &node{decl: types.Declaration{
			Name:      m.name,
			Kind:      m.kind,
			Signature: s.signature(i),
			StartLine: start + 1,
			EndLine:   end + 1,
		}}
		if container != nil {
			n.decl.Parent = container.decl.Name
		}

		var children []*node
		if m.container && ext.open >= 0 {
			parent := n
			if m.namespace {
				parent = container
			}
			children = s.scan(s.lineOf(ext.open)+1, s.lineOf(ext.close), depth+1, parent)
		}

		if m.namespace {
			out = append(out, children...)
		} else {
			n.children = children
			out = append(out, n)
		}

		floor = end + 1
		i = end
	}

	return out
}

// matchDecl recognizes a declaration head on line i.
func (s *scanner) matchDecl(i int, container *node) (declMatch, bool) {
	line := s.maskedLine(i)
	inClass := container != nil

	if inClass {
		if m := companionRe.FindStringSubmatch(line); m != nil {
			name := m[2]
			if name == "" {
				name = "Companion"
			}
			return declMatch{name: name, kind: types.ChunkClass, container: true}, true
		}
	}
	if m := implRe.FindStringSubmatch(line); m != nil {
		name := m[2]
		if m[3] != "" {
			name = m[3]
		}
		if idx := strings.LastIndex(name, "::"); idx >= 0 {
			name = name[idx+2:]
		}
		return declMatch{name: name, kind: types.ChunkClass, container: true}, true
	}
	if m := classRe.FindStringSubmatch(line); m != nil {
		return declMatch{name: m[2], kind: types.ChunkClass, container: true}, true
	}
	if !inClass {
		if m := namespaceRe.FindStringSubmatch(line); m != nil {
			return declMatch{name: m[2], container: true, namespace: true}, true
		}
	}
	if m := funcRe.FindStringSubmatch(line); m != nil {
		name := m[2]
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		return declMatch{name: name, kind: types.ChunkFunction}, true
	}

	if inClass {
		if m := initRe.FindStringSubmatch(line); m != nil {
			return declMatch{name: m[2], kind: types.ChunkFunction}, true
		}
		if s.lang.MethodHeads {
			if m := methodRe.FindStringSubmatch(line); m != nil && s.isMethodHead(m, container) {
				return declMatch{name: m[3], kind: types.ChunkFunction}, true
			}
		}
		return declMatch{}, false
	}

	if s.lang.ArrowFunctions {
		if m := arrowRe.FindStringSubmatch(line); m != nil {
			return declMatch{name: m[1], kind: types.ChunkFunction}, true
		}
	}

	return declMatch{}, false
}

// isMethodHead filters keyword-less member matches. Modifiers, a return
// type or a constructor name are required unless the language allows bare
// heads.
func (s *scanner) isMethodHead(m []string, container *node) bool {
	mods, typ, name := m[1], m[2], m[3]
	if notMethodNames[name] || notMethodNames[typ] {
		return false
	}
	if s.lang.BareMethodHeads {
		return true
	}
	return strings.TrimSpace(mods) != "" || typ != "" || name == container.decl.Name
}

// extent resolves where the declaration starting on line i ends.
func (s *scanner) extent(i int) extent {
	pos := s.lineStart[i]
	paren := 0
	inExpr := false

	for pos < len(s.masked) {
		switch s.masked[pos] {
		case '(', '[':
			paren++
		case ')', ']':
			if paren == 0 {
				return extent{end: s.lastCodeLine(pos, i), open: -1}
			}
			paren--
		case '{':
			closeAt := s.match[pos]
			if paren == 0 && !inExpr {
				return extent{end: s.lineOf(closeAt), open: pos, close: closeAt}
			}
			pos = closeAt
		case '}':
			// Only reachable for the enclosing container's closing brace.
			return extent{end: s.lastCodeLine(pos, i), open: -1}
		case ';':
			if paren == 0 {
				return extent{end: s.lineOf(pos), open: -1}
			}
		case '=':
			if paren == 0 && s.isAssignment(pos) {
				inExpr = true
			}
		case '\n':
			if paren == 0 && !s.continues(s.lineOf(pos), i) {
				return extent{end: s.lineOf(pos), open: -1}
			}
		}
		pos++
	}

	return extent{end: s.lastCodeLine(len(s.masked), i), open: -1}
}

// isAssignment reports whether the '=' at pos starts an expression body
// rather than being part of a comparison or compound operator.
func (s *scanner) isAssignment(pos int) bool {
	if pos+1 < len(s.masked) && s.masked[pos+1] == '=' {
		return false
	}
	if pos > 0 && strings.IndexByte("=!<>+-*/%&|^:?", s.masked[pos-1]) >= 0 {
		return false
	}
	return true
}

// continues reports whether the declaration keeps going after line.
func (s *scanner) continues(line, declLine int) bool {
	cur := ""
	for l := line; l >= declLine; l-- {
		if cur = strings.TrimSpace(s.maskedLine(l)); cur != "" {
			break
		}
	}
	for _, suf := range continuationSuffixes {
		if strings.HasSuffix(cur, suf) {
			return true
		}
	}

	for n := line + 1; n < len(s.lineStart); n++ {
		next := strings.TrimSpace(s.maskedLine(n))
		if next == "" {
			continue
		}
		for _, pre := range continuationPrefixes {
			if strings.HasPrefix(next, pre) {
				return true
			}
		}
		return false
	}
	return false
}

// backtrack walks up from line over doc comments and annotations, never
// past floor.
func (s *scanner) backtrack(line, floor int) int {
	start := line
	for j := line - 1; j >= floor; j-- {
		if !isDocOrAnnotation(strings.TrimSpace(s.srcLine(j))) {
			break
		}
		start = j
	}
	return start
}

func isDocOrAnnotation(t string) bool {
	switch {
	case t == "":
		return false
	case strings.HasPrefix(t, "//"), strings.HasPrefix(t, "/*"), strings.HasPrefix(t, "*"):
		return true
	case strings.HasPrefix(t, "@"), strings.HasPrefix(t, "#["):
		return true
	case strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]"):
		return true
	}
	return false
}

// signature returns the declaration's first line up to its body brace.
func (s *scanner) signature(line int) string {
	src := s.srcLine(line)
	if idx := strings.IndexByte(s.maskedLine(line), '{'); idx >= 0 && idx <= len(src) {
		src = src[:idx]
	}
	return strings.TrimSpace(src)
}

// lastCodeLine returns the line of the last non-space byte before pos,
// but never earlier than minLine.
func (s *scanner) lastCodeLine(pos, minLine int) int {
	k := pos - 1
	for k >= 0 && isSpace(s.masked[k]) {
		k--
	}
	if k < 0 {
		return minLine
	}
	return max(s.lineOf(k), minLine)
}

func (s *scanner) lineOf(offset int) int {
	return sort.Search(len(s.lineStart), func(i int) bool { return s.lineStart[i] > offset }) - 1
}

func (s *scanner) lineBounds(i int) (int, int) {
	start := s.lineStart[i]
	end := len(s.src)
	if i+1 < len(s.lineStart) {
		end = s.lineStart[i+1] - 1
	} else if strings.HasSuffix(s.src, "\n") {
		end--
	}
	return start, end
}

func (s *scanner) maskedLine(i int) string {
	start, end := s.lineBounds(i)
	return s.masked[start:end]
}

func (s *scanner) srcLine(i int) string {
	start, end := s.lineBounds(i)
	return s.src[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// maskSource blanks comments and string literals with spaces, keeping
// newlines and byte offsets intact.
func maskSource(src string, lang *language) string {
	out := []byte(src)
	blank := func(from, to int) {
		for k := from; k < to && k < len(out); k++ {
			if out[k] != '\n' {
				out[k] = ' '
			}
		}
	}

	i := 0
	for i < len(src) {
		rest := src[i:]
		switch {
		case strings.HasPrefix(rest, "//"):
			j := strings.IndexByte(rest, '\n')
			if j < 0 {
				j = len(rest)
			}
			blank(i, i+j)
			i += j
		case strings.HasPrefix(rest, "/*"):
			j := strings.Index(rest[2:], "*/")
			end := len(src)
			if j >= 0 {
				end = i + 2 + j + 2
			}
			blank(i, end)
			i = end
		case lang.TripleQuotes && strings.HasPrefix(rest, `"""`):
			j := strings.Index(rest[3:], `"""`)
			end := len(src)
			if j >= 0 {
				end = i + 3 + j + 3
			}
			blank(i, end)
			i = end
		case rest[0] == '"',
			lang.SingleQuoteStrings && rest[0] == '\'',
			lang.BacktickStrings && rest[0] == '`':
			end := i + closeQuote(rest)
			blank(i, end)
			i = end
		case lang.CharLiterals && rest[0] == '\'':
			if n := charLiteralLen(rest); n > 0 {
				blank(i, i+n)
				i += n
			} else {
				i++
			}
		default:
			i++
		}
	}

	return string(out)
}

// closeQuote returns the length of the quoted literal at the start of s.
// Ordinary strings stop at the end of the line so an unterminated quote
// cannot swallow the rest of the file.
func closeQuote(s string) int {
	q := s[0]
	for k := 1; k < len(s); k++ {
		switch c := s[k]; {
		case c == '\\':
			k++
		case c == q:
			return k + 1
		case c == '\n' && q != '`':
			return k
		}
	}
	return len(s)
}

// charLiteralLen returns the length of a char literal such as 'a' or '\n'
// at the start of s, or 0 when the quote is a lifetime or label.
func charLiteralLen(s string) int {
	if len(s) >= 2 && s[1] == '\\' {
		for k := 2; k < len(s) && k < 12; k++ {
			if s[k] == '\'' {
				return k + 1
			}
			if s[k] == '\n' {
				return 0
			}
		}
		return 0
	}
	for k := 2; k < len(s) && k <= 5; k++ {
		if s[k] == '\'' {
			return k + 1
		}
	}
	return 0
}
