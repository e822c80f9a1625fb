package engine

import (
	"fmt"
	"strings"
)

// exportSentinel replaces the `default` keyword of `export default`. It is
// exactly as long as "default" (identifier plus '='), so every byte offset of
// the rewritten text matches the original and no newline is introduced.
const exportSentinel = "$xport"

// maxNesting bounds how deeply brackets, template substitutions and
// right-nested operators may stack before the source reaches goja, whose
// recursive descent parser has no limit of its own. It sits far above any
// useful Policy.MaxDepth; the policy limit is enforced on the tree.
const maxNesting = 4096

// moduleSurface is the result of scanning the ES-module keywords that goja's
// script parser cannot handle.
type moduleSurface struct {
	text    string
	exports map[int]int // sentinel offset -> offset of the `export` keyword
}

type prevToken int

const (
	prevNone prevToken = iota
	prevValue
	prevOperator
	prevDot
	prevOpenBrace
	prevComma
	prevSemicolon
)

// keywords after which a slash starts a regular expression.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true,
}

type surfaceIssue struct {
	offset  int
	kind    NodeKind
	errKind ErrorKind
	msg     string
}

func (i *surfaceIssue) diagnostic() *Diagnostic {
	if i.errKind != "" {
		return newDiagnostic(i.errKind, "", "%s", i.msg)
	}
	return newDiagnostic(UnsupportedConstruct, i.kind.String(), "%s", i.msg)
}

type prescanner struct {
	src     string
	out     []byte
	pos     int
	depth   int
	tmpl    []int
	prev    prevToken
	newline bool
	// nest holds the open '(', '[', '{' and '$' (template substitution)
	// brackets, plus '?' and '=' for pending conditional and assignment
	// operands, whose right-hand sides goja also parses recursively.
	nest    []byte
	exports map[int]int
}

// prescan rewrites `export default` and rejects the other module keywords.
// It only needs to be good enough to find keywords outside strings,
// comments, templates and regular expressions; every security decision is
// taken later on the syntax tree.
func prescan(src string) (*moduleSurface, *surfaceIssue) {
	s := &prescanner{
		src:     src,
		out:     []byte(src),
		exports: make(map[int]int),
	}
	if issue := s.run(); issue != nil {
		return nil, issue
	}
	return &moduleSurface{text: string(s.out), exports: s.exports}, nil
}

func (s *prescanner) run() *surfaceIssue {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\n':
			s.newline = true
			if s.prev == prevValue {
				s.popOperators()
			}
			s.pos++
			continue
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			s.pos++
			continue
		case c == '/' && s.peek(1) == '/':
			s.skipLineComment()
			continue
		case c == '/' && s.peek(1) == '*':
			s.skipBlockComment()
			continue
		}
		issue := s.token(c)
		s.newline = false
		if issue != nil {
			return issue
		}
	}
	return nil
}

func (s *prescanner) token(c byte) *surfaceIssue {
	switch {
	case c == '\'' || c == '"':
		s.skipString(c)
		s.prev = prevValue
	case c == '`':
		s.pos++
		return s.scanTemplate()
	case c == '/':
		if s.prev == prevValue {
			s.pos++
			s.prev = prevOperator
		} else {
			s.skipRegExp()
			s.prev = prevValue
		}
	case isIdentStart(c):
		return s.word()
	case c >= '0' && c <= '9':
		s.skipNumber()
		s.prev = prevValue
	case c == '.':
		if s.peek(1) >= '0' && s.peek(1) <= '9' {
			s.skipNumber()
			s.prev = prevValue
		} else if strings.HasPrefix(s.src[s.pos:], "...") {
			s.pos += 3
			s.prev = prevOperator
		} else {
			s.pos++
			s.prev = prevDot
		}
	case c == '?' && s.peek(1) == '.' && !(s.peek(2) >= '0' && s.peek(2) <= '9'):
		s.pos += 2
		s.prev = prevDot
	case c == '?' && s.peek(1) == '?':
		s.pos += 2
		s.prev = prevOperator
	case c == '?':
		s.prev = prevOperator
		return s.open('?')
	case c == '=':
		return s.equals()
	case c == '(' || c == '[':
		s.prev = prevOperator
		return s.open(c)
	case c == '{':
		s.depth++
		s.prev = prevOpenBrace
		return s.open('{')
	case c == '}':
		s.pos++
		s.close()
		if n := len(s.tmpl); n > 0 && s.tmpl[n-1] == s.depth {
			s.tmpl = s.tmpl[:n-1]
			return s.scanTemplate()
		}
		s.depth--
		s.prev = prevValue
	case c == ')' || c == ']':
		s.pos++
		s.close()
		s.prev = prevValue
	case c == ',':
		s.pos++
		s.popOperators()
		s.prev = prevComma
	case c == ';':
		s.pos++
		s.popOperators()
		s.prev = prevSemicolon
	default:
		s.pos++
		s.prev = prevOperator
	}
	return nil
}

// equals tells assignments and arrows, which nest, from comparisons.
func (s *prescanner) equals() *surfaceIssue {
	if s.peek(1) == '=' {
		for s.pos < len(s.src) && s.src[s.pos] == '=' {
			s.pos++
		}
		s.prev = prevOperator
		return nil
	}
	s.prev = prevOperator
	if s.pos > 0 && strings.IndexByte("=!<>", s.src[s.pos-1]) >= 0 {
		s.pos++
		return nil
	}
	return s.open('=')
}

// open consumes the byte at pos and pushes c onto the nesting stack.
func (s *prescanner) open(c byte) *surfaceIssue {
	s.nest = append(s.nest, c)
	if len(s.nest) > maxNesting {
		return &surfaceIssue{offset: s.pos, errKind: InterpreterError,
			msg: fmt.Sprintf("maximum nesting depth of %d exceeded", maxNesting)}
	}
	s.pos++
	return nil
}

func (s *prescanner) close() {
	s.popOperators()
	if n := len(s.nest); n > 0 {
		s.nest = s.nest[:n-1]
	}
}

func (s *prescanner) popOperators() {
	n := len(s.nest)
	for n > 0 && (s.nest[n-1] == '?' || s.nest[n-1] == '=') {
		n--
	}
	s.nest = s.nest[:n]
}

// atStatementStart reports whether the next token begins a top-level
// statement.
func (s *prescanner) atStatementStart(prev prevToken) bool {
	if len(s.nest) > 0 {
		return false
	}
	return prev == prevNone || prev == prevSemicolon || (prev == prevValue && s.newline)
}

func (s *prescanner) peek(n int) byte {
	if s.pos+n < len(s.src) {
		return s.src[s.pos+n]
	}
	return 0
}

func (s *prescanner) skipLineComment() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.pos++
	}
}

func (s *prescanner) skipBlockComment() {
	end := strings.Index(s.src[s.pos+2:], "*/")
	if end < 0 {
		s.pos = len(s.src)
		return
	}
	s.pos += end + 4
}

func (s *prescanner) skipString(quote byte) {
	s.pos++
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
			continue
		case quote:
			s.pos++
			return
		case '\n':
			return
		}
		s.pos++
	}
}

// scanTemplate consumes template text up to the closing backtick, or up to a
// `${`, in which case the substitution's brace depth is pushed.
func (s *prescanner) scanTemplate() *surfaceIssue {
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
			continue
		case '`':
			s.pos++
			s.prev = prevValue
			return nil
		case '$':
			if s.peek(1) == '{' {
				s.pos++
				s.tmpl = append(s.tmpl, s.depth)
				s.prev = prevOperator
				return s.open('$')
			}
		}
		s.pos++
	}
	return nil
}

func (s *prescanner) skipRegExp() {
	s.pos++
	inClass := false
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\\':
			s.pos += 2
			continue
		case c == '\n':
			return
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			s.pos++
			for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
				s.pos++
			}
			return
		}
		s.pos++
	}
}

func (s *prescanner) skipNumber() {
	for s.pos < len(s.src) && (isIdentPart(s.src[s.pos]) || s.src[s.pos] == '.') {
		s.pos++
	}
}

func (s *prescanner) readWord(at int) (string, int) {
	end := at
	for end < len(s.src) && isIdentPart(s.src[end]) {
		end++
	}
	return s.src[at:end], end
}

// nextSignificant returns the offset of the next byte that is neither
// whitespace nor part of a comment.
func (s *prescanner) nextSignificant(at int) int {
	for at < len(s.src) {
		c := s.src[at]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			at++
		case c == '/' && at+1 < len(s.src) && s.src[at+1] == '/':
			for at < len(s.src) && s.src[at] != '\n' {
				at++
			}
		case c == '/' && at+1 < len(s.src) && s.src[at+1] == '*':
			end := strings.Index(s.src[at+2:], "*/")
			if end < 0 {
				return len(s.src)
			}
			at += end + 4
		default:
			return at
		}
	}
	return at
}

func (s *prescanner) word() *surfaceIssue {
	start := s.pos
	w, end := s.readWord(start)
	s.pos = end

	prev := s.prev
	s.prev = prevValue
	if regexKeywords[w] {
		s.prev = prevOperator
	}
	if prev == prevDot {
		return nil
	}
	next := s.nextSignificant(end)
	if next < len(s.src) && s.src[next] == ':' && (prev == prevOpenBrace || prev == prevComma) {
		// object key such as `{ import: 1 }`
		return nil
	}

	switch w {
	case "export":
		if nw, nend := s.readWord(next); nw == "default" {
			if !s.atStatementStart(prev) {
				return &surfaceIssue{offset: start, errKind: ParseError,
					msg: "export default must be a top-level statement"}
			}
			for i := start; i < end; i++ {
				s.out[i] = ' '
			}
			copy(s.out[next:nend], exportSentinel+"=")
			s.exports[next] = start
			s.pos = nend
			s.prev = prevOperator
			return nil
		}
		return &surfaceIssue{offset: start, kind: KindExportNamedDeclaration,
			msg: "named exports and re-exports are not allowed; use export default"}
	case "import":
		if next < len(s.src) && (s.src[next] == '(' || s.src[next] == '.') {
			return &surfaceIssue{offset: start, kind: KindImportExpression,
				msg: "dynamic import is not allowed"}
		}
		return &surfaceIssue{offset: start, kind: KindImportDeclaration,
			msg: "import declarations are not allowed; builder functions are provided globally"}
	case "await":
		return &surfaceIssue{offset: start, kind: KindAwaitExpression,
			msg: "await is not allowed; workflow code is evaluated synchronously"}
	case "yield":
		return &surfaceIssue{offset: start, kind: KindYieldExpression,
			msg: "yield is not allowed"}
	}
	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
