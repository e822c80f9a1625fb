package engine

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
)

// The source is parsed as the body of a function so that the rewritten
// `export default` and a top-level `return` are both legal for goja. The
// prefix ends with a newline so columns on the first line are unchanged.
const (
	wrapPrefix = "(function(){\n"
	wrapSuffix = "\n})"
)

// Program is a parsed, immutable script. It is safe to share between
// goroutines and interpreter runs.
type Program struct {
	Filename string
	Source   string
	Body     []ast.Statement

	exports    map[int]int
	lineStarts []int
}

type ScriptCache struct {
	mu    sync.RWMutex
	files map[string]*CachedScript
}

type CachedScript struct {
	Program *Program
	ModTime time.Time
}

var GlobalCache = &ScriptCache{files: make(map[string]*CachedScript)}

// LoadScript reads and parses a script file, or returns the cached program
// if the file has not changed since it was last parsed.
func LoadScript(path string) (*Program, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	GlobalCache.mu.RLock()
	cached, exists := GlobalCache.files[path]
	GlobalCache.mu.RUnlock()

	if exists && cached.ModTime.Equal(info.ModTime()) {
		return cached.Program, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	prog, err := ParseNamed(path, string(data))
	if err != nil {
		return nil, err
	}

	GlobalCache.mu.Lock()
	GlobalCache.files[path] = &CachedScript{Program: prog, ModTime: info.ModTime()}
	GlobalCache.mu.Unlock()

	return prog, nil
}

// Forget drops every cached program.
func (c *ScriptCache) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = make(map[string]*CachedScript)
}

// ParseString parses workflow code that is not backed by a file.
func ParseString(src string) (*Program, error) {
	return ParseNamed("", src)
}

// ParseNamed parses src as a self-contained module. The first lexical or
// syntax error aborts the parse.
func ParseNamed(filename, src string) (*Program, error) {
	prog := &Program{
		Filename:   filename,
		Source:     src,
		lineStarts: lineStarts(src),
	}

	surface, issue := prescan(src)
	if issue != nil {
		return nil, prog.locateOffset(issue.diagnostic(), issue.offset)
	}
	prog.exports = surface.exports

	wrapped := wrapPrefix + surface.text + wrapSuffix
	tree, err := parser.ParseFile(nil, filename, wrapped, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return nil, prog.syntaxError(err)
	}

	body, err := prog.unwrap(tree, len(wrapped))
	if err != nil {
		return nil, err
	}
	prog.Body = body
	return prog, nil
}

// unwrap extracts the function body and makes sure the source did not close
// the wrapper early to smuggle statements outside of it.
func (p *Program) unwrap(tree *ast.Program, wrappedLen int) ([]ast.Statement, error) {
	var fn *ast.FunctionLiteral
	if len(tree.Body) > 0 {
		fn = firstFunction(tree.Body[0])
	}
	if fn == nil || fn.Body == nil {
		return nil, p.errorAtOffset(ParseError, "", 0, "unexpected program structure")
	}
	if len(tree.Body) == 1 && int(fn.Body.RightBrace)-1 == wrappedLen-2 {
		return fn.Body.List, nil
	}
	return nil, p.errorAtOffset(ParseError, "", p.Offset(fn.Body.RightBrace), "Unexpected token }")
}

func firstFunction(stmt ast.Statement) *ast.FunctionLiteral {
	if es, ok := stmt.(*ast.ExpressionStatement); ok {
		if fn, ok := es.Expression.(*ast.FunctionLiteral); ok {
			return fn
		}
	}
	return nil
}

func (p *Program) syntaxError(err error) *Diagnostic {
	var (
		line, col int
		msg       = err.Error()
	)
	var list parser.ErrorList
	var single *parser.Error
	switch {
	case errors.As(err, &list) && len(list) > 0:
		line, col, msg = list[0].Position.Line, list[0].Position.Column, list[0].Message
	case errors.As(err, &single):
		line, col, msg = single.Position.Line, single.Position.Column, single.Message
	}

	d := newDiagnostic(ParseError, "", "%s", msg)
	d.Filename = p.Filename
	d.Source = p.Source
	d.Line, d.Col = p.clampPosition(line-1, col)
	return d
}

// clampPosition keeps positions reported on the wrapper lines inside the
// user's source.
func (p *Program) clampPosition(line, col int) (int, int) {
	n := len(p.lineStarts)
	switch {
	case line < 1:
		return 1, 1
	case line > n:
		last := p.Source[p.lineStarts[n-1]:]
		return n, utf8.RuneCountInString(last) + 1
	}
	if col < 1 {
		col = 1
	}
	return line, col
}

func lineStarts(src string) []int {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// Offset converts a goja index into a byte offset in Source.
func (p *Program) Offset(idx file.Idx) int {
	off := int(idx) - 1 - len(wrapPrefix)
	if off < 0 {
		return 0
	}
	if off > len(p.Source) {
		return len(p.Source)
	}
	return off
}

// Position converts a byte offset into a 1-based line and rune column.
func (p *Program) Position(offset int) (line, col int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(p.Source) {
		offset = len(p.Source)
	}
	i := sort.Search(len(p.lineStarts), func(i int) bool { return p.lineStarts[i] > offset }) - 1
	return i + 1, utf8.RuneCountInString(p.Source[p.lineStarts[i]:offset]) + 1
}

// Text returns the source text of a node.
func (p *Program) Text(node ast.Node) string {
	start, end := p.Offset(node.Idx0()), p.Offset(node.Idx1())
	if end < start {
		return ""
	}
	return strings.TrimSpace(p.Source[start:end])
}

// IsExport reports whether stmt is the rewritten `export default` statement.
func (p *Program) IsExport(stmt ast.Statement) bool {
	_, ok := p.exportValue(stmt)
	return ok
}

// ExportOffset returns the offset of the `export` keyword of an export
// statement.
func (p *Program) ExportOffset(stmt ast.Statement) (int, bool) {
	es, ok := stmt.(*ast.ExpressionStatement)
	if !ok {
		return 0, false
	}
	assign, ok := es.Expression.(*ast.AssignExpression)
	if !ok {
		return 0, false
	}
	off, ok := p.exports[p.Offset(assign.Left.Idx0())]
	return off, ok
}

func (p *Program) exportValue(stmt ast.Statement) (ast.Expression, bool) {
	es, ok := stmt.(*ast.ExpressionStatement)
	if !ok {
		return nil, false
	}
	assign, ok := es.Expression.(*ast.AssignExpression)
	if !ok {
		return nil, false
	}
	id, ok := assign.Left.(*ast.Identifier)
	if !ok || id.Name.String() != exportSentinel {
		return nil, false
	}
	if _, ok := p.exports[p.Offset(id.Idx)]; !ok {
		return nil, false
	}
	return assign.Right, true
}

// KindOf is KindOf refined with the module surface.
func (p *Program) KindOf(node ast.Node) NodeKind {
	if stmt, ok := node.(ast.Statement); ok && p.IsExport(stmt) {
		return KindExportDefaultDeclaration
	}
	return KindOf(node)
}

func (p *Program) locateOffset(d *Diagnostic, offset int) *Diagnostic {
	d.Filename = p.Filename
	d.Source = p.Source
	d.Line, d.Col = p.Position(offset)
	return d
}

// Locate attaches the node's position and the source text to d, unless d
// already carries a position.
func (p *Program) Locate(d *Diagnostic, node ast.Node) *Diagnostic {
	if d.Line > 0 || node == nil {
		return d
	}
	offset := p.Offset(node.Idx0())
	if stmt, ok := node.(ast.Statement); ok {
		if off, ok := p.ExportOffset(stmt); ok {
			offset = off
		}
	}
	return p.locateOffset(d, offset)
}

func (p *Program) errorAtOffset(kind ErrorKind, construct string, offset int, format string, args ...any) *Diagnostic {
	return p.locateOffset(newDiagnostic(kind, construct, format, args...), offset)
}

func (p *Program) errorAt(kind ErrorKind, node ast.Node, format string, args ...any) *Diagnostic {
	construct := ""
	if node != nil {
		construct = p.KindOf(node).String()
	}
	return p.Locate(newDiagnostic(kind, construct, format, args...), node)
}

// Diagnose builds a Diagnostic located at node.
func (p *Program) Diagnose(kind ErrorKind, node ast.Node, format string, args ...any) *Diagnostic {
	return p.errorAt(kind, node, format, args...)
}

func (p *Program) String() string {
	if p.Filename != "" {
		return fmt.Sprintf("program(%s, %d statements)", p.Filename, len(p.Body))
	}
	return fmt.Sprintf("program(%d statements)", len(p.Body))
}
