package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExportDefault(t *testing.T) {
	src := "const a = 1;\nexport default a;"
	prog, err := ParseString(src)
	require.NoError(t, err)
	require.Len(t, prog.Body, 2)

	assert.False(t, prog.IsExport(prog.Body[0]))
	assert.True(t, prog.IsExport(prog.Body[1]))
	assert.Equal(t, KindExportDefaultDeclaration, prog.KindOf(prog.Body[1]))

	off, ok := prog.ExportOffset(prog.Body[1])
	require.True(t, ok)
	line, col := prog.Position(off)
	assert.Equal(t, 2, line)
	assert.Equal(t, 1, col)
}

func TestParseKeepsKeywordsInStrings(t *testing.T) {
	src := "const s = 'export default x';\nconst t = `import ${'await'}`;\n// export const nope\nconst o = { import: 1, yield: 2 };\nexport default [s, t, o.import, o.yield];"
	out, err := Interpret(src, FunctionTable{})
	require.NoError(t, err)
	assert.Equal(t, []any{"export default x", "import await", 1.0, 2.0}, out)
}

func TestParseSentinelIsNotAnExport(t *testing.T) {
	// a user-written $xport assignment is never mistaken for the export
	prog, err := ParseString(`$xport = 1`)
	require.NoError(t, err)
	require.Len(t, prog.Body, 1)
	assert.False(t, prog.IsExport(prog.Body[0]))
}

func TestParseModuleKeywords(t *testing.T) {
	tests := []struct {
		src  string
		kind NodeKind
		col  int
	}{
		{`import fs from "fs";`, KindImportDeclaration, 1},
		{`import "side-effect";`, KindImportDeclaration, 1},
		{`const m = import("fs");`, KindImportExpression, 11},
		{`export const a = 1;`, KindExportNamedDeclaration, 1},
		{`export { a };`, KindExportNamedDeclaration, 1},
		{`const x = await load();`, KindAwaitExpression, 11},
		{`const y = 1; yield y;`, KindYieldExpression, 14},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := ParseString(tt.src)
			require.Error(t, err)
			d, ok := AsDiagnostic(err)
			require.True(t, ok)
			assert.Equal(t, UnsupportedConstruct, d.Kind)
			assert.Equal(t, tt.kind.String(), d.Construct)
			assert.Equal(t, 1, d.Line)
			assert.Equal(t, tt.col, d.Col)
		})
	}
}

func TestParseRegexAndDivision(t *testing.T) {
	// the slash after a value is division, so "import" inside is not a keyword
	_, err := ParseString("const a = 4 / 2; const b = a / 1; // import\nexport default b;")
	assert.NoError(t, err)

	_, err = ParseString("const r = /import/;\nexport default r;")
	assert.NoError(t, err)
}

func TestParseSyntaxError(t *testing.T) {
	src := "const a = 1;\nconst b = ;\nexport default a;"
	_, err := ParseString(src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
	assert.ErrorIs(t, err, ErrInterpreter)

	d, ok := AsDiagnostic(err)
	require.True(t, ok)
	assert.Equal(t, ParseError, d.Kind)
	assert.Equal(t, 2, d.Line)
	assert.Equal(t, src, d.Source)
	assert.Contains(t, err.Error(), "> 2 | const b = ;")
}

func TestParseErrorAtEndIsClamped(t *testing.T) {
	_, err := ParseString("export default workflow(")
	require.Error(t, err)
	d, _ := AsDiagnostic(err)
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Line)
	assert.GreaterOrEqual(t, d.Col, 1)
}

func TestParseRejectsWrapperEscape(t *testing.T) {
	_, err := ParseString(`}); eval("x"); (function(){`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestProgramText(t *testing.T) {
	prog, err := ParseString("const wf = workflow('a');")
	require.NoError(t, err)
	assert.Contains(t, prog.Text(prog.Body[0]), "const wf = workflow('a')")
	assert.Equal(t, "program(1 statements)", prog.String())
}

func TestLoadScriptCache(t *testing.T) {
	GlobalCache.Forget()
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.js")
	require.NoError(t, os.WriteFile(path, []byte("export default 1;"), 0o644))

	first, err := LoadScript(path)
	require.NoError(t, err)
	second, err := LoadScript(path)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, path, first.Filename)

	require.NoError(t, os.WriteFile(path, []byte("export default 2;"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	third, err := LoadScript(path)
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	_, err = LoadScript(filepath.Join(dir, "missing.js"))
	assert.Error(t, err)
}
