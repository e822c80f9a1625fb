package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeFrame(t *testing.T) {
	src := "const a = 1;\neval(\"x\")\nexport default a;"
	want := strings.Join([]string{
		"  1 | const a = 1;",
		"> 2 | eval(\"x\")",
		"    | ^",
		"  3 | export default a;",
	}, "\n")
	assert.Equal(t, want, CodeFrame(src, 2, 1))
}

func TestCodeFrameContextAndPadding(t *testing.T) {
	lines := make([]string, 12)
	for i := range lines {
		lines[i] = fmt.Sprintf("line%d", i+1)
	}
	frame := CodeFrame(strings.Join(lines, "\n"), 10, 3)
	got := strings.Split(frame, "\n")
	require.Len(t, got, 6)
	assert.Equal(t, "   8 | line8", got[0])
	assert.Equal(t, "> 10 | line10", got[2])
	assert.Equal(t, "     |   ^", got[3])
	assert.Equal(t, "  12 | line12", got[5])
}

func TestCodeFrameKeepsTabsAndClamps(t *testing.T) {
	frame := CodeFrame("\tconst a = b;", 1, 12)
	assert.Contains(t, frame, "    | \t"+strings.Repeat(" ", 10)+"^")

	frame = CodeFrame("one\ntwo", 9, 0)
	assert.Contains(t, frame, "> 2 | two")
}

func TestDiagnosticMessageCarriesFrame(t *testing.T) {
	src := "const a = 1;\nconst b = a.__proto__;"
	_, err := Interpret(src, FunctionTable{})
	require.Error(t, err)

	d, ok := AsDiagnostic(err)
	require.True(t, ok)
	assert.Equal(t, SecurityViolation, d.Kind)
	assert.Equal(t, 2, d.Line)
	assert.Equal(t, 11, d.Col)

	msg := err.Error()
	assert.Contains(t, msg, "const b = a.__proto__;")
	assert.Contains(t, msg, "    | "+strings.Repeat(" ", 10)+"^")
	assert.True(t, strings.HasPrefix(msg, "security violation: access to __proto__ is not allowed (line 2, column 11)"))
}

func TestDiagnosticWithoutSource(t *testing.T) {
	d := newDiagnostic(UnknownIdentifier, "", "'%s' is not defined", "x")
	assert.Equal(t, "unknown identifier: 'x' is not defined", d.Error())

	d.Line, d.Col, d.Filename = 3, 4, "flow.js"
	assert.Equal(t, "unknown identifier: 'x' is not defined (flow.js:3:4)", d.Error())

	line, col, ok := d.Location()
	assert.True(t, ok)
	assert.Equal(t, 3, line)
	assert.Equal(t, 4, col)
}

func TestDiagnosticKindsMatchSentinels(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		sentinel error
	}{
		{InterpreterError, ErrInterpreter},
		{ParseError, ErrParse},
		{UnsupportedConstruct, ErrUnsupportedConstruct},
		{SecurityViolation, ErrSecurityViolation},
		{UnknownIdentifier, ErrUnknownIdentifier},
	}
	for _, tt := range tests {
		d := newDiagnostic(tt.kind, "", "x")
		assert.ErrorIs(t, d, tt.sentinel, string(tt.kind))
		wrapped := fmt.Errorf("loading flow: %w", d)
		assert.ErrorIs(t, wrapped, tt.sentinel, string(tt.kind))
	}

	assert.False(t, errors.Is(newDiagnostic(SecurityViolation, "", "x"), ErrUnknownIdentifier))
	assert.True(t, errors.Is(newDiagnostic(ParseError, "", "x"), ErrInterpreter))
	assert.False(t, errors.Is(newDiagnostic(SecurityViolation, "", "x"), ErrInterpreter))
}
