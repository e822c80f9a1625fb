package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfscript/pkg/engine"
)

func messages(ds []*engine.Diagnostic) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Message)
	}
	return out
}

func TestCleanScript(t *testing.T) {
	src := `const start = trigger({ type: 'n8n-nodes-base.manualTrigger' });
export default workflow('w', 'W').add(start);`
	res := NewAnalyzer(nil, nil).Analyze("flow.js", src)
	assert.True(t, res.Success())
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestCollectsEveryViolation(t *testing.T) {
	src := "const a = eval('1');\nfor (;;) {}\nconst b = a.__proto__;\nexport default workflow('w', 'W');"
	res := NewAnalyzer(nil, nil).Analyze("flow.js", src)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, engine.SecurityViolation, res.Errors[0].Kind)
	assert.Equal(t, engine.UnsupportedConstruct, res.Errors[1].Kind)
	assert.Equal(t, 2, res.Errors[1].Line)
	assert.Equal(t, "flow.js", res.Errors[2].Filename)
	assert.False(t, res.Success())
}

func TestUnknownReferences(t *testing.T) {
	src := "const flow = workflw('w', 'W');\nexport default flow.add(missing);"
	res := NewAnalyzer(nil, nil).Analyze("", src)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, engine.UnknownIdentifier, res.Errors[0].Kind)
	assert.Equal(t, "'workflw' is not defined; did you mean 'workflow'?", res.Errors[0].Message)
	assert.Equal(t, 1, res.Errors[0].Line)
	assert.Equal(t, 14, res.Errors[0].Col)
	assert.True(t, strings.HasPrefix(res.Errors[1].Message, "'missing' is not defined"))
}

func TestBuilderNotProvided(t *testing.T) {
	res := NewAnalyzer(engine.SDKPolicy(), []string{"workflow"}).Analyze("", `export default workflow('w', 'W').add(node({ type: 'x' }));`)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "'node' is not provided by the host", res.Errors[0].Message)
}

func TestUseBeforeDeclaration(t *testing.T) {
	res := NewAnalyzer(nil, nil).Analyze("", "const a = b;\nconst b = 1;\nexport default a;")
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "'b' is not defined")
}

func TestWarnings(t *testing.T) {
	src := "const unused = 1;\nconst used = 2;\nexport default used;\nconst after = 3;"
	res := NewAnalyzer(nil, nil).Analyze("", src)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{
		"'unused' is declared but never used",
		"'after' is declared but never used",
		"unreachable code after the result",
	}, messages(res.Warnings))
	assert.Equal(t, 4, res.Warnings[2].Line)
	for _, w := range res.Warnings {
		assert.Equal(t, engine.Warning, w.Kind)
	}
}

func TestMissingResult(t *testing.T) {
	res := NewAnalyzer(nil, nil).Analyze("", `workflow('w', 'W');`)
	assert.True(t, res.Success())
	assert.Equal(t, []string{"no export default; the result is the value of the last expression"}, messages(res.Warnings))

	res = NewAnalyzer(engine.CodePolicy(), nil).Analyze("", `const x = 1; x;`)
	assert.Equal(t, []string{"no return statement; the result is the value of the last expression"}, messages(res.Warnings))

	res = NewAnalyzer(engine.CodePolicy(), nil).Analyze("", `const x = 1; return x;`)
	assert.Empty(t, res.Warnings)
}

func TestParseAndSizeErrors(t *testing.T) {
	res := NewAnalyzer(nil, nil).Analyze("bad.js", "const a = ;")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, engine.ParseError, res.Errors[0].Kind)

	policy := engine.SDKPolicy()
	policy.MaxSourceBytes = 8
	res = NewAnalyzer(policy, nil).Analyze("big.js", "export default 123456789;")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "source is 25 bytes, the limit is 8", res.Errors[0].Message)
}

func TestCallingALocalBinding(t *testing.T) {
	res := NewAnalyzer(nil, nil).Analyze("flow.js", "const f = workflow;\nexport default f('w', 'W');")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, engine.SecurityViolation, res.Errors[0].Kind)
	assert.Equal(t, "'f' is a local binding and cannot be called", res.Errors[0].Message)
	assert.Equal(t, 2, res.Errors[0].Line)
	assert.Equal(t, 16, res.Errors[0].Col)
	assert.Empty(t, res.Warnings)
	assert.False(t, res.Success())
}

func TestRedeclaration(t *testing.T) {
	res := NewAnalyzer(nil, nil).Analyze("", "const a = 1;\nconst a = 2;\nexport default a;")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, engine.ParseError, res.Errors[0].Kind)
	assert.Equal(t, "identifier 'a' has already been declared", res.Errors[0].Message)
	assert.Equal(t, 2, res.Errors[0].Line)
}

func TestDeepNesting(t *testing.T) {
	src := "export default " + strings.Repeat("(", 400000) + "1" + strings.Repeat(")", 400000) + ";"
	res := NewAnalyzer(nil, nil).Analyze("", src)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, engine.InterpreterError, res.Errors[0].Kind)
	assert.Contains(t, res.Errors[0].Message, "maximum nesting depth")
}
