package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyPresets(t *testing.T) {
	sdk := SDKPolicy()
	assert.Equal(t, "sdk", sdk.Name)
	assert.Equal(t, ExportDefault, sdk.ExportStyle)
	assert.False(t, sdk.AllowAssignment)
	assert.Equal(t, DefaultMaxDepth, sdk.MaxDepth)

	code := CodePolicy()
	assert.Equal(t, "code", code.Name)
	assert.Equal(t, ExportReturn, code.ExportStyle)
	assert.True(t, code.AllowAssignment)
	assert.Less(t, len(code.Globals()), len(sdk.Globals()))

	// presets are built fresh every time
	SDKPolicy().AllowedFunctions.Add("rogue")
	assert.False(t, SDKPolicy().IsAllowedBuilderFunction("rogue"))
}

func TestPolicyByName(t *testing.T) {
	for _, name := range []string{"", "sdk", " SDK "} {
		p, err := PolicyByName(name)
		require.NoError(t, err)
		assert.Equal(t, "sdk", p.Name)
	}
	p, err := PolicyByName("code")
	require.NoError(t, err)
	assert.Equal(t, "code", p.Name)

	_, err = PolicyByName("lenient")
	assert.Error(t, err)
}

func TestPolicyExtend(t *testing.T) {
	base := SDKPolicy()
	ext, err := base.Extend(PolicyOverrides{
		AllowedFunctions: []string{"httpRequest"},
		AllowedMethods:   []string{"pin"},
		DangerousGlobals: []string{"JSON"},
		ForbiddenKinds:   []string{"TemplateLiteral"},
		MaxDepth:         32,
	})
	require.NoError(t, err)

	assert.True(t, ext.IsAllowedBuilderFunction("httpRequest"))
	assert.False(t, base.IsAllowedBuilderFunction("httpRequest"))
	assert.True(t, ext.IsAllowedMethod("pin"))
	assert.ErrorIs(t, ext.ValidateIdentifierUse("JSON"), ErrSecurityViolation)
	assert.ErrorIs(t, ext.ValidateNodeKind(KindTemplateLiteral), ErrUnsupportedConstruct)
	assert.NoError(t, base.ValidateNodeKind(KindTemplateLiteral))
	assert.Equal(t, 32, ext.MaxDepth)
	assert.Equal(t, DefaultMaxSourceBytes, ext.MaxSourceBytes)

	_, err = base.Extend(PolicyOverrides{ForbiddenKinds: []string{"NoSuchKind"}})
	assert.Error(t, err)
}

func TestPolicyListsAreSorted(t *testing.T) {
	fns := SDKPolicy().Functions()
	require.NotEmpty(t, fns)
	for i := 1; i < len(fns); i++ {
		assert.Less(t, fns[i-1], fns[i])
	}
	assert.Contains(t, SDKPolicy().Methods(), "add")
}

func TestNodeKindNames(t *testing.T) {
	for k := KindUnknown; k < kindCount; k++ {
		name := k.String()
		assert.NotEmpty(t, name)
		parsed, ok := ParseNodeKind(name)
		assert.True(t, ok, name)
		assert.Equal(t, k, parsed)
	}
}
