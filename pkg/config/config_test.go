package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfscript/pkg/engine"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	c, err := FromLookup(lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, "development", c.Env)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "sdk", c.Policy)
	assert.Equal(t, engine.DefaultMaxDepth, c.MaxDepth)
	assert.Equal(t, engine.DefaultMaxSourceBytes, c.MaxSourceBytes)
	assert.Equal(t, 60, c.RateLimit)
	assert.Equal(t, time.Minute, c.RateWindow)
	assert.Equal(t, []string{"*"}, c.CORSOrigins)
	assert.True(t, c.Brotli)
	assert.False(t, c.WAF)
	assert.False(t, c.IsProduction())
}

func TestFromEnvironment(t *testing.T) {
	c, err := FromLookup(lookupFrom(map[string]string{
		"WFSCRIPT_ENV":              "production",
		"WFSCRIPT_ADDR":             " 127.0.0.1:9000 ",
		"WFSCRIPT_POLICY":           "code",
		"WFSCRIPT_MAX_DEPTH":        "64",
		"WFSCRIPT_MAX_SOURCE_BYTES": "2048",
		"WFSCRIPT_RATE_LIMIT":       "0",
		"WFSCRIPT_RATE_WINDOW":      "10",
		"WFSCRIPT_CORS_ORIGINS":     "https://a.example, https://b.example,",
		"WFSCRIPT_BLOCKED_IPS":      "10.0.0.1",
		"WFSCRIPT_BROTLI":           "false",
		"WFSCRIPT_WAF":              "1",
	}))
	require.NoError(t, err)
	assert.True(t, c.IsProduction())
	assert.Equal(t, "127.0.0.1:9000", c.Addr)
	assert.Equal(t, "code", c.Policy)
	assert.Equal(t, 64, c.MaxDepth)
	assert.Equal(t, 2048, c.MaxSourceBytes)
	assert.Equal(t, 0, c.RateLimit)
	assert.Equal(t, 10*time.Second, c.RateWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins)
	assert.Equal(t, []string{"10.0.0.1"}, c.BlockedIPs)
	assert.False(t, c.Brotli)
	assert.True(t, c.WAF)
}

func TestInvalidValuesAreCollected(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{
		"WFSCRIPT_MAX_DEPTH":  "deep",
		"WFSCRIPT_WAF":        "maybe",
		"WFSCRIPT_RATE_LIMIT": "-5",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WFSCRIPT_MAX_DEPTH")
	assert.Contains(t, err.Error(), "WFSCRIPT_WAF")
	assert.Contains(t, err.Error(), "WFSCRIPT_RATE_LIMIT")

	_, err = FromLookup(lookupFrom(map[string]string{"WFSCRIPT_RATE_WINDOW": "0"}))
	assert.ErrorContains(t, err, "must be positive")
}

func TestBuildPolicyWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`allowed_functions: [httpRequest]
allowed_methods: [pin]
forbidden_kinds: [TemplateLiteral]
max_depth: 32
`), 0o644))

	c, err := FromLookup(lookupFrom(map[string]string{
		"WFSCRIPT_POLICY_FILE": path,
		"WFSCRIPT_MAX_DEPTH":   "100",
	}))
	require.NoError(t, err)
	p, err := c.BuildPolicy()
	require.NoError(t, err)

	assert.Equal(t, "sdk", p.Name)
	assert.True(t, p.IsAllowedBuilderFunction("httpRequest"))
	assert.True(t, p.IsAllowedMethod("pin"))
	assert.ErrorIs(t, p.ValidateNodeKind(engine.KindTemplateLiteral), engine.ErrUnsupportedConstruct)
	assert.Equal(t, 32, p.MaxDepth)
}

func TestPolicyFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPolicyFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read policy file")

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("allow_everything: true\n"), 0o644))
	_, err = LoadPolicyFile(unknown)
	assert.ErrorContains(t, err, "failed to parse policy file")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	o, err := LoadPolicyFile(empty)
	require.NoError(t, err)
	assert.Empty(t, o.AllowedFunctions)

	_, err = BuildPolicy("lenient", "", 0, 0)
	assert.Error(t, err)
}
