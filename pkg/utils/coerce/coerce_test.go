package coerce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{3.5, 3.5, true},
		{int(7), 7, true},
		{int64(-2), -2, true},
		{uint8(255), 255, true},
		{float32(0.5), 0.5, true},
		{"12", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := Number(tt.in)
		assert.Equal(t, tt.ok, ok, "%#v", tt.in)
		assert.Equal(t, tt.want, got, "%#v", tt.in)
	}
}

func TestToInt(t *testing.T) {
	n, err := ToInt("42")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = ToInt(3.0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = ToInt(3.5)
	assert.Error(t, err)

	_, err = ToInt("budi")
	assert.Error(t, err)

	n, err = ToInt(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, 9, ToIntDef("x", 9))
}

func TestToStringAndBool(t *testing.T) {
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "12", ToString(12))
	assert.Equal(t, "fallback", ToStringDef("", "fallback"))

	b, err := ToBool("true")
	require.NoError(t, err)
	assert.True(t, b)

	_, err = ToBool(map[string]any{})
	assert.Error(t, err)
}

func TestToMapAndSlice(t *testing.T) {
	m, err := ToMap(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, m["a"])

	_, err = ToMap(12)
	assert.Error(t, err)

	s, err := ToSlice([]any{1, "two"})
	require.NoError(t, err)
	assert.Len(t, s, 2)

	assert.Equal(t, []string{"a", "b"}, ToStringSlice([]any{"a", "b"}))
}
