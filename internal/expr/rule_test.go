package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantRules(t *testing.T) {
	for _, tc := range []struct {
		src  string
		def  bool
		want bool
	}{
		{"", false, false},
		{"", true, true},
		{"true", false, true},
		{"false", true, false},
	} {
		r, err := Compile(tc.src, tc.def)
		require.NoError(t, err)
		assert.True(t, r.IsConstant())
		got, err := r.Evaluate(Scope{})
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "src=%q def=%v", tc.src, tc.def)
	}
}

func TestCompileRejectsMalformedExpression(t *testing.T) {
	_, err := Compile("index <", false)
	assert.Error(t, err)
}

func TestEvaluateIndexBinding(t *testing.T) {
	r, err := Compile("index < 4", false)
	require.NoError(t, err)
	assert.False(t, r.IsConstant())

	got, err := r.Evaluate(Scope{Index: 3})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = r.Evaluate(Scope{Index: 4})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluateFileBinding(t *testing.T) {
	r, err := Compile(`file.Request.amount > 100`, false)
	require.NoError(t, err)

	scope := Scope{File: map[string]any{
		"Request": map[string]any{"amount": int64(250)},
	}}
	got, err := r.Evaluate(scope)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluateBuiltins(t *testing.T) {
	r, err := Compile(`len(file.Multi) == 2`, false)
	require.NoError(t, err)

	scope := Scope{File: map[string]any{
		"Multi": []any{map[string]any{}, map[string]any{}},
	}}
	got, err := r.Evaluate(scope)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluateNonBooleanResult(t *testing.T) {
	r, err := Compile("index + 1", false)
	require.NoError(t, err)
	_, err = r.Evaluate(Scope{Index: 1})
	assert.Error(t, err)
}

func TestEvaluateMissingFileField(t *testing.T) {
	r, err := Compile("file.Nope.x == 1", false)
	require.NoError(t, err)
	_, err = r.Evaluate(Scope{})
	assert.Error(t, err)
}
