package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Bool(true)
	var _ Value = Array{String("a"), Int(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeys(t *testing.T) {
	obj := Object{
		"zebra":  String("z"),
		"apple":  String("a"),
		"banana": String("b"),
	}

	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{
		"name":   "Rose",
		"age":    33,
		"active": true,
		"tags":   []any{"a", "b"},
		"extra":  nil,
	})
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, String("Rose"), obj["name"])
	assert.Equal(t, Int(33), obj["age"])
	assert.Equal(t, Bool(true), obj["active"])
	assert.Equal(t, Array{String("a"), String("b")}, obj["tags"])
	assert.Equal(t, Null{}, obj["extra"])
}

func TestFromGoRejectsFractions(t *testing.T) {
	_, err := FromGo(3.14)
	require.Error(t, err)

	// Whole floats narrow to Int so JSON decoding works.
	v, err := FromGo(4.0)
	require.NoError(t, err)
	assert.Equal(t, Int(4), v)
}

func TestEqual(t *testing.T) {
	a := Object{"x": Array{Int(1), Int(2)}, "y": String("z")}
	b := Object{"y": String("z"), "x": Array{Int(1), Int(2)}}
	assert.True(t, Equal(a, b))

	assert.False(t, Equal(a, Object{"x": Array{Int(1)}, "y": String("z")}))
	assert.True(t, Equal(nil, Null{}))
	assert.False(t, Equal(Int(1), String("1")))
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{"list": Array{Int(1)}}
	clone := Clone(orig).(Object)
	clone["list"].(Array)[0] = Int(99)

	assert.Equal(t, Int(1), orig["list"].(Array)[0])
}

func TestDecodeJSONLargeInt(t *testing.T) {
	// 2^53+1 would lose precision through float64.
	v, err := DecodeJSON([]byte(`{"n": 9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, Int(9007199254740993), v.(Object)["n"])
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	obj := Object{
		"b":    Int(2),
		"a":    String("<tag> & text"),
		"list": Array{Bool(true), Null{}},
	}

	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<tag> & text","b":2,"list":[true,null]}`, string(out))

	again, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}
