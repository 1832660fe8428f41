package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON_PreservesOrderAndNumbers(t *testing.T) {
	v, err := ParseJSON([]byte(`{"b": 1.50, "a": [true, null, "x"], "c": {"z": 1e3}}`))
	require.NoError(t, err)

	obj, ok := v.(*Object)
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a", "c"}, obj.Keys())

	b, _ := obj.Get("b")
	assert.Equal(t, Number("1.50"), b)

	z, ok := Lookup(v, "c.z")
	require.True(t, ok)
	assert.Equal(t, Number("1e3"), z)

	assert.Equal(t, `{"b":1.50,"a":[true,null,"x"],"c":{"z":1e3}}`, string(Marshal(v)))
}

func TestParseJSON_RejectsTrailingData(t *testing.T) {
	_, err := ParseJSON([]byte(`{} {}`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestMarshalIndent(t *testing.T) {
	v := NewObject(
		Member{Key: "name", Value: String("a<b & c")},
		Member{Key: "items", Value: Array{Int(1), Array{}}},
		Member{Key: "empty", Value: &Object{}},
	)
	want := "{\n  \"name\": \"a<b & c\",\n  \"items\": [\n    1,\n    []\n  ],\n  \"empty\": {}\n}\n"
	assert.Equal(t, want, string(MarshalIndent(v)))
}

func TestObject_SetDeleteKeepsOrder(t *testing.T) {
	obj := &Object{}
	obj.Set("a", Int(1))
	obj.Set("b", Int(2))
	obj.Set("c", Int(3))
	obj.Set("a", Int(10))

	removed, ok := obj.Delete("b")
	require.True(t, ok)
	assert.Equal(t, Int(2), removed)
	assert.Equal(t, []string{"a", "c"}, obj.Keys())

	a, _ := obj.Get("a")
	assert.Equal(t, Int(10), a)
	assert.False(t, obj.Has("b"))

	obj.Set("b", Bool(true))
	assert.Equal(t, []string{"a", "c", "b"}, obj.Keys())
}

func TestPathHelpers(t *testing.T) {
	root := &Object{}
	require.True(t, Put(root, "source.expression", String("let x = 1 in x")))
	require.True(t, Put(root, "source.type", String("m")))

	v, ok := Lookup(root, "source.expression")
	require.True(t, ok)
	assert.Equal(t, String("let x = 1 in x"), v)

	removed, ok := Remove(root, "source.expression")
	require.True(t, ok)
	assert.Equal(t, String("let x = 1 in x"), removed)

	_, ok = Lookup(root, "source.expression")
	assert.False(t, ok)
	_, ok = Remove(root, "missing.path")
	assert.False(t, ok)
}

func TestEqualAndClone(t *testing.T) {
	v, err := ParseJSON([]byte(`{"a":[1,{"b":"c"}]}`))
	require.NoError(t, err)

	c := Clone(v)
	assert.True(t, Equal(v, c))

	Put(c, "a", String("changed"))
	assert.False(t, Equal(v, c))

	reordered, err := ParseJSON([]byte(`{"y":1,"x":2}`))
	require.NoError(t, err)
	ordered, err := ParseJSON([]byte(`{"x":2,"y":1}`))
	require.NoError(t, err)
	assert.False(t, Equal(reordered, ordered), "member order is significant")
}

func TestToAnyFromAny(t *testing.T) {
	v, err := ParseJSON([]byte(`{"n":3,"f":1.5,"s":"x","l":[null,false]}`))
	require.NoError(t, err)

	plain := ToAny(v)
	assert.Equal(t, map[string]any{
		"n": int64(3),
		"f": 1.5,
		"s": "x",
		"l": []any{nil, false},
	}, plain)

	back := FromAny(plain).(*Object)
	n, _ := back.Get("n")
	assert.Equal(t, Number("3"), n)
}
