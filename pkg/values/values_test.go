package values

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAndEqual(t *testing.T) {
	t.Parallel()

	require.True(t, Equal(1, 1.0))
	require.True(t, Equal(int64(2), float32(2)))
	require.True(t, Equal(map[string]int{"a": 1}, map[string]any{"a": 1.0}))
	require.True(t, Equal([]string{"x"}, []any{"x"}))
	require.False(t, Equal("1", 1))
	require.False(t, Equal(nil, ""))

	type point struct {
		X int `json:"x"`
	}
	require.Equal(t, map[string]any{"x": float64(3)}, Normalize(point{X: 3}))
}

func TestToFloat(t *testing.T) {
	t.Parallel()

	f, ok := ToFloat(" 2.5 ")
	require.True(t, ok)
	require.Equal(t, 2.5, f)

	f, ok = ToFloat(uint8(7))
	require.True(t, ok)
	require.Equal(t, float64(7), f)

	_, ok = ToFloat("abc")
	require.False(t, ok)
	_, ok = ToFloat(true)
	require.False(t, ok)
	require.False(t, IsNumber("1"))
}

func TestStringify(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", Stringify(nil))
	require.Equal(t, "3", Stringify(3.0))
	require.Equal(t, "3.25", Stringify(3.25))
	require.Equal(t, "42", Stringify(int64(42)))
	require.Equal(t, "true", Stringify(true))
	require.Equal(t, `[1,"a"]`, Stringify([]any{1, "a"}))
	require.Equal(t, `{"k":"v"}`, Stringify(map[string]string{"k": "v"}))
}

func TestLengthAndTypeName(t *testing.T) {
	t.Parallel()

	n, ok := Length("日本")
	require.True(t, ok)
	require.Equal(t, 2, n)

	n, ok = Length(map[string]any{"a": 1})
	require.True(t, ok)
	require.Equal(t, 1, n)

	_, ok = Length(12)
	require.False(t, ok)

	require.Equal(t, "null", TypeName(nil))
	require.Equal(t, "str", TypeName("x"))
	require.Equal(t, "bool", TypeName(false))
	require.Equal(t, "int", TypeName(3))
	require.Equal(t, "int", TypeName(float64(4)))
	require.Equal(t, "float", TypeName(4.5))
	require.Equal(t, "list", TypeName([]string{}))
	require.Equal(t, "dict", TypeName(map[string]any{}))
}

func TestLookup(t *testing.T) {
	t.Parallel()

	root := map[string]any{
		"status_code": 200,
		"headers":     map[string]string{"Content-Type": "application/json"},
		"content": map[string]any{
			"items": []any{
				map[string]any{"name": "first"},
				map[string]any{"name": "last"},
			},
		},
		"text": `{"token":"abc","list":[1,2]}`,
	}

	tests := []struct {
		path string
		want any
	}{
		{"status_code", 200},
		{"headers.content-type", "application/json"},
		{"content.items[0].name", "first"},
		{"content.items.-1.name", "last"},
		{"text.token", "abc"},
		{"text.list[1]", float64(2)},
		{"content.items.1.name.0", "l"},
	}
	for _, tt := range tests {
		got, err := Lookup(root, tt.path)
		require.NoError(t, err, tt.path)
		require.Equal(t, tt.want, got, tt.path)
	}

	for _, path := range []string{"missing", "content.items[5]", "status_code.x"} {
		_, err := Lookup(root, path)
		require.Error(t, err, path)
	}
}

func TestSplitPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"a", "0", "b"}, SplitPath("a[0].b"))
	require.Equal(t, []string{"a"}, SplitPath(" a. "))
	require.Empty(t, SplitPath(""))
}
