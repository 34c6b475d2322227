package expression

import (
	"fmt"
	"testing"

	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/stretchr/testify/require"
)

func testEnv(vars map[string]any) Env {
	funcs := CallerFunc(func(name string, args []any, kwargs map[string]any) (any, error) {
		switch name {
		case "add":
			a, b := args[0].(int64), args[1].(int64)
			return a + b, nil
		case "echo":
			return args, nil
		case "greet":
			prefix := "hello"
			if p, ok := kwargs["prefix"]; ok {
				prefix = fmt.Sprint(p)
			}
			return prefix + " " + fmt.Sprint(args[0]), nil
		}
		return nil, engineerr.FunctionNotFound(name)
	})
	return Env{Vars: MapLookup(vars), Funcs: funcs}
}

func TestResolvePreservesNativeTypeForWholeReference(t *testing.T) {
	t.Parallel()

	env := testEnv(map[string]any{
		"count": 5,
		"user":  map[string]any{"name": "ann"},
		"flag":  true,
	})

	got, err := Resolve("$count", env)
	require.NoError(t, err)
	require.Equal(t, 5, got)

	got, err = Resolve("${user}", env)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "ann"}, got)

	got, err = Resolve("$flag", env)
	require.NoError(t, err)
	require.Equal(t, true, got)
}

func TestResolveSplicesEmbeddedReferences(t *testing.T) {
	t.Parallel()

	env := testEnv(map[string]any{
		"count": 5,
		"user":  map[string]any{"name": "ann"},
	})

	got, err := Resolve("total=$count items", env)
	require.NoError(t, err)
	require.Equal(t, "total=5 items", got)

	got, err = Resolve("user=${user}", env)
	require.NoError(t, err)
	require.Equal(t, `user={"name":"ann"}`, got)
}

func TestResolveFunctionCall(t *testing.T) {
	t.Parallel()

	env := testEnv(map[string]any{"a": int64(40)})

	got, err := Resolve("${add(1,2)}", env)
	require.NoError(t, err)
	require.Equal(t, int64(3), got)

	got, err = Resolve("sum is ${add(1, 2)}.", env)
	require.NoError(t, err)
	require.Equal(t, "sum is 3.", got)

	got, err = Resolve("${add($a, add(1, 1))}", env)
	require.NoError(t, err)
	require.Equal(t, int64(42), got)

	got, err = Resolve("${greet(bob, prefix='hi')}", env)
	require.NoError(t, err)
	require.Equal(t, "hi bob", got)
}

func TestResolveCoercesBareArguments(t *testing.T) {
	t.Parallel()

	got, err := Resolve("${echo(123, 1.5, true, None, -7, abc)}", testEnv(nil))
	require.NoError(t, err)
	require.Equal(t, []any{int64(123), 1.5, true, nil, "-7", "abc"}, got)
}

func TestResolveRecursesIntoContainers(t *testing.T) {
	t.Parallel()

	env := testEnv(map[string]any{"id": 7, "key": "token"})
	content := map[string]any{
		"path":  "/items/$id",
		"id":    "$id",
		"$key":  "value",
		"list":  []any{"$id", "x", 3},
		"plain": 12,
	}

	got, err := Resolve(content, env)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"path":  "/items/7",
		"id":    7,
		"token": "value",
		"list":  []any{7, "x", 3},
		"plain": 12,
	}, got)
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	env := testEnv(nil)

	_, err := Resolve("$missing", env)
	require.ErrorIs(t, err, engineerr.ErrVariableNotFound)

	_, err = Resolve("${nope(1)}", env)
	require.ErrorIs(t, err, engineerr.ErrFunctionNotFound)

	_, err = Resolve("${add(1,", env)
	require.ErrorIs(t, err, engineerr.ErrParams)
}

func TestResolveLenientKeepsUnknownReferences(t *testing.T) {
	t.Parallel()

	env := testEnv(map[string]any{"host": "api.local"})
	env.Opts.Lenient = true

	got, err := Resolve("$later", env)
	require.NoError(t, err)
	require.Equal(t, "$later", got)

	got, err = Resolve("http://$host/${later}/${add($later, 1)}", env)
	require.NoError(t, err)
	require.Equal(t, "http://api.local/${later}/${add($later, 1)}", got)

	_, err = Resolve("${nope()}", env)
	require.ErrorIs(t, err, engineerr.ErrFunctionNotFound)
}

func TestResolvePreferScope(t *testing.T) {
	t.Parallel()

	env := testEnv(map[string]any{"name": "zoe"})
	got, err := Resolve("${greet(name)}", env)
	require.NoError(t, err)
	require.Equal(t, "hello name", got)

	env.Opts.PreferScope = true
	got, err = Resolve("${greet(name)}", env)
	require.NoError(t, err)
	require.Equal(t, "hello zoe", got)
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want any
	}{
		{"123", int64(123)},
		{"0", int64(0)},
		{"3.25", 3.25},
		{"1e3", float64(1000)},
		{"true", true},
		{"False", false},
		{"null", nil},
		{"-5", "-5"},
		{"-1.5", "-1.5"},
		{"+5", "+5"},
		{"12abc", "12abc"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Coerce(tt.in), tt.in)
	}
}
