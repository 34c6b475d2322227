package expression

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []Node
	}{
		{
			name:  "plain text",
			input: "hello world",
			want:  []Node{Literal{Value: "hello world"}},
		},
		{
			name:  "bare variable",
			input: "$token",
			want:  []Node{VarRef{Name: "token", Raw: "$token"}},
		},
		{
			name:  "braced variable inside text",
			input: "Bearer ${token}!",
			want: []Node{
				Literal{Value: "Bearer "},
				VarRef{Name: "token", Raw: "${token}"},
				Literal{Value: "!"},
			},
		},
		{
			name:  "dollar escape",
			input: "cost $$5",
			want:  []Node{Literal{Value: "cost $5"}},
		},
		{
			name:  "lone dollar",
			input: "5 $ each",
			want:  []Node{Literal{Value: "5 $ each"}},
		},
		{
			name:  "variable followed by path text",
			input: "/users/$user_id/orders",
			want: []Node{
				Literal{Value: "/users/"},
				VarRef{Name: "user_id", Raw: "$user_id"},
				Literal{Value: "/orders"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Parts)
		})
	}
}

func TestParseCallArguments(t *testing.T) {
	t.Parallel()

	tmpl, err := Parse(`${sign($secret, 'a,b', mode=fast, opts=[1,2], inner=wrap(upper(x), $y))}`)
	require.NoError(t, err)
	require.True(t, tmpl.IsSingleRef())

	call, ok := tmpl.Parts[0].(FuncCall)
	require.True(t, ok)
	require.Equal(t, "sign", call.Name)
	require.Len(t, call.Args, 2)
	require.Equal(t, VarRef{Name: "secret", Raw: "$secret"}, call.Args[0])
	require.Equal(t, Literal{Value: "a,b"}, call.Args[1])

	require.Len(t, call.Kwargs, 3)
	require.Equal(t, "mode", call.Kwargs[0].Name)
	require.Equal(t, Bare{Text: "fast"}, call.Kwargs[0].Value)
	require.Equal(t, Literal{Value: []any{float64(1), float64(2)}}, call.Kwargs[1].Value)

	inner, ok := call.Kwargs[2].Value.(FuncCall)
	require.True(t, ok)
	require.Equal(t, "wrap", inner.Name)
	require.Len(t, inner.Args, 2)
	nested, ok := inner.Args[0].(FuncCall)
	require.True(t, ok)
	require.Equal(t, "upper", nested.Name)
	require.Equal(t, []Node{Bare{Text: "x"}}, nested.Args)
}

func TestParseNestedParenthesesInBareArgument(t *testing.T) {
	t.Parallel()

	tmpl, err := Parse(`${calc((1+2)*3, 4)}`)
	require.NoError(t, err)
	call := tmpl.Parts[0].(FuncCall)
	require.Equal(t, []Node{Bare{Text: "(1+2)*3"}, Bare{Text: "4"}}, call.Args)
}

func TestHasFuncCall(t *testing.T) {
	t.Parallel()

	plain, err := Parse("Bearer $token")
	require.NoError(t, err)
	require.False(t, plain.HasFuncCall())

	call, err := Parse("id-${uuid()}")
	require.NoError(t, err)
	require.True(t, call.HasFuncCall())

	nested := &Template{Parts: []Node{Literal{Value: "x"}, Template{Parts: []Node{VarRef{Name: "a"}, FuncCall{Name: "sign"}}}}}
	require.True(t, nested.HasFuncCall())
	nested.Parts[1] = Template{Parts: []Node{VarRef{Name: "a"}}}
	require.False(t, nested.HasFuncCall())
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		"${",
		"${add(1, 2}",
		"${add(1, 2)",
		"${ 1abc }",
		"${f(k=1, 2)}",
		`${f('open)}`,
	} {
		_, err := Parse(input)
		var syntaxErr *SyntaxError
		require.ErrorAs(t, err, &syntaxErr, input)
	}
}
