package expression

import (
	"errors"
	"strings"

	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/values"
)

// Lookup resolves variable names.
type Lookup interface {
	Get(name string) (any, bool)
}

// Caller invokes registered functions by name.
type Caller interface {
	Call(name string, args []any, kwargs map[string]any) (any, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(name string, args []any, kwargs map[string]any) (any, error)

func (f CallerFunc) Call(name string, args []any, kwargs map[string]any) (any, error) {
	return f(name, args, kwargs)
}

// MapLookup adapts a plain map to Lookup.
type MapLookup map[string]any

func (m MapLookup) Get(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Options tune evaluation.
type Options struct {
	// Lenient keeps references to undefined variables as their original text instead of
	// failing. Used while seeding case variables, where siblings may reference each other
	// in any order.
	Lenient bool
	// PreferScope makes bare function arguments that name a variable resolve to it.
	PreferScope bool
}

// Env is what expressions are evaluated against.
type Env struct {
	Vars  Lookup
	Funcs Caller
	Opts  Options
}

// Resolve walks content recursively and substitutes every reference found in strings.
// A string that is exactly one reference keeps the native type of the resolved value;
// references embedded in longer strings are stringified and spliced in.
func Resolve(content any, env Env) (any, error) {
	switch t := content.(type) {
	case string:
		return ResolveString(t, env)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			v, err := Resolve(e, env)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			v, err := ResolveString(e, env)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			key, err := ResolveString(k, env)
			if err != nil {
				return nil, err
			}
			v, err := Resolve(e, env)
			if err != nil {
				return nil, err
			}
			out[values.Stringify(key)] = v
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, e := range t {
			key, err := ResolveString(k, env)
			if err != nil {
				return nil, err
			}
			v, err := ResolveString(e, env)
			if err != nil {
				return nil, err
			}
			out[values.Stringify(key)] = v
		}
		return out, nil
	}
	return content, nil
}

// ResolveString evaluates one string.
func ResolveString(s string, env Env) (any, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	tmpl, err := Parse(s)
	if err != nil {
		return nil, engineerr.Params("%v", err)
	}
	return Eval(tmpl, env)
}

// Eval evaluates a parsed template.
func Eval(t *Template, env Env) (any, error) {
	if t.IsSingleRef() {
		v, err := evalNode(t.Parts[0], env)
		if err != nil && env.Opts.Lenient && isUndefined(err) {
			return raw(t.Parts[0]), nil
		}
		return v, err
	}

	var b strings.Builder
	for _, part := range t.Parts {
		if lit, ok := part.(Literal); ok {
			b.WriteString(values.Stringify(lit.Value))
			continue
		}
		v, err := evalNode(part, env)
		if err != nil {
			if env.Opts.Lenient && isUndefined(err) {
				b.WriteString(raw(part))
				continue
			}
			return nil, err
		}
		b.WriteString(values.Stringify(v))
	}
	return b.String(), nil
}

func evalNode(n Node, env Env) (any, error) {
	switch t := n.(type) {
	case Literal:
		return t.Value, nil
	case Bare:
		if env.Opts.PreferScope && env.Vars != nil {
			if v, ok := env.Vars.Get(t.Text); ok {
				return v, nil
			}
		}
		return Coerce(t.Text), nil
	case VarRef:
		if env.Vars != nil {
			if v, ok := env.Vars.Get(t.Name); ok {
				return v, nil
			}
		}
		return nil, engineerr.VariableNotFound(t.Name)
	case FuncCall:
		return evalCall(t, env)
	case Template:
		return Eval(&t, env)
	}
	return nil, engineerr.Params("unsupported expression node %T", n)
}

func evalCall(call FuncCall, env Env) (any, error) {
	args := make([]any, 0, len(call.Args))
	for _, a := range call.Args {
		v, err := evalNode(a, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	var kwargs map[string]any
	if len(call.Kwargs) > 0 {
		kwargs = make(map[string]any, len(call.Kwargs))
		for _, kw := range call.Kwargs {
			v, err := evalNode(kw.Value, env)
			if err != nil {
				return nil, err
			}
			kwargs[kw.Name] = v
		}
	}
	if env.Funcs == nil {
		return nil, engineerr.FunctionNotFound(call.Name)
	}
	return env.Funcs.Call(call.Name, args, kwargs)
}

func isUndefined(err error) bool {
	return errors.Is(err, engineerr.ErrVariableNotFound)
}

func raw(n Node) string {
	switch t := n.(type) {
	case VarRef:
		return t.Raw
	case FuncCall:
		return t.Raw
	}
	return ""
}
