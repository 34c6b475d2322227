// Package expression parses and evaluates the `$var` / `${func(args)}` micro-language
// embedded in step definitions.
package expression

// Node is one element of a parsed expression.
type Node interface {
	node()
}

// Literal is constant text (in a template) or a quoted argument.
type Literal struct {
	Value any
}

// Bare is an unquoted function argument. It is coerced to a number or boolean when it
// looks like one, and may name a scope variable when the evaluator prefers scope.
type Bare struct {
	Text string
}

// VarRef is `$name` or `${name}`.
type VarRef struct {
	Name string
	Raw  string
}

// FuncCall is `${name(args)}`, or `name(args)` nested inside another call.
type FuncCall struct {
	Name   string
	Args   []Node
	Kwargs []Kwarg
	Raw    string
}

// Kwarg is a `key=value` argument.
type Kwarg struct {
	Name  string
	Value Node
}

// Template is text interleaved with references.
type Template struct {
	Parts []Node
}

func (Literal) node()  {}
func (Bare) node()     {}
func (VarRef) node()   {}
func (FuncCall) node() {}
func (Template) node() {}

// IsSingleRef reports whether the template is exactly one reference with no surrounding text.
func (t *Template) IsSingleRef() bool {
	if len(t.Parts) != 1 {
		return false
	}
	switch t.Parts[0].(type) {
	case VarRef, FuncCall:
		return true
	}
	return false
}

// HasRefs reports whether the template contains any reference.
func (t *Template) HasRefs() bool {
	for _, p := range t.Parts {
		if _, ok := p.(Literal); !ok {
			return true
		}
	}
	return false
}

// HasFuncCall reports whether any part, at any depth, is a function call.
func (t *Template) HasFuncCall() bool {
	for _, p := range t.Parts {
		switch n := p.(type) {
		case FuncCall:
			return true
		case Template:
			if n.HasFuncCall() {
				return true
			}
		}
	}
	return false
}
