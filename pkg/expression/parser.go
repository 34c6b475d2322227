package expression

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SyntaxError reports a malformed reference.
type SyntaxError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expression %q: %s at offset %d", e.Input, e.Msg, e.Pos)
}

// Parse splits s into literal text and references.
//
//	$name            variable
//	${name}          variable
//	${fn(a, $b, k=v)} function call, arguments may nest further calls
//	$$               literal dollar sign
func Parse(s string) (*Template, error) {
	p := &parser{src: s}
	return p.template()
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Input: p.src, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) peekAt(offset int) byte {
	if p.pos+offset >= len(p.src) {
		return 0
	}
	return p.src[p.pos+offset]
}

func (p *parser) skipSpaces() {
	for !p.eof() && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *parser) template() (*Template, error) {
	t := &Template{}
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			t.Parts = append(t.Parts, Literal{Value: text.String()})
			text.Reset()
		}
	}

	for !p.eof() {
		c := p.peek()
		if c != '$' {
			text.WriteByte(c)
			p.pos++
			continue
		}
		switch next := p.peekAt(1); {
		case next == '$':
			text.WriteByte('$')
			p.pos += 2
		case next == '{':
			node, err := p.reference()
			if err != nil {
				return nil, err
			}
			flush()
			t.Parts = append(t.Parts, node)
		case isNameStart(next):
			node := p.variable()
			flush()
			t.Parts = append(t.Parts, node)
		default:
			text.WriteByte('$')
			p.pos++
		}
	}
	flush()
	return t, nil
}

// variable parses `$name`; p.pos is at '$'.
func (p *parser) variable() Node {
	start := p.pos
	p.pos++
	name := p.name()
	return VarRef{Name: name, Raw: p.src[start:p.pos]}
}

// reference parses `${name}` or `${name(args)}`; p.pos is at '$'.
func (p *parser) reference() (Node, error) {
	start := p.pos
	p.pos += 2
	p.skipSpaces()
	if !isNameStart(p.peek()) {
		return nil, p.errorf("expected a name after ${")
	}
	name := p.name()
	p.skipSpaces()

	switch p.peek() {
	case '}':
		p.pos++
		return VarRef{Name: name, Raw: p.src[start:p.pos]}, nil
	case '(':
		call, err := p.call(name)
		if err != nil {
			return nil, err
		}
		p.skipSpaces()
		if p.peek() != '}' {
			return nil, p.errorf("expected } after call to %s", name)
		}
		p.pos++
		call.Raw = p.src[start:p.pos]
		return call, nil
	}
	return nil, p.errorf("unexpected %q in reference", p.peek())
}

// call parses `(args)` following an already consumed function name.
func (p *parser) call(name string) (FuncCall, error) {
	start := p.pos - len(name)
	call := FuncCall{Name: name}
	p.pos++ // (
	p.skipSpaces()
	if p.peek() == ')' {
		p.pos++
		call.Raw = p.src[start:p.pos]
		return call, nil
	}

	for {
		p.skipSpaces()
		if p.eof() {
			return call, p.errorf("unterminated argument list of %s", name)
		}
		if kw, ok := p.keyword(); ok {
			value, err := p.value()
			if err != nil {
				return call, err
			}
			call.Kwargs = append(call.Kwargs, Kwarg{Name: kw, Value: value})
		} else {
			if len(call.Kwargs) > 0 {
				return call, p.errorf("positional argument after keyword argument in %s", name)
			}
			value, err := p.value()
			if err != nil {
				return call, err
			}
			call.Args = append(call.Args, value)
		}

		p.skipSpaces()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			call.Raw = p.src[start:p.pos]
			return call, nil
		default:
			return call, p.errorf("expected , or ) in arguments of %s", name)
		}
	}
}

// keyword consumes `name=` when present.
func (p *parser) keyword() (string, bool) {
	save := p.pos
	if !isNameStart(p.peek()) {
		return "", false
	}
	name := p.name()
	p.skipSpaces()
	if p.peek() == '=' && p.peekAt(1) != '=' {
		p.pos++
		p.skipSpaces()
		return name, true
	}
	p.pos = save
	return "", false
}

// value parses one argument value.
func (p *parser) value() (Node, error) {
	switch c := p.peek(); {
	case c == '\'' || c == '"':
		s, err := p.quoted(c)
		if err != nil {
			return nil, err
		}
		return Literal{Value: s}, nil
	case c == '$':
		switch {
		case p.peekAt(1) == '{':
			return p.reference()
		case isNameStart(p.peekAt(1)):
			return p.variable(), nil
		}
	case c == '[' || c == '{':
		if node, ok := p.composite(); ok {
			return node, nil
		}
	case isNameStart(c):
		save := p.pos
		name := p.name()
		if p.peek() == '(' {
			return p.call(name)
		}
		p.pos = save
	}
	return p.bare()
}

// quoted parses a single or double quoted string with backslash escapes.
func (p *parser) quoted(quote byte) (string, error) {
	p.pos++
	var b strings.Builder
	for !p.eof() {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == quote:
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errorf("unterminated string")
}

// composite parses a JSON list or object argument. It backtracks when the text is not JSON.
func (p *parser) composite() (Node, bool) {
	start := p.pos
	depth := 0
	inString := false
	for i := p.pos; i < len(p.src); i++ {
		c := p.src[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				var v any
				if err := json.Unmarshal([]byte(p.src[start:i+1]), &v); err != nil {
					return nil, false
				}
				p.pos = i + 1
				return Literal{Value: v}, true
			}
		}
	}
	return nil, false
}

// bare reads raw text up to the next top-level , or ).
func (p *parser) bare() (Node, error) {
	start := p.pos
	depth := 0
	for !p.eof() {
		c := p.peek()
		if c == '(' {
			depth++
		} else if c == ')' {
			if depth == 0 {
				break
			}
			depth--
		} else if c == ',' && depth == 0 {
			break
		}
		p.pos++
	}
	text := strings.TrimSpace(p.src[start:p.pos])
	if strings.Contains(text, "$") {
		inner, err := Parse(text)
		if err != nil {
			return nil, err
		}
		return *inner, nil
	}
	return Bare{Text: text}, nil
}

func (p *parser) name() string {
	start := p.pos
	for !p.eof() && isNamePart(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNamePart(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
