// Package validate is the assertion library: a registry of named comparators and the
// validator that evaluates a step's declared assertions against its result.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/values"
)

// Comparator checks actual against expected. A nil return means the assertion holds;
// otherwise the error explains why it does not.
type Comparator func(actual, expected any) error

type entry struct {
	name        string
	description string
	fn          Comparator
}

// Registry maps comparator names and their aliases onto comparators.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns a registry holding the builtin comparators.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]*entry)}
	for _, b := range builtinComparators {
		r.Register(b.name, b.description, b.fn, b.aliases...)
	}
	return r
}

// Register adds a comparator under name and every alias.
func (r *Registry) Register(name, description string, fn Comparator, aliases ...string) {
	e := &entry{name: name, description: description, fn: fn}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[normalizeName(name)] = e
	for _, a := range aliases {
		r.entries[normalizeName(a)] = e
	}
}

// Names lists the canonical comparator names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.entries {
		if !seen[e.name] {
			seen[e.name] = true
			out = append(out, e.name)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalizeName(name)]
	return e, ok
}

// Compare runs the named comparator. Unknown names are a params error; a failed
// assertion is returned as an engineerr.Failure wrapped in a ValidationFailure.
func (r *Registry) Compare(name string, actual, expected any) error {
	e, ok := r.lookup(name)
	if !ok {
		return engineerr.Params("unknown comparator %q", name)
	}
	if err := e.fn(actual, expected); err != nil {
		return &engineerr.ValidationFailure{Failures: []engineerr.Failure{{
			Comparator:  e.name,
			Description: e.description,
			Actual:      actual,
			Expected:    expected,
			Reason:      err.Error(),
		}}}
	}
	return nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var errMismatch = errors.New("assertion does not hold")

func check(ok bool) error {
	if ok {
		return nil
	}
	return errMismatch
}

type builtin struct {
	name        string
	description string
	aliases     []string
	fn          Comparator
}

var builtinComparators = []builtin{
	{"equals", "actual equals expected", []string{"eq", "equal", "==", "="}, equals},
	{"not_equals", "actual differs from expected", []string{"ne", "not_equal", "!="}, func(a, e any) error { return check(equals(a, e) != nil) }},
	{"less_than", "actual < expected", []string{"lt", "<"}, ordered(func(c int) bool { return c < 0 })},
	{"less_or_equals", "actual <= expected", []string{"le", "<="}, ordered(func(c int) bool { return c <= 0 })},
	{"greater_than", "actual > expected", []string{"gt", ">"}, ordered(func(c int) bool { return c > 0 })},
	{"greater_or_equals", "actual >= expected", []string{"ge", ">="}, ordered(func(c int) bool { return c >= 0 })},
	{"length_equals", "len(actual) == expected", []string{"len_eq", "length_equal", "count_eq"}, length(func(a, e float64) bool { return a == e })},
	{"length_not_equals", "len(actual) != expected", []string{"len_ne", "length_not_equal"}, length(func(a, e float64) bool { return a != e })},
	{"length_greater_than", "len(actual) > expected", []string{"len_gt", "count_gt"}, length(func(a, e float64) bool { return a > e })},
	{"length_less_than", "len(actual) < expected", []string{"len_lt", "count_lt"}, length(func(a, e float64) bool { return a < e })},
	{"length_greater_or_equals", "len(actual) >= expected", []string{"len_ge", "count_ge"}, length(func(a, e float64) bool { return a >= e })},
	{"length_less_or_equals", "len(actual) <= expected", []string{"len_le", "count_le"}, length(func(a, e float64) bool { return a <= e })},
	{"contains", "actual contains expected", []string{"include", "includes"}, contains},
	{"not_contains", "actual does not contain expected", []string{"not_include"}, func(a, e any) error { return check(contains(a, e) != nil) }},
	{"contained_by", "expected contains actual", []string{"in"}, func(a, e any) error { return contains(e, a) }},
	{"not_contained_by", "expected does not contain actual", []string{"not_in"}, func(a, e any) error { return check(contains(e, a) != nil) }},
	{"startswith", "actual starts with expected", []string{"starts_with"}, func(a, e any) error {
		return check(strings.HasPrefix(values.Stringify(a), values.Stringify(e)))
	}},
	{"endswith", "actual ends with expected", []string{"ends_with"}, func(a, e any) error {
		return check(strings.HasSuffix(values.Stringify(a), values.Stringify(e)))
	}},
	{"regex_match", "actual matches the expected pattern", []string{"regex", "matches"}, regexMatch},
	{"type_match", "actual has the expected type", []string{"type", "type_equals"}, typeMatch},
	{"is_empty", "actual is empty", []string{"empty"}, func(a, _ any) error { return check(isEmpty(a)) }},
	{"not_empty", "actual is not empty", []string{"is_not_empty"}, func(a, _ any) error { return check(!isEmpty(a)) }},
	{"list_every_has_key", "every item of actual has the expected keys", nil, listEveryHasKey},
	{"list_every_key_equals", "every item of actual has the expected key/value pairs", nil, listKeyEquals(true)},
	{"list_any_key_equals", "some item of actual has the expected key/value pairs", nil, listKeyEquals(false)},
	{"json_schema", "actual satisfies the expected JSON schema", []string{"schema"}, jsonSchema},
	{"structure_equals", "actual has the same shape as expected", []string{"same_structure"}, structureEquals},
}

func equals(a, e any) error {
	if values.Equal(a, e) {
		return nil
	}
	// "200" vs 200 compares equal only when both sides are numeric.
	af, aok := values.ToFloat(a)
	ef, eok := values.ToFloat(e)
	if aok && eok && (values.IsNumber(a) || values.IsNumber(e)) && af == ef {
		return nil
	}
	return errMismatch
}

// ordered compares numbers numerically and anything else as strings.
func ordered(ok func(int) bool) Comparator {
	return func(a, e any) error {
		af, aok := values.ToFloat(a)
		ef, eok := values.ToFloat(e)
		var c int
		switch {
		case aok && eok:
			switch {
			case af < ef:
				c = -1
			case af > ef:
				c = 1
			}
		case a == nil || e == nil:
			return fmt.Errorf("cannot order %s and %s", values.TypeName(a), values.TypeName(e))
		default:
			c = strings.Compare(values.Stringify(a), values.Stringify(e))
		}
		return check(ok(c))
	}
}

func length(ok func(actual, expected float64) bool) Comparator {
	return func(a, e any) error {
		n, has := values.Length(values.Normalize(a))
		if !has {
			return fmt.Errorf("%s has no length", values.TypeName(a))
		}
		want, isNum := values.ToFloat(e)
		if !isNum {
			return fmt.Errorf("expected length %v is not a number", e)
		}
		if ok(float64(n), want) {
			return nil
		}
		return fmt.Errorf("length is %d", n)
	}
}

func contains(container, item any) error {
	switch c := values.Normalize(container).(type) {
	case string:
		return check(strings.Contains(c, values.Stringify(item)))
	case []any:
		for _, e := range c {
			if equals(e, item) == nil {
				return nil
			}
		}
		return errMismatch
	case map[string]any:
		_, ok := c[values.Stringify(item)]
		return check(ok)
	case nil:
		return fmt.Errorf("null contains nothing")
	}
	return fmt.Errorf("%s is not a container", values.TypeName(container))
}

func regexMatch(a, e any) error {
	pattern := values.Stringify(e)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return check(re.MatchString(values.Stringify(a)))
}

var typeAliases = map[string]string{
	"str": "str", "string": "str", "text": "str",
	"int": "int", "integer": "int",
	"float": "float", "number": "float", "double": "float",
	"bool": "bool", "boolean": "bool",
	"list": "list", "array": "list", "tuple": "list",
	"dict": "dict", "map": "dict", "object": "dict",
	"null": "null", "none": "null", "nil": "null",
}

func typeMatch(a, e any) error {
	got := values.TypeName(a)
	want, ok := "", false
	if s, isStr := e.(string); isStr {
		want, ok = typeAliases[strings.ToLower(strings.TrimSpace(s))]
	}
	if !ok {
		// Expected is an example value rather than a type name.
		want = values.TypeName(e)
	}
	if got == want || (want == "float" && got == "int") {
		return nil
	}
	return fmt.Errorf("type is %s, want %s", got, want)
}

func isEmpty(a any) bool {
	if a == nil {
		return true
	}
	n, ok := values.Length(values.Normalize(a))
	return ok && n == 0
}

func expectedKeys(e any) []string {
	switch t := values.Normalize(e).(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, k := range t {
			out = append(out, values.Stringify(k))
		}
		return out
	case string:
		var out []string
		for _, k := range strings.Split(t, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
		return out
	}
	return []string{values.Stringify(e)}
}

func itemsOf(a any) ([]map[string]any, error) {
	list, ok := values.Normalize(a).([]any)
	if !ok {
		return nil, fmt.Errorf("%s is not a list", values.TypeName(a))
	}
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d is %s, not a dict", i, values.TypeName(item))
		}
		out = append(out, m)
	}
	return out, nil
}

func listEveryHasKey(a, e any) error {
	items, err := itemsOf(a)
	if err != nil {
		return err
	}
	keys := expectedKeys(e)
	for i, item := range items {
		for _, k := range keys {
			if _, ok := item[k]; !ok {
				return fmt.Errorf("item %d has no key %q", i, k)
			}
		}
	}
	return nil
}

// listKeyEquals expects a dict of key → value pairs every (or any) item must match.
func listKeyEquals(every bool) Comparator {
	return func(a, e any) error {
		items, err := itemsOf(a)
		if err != nil {
			return err
		}
		pairs, ok := values.Normalize(e).(map[string]any)
		if !ok || len(pairs) == 0 {
			return fmt.Errorf("expected must be a non-empty dict of key/value pairs")
		}
		matches := func(item map[string]any) bool {
			for k, v := range pairs {
				got, ok := item[k]
				if !ok || equals(got, v) != nil {
					return false
				}
			}
			return true
		}
		for i, item := range items {
			m := matches(item)
			if every && !m {
				return fmt.Errorf("item %d does not match", i)
			}
			if !every && m {
				return nil
			}
		}
		if every {
			return nil
		}
		return fmt.Errorf("no item matches")
	}
}

func jsonSchema(a, e any) error {
	schemaDoc := e
	if s, ok := e.(string); ok {
		if err := json.Unmarshal([]byte(s), &schemaDoc); err != nil {
			return fmt.Errorf("expected schema is not valid json: %w", err)
		}
	}
	schemaDoc = values.Normalize(schemaDoc)

	c := jsonschema.NewCompiler()
	if err := c.AddResource("expected.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("expected.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	instance := values.Normalize(a)
	if s, ok := instance.(string); ok {
		var decoded any
		if json.Unmarshal([]byte(s), &decoded) == nil {
			instance = decoded
		}
	}
	if err := sch.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			var msgs []string
			for _, cause := range leafCauses(ve) {
				msgs = append(msgs, fmt.Sprintf("/%s: %v", strings.Join(cause.InstanceLocation, "/"), cause.ErrorKind))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func leafCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leafCauses(c)...)
	}
	return out
}

// structureEquals compares shapes: same keys at every level and the same value types,
// with list items checked against the first expected item.
func structureEquals(a, e any) error {
	return sameShape("$", values.Normalize(a), values.Normalize(e))
}

func sameShape(path string, a, e any) error {
	switch et := e.(type) {
	case map[string]any:
		at, ok := a.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: got %s, want dict", path, values.TypeName(a))
		}
		if !reflect.DeepEqual(sortedKeys(at), sortedKeys(et)) {
			return fmt.Errorf("%s: keys %v, want %v", path, sortedKeys(at), sortedKeys(et))
		}
		for k, ev := range et {
			if err := sameShape(path+"."+k, at[k], ev); err != nil {
				return err
			}
		}
		return nil
	case []any:
		at, ok := a.([]any)
		if !ok {
			return fmt.Errorf("%s: got %s, want list", path, values.TypeName(a))
		}
		if len(et) == 0 {
			return nil
		}
		for i, item := range at {
			if err := sameShape(fmt.Sprintf("%s[%d]", path, i), item, et[0]); err != nil {
				return err
			}
		}
		return nil
	case float64:
		if _, ok := a.(float64); !ok {
			return fmt.Errorf("%s: got %s, want number", path, values.TypeName(a))
		}
		return nil
	}
	if values.TypeName(a) != values.TypeName(e) {
		return fmt.Errorf("%s: got %s, want %s", path, values.TypeName(a), values.TypeName(e))
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
