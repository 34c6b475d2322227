// Package extract pulls values out of a step result into the case scope.
package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/husmancristian/geaman-engine/pkg/action"
	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/expression"
	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/scope"
	"github.com/husmancristian/geaman-engine/pkg/values"
)

// Input is what extraction runs against.
type Input struct {
	Result  *action.Result
	Scope   *scope.Scope
	Funcs   expression.Caller
	Session action.Session // Needed by element sources only
}

// Run evaluates every enabled spec in order. Each value is written to the step scope as
// soon as it is extracted, so later specs may reference earlier ones. The first failure
// stops extraction and is returned as an extract error.
func Run(ctx context.Context, specs []models.ExtractSpec, in Input) (map[string]any, []models.ExtractRecord, error) {
	out := make(map[string]any)
	var records []models.ExtractRecord
	for i := range specs {
		spec := &specs[i]
		if !spec.IsEnabled() {
			continue
		}
		v, err := One(ctx, spec, in)
		if err != nil {
			records = append(records, models.ExtractRecord{Key: spec.Key, Error: err.Error()})
			return out, records, err
		}
		records = append(records, models.ExtractRecord{Key: spec.Key, Value: v})
		out[spec.Key] = v
		if in.Scope != nil {
			in.Scope.Set(spec.Key, v)
		}
	}
	return out, records, nil
}

// One evaluates a single spec without touching the scope.
func One(ctx context.Context, spec *models.ExtractSpec, in Input) (any, error) {
	if strings.TrimSpace(spec.Key) == "" {
		return nil, engineerr.Params("extract without a key")
	}
	v, err := one(ctx, spec, in)
	if err != nil {
		// Typed errors keep their kind; everything else is an extract failure.
		var e *engineerr.Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, engineerr.Extract(spec.Key, err)
	}
	return v, nil
}

func one(ctx context.Context, spec *models.ExtractSpec, in Input) (any, error) {
	env := expression.Env{Vars: in.Scope, Funcs: in.Funcs, Opts: expression.Options{PreferScope: true}}
	if in.Scope == nil {
		env.Vars = expression.MapLookup{}
	}

	src := strings.ToLower(strings.TrimSpace(spec.Source))
	expr := spec.Expression

	if hasCall(expr) {
		return expression.ResolveString(expr, env)
	}

	switch src {
	case models.ExtractFromConst:
		return expr, nil

	case models.ExtractFromFunc:
		call := strings.TrimSpace(expr)
		if !strings.HasPrefix(call, "$") {
			call = "${" + call + "}"
		}
		return expression.ResolveString(call, env)

	case models.ExtractFromVariable:
		segs := values.SplitPath(strings.TrimPrefix(strings.TrimSpace(expr), "$"))
		if len(segs) == 0 {
			return nil, fmt.Errorf("empty variable path")
		}
		root, ok := env.Vars.Get(segs[0])
		if !ok {
			return nil, fmt.Errorf("variable %q is not defined", segs[0])
		}
		if len(segs) == 1 {
			return root, nil
		}
		return values.Lookup(root, strings.Join(segs[1:], "."))

	case models.ExtractFromRegexp:
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, engineerr.Params("invalid regexp %q: %v", expr, err)
		}
		text := resultText(in.Result)
		m := re.FindStringSubmatch(text)
		if m == nil {
			return nil, fmt.Errorf("regexp %q did not match", expr)
		}
		if len(m) > 1 {
			return m[1], nil
		}
		return m[0], nil

	case models.ExtractFromElement:
		if in.Session == nil {
			return nil, fmt.Errorf("element extraction needs a ui session")
		}
		v, err := in.Session.Query(ctx, spec.Action, spec.Locator, nil)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(expr) == "" {
			return v, nil
		}
		return values.Lookup(v, expr)

	case "", models.ExtractFromResponse:
		if in.Result == nil || in.Result.Data == nil {
			return nil, fmt.Errorf("no result to extract %q from", expr)
		}
		return values.Lookup(in.Result.Data, expr)
	}
	return nil, engineerr.Params("unknown extract source %q", spec.Source)
}

func hasCall(s string) bool {
	if !strings.Contains(s, "${") {
		return false
	}
	t, err := expression.Parse(s)
	return err == nil && t.HasFuncCall()
}

func resultText(r *action.Result) string {
	if r == nil {
		return ""
	}
	if m, ok := r.Data.(map[string]any); ok {
		if t, ok := m["text"].(string); ok {
			return t
		}
	}
	if r.Response != nil {
		return r.Response.Text
	}
	return values.Stringify(r.Data)
}
