package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/husmancristian/geaman-engine/pkg/action"
	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/expression"
	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/values"
)

// Input is what assertions are evaluated against.
type Input struct {
	Result  *action.Result
	Vars    expression.Lookup
	Funcs   expression.Caller
	Session action.Session // Needed by ui assertions only
}

// Validator evaluates a step's assertions.
type Validator struct {
	comparators *Registry
}

// New returns a validator over the given comparators. A nil registry uses the builtins.
func New(r *Registry) *Validator {
	if r == nil {
		r = NewRegistry()
	}
	return &Validator{comparators: r}
}

// Comparators exposes the registry, shared with the skip evaluator.
func (v *Validator) Comparators() *Registry { return v.comparators }

// Run evaluates every enabled spec and collects all failed assertions into one
// ValidationFailure. Unknown variables or functions and backend errors abort immediately.
func (v *Validator) Run(ctx context.Context, specs []models.ValidateSpec, in Input) ([]models.ValidationRecord, error) {
	var (
		records  []models.ValidationRecord
		failures []engineerr.Failure
	)
	for i := range specs {
		spec := &specs[i]
		if !spec.IsEnabled() {
			continue
		}
		rec, failure, err := v.one(ctx, spec, in)
		records = append(records, rec)
		if err != nil {
			return records, err
		}
		if failure != nil {
			failures = append(failures, *failure)
		}
	}
	if len(failures) > 0 {
		return records, &engineerr.ValidationFailure{Failures: failures}
	}
	return records, nil
}

func (v *Validator) one(ctx context.Context, spec *models.ValidateSpec, in Input) (models.ValidationRecord, *engineerr.Failure, error) {
	rec := models.ValidationRecord{Comparator: spec.Comparator, Expected: spec.Expected}

	fail := func(actual, expected any, reason string) (models.ValidationRecord, *engineerr.Failure, error) {
		rec.Actual, rec.Expected, rec.Message = actual, expected, reason
		return rec, &engineerr.Failure{
			Comparator:  spec.Comparator,
			Description: spec.Actual,
			Actual:      actual,
			Expected:    expected,
			Reason:      reason,
		}, nil
	}

	actual, err := v.actual(ctx, spec, in)
	if err != nil {
		if hard(err) {
			rec.Message = err.Error()
			return rec, nil, err
		}
		return fail(nil, spec.Expected, err.Error())
	}

	expected, err := CoerceExpected(spec.Expected, spec.ExpectedType, in.Vars)
	if err != nil {
		if hard(err) {
			rec.Actual, rec.Message = actual, err.Error()
			return rec, nil, err
		}
		return fail(actual, spec.Expected, err.Error())
	}

	err = v.comparators.Compare(spec.Comparator, actual, expected)
	var vf *engineerr.ValidationFailure
	switch {
	case err == nil:
		rec.Actual, rec.Expected, rec.Passed = actual, expected, true
		return rec, nil, nil
	case errors.As(err, &vf):
		f := vf.Failures[0]
		f.Description = fmt.Sprintf("%s: %s", spec.Actual, f.Description)
		rec.Actual, rec.Expected, rec.Message = actual, expected, f.String()
		return rec, &f, nil
	default:
		rec.Actual, rec.Expected, rec.Message = actual, expected, err.Error()
		return rec, nil, err
	}
}

// hard reports errors that must not be folded into a failed assertion.
func hard(err error) bool {
	switch engineerr.KindOf(err) {
	case engineerr.KindVariableNotFound, engineerr.KindFunctionNotFound, engineerr.KindBackend, engineerr.KindParams:
		return true
	}
	return false
}

// actual resolves the spec's actual value: expressions against the scope, ui assertions
// through an element query, anything else as a path into the step result.
func (v *Validator) actual(ctx context.Context, spec *models.ValidateSpec, in Input) (any, error) {
	expr := strings.TrimSpace(spec.Actual)
	env := expression.Env{Vars: in.Vars, Funcs: in.Funcs}
	if env.Vars == nil {
		env.Vars = expression.MapLookup{}
	}

	if strings.EqualFold(spec.Kind, models.ValidateUI) {
		if in.Session == nil {
			return nil, engineerr.Params("ui assertion without a ui session")
		}
		got, err := in.Session.Query(ctx, spec.Action, spec.Locator, nil)
		if err != nil {
			return nil, err
		}
		if expr == "" {
			return got, nil
		}
		return values.Lookup(got, expr)
	}

	if strings.Contains(expr, "$") {
		return expression.ResolveString(expr, env)
	}
	if in.Result == nil || in.Result.Data == nil {
		return nil, fmt.Errorf("no result to read %q from", expr)
	}
	return values.Lookup(in.Result.Data, expr)
}

// CoerceExpected applies the declared expected type.
func CoerceExpected(expected any, typ string, vars expression.Lookup) (any, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "auto":
		return expected, nil
	case "str", "string":
		return values.Stringify(expected), nil
	case "int", "integer":
		f, ok := values.ToFloat(expected)
		if !ok {
			return nil, fmt.Errorf("expected %v is not an int", expected)
		}
		return int64(f), nil
	case "float", "number":
		f, ok := values.ToFloat(expected)
		if !ok {
			return nil, fmt.Errorf("expected %v is not a number", expected)
		}
		return f, nil
	case "bool", "boolean":
		if b, ok := expected.(bool); ok {
			return b, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(values.Stringify(expected)))
		if err != nil {
			return nil, fmt.Errorf("expected %v is not a bool", expected)
		}
		return b, nil
	case "json":
		s, ok := expected.(string)
		if !ok {
			return expected, nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("expected is not valid json: %w", err)
		}
		return out, nil
	case "null", "none":
		return nil, nil
	case "variable":
		name := strings.TrimPrefix(strings.TrimSpace(values.Stringify(expected)), "$")
		name = strings.TrimSuffix(strings.TrimPrefix(name, "{"), "}")
		if vars != nil {
			if v, ok := vars.Get(name); ok {
				return v, nil
			}
		}
		return nil, engineerr.VariableNotFound(name)
	}
	return nil, engineerr.Params("unknown expected type %q", typ)
}
