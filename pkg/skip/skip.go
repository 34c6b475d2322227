// Package skip decides whether a step (or case) must not run.
package skip

import (
	"fmt"
	"strings"

	"github.com/husmancristian/geaman-engine/pkg/expression"
	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/validate"
	"github.com/husmancristian/geaman-engine/pkg/values"
)

// Facts are the run-level data sources skip specs can read.
type Facts struct {
	EnvCode  string
	ServerID string
	DeviceID string
}

// Evaluator checks skip specs with the validator's comparators.
type Evaluator struct {
	comparators *validate.Registry
}

// New returns an evaluator. A nil registry uses the builtin comparators.
func New(r *validate.Registry) *Evaluator {
	if r == nil {
		r = validate.NewRegistry()
	}
	return &Evaluator{comparators: r}
}

// Decision is the outcome of evaluating a spec list.
type Decision struct {
	Skip   bool
	Reason string
}

// Evaluate applies the combination rules: any satisfied "or" spec skips; "and" specs skip
// only when every one of them is satisfied. Synthetic specs never count towards the "and"
// group. A spec that cannot be evaluated is not satisfied.
func (e *Evaluator) Evaluate(specs []models.SkipSpec, facts Facts, vars expression.Lookup) Decision {
	var (
		andTotal     int
		andSatisfied int
		andReasons   []string
	)
	for i := range specs {
		spec := &specs[i]
		if !spec.IsEnabled() {
			continue
		}
		ok := e.satisfied(spec, facts, vars)
		if strings.EqualFold(spec.Mode, models.SkipModeOr) {
			if ok {
				return Decision{Skip: true, Reason: describe(spec)}
			}
			continue
		}
		if spec.Synthetic {
			continue
		}
		andTotal++
		if ok {
			andSatisfied++
			andReasons = append(andReasons, describe(spec))
		}
	}
	if andTotal > 0 && andSatisfied == andTotal {
		return Decision{Skip: true, Reason: strings.Join(andReasons, " and ")}
	}
	return Decision{}
}

func (e *Evaluator) satisfied(spec *models.SkipSpec, facts Facts, vars expression.Lookup) bool {
	actual, ok := source(spec, facts, vars)
	if !ok {
		return false
	}
	expected, err := validate.CoerceExpected(spec.Expected, spec.ExpectedType, vars)
	if err != nil {
		return false
	}
	return e.comparators.Compare(spec.Comparator, actual, expected) == nil
}

func source(spec *models.SkipSpec, facts Facts, vars expression.Lookup) (any, bool) {
	switch strings.ToLower(strings.TrimSpace(spec.Source)) {
	case models.SkipSourceEnv:
		return facts.EnvCode, true
	case models.SkipSourceServer:
		return facts.ServerID, true
	case models.SkipSourceDevice:
		return facts.DeviceID, true
	case models.SkipSourceVariable:
		if vars == nil {
			return nil, false
		}
		segs := values.SplitPath(strings.TrimPrefix(strings.TrimSpace(spec.Key), "$"))
		if len(segs) == 0 {
			return nil, false
		}
		root, ok := vars.Get(segs[0])
		if !ok {
			return nil, false
		}
		if len(segs) == 1 {
			return root, true
		}
		v, err := values.Lookup(root, strings.Join(segs[1:], "."))
		return v, err == nil
	}
	return nil, false
}

func describe(spec *models.SkipSpec) string {
	name := spec.Source
	if spec.Source == models.SkipSourceVariable {
		name = spec.Key
	}
	return fmt.Sprintf("%s %s %v", name, spec.Comparator, spec.Expected)
}
