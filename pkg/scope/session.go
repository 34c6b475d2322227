package scope

import (
	"fmt"
	"maps"
	"sync"

	"github.com/husmancristian/geaman-engine/pkg/expression"
	"github.com/husmancristian/geaman-engine/pkg/models"
)

// Layers are the variable sources seeded into a case, lowest precedence first.
type Layers struct {
	Env     map[string]any    // Run/environment level
	Service map[string]any    // Service level
	Case    []models.Variable // Case level, resolved in order
}

// Session is the variable context of one case. It must never be shared between cases.
type Session struct {
	funcs expression.Caller

	mu        sync.Mutex
	base      *Scope
	extracted map[string]any
	result    string
}

// NewSession returns a session that resolves function calls through funcs.
func NewSession(funcs expression.Caller) *Session {
	return &Session{
		funcs:     funcs,
		base:      New(),
		extracted: make(map[string]any),
		result:    string(models.OutcomeSuccess),
	}
}

// Init seeds the session. Case variables are resolved leniently so a variable may refer
// to a sibling that is defined later; such references stay as raw text.
func (s *Session) Init(l Layers) error {
	s.base.Set(models.CaseRunResultKey, string(models.OutcomeSuccess))
	s.base.SetAll(l.Env)
	s.base.SetAll(l.Service)

	env := expression.Env{Vars: s.base, Funcs: s.funcs, Opts: expression.Options{Lenient: true}}
	for _, v := range l.Case {
		resolved, err := expression.Resolve(v.Value, env)
		if err != nil {
			return fmt.Errorf("case variable %s: %w", v.Key, err)
		}
		s.base.Set(v.Key, resolved)
	}
	return nil
}

// StepScope builds the scope a step runs in: case variables, then the step's own
// variables, then values extracted by earlier steps. The injected case_run_result always
// reflects the current state of the case.
func (s *Session) StepScope(stepVars []models.Variable) (*Scope, error) {
	return s.stepScope(stepVars, expression.Env{Funcs: s.funcs})
}

// SkipScope builds the scope skip conditions are checked against, before the step is
// known to run. Step variables are resolved leniently and without function calls; a
// variable that still cannot be resolved is left out.
func (s *Session) SkipScope(stepVars []models.Variable) *Scope {
	step, _ := s.stepScope(stepVars, expression.Env{Opts: expression.Options{Lenient: true}})
	return step
}

func (s *Session) stepScope(stepVars []models.Variable, env expression.Env) (*Scope, error) {
	s.mu.Lock()
	extracted := maps.Clone(s.extracted)
	result := s.result
	s.mu.Unlock()

	layer := s.base.Child()
	layer.SetAll(extracted)
	layer.Set(models.CaseRunResultKey, result)

	strict := !env.Opts.Lenient
	env.Vars = layer
	resolved := make(map[string]any, len(stepVars))
	for _, v := range stepVars {
		val, err := expression.Resolve(v.Value, env)
		if err != nil {
			if strict {
				return nil, fmt.Errorf("step variable %s: %w", v.Key, err)
			}
			continue
		}
		resolved[v.Key] = val
		layer.Set(v.Key, val)
	}

	step := s.base.Child()
	step.SetAll(resolved)
	step.SetAll(extracted)
	step.Set(models.CaseRunResultKey, result)
	return step, nil
}

// MergeSession records extracted values so later steps of the same case see them.
func (s *Session) MergeSession(extracted map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.extracted, extracted)
}

// Extracted returns a copy of the session-level extracted values.
func (s *Session) Extracted() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.extracted)
}

// MarkFailed flips case_run_result to "fail". It reports whether this call flipped it.
func (s *Session) MarkFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == string(models.OutcomeFail) {
		return false
	}
	s.result = string(models.OutcomeFail)
	return true
}

// Failed reports whether a step of the case has failed.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result == string(models.OutcomeFail)
}

// Base exposes the case-level scope.
func (s *Session) Base() *Scope { return s.base }
