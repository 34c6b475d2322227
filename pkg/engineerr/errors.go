// Package engineerr defines the error taxonomy of the execution engine and how each
// kind maps onto a step outcome.
package engineerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/husmancristian/geaman-engine/pkg/models"
)

// Kind classifies engine errors.
type Kind string

const (
	KindParams           Kind = "params"             // Malformed definition, e.g. unresolvable base URL
	KindVariableNotFound Kind = "variable_not_found" // Unknown $name
	KindFunctionNotFound Kind = "function_not_found" // Unknown ${name()}
	KindExtract          Kind = "extract"            // Extraction path did not resolve
	KindValidation       Kind = "validation"         // One or more assertions failed
	KindTimeout          Kind = "timeout"            // Per-step timeout
	KindBackend          Kind = "backend"            // Backend failure, see BackendKind
)

// BackendKind is the closed set backend-specific failures are folded into.
type BackendKind string

const (
	BackendTimeout        BackendKind = "timeout"
	BackendInvalidLocator BackendKind = "invalid_locator"
	BackendStaleSession   BackendKind = "stale_session"
	BackendUnreachable    BackendKind = "unreachable"
)

// Error is a typed engine error.
type Error struct {
	Kind    Kind
	Backend BackendKind // Set for KindBackend only
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Kind == KindBackend && e.Backend != "" {
		prefix += "/" + string(e.Backend)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind (and backend kind when the target sets one).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Backend == "" || t.Backend == e.Backend
}

// Sentinels usable with errors.Is.
var (
	ErrParams           = &Error{Kind: KindParams}
	ErrVariableNotFound = &Error{Kind: KindVariableNotFound}
	ErrFunctionNotFound = &Error{Kind: KindFunctionNotFound}
	ErrExtract          = &Error{Kind: KindExtract}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrBackend          = &Error{Kind: KindBackend}
)

func Params(format string, args ...any) *Error {
	return &Error{Kind: KindParams, Msg: fmt.Sprintf(format, args...)}
}

func VariableNotFound(name string) *Error {
	return &Error{Kind: KindVariableNotFound, Msg: fmt.Sprintf("variable %q is not defined", name)}
}

func FunctionNotFound(name string) *Error {
	return &Error{Kind: KindFunctionNotFound, Msg: fmt.Sprintf("function %q is not registered", name)}
}

func Extract(key string, err error) *Error {
	return &Error{Kind: KindExtract, Msg: fmt.Sprintf("extract %q", key), Err: err}
}

func Timeout(msg string, err error) *Error {
	return &Error{Kind: KindTimeout, Msg: msg, Err: err}
}

func Backend(kind BackendKind, msg string, err error) *Error {
	return &Error{Kind: KindBackend, Backend: kind, Msg: msg, Err: err}
}

// Failure is one failed assertion.
type Failure struct {
	Comparator  string
	Description string
	Actual      any
	Expected    any
	Reason      string
}

func (f Failure) String() string {
	if f.Reason != "" {
		return fmt.Sprintf("%s (%s): expected %s, actual %s: %s", f.Comparator, f.Description, describe(f.Expected), describe(f.Actual), f.Reason)
	}
	return fmt.Sprintf("%s (%s): expected %s, actual %s", f.Comparator, f.Description, describe(f.Expected), describe(f.Actual))
}

func describe(v any) string {
	return fmt.Sprintf("%v (%T)", v, v)
}

// ValidationFailure aggregates every failed assertion of a step.
type ValidationFailure struct {
	Failures []Failure
}

func (v *ValidationFailure) Error() string {
	if len(v.Failures) == 1 {
		return "validation failed: " + v.Failures[0].String()
	}
	parts := make([]string, 0, len(v.Failures))
	for i, f := range v.Failures {
		parts = append(parts, fmt.Sprintf("[%d] %s", i+1, f.String()))
	}
	return fmt.Sprintf("validation failed (%d assertions): %s", len(v.Failures), strings.Join(parts, "; "))
}

// KindOf returns the engine kind of err, or "" for foreign errors.
func KindOf(err error) Kind {
	var vf *ValidationFailure
	if errors.As(err, &vf) {
		return KindValidation
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Classify maps an error raised while running a step onto its terminal outcome.
// Declared validation, extraction, timeout and parameter failures are "fail";
// everything else, including unknown variables and functions, is "error".
func Classify(err error) models.Outcome {
	if err == nil {
		return models.OutcomeSuccess
	}
	switch KindOf(err) {
	case KindValidation, KindExtract, KindTimeout, KindParams:
		return models.OutcomeFail
	case KindBackend:
		var e *Error
		if errors.As(err, &e) && e.Backend == BackendTimeout {
			return models.OutcomeFail
		}
	}
	return models.OutcomeError
}
