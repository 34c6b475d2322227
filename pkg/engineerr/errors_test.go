package engineerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/husmancristian/geaman-engine/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.Outcome
	}{
		{"nil", nil, models.OutcomeSuccess},
		{"validation", &ValidationFailure{Failures: []Failure{{Comparator: "equals"}}}, models.OutcomeFail},
		{"wrapped validation", fmt.Errorf("step: %w", &ValidationFailure{}), models.OutcomeFail},
		{"extract", Extract("token", errors.New("no such path")), models.OutcomeFail},
		{"timeout", Timeout("step exceeded 1s", context.DeadlineExceeded), models.OutcomeFail},
		{"params", Params("unknown service %q", "billing"), models.OutcomeFail},
		{"backend timeout", Backend(BackendTimeout, "find element", nil), models.OutcomeFail},
		{"stale session", Backend(BackendStaleSession, "click", nil), models.OutcomeError},
		{"unknown variable", VariableNotFound("user"), models.OutcomeError},
		{"unknown function", FunctionNotFound("sign"), models.OutcomeError},
		{"foreign", errors.New("connection refused"), models.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsMatchesKindAndBackend(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Backend(BackendInvalidLocator, "css=#x", nil))

	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, &Error{Kind: KindBackend, Backend: BackendInvalidLocator})
	assert.NotErrorIs(t, err, &Error{Kind: KindBackend, Backend: BackendUnreachable})
	assert.NotErrorIs(t, err, ErrParams)
	assert.ErrorIs(t, Timeout("slow", context.DeadlineExceeded), context.DeadlineExceeded)
}

func TestValidationFailureMessage(t *testing.T) {
	one := &ValidationFailure{Failures: []Failure{{Comparator: "equals", Description: "status", Expected: 200, Actual: 404}}}
	assert.Equal(t, "validation failed: equals (status): expected 200 (int), actual 404 (int)", one.Error())

	two := &ValidationFailure{Failures: []Failure{
		{Comparator: "equals", Expected: 1, Actual: 2},
		{Comparator: "regex", Expected: "^a", Actual: "b", Reason: "no match"},
	}}
	assert.Contains(t, two.Error(), "validation failed (2 assertions): [1] equals")
	assert.Contains(t, two.Error(), "[2] regex (): expected ^a (string), actual b (string): no match")
}
