package skip

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/husmancristian/geaman-engine/pkg/expression"
	"github.com/husmancristian/geaman-engine/pkg/models"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	facts := Facts{EnvCode: "staging", ServerID: "grid-1", DeviceID: "pixel-7"}
	vars := expression.MapLookup{
		"flag":                  true,
		"user":                  map[string]any{"role": "admin"},
		models.CaseRunResultKey: "success",
	}
	envIs := func(code, mode string) models.SkipSpec {
		return models.SkipSpec{Source: models.SkipSourceEnv, Comparator: "equals", Expected: code, Mode: mode}
	}
	disabled := false

	tests := []struct {
		name  string
		specs []models.SkipSpec
		skip  bool
	}{
		{"no specs", nil, false},
		{"or one true", []models.SkipSpec{envIs("prod", "or"), envIs("staging", "or")}, true},
		{"or none true", []models.SkipSpec{envIs("prod", "or"), envIs("dev", "or")}, false},
		{"and all true", []models.SkipSpec{
			envIs("staging", "and"),
			{Source: models.SkipSourceDevice, Comparator: "startswith", Expected: "pixel", Mode: "and"},
		}, true},
		{"and one false", []models.SkipSpec{
			envIs("staging", "and"),
			{Source: models.SkipSourceServer, Comparator: "equals", Expected: "grid-2", Mode: "and"},
		}, false},
		{"mode defaults to and", []models.SkipSpec{envIs("staging", ""), envIs("prod", "")}, false},
		{"variable path", []models.SkipSpec{
			{Source: models.SkipSourceVariable, Key: "user.role", Comparator: "equals", Expected: "admin", Mode: "or"},
		}, true},
		{"variable typed expected", []models.SkipSpec{
			{Source: models.SkipSourceVariable, Key: "flag", Comparator: "equals", Expected: "true", ExpectedType: "bool"},
		}, true},
		{"missing variable is not satisfied", []models.SkipSpec{
			{Source: models.SkipSourceVariable, Key: "nope", Comparator: "is_empty", Mode: "or"},
		}, false},
		{"erroring comparator is not satisfied", []models.SkipSpec{
			{Source: models.SkipSourceEnv, Comparator: "no_such_comparator", Expected: "x", Mode: "or"},
			{Source: models.SkipSourceEnv, Comparator: "length_equals", Expected: "not-a-number", Mode: "or"},
		}, false},
		{"disabled spec ignored", []models.SkipSpec{
			{Source: models.SkipSourceEnv, Comparator: "equals", Expected: "staging", Mode: "or", Enabled: &disabled},
		}, false},
	}

	e := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.skip, e.Evaluate(tt.specs, facts, vars).Skip)
		})
	}
}

func TestSyntheticSpecDoesNotCountTowardsAnd(t *testing.T) {
	t.Parallel()

	e := New(nil)
	failed := expression.MapLookup{models.CaseRunResultKey: "fail"}
	passing := expression.MapLookup{models.CaseRunResultKey: "success"}

	andFalse := models.SkipSpec{Source: models.SkipSourceEnv, Comparator: "equals", Expected: "prod", Mode: "and"}
	specs := []models.SkipSpec{models.FailPropagationSkip(), andFalse}

	// The synthetic spec is an "or" spec: a failed case skips regardless of the "and" group.
	d := e.Evaluate(specs, Facts{EnvCode: "dev"}, failed)
	require.True(t, d.Skip)
	require.Contains(t, d.Reason, models.CaseRunResultKey)

	require.False(t, e.Evaluate(specs, Facts{EnvCode: "dev"}, passing).Skip)

	// Only the synthetic spec: the "and" group is empty and must not skip on its own.
	require.False(t, e.Evaluate([]models.SkipSpec{models.FailPropagationSkip()}, Facts{}, passing).Skip)
}
