package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/husmancristian/geaman-engine/pkg/action"
	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/expression"
	"github.com/husmancristian/geaman-engine/pkg/models"
)

func TestComparators(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	users := []any{
		map[string]any{"id": 1, "role": "admin"},
		map[string]any{"id": 2, "role": "user"},
	}

	pass := []struct {
		cmp          string
		actual, want any
	}{
		{"equals", 1, 1},
		{"eq", 200, "200"},
		{"equals", map[string]any{"a": 1}, map[string]any{"a": 1.0}},
		{"not_equals", "a", "b"},
		{"less_than", 1, 2},
		{"le", 2, 2},
		{"greater_than", "b", "a"},
		{"ge", 3.5, "3.5"},
		{"length_equals", []any{1, 2}, 2},
		{"len_gt", "abc", 2},
		{"length_less_or_equals", map[string]any{}, 0},
		{"contains", "hello world", "world"},
		{"contains", []any{1, 2, 3}, 2},
		{"contains", map[string]any{"k": 1}, "k"},
		{"not_contains", []any{"a"}, "b"},
		{"contained_by", "b", []any{"a", "b"}},
		{"not_contained_by", "z", "abc"},
		{"startswith", "prefix-x", "prefix"},
		{"endswith", 12345, 45},
		{"regex_match", "order-123", `^order-\d+$`},
		{"type_match", "x", "str"},
		{"type_match", 3, "int"},
		{"type_match", 3, "number"},
		{"type_match", []any{}, "array"},
		{"type_match", map[string]any{}, map[string]any{"other": 1}},
		{"is_empty", "", nil},
		{"is_empty", nil, nil},
		{"not_empty", []any{0}, nil},
		{"list_every_has_key", users, "id,role"},
		{"list_every_key_equals", users, map[string]any{"id": 1}},
		{"list_any_key_equals", users, map[string]any{"role": "user"}},
		{"json_schema", map[string]any{"id": 1}, map[string]any{
			"type":       "object",
			"required":   []any{"id"},
			"properties": map[string]any{"id": map[string]any{"type": "integer"}},
		}},
		{"json_schema", `{"id": 1}`, `{"type":"object","required":["id"]}`},
		{"structure_equals", map[string]any{"a": 1, "b": []any{map[string]any{"c": "x"}}}, map[string]any{"a": 9, "b": []any{map[string]any{"c": "y"}}}},
	}
	for _, tt := range pass {
		require.NoError(t, r.Compare(tt.cmp, tt.actual, tt.want), "%s(%v, %v)", tt.cmp, tt.actual, tt.want)
	}

	fail := []struct {
		cmp          string
		actual, want any
	}{
		{"equals", 1, 2},
		{"equals", "1", "01"},
		{"less_than", 2, 1},
		{"length_equals", "abc", 2},
		{"length_equals", 5, 1},
		{"contains", 5, 1},
		{"regex_match", "abc", `^\d+$`},
		{"type_match", 1.5, "int"},
		{"not_empty", map[string]any{}, nil},
		{"list_every_key_equals", users, map[string]any{"role": "admin"}},
		{"list_any_key_equals", users, map[string]any{"role": "root"}},
		{"list_every_has_key", []any{1}, "id"},
		{"json_schema", map[string]any{"id": "x"}, map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "integer"}},
		}},
		{"structure_equals", map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}},
		{"structure_equals", map[string]any{"a": "1"}, map[string]any{"a": 1}},
	}
	for _, tt := range fail {
		err := r.Compare(tt.cmp, tt.actual, tt.want)
		var vf *engineerr.ValidationFailure
		require.ErrorAs(t, err, &vf, "%s(%v, %v)", tt.cmp, tt.actual, tt.want)
	}

	require.ErrorIs(t, r.Compare("nope", 1, 1), engineerr.ErrParams)
	require.Contains(t, r.Names(), "structure_equals")
}

func TestEqualsFailureCarriesBothValues(t *testing.T) {
	t.Parallel()

	err := NewRegistry().Compare("equals", 1, 2)
	var vf *engineerr.ValidationFailure
	require.ErrorAs(t, err, &vf)
	require.Equal(t, 1, vf.Failures[0].Actual)
	require.Equal(t, 2, vf.Failures[0].Expected)
	require.Contains(t, err.Error(), "expected 2")
	require.Contains(t, err.Error(), "actual 1")
}

type uiSession struct{ action.Session }

func (uiSession) Query(_ context.Context, name string, _ models.Locator, _ any) (any, error) {
	if name == "get_title" {
		return "Dashboard", nil
	}
	return nil, engineerr.Backend(engineerr.BackendInvalidLocator, "no such element", nil)
}

func TestValidatorCollectsAllFailures(t *testing.T) {
	t.Parallel()

	v := New(nil)
	in := Input{
		Result: &action.Result{Data: map[string]any{
			"status_code": 404,
			"content":     map[string]any{"items": []any{1, 2}},
		}},
		Vars: expression.MapLookup{"expected_status": 200, "count": 2},
	}
	disabled := false
	records, err := v.Run(context.Background(), []models.ValidateSpec{
		{Actual: "status_code", Comparator: "equals", Expected: "$expected_status", ExpectedType: "variable"},
		{Actual: "content.items", Comparator: "length_equals", Expected: "2", ExpectedType: "int"},
		{Actual: "content.missing", Comparator: "equals", Expected: 1},
		{Actual: "$count", Comparator: "equals", Expected: 3},
		{Actual: "status_code", Comparator: "equals", Expected: 1, Enabled: &disabled},
	}, in)

	var vf *engineerr.ValidationFailure
	require.ErrorAs(t, err, &vf)
	require.Len(t, vf.Failures, 3)
	require.Equal(t, models.OutcomeFail, engineerr.Classify(err))

	require.Len(t, records, 4)
	require.False(t, records[0].Passed)
	require.True(t, records[1].Passed)
	require.Equal(t, int64(2), records[1].Expected)
	require.False(t, records[2].Passed)
	require.Equal(t, 2, records[3].Actual)
}

func TestValidatorHardErrors(t *testing.T) {
	t.Parallel()

	v := New(nil)
	in := Input{Result: &action.Result{Data: map[string]any{"a": 1}}, Vars: expression.MapLookup{}}

	_, err := v.Run(context.Background(), []models.ValidateSpec{{Actual: "$nope", Comparator: "equals", Expected: 1}}, in)
	require.ErrorIs(t, err, engineerr.ErrVariableNotFound)

	_, err = v.Run(context.Background(), []models.ValidateSpec{{Actual: "a", Comparator: "bogus", Expected: 1}}, in)
	require.ErrorIs(t, err, engineerr.ErrParams)

	_, err = v.Run(context.Background(), []models.ValidateSpec{{Actual: "a", Comparator: "equals", Expected: "x", ExpectedType: "variable"}}, in)
	require.ErrorIs(t, err, engineerr.ErrVariableNotFound)
}

func TestValidatorUIAssertions(t *testing.T) {
	t.Parallel()

	v := New(nil)
	in := Input{Session: uiSession{}}

	records, err := v.Run(context.Background(), []models.ValidateSpec{
		{Kind: "ui", Action: "get_title", Comparator: "equals", Expected: "Dashboard"},
	}, in)
	require.NoError(t, err)
	require.True(t, records[0].Passed)

	_, err = v.Run(context.Background(), []models.ValidateSpec{
		{Kind: "ui", Action: "get_text", Locator: models.Locator{Expression: "#x"}, Comparator: "equals", Expected: "y"},
	}, in)
	require.ErrorIs(t, err, engineerr.ErrBackend)
}

func TestCoerceExpected(t *testing.T) {
	t.Parallel()

	vars := expression.MapLookup{"token": "abc"}
	tests := []struct {
		in   any
		typ  string
		want any
	}{
		{"12", "int", int64(12)},
		{"1.5", "float", 1.5},
		{12, "str", "12"},
		{"true", "bool", true},
		{`{"a":[1]}`, "json", map[string]any{"a": []any{float64(1)}}},
		{"whatever", "null", nil},
		{"$token", "variable", "abc"},
		{"${token}", "variable", "abc"},
		{"raw", "auto", "raw"},
		{"raw", "", "raw"},
	}
	for _, tt := range tests {
		got, err := CoerceExpected(tt.in, tt.typ, vars)
		require.NoError(t, err, "%v as %s", tt.in, tt.typ)
		require.Equal(t, tt.want, got)
	}

	_, err := CoerceExpected("x", "int", vars)
	require.Error(t, err)
	_, err = CoerceExpected("x", "weird", vars)
	require.ErrorIs(t, err, engineerr.ErrParams)
}
