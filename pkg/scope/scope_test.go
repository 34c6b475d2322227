package scope

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/expression"
	"github.com/husmancristian/geaman-engine/pkg/models"
)

func TestScopeLayers(t *testing.T) {
	t.Parallel()

	root := FromMap(map[string]any{"a": 1, "b": 2})
	child := root.Child()
	child.Set("b", 3)
	child.Set("c", 4)

	v, ok := child.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, _ = child.Get("b")
	require.Equal(t, 3, v)
	v, _ = root.Get("b")
	require.Equal(t, 2, v)

	_, ok = root.Get("c")
	require.False(t, ok)

	require.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, child.Snapshot())
}

func echoCaller() expression.Caller {
	return expression.CallerFunc(func(name string, args []any, _ map[string]any) (any, error) {
		if name == "echo" {
			return args[0], nil
		}
		return nil, engineerr.FunctionNotFound(name)
	})
}

func TestSessionInitPrecedence(t *testing.T) {
	t.Parallel()

	s := NewSession(echoCaller())
	require.NoError(t, s.Init(Layers{
		Env:     map[string]any{"host": "env.local", "region": "eu"},
		Service: map[string]any{"host": "svc.local"},
		Case: []models.Variable{
			{Key: "url", Value: "http://$host/$path"},
			{Key: "path", Value: "items"},
			{Key: "count", Value: "${echo(3)}"},
			{Key: "region", Value: "us"},
		},
	}))

	base := s.Base()
	v, _ := base.Get("url")
	require.Equal(t, "http://svc.local/$path", v)
	v, _ = base.Get("count")
	require.Equal(t, int64(3), v)
	v, _ = base.Get("region")
	require.Equal(t, "us", v)
	v, _ = base.Get(models.CaseRunResultKey)
	require.Equal(t, "success", v)
}

func TestSessionInitFailsOnUnknownFunction(t *testing.T) {
	t.Parallel()

	s := NewSession(echoCaller())
	err := s.Init(Layers{Case: []models.Variable{{Key: "x", Value: "${nope()}"}}})
	require.ErrorIs(t, err, engineerr.ErrFunctionNotFound)
}

func TestStepScope(t *testing.T) {
	t.Parallel()

	s := NewSession(echoCaller())
	require.NoError(t, s.Init(Layers{Case: []models.Variable{
		{Key: "user", Value: "case-user"},
		{Key: "token", Value: "case-token"},
	}}))
	s.MergeSession(map[string]any{"token": "extracted"})

	step, err := s.StepScope([]models.Variable{
		{Key: "user", Value: "step-user"},
		{Key: "auth", Value: "Bearer $token"},
	})
	require.NoError(t, err)

	v, _ := step.Get("user")
	require.Equal(t, "step-user", v)
	v, _ = step.Get("token")
	require.Equal(t, "extracted", v)
	v, _ = step.Get("auth")
	require.Equal(t, "Bearer extracted", v)

	// Writes to a step scope never leak into the case.
	step.Set("local", true)
	_, ok := s.Base().Get("local")
	require.False(t, ok)

	_, err = s.StepScope([]models.Variable{{Key: "x", Value: "$undefined"}})
	require.ErrorIs(t, err, engineerr.ErrVariableNotFound)
}

func TestSkipScopeIsLenient(t *testing.T) {
	t.Parallel()

	s := NewSession(echoCaller())
	require.NoError(t, s.Init(Layers{Case: []models.Variable{{Key: "user", Value: "alice"}}}))
	s.MarkFailed()

	step := s.SkipScope([]models.Variable{
		{Key: "auth", Value: "Bearer $token"},
		{Key: "greeting", Value: "hi $user"},
		{Key: "signed", Value: "${echo(1)}"},
	})

	v, _ := step.Get("auth")
	require.Equal(t, "Bearer $token", v)
	v, _ = step.Get("greeting")
	require.Equal(t, "hi alice", v)
	_, ok := step.Get("signed")
	require.False(t, ok)
	v, _ = step.Get(models.CaseRunResultKey)
	require.Equal(t, "fail", v)
}

func TestMarkFailedFlipsOnce(t *testing.T) {
	t.Parallel()

	s := NewSession(nil)
	require.NoError(t, s.Init(Layers{}))
	require.False(t, s.Failed())
	require.True(t, s.MarkFailed())
	require.False(t, s.MarkFailed())
	require.True(t, s.Failed())

	step, err := s.StepScope(nil)
	require.NoError(t, err)
	v, _ := step.Get(models.CaseRunResultKey)
	require.Equal(t, "fail", v)
}

func TestSessionsAreIndependent(t *testing.T) {
	t.Parallel()

	a, b := NewSession(nil), NewSession(nil)
	require.NoError(t, a.Init(Layers{}))
	require.NoError(t, b.Init(Layers{}))

	a.MergeSession(map[string]any{"id": 1})
	a.MarkFailed()

	require.Empty(t, b.Extracted())
	require.False(t, b.Failed())
}
