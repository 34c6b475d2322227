package definition

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/husmancristian/geaman-engine/pkg/functions"
)

const loginCase = `
id: login
name: Login works
variables:
  - key: user
    value: ann
steps:
  - name: post login
    request:
      method: POST
      url: /login
      json:
        user: $user
    extracts:
      - key: token
        expression: content.token
    validates:
      - actual: status_code
        comparator: equals
        expected: 200
`

const suite = `
cases:
  - id: a
    name: First
    steps:
      - name: ping
        request: {method: GET, url: /ping}
  - id: b
    name: Second
    steps:
      - name: reuse
        quote_case: a
`

func TestLoadCases(t *testing.T) {
	t.Parallel()

	cases, err := LoadCases([]byte(loginCase))
	require.NoError(t, err)
	require.Len(t, cases, 1)

	c := cases[0]
	require.Equal(t, "login", c.ID)
	require.True(t, c.IsEnabled())
	require.Len(t, c.Steps, 1)
	require.Equal(t, "POST", c.Steps[0].Request.Method)
	require.Equal(t, map[string]any{"user": "$user"}, c.Steps[0].Request.JSON)
	require.Equal(t, float64(200), c.Steps[0].Validates[0].Expected)

	cases, err = LoadCases([]byte(suite))
	require.NoError(t, err)
	require.Len(t, cases, 2)
	require.Equal(t, "a", cases[1].Steps[0].QuoteCase)
}

func TestLoadCasesRejectsInvalidDocuments(t *testing.T) {
	t.Parallel()

	for name, doc := range map[string]string{
		"missing steps":  "id: x\nname: y\n",
		"unknown field":  "id: x\nname: y\nsteps: []\nbogus: 1\n",
		"bad step kind":  "id: x\nname: y\nsteps:\n  - name: s\n    kind: desktop\n",
		"request no url": "id: x\nname: y\nsteps:\n  - name: s\n    request: {method: GET}\n",
	} {
		_, err := LoadCases([]byte(doc))
		var invalid *InvalidError
		require.ErrorAs(t, err, &invalid, name)
		require.NotEmpty(t, invalid.Problems, name)
	}

	_, err := LoadCases([]byte("- just\n- a list\n"))
	require.Error(t, err)
}

func TestSchemaExport(t *testing.T) {
	t.Parallel()

	raw, err := Schema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, schemaID, doc["$id"])
	require.Contains(t, doc, "$defs")
}

func TestFileSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login.yaml"), []byte(loginCase), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "suite.yml"), []byte(suite), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	fnDir := filepath.Join(dir, "functions")
	require.NoError(t, os.MkdirAll(filepath.Join(fnDir, "staging"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fnDir, "shared.yaml"),
		[]byte("functions:\n  - name: greet\n    params: [n]\n    body: '\"hello \" + n'\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(fnDir, "staging", "override.yaml"),
		[]byte("functions:\n  - name: greet\n    params: [n]\n    body: '\"hi \" + n'\n"), 0o600))

	src, err := NewFileSource(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "login"}, src.IDs())

	c, err := src.GetCase(context.Background(), "b")
	require.NoError(t, err)
	require.Equal(t, "Second", c.Name)

	_, err = src.GetCase(context.Background(), "zzz")
	require.ErrorIs(t, err, ErrCaseNotFound)

	reg := functions.NewRegistry()
	require.NoError(t, src.LoadFunctions(reg, "staging"))
	got, err := reg.Invoke(&functions.Call{}, "greet", []any{"bob"}, nil)
	require.NoError(t, err)
	require.Equal(t, "hi bob", got)

	reg = functions.NewRegistry()
	require.NoError(t, src.LoadFunctions(reg, "prod"))
	got, err = reg.Invoke(&functions.Call{}, "greet", []any{"bob"}, nil)
	require.NoError(t, err)
	require.Equal(t, "hello bob", got)
}

func TestFileSourceRejectsDuplicates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.yaml"), []byte(loginCase), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.yaml"), []byte(loginCase), 0o600))

	_, err := NewFileSource(dir)
	require.ErrorContains(t, err, "duplicate case id")
}
