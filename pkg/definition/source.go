// Package definition loads case definitions and hands them to the engine by id.
package definition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/husmancristian/geaman-engine/pkg/functions"
	"github.com/husmancristian/geaman-engine/pkg/models"
)

// ErrCaseNotFound is returned when no definition exists for an id.
var ErrCaseNotFound = errors.New("case not found")

// Source provides case definitions by id.
type Source interface {
	GetCase(ctx context.Context, id string) (*models.CaseDefinition, error)
}

// MapSource is an in-memory Source.
type MapSource map[string]*models.CaseDefinition

var (
	_ Source = MapSource(nil)
	_ Source = (*FileSource)(nil)
)

func (m MapSource) GetCase(_ context.Context, id string) (*models.CaseDefinition, error) {
	c, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
	}
	return c, nil
}

// FileSource serves cases from YAML or JSON files under a directory. A file holds either
// one case or a `cases:` list. Function scripts live under <dir>/functions.
type FileSource struct {
	dir   string
	mu    sync.RWMutex
	cases map[string]*models.CaseDefinition
}

// NewFileSource loads and validates every definition file under dir.
func NewFileSource(dir string) (*FileSource, error) {
	s := &FileSource{dir: dir}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the directory. On error the previous definitions stay in place.
func (s *FileSource) Reload() error {
	cases := make(map[string]*models.CaseDefinition)
	funcDir := filepath.Join(s.dir, "functions")

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == funcDir {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
		default:
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		loaded, err := LoadCases(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for i := range loaded {
			c := loaded[i]
			if _, dup := cases[c.ID]; dup {
				return fmt.Errorf("%s: duplicate case id %q", path, c.ID)
			}
			cases[c.ID] = &c
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cases = cases
	s.mu.Unlock()
	return nil
}

func (s *FileSource) GetCase(_ context.Context, id string) (*models.CaseDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
	}
	return c, nil
}

// IDs lists the loaded case ids in order.
func (s *FileSource) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.cases))
	for id := range s.cases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadFunctions registers the function scripts under <dir>/functions, then the ones
// under <dir>/functions/<envCode>, so an environment can override shared functions.
func (s *FileSource) LoadFunctions(reg *functions.Registry, envCode string) error {
	base := filepath.Join(s.dir, "functions")
	dirs := []string{base}
	if envCode != "" {
		dirs = append(dirs, filepath.Join(base, envCode))
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := reg.LoadScriptDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// LoadCases decodes one document holding a case or a `cases:` list, validating each case
// against the definition schema.
func LoadCases(data []byte) ([]models.CaseDefinition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}
	generic, err := toJSONModel(raw)
	if err != nil {
		return nil, err
	}

	var docs []any
	if m, ok := generic.(map[string]any); ok {
		if list, ok := m["cases"].([]any); ok {
			docs = list
		} else {
			docs = []any{m}
		}
	} else if generic != nil {
		return nil, fmt.Errorf("definition must be a mapping")
	}

	out := make([]models.CaseDefinition, 0, len(docs))
	for _, doc := range docs {
		if err := ValidateDocument(doc); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode case: %w", err)
		}
		var c models.CaseDefinition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("failed to decode case: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// toJSONModel converts a YAML-decoded tree into the JSON data model the schema validator
// expects (string keys, float64 numbers).
func toJSONModel(v any) (any, error) {
	raw, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("definition is not representable as json: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = stringKeys(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = stringKeys(e)
		}
		return out
	}
	return v
}
