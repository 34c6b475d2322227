package definition

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/husmancristian/geaman-engine/pkg/models"
)

const schemaID = "https://github.com/husmancristian/geaman-engine/schemas/case-v1.json"

// Schema produces the JSON Schema of a case definition document.
func Schema() ([]byte, error) {
	r := &invopop.Reflector{RequiredFromJSONSchemaTags: true}

	s := r.Reflect(&models.CaseDefinition{})
	s.ID = schemaID
	s.Title = "Test case definition"
	s.Description = "Schema for case definition YAML/JSON documents"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func caseSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		raw, err := Schema()
		if err != nil {
			compileErr = err
			return
		}
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaID, doc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaID)
	})
	return compiled, compileErr
}

// Problem is one schema violation in a definition document.
type Problem struct {
	Path    string
	Message string
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Message
	}
	return p.Path + ": " + p.Message
}

// InvalidError lists every schema violation of one case document.
type InvalidError struct {
	CaseID   string
	Problems []Problem
}

func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return fmt.Sprintf("case %q is invalid: %s", e.CaseID, strings.Join(msgs, "; "))
}

// ValidateDocument checks one decoded case document (JSON data model) against the schema.
func ValidateDocument(doc any) error {
	sch, err := caseSchema()
	if err != nil {
		return err
	}
	err = sch.Validate(doc)
	if err == nil {
		return nil
	}

	id := ""
	if m, ok := doc.(map[string]any); ok {
		id, _ = m["id"].(string)
	}
	invalid := &InvalidError{CaseID: id}
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		for _, cause := range flatten(ve) {
			invalid.Problems = append(invalid.Problems, Problem{
				Path:    "/" + strings.Join(cause.InstanceLocation, "/"),
				Message: fmt.Sprintf("%v", cause.ErrorKind),
			})
		}
	} else {
		invalid.Problems = append(invalid.Problems, Problem{Message: err.Error()})
	}
	return invalid
}

// flatten collects the leaf validation errors.
func flatten(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var flat []*jsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flatten(cause)...)
	}
	return flat
}
