package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/husmancristian/geaman-engine/pkg/definition"
	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/models"
)

// Flatten inlines quoted cases depth-first. Variables of a quoted case (and of the quoting
// step) are prepended to every inlined step so the step's own variables still win.
// A case that quotes itself, directly or through others, is a params error. Cycles are
// tracked by the ids cases are requested under, so caseID must be the id root was
// loaded with.
func Flatten(ctx context.Context, src definition.Source, caseID string, root *models.CaseDefinition) ([]models.StepDefinition, error) {
	return flatten(ctx, src, root, nil, []string{caseID})
}

func flatten(ctx context.Context, src definition.Source, c *models.CaseDefinition, inherited []models.Variable, path []string) ([]models.StepDefinition, error) {
	var out []models.StepDefinition
	for _, step := range c.Steps {
		if !step.IsEnabled() {
			continue
		}
		if step.QuoteCase == "" {
			if len(inherited) > 0 {
				step.Variables = append(append([]models.Variable(nil), inherited...), step.Variables...)
			}
			out = append(out, step)
			continue
		}

		for _, id := range path {
			if id == step.QuoteCase {
				return nil, engineerr.Params("quoted case cycle: %s -> %s", strings.Join(path, " -> "), step.QuoteCase)
			}
		}
		quoted, err := src.GetCase(ctx, step.QuoteCase)
		if err != nil {
			return nil, fmt.Errorf("step %q quotes case %s: %w", step.Name, step.QuoteCase, err)
		}
		vars := append(append([]models.Variable(nil), inherited...), quoted.Variables...)
		vars = append(vars, step.Variables...)

		inner, err := flatten(ctx, src, quoted, vars, append(append([]string(nil), path...), step.QuoteCase))
		if err != nil {
			return nil, err
		}
		out = append(out, inner...)
	}
	return out, nil
}
